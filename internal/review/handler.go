package review

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"claimgate/internal/audit"
	"claimgate/internal/decision"
	"claimgate/internal/platform/middleware"
	"claimgate/internal/report"
	"claimgate/pkg/domain"
	dErrors "claimgate/pkg/domainerrors"
	"claimgate/pkg/platform/sentinel"
)

// RoleReviewer gates the override endpoint. Read endpoints need any valid
// token.
const RoleReviewer = "reviewer"

const (
	defaultQueueLimit = 50
	maxQueueLimit     = 500
	maxRangeSpan      = 1000
)

// AuditTrail is the slice of the ledger the review surface needs.
type AuditTrail interface {
	Append(ctx context.Context, eventType audit.EventType, claimID domain.ClaimID, actor string, payload any) (*audit.Event, error)
	Range(ctx context.Context, from, to uint64) ([]audit.Event, error)
	ByClaim(ctx context.Context, claimID domain.ClaimID) ([]audit.Event, error)
	VerifyChain(ctx context.Context, from, to uint64) error
}

// Handler serves the review API.
type Handler struct {
	auth      *Authenticator
	validator middleware.JWTValidator
	reports   report.Store
	trail     AuditTrail
	limiter   middleware.Limiter
	logger    *slog.Logger
}

type HandlerOption func(*Handler)

func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logger }
}

// WithRateLimit budgets authenticated requests per account. The limiter is
// mounted behind auth so the account is resolved before keying.
func WithRateLimit(l middleware.Limiter) HandlerOption {
	return func(h *Handler) { h.limiter = l }
}

func NewHandler(auth *Authenticator, validator middleware.JWTValidator, reports report.Store, trail AuditTrail, opts ...HandlerOption) *Handler {
	h := &Handler{
		auth:      auth,
		validator: validator,
		reports:   reports,
		trail:     trail,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the review routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/auth/token", h.issueToken)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		if h.limiter != nil {
			r.Use(middleware.RateLimit(h.limiter))
		}

		r.Get("/v1/claims/{claimID}/report", h.claimReport)
		r.Get("/v1/claims/{claimID}/audit", h.claimAudit)
		r.Get("/v1/audit/range", h.auditRange)
		r.Get("/v1/queues/{queue}/reports", h.queueReports)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(RoleReviewer, h.logger))
			r.Post("/v1/claims/{claimID}/override", h.override)
		})
	})
}

type tokenRequest struct {
	AccountID string `json:"account_id"`
	Secret    string `json:"secret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed token request"))
		return
	}
	if req.AccountID == "" || req.Secret == "" {
		h.writeError(w, r, dErrors.New(dErrors.CodeBadRequest, "account_id and secret are required"))
		return
	}

	token, ttl, err := h.auth.IssueToken(r.Context(), req.AccountID, req.Secret)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl / time.Second),
	})
}

type claimStatusResponse struct {
	ClaimID string `json:"claim_id"`
	Status  string `json:"status"`
	Events  int    `json:"audit_events"`
}

// claimReport returns the latest report for a claim. A claim the pipeline
// has seen but not finished gets 202 with its progress, so callers can tell
// "in flight" apart from "never received".
func (h *Handler) claimReport(w http.ResponseWriter, r *http.Request) {
	claimID, err := domain.ParseClaimID(chi.URLParam(r, "claimID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rep, err := h.reports.LatestByClaim(r.Context(), claimID)
	if err == nil {
		h.writeJSON(w, http.StatusOK, rep)
		return
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		h.writeError(w, r, dErrors.Wrap(err, dErrors.CodeUnavailable, "load report"))
		return
	}

	events, err := h.trail.ByClaim(r.Context(), claimID)
	if err != nil {
		h.writeError(w, r, dErrors.Wrap(err, dErrors.CodeUnavailable, "load audit trail"))
		return
	}
	if len(events) == 0 {
		h.writeError(w, r, dErrors.New(dErrors.CodeNotFound, "claim not found"))
		return
	}
	h.writeJSON(w, http.StatusAccepted, claimStatusResponse{
		ClaimID: claimID.String(),
		Status:  "processing",
		Events:  len(events),
	})
}

type auditResponse struct {
	ClaimID           string        `json:"claim_id,omitempty"`
	From              uint64        `json:"from,omitempty"`
	To                uint64        `json:"to,omitempty"`
	Events            []audit.Event `json:"events"`
	ChainVerified     bool          `json:"chain_verified"`
	VerificationError string        `json:"verification_error,omitempty"`
}

func (h *Handler) claimAudit(w http.ResponseWriter, r *http.Request) {
	claimID, err := domain.ParseClaimID(chi.URLParam(r, "claimID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	events, err := h.trail.ByClaim(r.Context(), claimID)
	if err != nil {
		h.writeError(w, r, dErrors.Wrap(err, dErrors.CodeUnavailable, "load audit trail"))
		return
	}
	if len(events) == 0 {
		h.writeError(w, r, dErrors.New(dErrors.CodeNotFound, "claim not found"))
		return
	}

	resp := auditResponse{ClaimID: claimID.String(), Events: events}
	// The claim's events are interleaved with other claims in the global
	// chain, so verification covers the enclosing sequence span.
	verifyErr := h.trail.VerifyChain(r.Context(), events[0].Sequence, events[len(events)-1].Sequence)
	if verifyErr != nil {
		resp.VerificationError = verifyErr.Error()
		h.logger.ErrorContext(r.Context(), "audit chain verification failed",
			"claim_id", claimID,
			"error", verifyErr,
		)
	} else {
		resp.ChainVerified = true
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) auditRange(w http.ResponseWriter, r *http.Request) {
	from, err := parseSeq(r.URL.Query().Get("from"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	to, err := parseSeq(r.URL.Query().Get("to"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if from == 0 || to < from {
		h.writeError(w, r, dErrors.New(dErrors.CodeInvalidInput, "invalid sequence range"))
		return
	}
	if to-from >= maxRangeSpan {
		h.writeError(w, r, dErrors.New(dErrors.CodeInvalidInput, "sequence range too wide"))
		return
	}

	events, err := h.trail.Range(r.Context(), from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := auditResponse{From: from, To: to, Events: events}
	verifyErr := h.trail.VerifyChain(r.Context(), from, to)
	if verifyErr != nil {
		resp.VerificationError = verifyErr.Error()
		h.logger.ErrorContext(r.Context(), "audit chain verification failed",
			"from", from,
			"to", to,
			"error", verifyErr,
		)
	} else {
		resp.ChainVerified = true
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type queueResponse struct {
	Queue   string             `json:"queue"`
	Reports []*decision.Report `json:"reports"`
}

func (h *Handler) queueReports(w http.ResponseWriter, r *http.Request) {
	queue, err := decision.ParseQueue(chi.URLParam(r, "queue"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	limit := defaultQueueLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxQueueLimit {
			h.writeError(w, r, dErrors.New(dErrors.CodeInvalidInput, "invalid limit"))
			return
		}
	}

	reports, err := h.reports.ListByQueue(r.Context(), queue, limit)
	if err != nil {
		h.writeError(w, r, dErrors.Wrap(err, dErrors.CodeUnavailable, "list reports"))
		return
	}
	if reports == nil {
		reports = []*decision.Report{}
	}
	h.writeJSON(w, http.StatusOK, queueResponse{Queue: string(queue), Reports: reports})
}

type overrideRequest struct {
	Recommendation string `json:"recommendation"`
	Queue          string `json:"queue,omitempty"`
	Reason         string `json:"reason"`
}

type overridePayload struct {
	ReportID       string `json:"report_id"`
	Previous       string `json:"previous_recommendation"`
	Recommendation string `json:"recommendation"`
	Queue          string `json:"queue,omitempty"`
	Reason         string `json:"reason"`
}

type overrideResponse struct {
	Sequence   uint64    `json:"sequence"`
	Hash       string    `json:"hash"`
	RecordedAt time.Time `json:"recorded_at"`
}

// override records a human decision on a decided claim. The override lives
// in the audit chain only; the report itself is immutable.
func (h *Handler) override(w http.ResponseWriter, r *http.Request) {
	claimID, err := domain.ParseClaimID(chi.URLParam(r, "claimID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed override request"))
		return
	}
	recommendation, err := decision.ParseRecommendation(req.Recommendation)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Reason == "" {
		h.writeError(w, r, dErrors.New(dErrors.CodeInvalidInput, "reason is required"))
		return
	}
	payload := overridePayload{
		Recommendation: string(recommendation),
		Reason:         req.Reason,
	}
	if req.Queue != "" {
		queue, err := decision.ParseQueue(req.Queue)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		payload.Queue = string(queue)
	}

	rep, err := h.reports.LatestByClaim(r.Context(), claimID)
	if errors.Is(err, sentinel.ErrNotFound) {
		h.writeError(w, r, dErrors.New(dErrors.CodeNotFound, "no report to override"))
		return
	}
	if err != nil {
		h.writeError(w, r, dErrors.Wrap(err, dErrors.CodeUnavailable, "load report"))
		return
	}
	payload.ReportID = rep.ReportID.String()
	payload.Previous = string(rep.Recommendation)

	actor := middleware.GetAccountID(r.Context())
	event, err := h.trail.Append(r.Context(), audit.EventHumanOverride, claimID, actor, payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "human override recorded",
		"claim_id", claimID,
		"actor", actor,
		"recommendation", recommendation,
		"sequence", event.Sequence,
	)
	h.writeJSON(w, http.StatusCreated, overrideResponse{
		Sequence:   event.Sequence,
		Hash:       event.Hash,
		RecordedAt: event.Timestamp,
	})
}

func parseSeq(raw string) (uint64, error) {
	if raw == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "from and to are required")
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid sequence number")
	}
	return seq, nil
}
