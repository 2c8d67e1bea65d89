// Package review exposes the authenticated query surface: report lookup,
// audit trail inspection with chain verification, queue listings, and
// human overrides. It reads what the pipeline wrote; the only write path
// is the override, which itself goes through the audit ledger.
package review

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	jwttoken "claimgate/internal/jwt_token"
	dErrors "claimgate/pkg/domainerrors"
	"claimgate/pkg/platform/sentinel"
)

// ServiceAccount is a machine caller of the review API. Secrets are stored
// bcrypt-hashed; the clear secret exists only in the caller's config.
type ServiceAccount struct {
	AccountID  string
	SecretHash []byte
	Roles      []string
	Active     bool
}

// AccountStore looks up service accounts.
type AccountStore interface {
	// Find returns the account. Errors: sentinel.ErrNotFound.
	Find(ctx context.Context, accountID string) (*ServiceAccount, error)
}

// InMemoryAccounts is an AccountStore for tests and local runs.
type InMemoryAccounts struct {
	mu       sync.RWMutex
	accounts map[string]ServiceAccount
}

func NewInMemoryAccounts() *InMemoryAccounts {
	return &InMemoryAccounts{accounts: make(map[string]ServiceAccount)}
}

func (s *InMemoryAccounts) Put(account ServiceAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.AccountID] = account
}

func (s *InMemoryAccounts) Find(_ context.Context, accountID string) (*ServiceAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := account
	return &cp, nil
}

// HashSecret bcrypt-hashes a clear secret for storage.
func HashSecret(secret string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
}

// errInvalidCredentials is deliberately identical for unknown accounts,
// wrong secrets, and disabled accounts so callers cannot enumerate.
var errInvalidCredentials = dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")

// Authenticator exchanges service-account credentials for access tokens.
type Authenticator struct {
	accounts AccountStore
	tokens   *jwttoken.JWTService
	tokenTTL time.Duration
}

func NewAuthenticator(accounts AccountStore, tokens *jwttoken.JWTService, tokenTTL time.Duration) *Authenticator {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &Authenticator{accounts: accounts, tokens: tokens, tokenTTL: tokenTTL}
}

// IssueToken verifies credentials and mints an access token carrying the
// account's roles. Errors: CodeUnauthorized on any credential failure.
func (a *Authenticator) IssueToken(ctx context.Context, accountID, secret string) (string, time.Duration, error) {
	account, err := a.accounts.Find(ctx, accountID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", 0, errInvalidCredentials
		}
		return "", 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "load service account")
	}

	if err := bcrypt.CompareHashAndPassword(account.SecretHash, []byte(secret)); err != nil {
		return "", 0, errInvalidCredentials
	}
	if !account.Active {
		return "", 0, errInvalidCredentials
	}

	token, err := a.tokens.GenerateAccessToken(account.AccountID, account.Roles, a.tokenTTL)
	if err != nil {
		return "", 0, dErrors.Wrap(err, dErrors.CodeInternal, "sign access token")
	}
	return token, a.tokenTTL, nil
}
