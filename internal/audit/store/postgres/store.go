// Package postgres holds the durable audit store. The audit_chain table is
// INSERT-only; the unique sequence constraint makes a forked chain a
// constraint violation instead of silent corruption.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"claimgate/internal/audit"
	"claimgate/pkg/domain"
	"claimgate/pkg/platform/sentinel"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_chain (
			sequence, event_type, claim_id, actor, payload,
			payload_hash, prev_hash, hash, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var payload any
	if event.Payload != nil {
		payload = []byte(event.Payload)
	}
	_, err := s.db.ExecContext(ctx, query,
		event.Sequence,
		string(event.EventType),
		event.ClaimID.String(),
		event.Actor,
		payload,
		event.PayloadHash,
		event.PrevHash,
		event.Hash,
		event.Timestamp,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("sequence %d already written: %w", event.Sequence, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *Store) Last(ctx context.Context) (*audit.Event, error) {
	query := selectColumns + ` ORDER BY sequence DESC LIMIT 1`

	event, err := s.scanEvent(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query last audit event: %w", err)
	}
	return event, nil
}

func (s *Store) Range(ctx context.Context, from, to uint64) ([]audit.Event, error) {
	query := selectColumns + ` WHERE sequence BETWEEN $1 AND $2 ORDER BY sequence ASC`

	rows, err := s.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query audit range: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

func (s *Store) ByClaim(ctx context.Context, claimID domain.ClaimID) ([]audit.Event, error) {
	query := selectColumns + ` WHERE claim_id = $1 ORDER BY sequence ASC`

	rows, err := s.db.QueryContext(ctx, query, claimID.String())
	if err != nil {
		return nil, fmt.Errorf("query audit events by claim: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

const selectColumns = `
	SELECT sequence, event_type, claim_id, actor, payload,
	       payload_hash, prev_hash, hash, created_at
	FROM audit_chain`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanEvent(row rowScanner) (*audit.Event, error) {
	var (
		event     audit.Event
		eventType string
		claimID   string
		payload   []byte
	)
	err := row.Scan(
		&event.Sequence,
		&eventType,
		&claimID,
		&event.Actor,
		&payload,
		&event.PayloadHash,
		&event.PrevHash,
		&event.Hash,
		&event.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	event.EventType = audit.EventType(eventType)
	event.ClaimID = domain.ClaimID(claimID)
	event.Payload = payload
	return &event, nil
}

func (s *Store) scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		event, err := s.scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
