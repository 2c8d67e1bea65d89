package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"claimgate/pkg/platform/sentinel"
)

// PostgresAccounts reads service accounts from the service_accounts table.
// Provisioning happens out of band; the API only authenticates.
type PostgresAccounts struct {
	db *sql.DB
}

func NewPostgresAccounts(db *sql.DB) *PostgresAccounts {
	return &PostgresAccounts{db: db}
}

func (s *PostgresAccounts) Find(ctx context.Context, accountID string) (*ServiceAccount, error) {
	query := `
		SELECT account_id, secret_bcrypt, roles, active
		FROM service_accounts
		WHERE account_id = $1
	`
	var account ServiceAccount
	var secretHash string
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(
		&account.AccountID,
		&secretHash,
		pq.Array(&account.Roles),
		&account.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query service account: %w", err)
	}
	account.SecretHash = []byte(secretHash)
	return &account, nil
}
