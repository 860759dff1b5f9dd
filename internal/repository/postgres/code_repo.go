package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/model"
)

// CodeRepo implements CodeRepository using PostgreSQL.
type CodeRepo struct{ db *DB }

// NewCodeRepo constructs an authorization code repository.
func NewCodeRepo(db *DB) *CodeRepo { return &CodeRepo{db: db} }

// Create inserts a freshly issued code row.
func (r *CodeRepo) Create(ctx context.Context, c *model.AuthorizationCode) error {
	const q = `
INSERT INTO authorization_codes (code, client_id, user_id, redirect_uri, scope, state, expires_at, consumed)
VALUES ($1, $2, $3, $4, $5, $6, $7, false)`
	_, err := r.db.Pool.Exec(ctx, q,
		c.Code, c.ClientID, c.UserID, c.RedirectURI, c.Scope, c.State, c.ExpiresAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Consume flips the consumed flag and returns the binding in one atomic
// statement. Every precondition sits in the WHERE clause, so concurrent
// redemptions race on a single row update and at most one wins.
func (r *CodeRepo) Consume(ctx context.Context, code, clientID, redirectURI string, now time.Time) (*model.AuthorizationCode, error) {
	const q = `
UPDATE authorization_codes
SET consumed = true
WHERE code=$1 AND client_id=$2 AND redirect_uri=$3 AND NOT consumed AND expires_at > $4
RETURNING code, client_id, user_id, redirect_uri, scope, state, created_at, expires_at, consumed`
	row := r.db.Pool.QueryRow(ctx, q, code, clientID, redirectURI, now)
	var c model.AuthorizationCode
	err := row.Scan(&c.Code, &c.ClientID, &c.UserID, &c.RedirectURI, &c.Scope, &c.State,
		&c.CreatedAt, &c.ExpiresAt, &c.Consumed)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrInvalidGrant
		}
		return nil, err
	}
	return &c, nil
}

// DeleteExpired purges codes past expiry.
func (r *CodeRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM authorization_codes WHERE expires_at <= $1`
	tag, err := r.db.Pool.Exec(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
