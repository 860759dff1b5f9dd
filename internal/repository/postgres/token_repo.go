package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/model"
)

// TokenRepo implements TokenRepository using PostgreSQL.
type TokenRepo struct{ db *DB }

// NewTokenRepo constructs a token repository.
func NewTokenRepo(db *DB) *TokenRepo { return &TokenRepo{db: db} }

const insertToken = `
INSERT INTO oauth_tokens (value, kind, client_id, user_id, scope, expires_at, revoked, rotated, parent_refresh, family_id)
VALUES ($1, $2, $3, $4, $5, $6, false, false, $7, $8)`

// CreatePair inserts an access+refresh pair in one transaction.
func (r *TokenRepo) CreatePair(ctx context.Context, access, refresh *model.Token) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer finishTx(ctx, tx, &err)

	if _, err = tx.Exec(ctx, insertToken,
		access.Value, access.Kind, access.ClientID, access.UserID, access.Scope,
		access.ExpiresAt, access.ParentRefresh, access.FamilyID); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, insertToken,
		refresh.Value, refresh.Kind, refresh.ClientID, refresh.UserID, refresh.Scope,
		refresh.ExpiresAt, refresh.ParentRefresh, refresh.FamilyID)
	return err
}

// Get loads a token by opaque value.
func (r *TokenRepo) Get(ctx context.Context, value string) (*model.Token, error) {
	const q = `
SELECT value, kind, client_id, user_id, scope, created_at, expires_at, revoked, rotated, parent_refresh, family_id
FROM oauth_tokens WHERE value=$1`
	row := r.db.Pool.QueryRow(ctx, q, value)
	var t model.Token
	if err := row.Scan(&t.Value, &t.Kind, &t.ClientID, &t.UserID, &t.Scope,
		&t.CreatedAt, &t.ExpiresAt, &t.Revoked, &t.Rotated, &t.ParentRefresh, &t.FamilyID); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	return &t, nil
}

// RotateRefresh supersedes the old refresh token and inserts the new pair.
// The rotated flag flips with a guarded UPDATE; losing the race means
// another request already rotated this token, which the caller treats as
// replay.
func (r *TokenRepo) RotateRefresh(ctx context.Context, oldValue string, access, refresh *model.Token) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer finishTx(ctx, tx, &err)

	const cas = `
UPDATE oauth_tokens SET rotated = true
WHERE value=$1 AND kind='refresh' AND NOT rotated AND NOT revoked`
	tag, err := tx.Exec(ctx, cas, oldValue)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrInvalidGrant
	}

	if _, err = tx.Exec(ctx, insertToken,
		access.Value, access.Kind, access.ClientID, access.UserID, access.Scope,
		access.ExpiresAt, access.ParentRefresh, access.FamilyID); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, insertToken,
		refresh.Value, refresh.Kind, refresh.ClientID, refresh.UserID, refresh.Scope,
		refresh.ExpiresAt, refresh.ParentRefresh, refresh.FamilyID)
	return err
}

// Revoke revokes one token; a refresh token drags its minted access tokens
// along. Revoking an already-revoked or unknown value is a no-op.
func (r *TokenRepo) Revoke(ctx context.Context, value string) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer finishTx(ctx, tx, &err)

	const self = `UPDATE oauth_tokens SET revoked = true WHERE value=$1`
	if _, err = tx.Exec(ctx, self, value); err != nil {
		return err
	}
	const children = `UPDATE oauth_tokens SET revoked = true WHERE parent_refresh=$1 AND kind='access'`
	_, err = tx.Exec(ctx, children, value)
	return err
}

// RevokeFamily revokes every token in a rotation family.
func (r *TokenRepo) RevokeFamily(ctx context.Context, familyID uuid.UUID) (int64, error) {
	const q = `UPDATE oauth_tokens SET revoked = true WHERE family_id=$1 AND NOT revoked`
	tag, err := r.db.Pool.Exec(ctx, q, familyID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired purges tokens past expiry.
func (r *TokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM oauth_tokens WHERE expires_at <= $1`
	tag, err := r.db.Pool.Exec(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
