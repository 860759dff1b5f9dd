package postgres

import (
	"context"
	"errors"

	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/model"
)

// ClientRepo implements ClientRepository using PostgreSQL.
type ClientRepo struct{ db *DB }

// NewClientRepo constructs a client repository.
func NewClientRepo(db *DB) *ClientRepo { return &ClientRepo{db: db} }

// Create inserts a new client row.
func (r *ClientRepo) Create(ctx context.Context, c *model.Client) error {
	const q = `
INSERT INTO oauth_clients (client_id, secret_hash, name, description, logo_url, redirect_uris, scopes, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Pool.Exec(ctx, q,
		c.ClientID, c.SecretHash, c.Name, c.Description, c.LogoURL, c.RedirectURIs, c.Scopes, c.Active)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a client by its public id.
func (r *ClientRepo) GetByID(ctx context.Context, clientID string) (*model.Client, error) {
	const q = `
SELECT client_id, secret_hash, name, description, logo_url, redirect_uris, scopes, is_active, created_at
FROM oauth_clients WHERE client_id=$1`
	row := r.db.Pool.QueryRow(ctx, q, clientID)
	var c model.Client
	if err := row.Scan(&c.ClientID, &c.SecretHash, &c.Name, &c.Description, &c.LogoURL,
		&c.RedirectURIs, &c.Scopes, &c.Active, &c.CreatedAt); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	return &c, nil
}

// Deactivate flips the active flag off. Unknown clients are ErrNotFound.
func (r *ClientRepo) Deactivate(ctx context.Context, clientID string) error {
	const q = `UPDATE oauth_clients SET is_active=false WHERE client_id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, clientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListAuthorizedByUser returns clients with a live token for the user.
func (r *ClientRepo) ListAuthorizedByUser(ctx context.Context, userID string) ([]model.Client, error) {
	const q = `
SELECT DISTINCT c.client_id, c.secret_hash, c.name, c.description, c.logo_url, c.redirect_uris, c.scopes, c.is_active, c.created_at
FROM oauth_clients c
JOIN oauth_tokens t ON t.client_id = c.client_id
WHERE t.user_id=$1 AND NOT t.revoked AND t.expires_at > now()
ORDER BY c.client_id`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Client
	for rows.Next() {
		var c model.Client
		if err := rows.Scan(&c.ClientID, &c.SecretHash, &c.Name, &c.Description, &c.LogoURL,
			&c.RedirectURIs, &c.Scopes, &c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
