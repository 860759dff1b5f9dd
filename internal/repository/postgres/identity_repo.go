package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/model"
)

// IdentityRepo implements IdentityRepository using PostgreSQL.
type IdentityRepo struct{ db *DB }

// NewIdentityRepo constructs a provider-identity repository.
func NewIdentityRepo(db *DB) *IdentityRepo { return &IdentityRepo{db: db} }

const identityCols = `id, provider, provider_uid, union_id, user_id, access_token, refresh_token, display_name, avatar_url, created_at, updated_at`

// Create inserts a new provider identity. A union id collision surfaces as
// ErrFederationConflict: two local users claiming one federation key is a
// merge problem, not an overwrite.
func (r *IdentityRepo) Create(ctx context.Context, ident *model.ProviderIdentity) error {
	const q = `
INSERT INTO provider_identities (provider, provider_uid, union_id, user_id, access_token, refresh_token, display_name, avatar_url)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
RETURNING id`
	err := r.db.Pool.QueryRow(ctx, q,
		ident.Provider, ident.ProviderUID, ident.UnionID, ident.UserID,
		ident.AccessToken, ident.RefreshToken, ident.DisplayName, ident.AvatarURL).Scan(&ident.ID)
	if isUniqueViolation(err) {
		if ident.UnionID != "" {
			return errs.ErrFederationConflict
		}
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByUnionID selects an identity by federation key.
func (r *IdentityRepo) GetByUnionID(ctx context.Context, provider, unionID string) (*model.ProviderIdentity, error) {
	const q = `SELECT ` + identityCols + ` FROM provider_identities WHERE provider=$1 AND union_id=$2`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, provider, unionID))
}

// GetByProviderUID selects an identity by provider-local id.
func (r *IdentityRepo) GetByProviderUID(ctx context.Context, provider, providerUID string) (*model.ProviderIdentity, error) {
	const q = `SELECT ` + identityCols + ` FROM provider_identities WHERE provider=$1 AND provider_uid=$2`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, provider, providerUID))
}

// GetByUserID selects the user's identity for one provider.
func (r *IdentityRepo) GetByUserID(ctx context.Context, provider string, userID uuid.UUID) (*model.ProviderIdentity, error) {
	const q = `SELECT ` + identityCols + ` FROM provider_identities WHERE provider=$1 AND user_id=$2`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, provider, userID))
}

// UpdateLogin caches the latest credentials and profile on every login and
// backfills the union id for identities created before it was tracked.
// COALESCE keeps an already-populated union id untouched.
func (r *IdentityRepo) UpdateLogin(ctx context.Context, id int64, ident *model.ProviderIdentity) error {
	const q = `
UPDATE provider_identities
SET union_id = COALESCE(union_id, NULLIF($2, '')),
    provider_uid = $3,
    access_token = $4,
    refresh_token = $5,
    display_name = $6,
    avatar_url = $7,
    updated_at = now()
WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id,
		ident.UnionID, ident.ProviderUID, ident.AccessToken, ident.RefreshToken,
		ident.DisplayName, ident.AvatarURL)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.ErrFederationConflict
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *IdentityRepo) scanOne(row interface{ Scan(...any) error }) (*model.ProviderIdentity, error) {
	var (
		ident   model.ProviderIdentity
		unionID *string
	)
	if err := row.Scan(&ident.ID, &ident.Provider, &ident.ProviderUID, &unionID, &ident.UserID,
		&ident.AccessToken, &ident.RefreshToken, &ident.DisplayName, &ident.AvatarURL,
		&ident.CreatedAt, &ident.UpdatedAt); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	if unionID != nil {
		ident.UnionID = *unionID
	}
	return &ident, nil
}

// MappingRepo implements MappingRepository using PostgreSQL.
type MappingRepo struct{ db *DB }

// NewMappingRepo constructs a cross-app mapping repository.
func NewMappingRepo(db *DB) *MappingRepo { return &MappingRepo{db: db} }

const mappingCols = `id, user_id, foreign_user_id, foreign_username, union_id, sync_enabled, last_synced_at, created_at`

// Create inserts a new mapping row.
func (r *MappingRepo) Create(ctx context.Context, m *model.UserMapping) error {
	const q = `
INSERT INTO user_mappings (user_id, foreign_user_id, foreign_username, union_id, sync_enabled)
VALUES ($1, $2, $3, NULLIF($4, ''), $5)
RETURNING id`
	err := r.db.Pool.QueryRow(ctx, q,
		m.UserID, m.ForeignUserID, m.ForeignUsername, m.UnionID, m.SyncEnabled).Scan(&m.ID)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByUserID selects the mapping owned by a local user.
func (r *MappingRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*model.UserMapping, error) {
	const q = `SELECT ` + mappingCols + ` FROM user_mappings WHERE user_id=$1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, userID))
}

// GetByForeignID selects the mapping for a foreign user id.
func (r *MappingRepo) GetByForeignID(ctx context.Context, foreignID int64) (*model.UserMapping, error) {
	const q = `SELECT ` + mappingCols + ` FROM user_mappings WHERE foreign_user_id=$1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, foreignID))
}

// GetByUnionID selects the mapping carrying a federation key.
func (r *MappingRepo) GetByUnionID(ctx context.Context, unionID string) (*model.UserMapping, error) {
	const q = `SELECT ` + mappingCols + ` FROM user_mappings WHERE union_id=$1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, unionID))
}

func (r *MappingRepo) scanOne(row interface{ Scan(...any) error }) (*model.UserMapping, error) {
	var (
		m          model.UserMapping
		unionID    *string
		lastSynced *time.Time
	)
	if err := row.Scan(&m.ID, &m.UserID, &m.ForeignUserID, &m.ForeignUsername, &unionID,
		&m.SyncEnabled, &lastSynced, &m.CreatedAt); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	if unionID != nil {
		m.UnionID = *unionID
	}
	if lastSynced != nil {
		m.LastSyncedAt = *lastSynced
	}
	return &m, nil
}
