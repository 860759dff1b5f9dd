package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/ralendar/oauth-server/internal/model"
)

// IdentityRepository stores per-provider external identities.
type IdentityRepository interface {
	// Create inserts a new provider identity.
	Create(ctx context.Context, ident *model.ProviderIdentity) error
	// GetByUnionID loads an identity by its federation key.
	GetByUnionID(ctx context.Context, provider, unionID string) (*model.ProviderIdentity, error)
	// GetByProviderUID loads an identity by its provider-local id.
	GetByProviderUID(ctx context.Context, provider, providerUID string) (*model.ProviderIdentity, error)
	// GetByUserID loads the user's identity for one provider.
	GetByUserID(ctx context.Context, provider string, userID uuid.UUID) (*model.ProviderIdentity, error)
	// UpdateLogin refreshes cached credentials and profile fields after a
	// login, backfilling the union id when it was previously untracked.
	UpdateLogin(ctx context.Context, id int64, ident *model.ProviderIdentity) error
}

// MappingRepository stores links between local users and the cooperating
// application's user ids.
type MappingRepository interface {
	// Create inserts a new mapping.
	Create(ctx context.Context, m *model.UserMapping) error
	// GetByUserID loads the mapping owned by a local user.
	GetByUserID(ctx context.Context, userID uuid.UUID) (*model.UserMapping, error)
	// GetByForeignID loads the mapping for a foreign user id.
	GetByForeignID(ctx context.Context, foreignID int64) (*model.UserMapping, error)
	// GetByUnionID loads the mapping carrying a federation key.
	GetByUnionID(ctx context.Context, unionID string) (*model.UserMapping, error)
}
