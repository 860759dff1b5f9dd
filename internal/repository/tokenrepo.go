package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/ralendar/oauth-server/internal/model"
)

// TokenRepository stores issued access/refresh tokens.
type TokenRepository interface {
	// CreatePair inserts an access+refresh pair atomically.
	CreatePair(ctx context.Context, access, refresh *model.Token) error
	// Get loads a token by its opaque value.
	Get(ctx context.Context, value string) (*model.Token, error)
	// RotateRefresh marks the old refresh token rotated and inserts the new
	// pair in one transaction. The rotated flag is flipped with a
	// compare-and-swap; a concurrent rotation loses and gets
	// errs.ErrInvalidGrant.
	RotateRefresh(ctx context.Context, oldValue string, access, refresh *model.Token) error
	// Revoke revokes a single token; for a refresh token it also revokes
	// every access token minted from it. Idempotent.
	Revoke(ctx context.Context, value string) error
	// RevokeFamily revokes every token in a refresh rotation family.
	// Used when a superseded refresh token is replayed.
	RevokeFamily(ctx context.Context, familyID uuid.UUID) (int64, error)
	// DeleteExpired garbage-collects tokens past expiry.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
