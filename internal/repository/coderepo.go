package repository

import (
	"context"
	"time"

	"github.com/ralendar/oauth-server/internal/model"
)

// CodeRepository stores short-lived single-use authorization codes.
type CodeRepository interface {
	// Create persists a freshly issued code.
	Create(ctx context.Context, code *model.AuthorizationCode) error
	// Consume atomically marks the code consumed and returns its binding,
	// but only if it exists, is unconsumed, unexpired, and was issued to
	// exactly this client and redirect URI. Any mismatch yields
	// errs.ErrInvalidGrant with no indication of which check failed.
	Consume(ctx context.Context, code, clientID, redirectURI string, now time.Time) (*model.AuthorizationCode, error)
	// DeleteExpired garbage-collects codes past expiry, returning the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
