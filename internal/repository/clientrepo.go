// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/ralendar/oauth-server/internal/model"
)

// ClientRepository provides access to registered OAuth clients.
type ClientRepository interface {
	// Create inserts a new client.
	Create(ctx context.Context, c *model.Client) error
	// GetByID loads a client by its public client id, active or not.
	GetByID(ctx context.Context, clientID string) (*model.Client, error)
	// Deactivate flips the active flag off. Idempotent.
	Deactivate(ctx context.Context, clientID string) error
	// ListAuthorizedByUser returns clients holding a live (unrevoked,
	// unexpired) token for the user.
	ListAuthorizedByUser(ctx context.Context, userID string) ([]model.Client, error)
}
