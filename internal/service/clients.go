// Package service contains application services for the authorization server.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/ralendar/oauth-server/internal/crypto"
	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/model"
	"github.com/ralendar/oauth-server/internal/repository"
)

// ClientService manages the registry of OAuth client applications.
type ClientService interface {
	// Register provisions a new client and returns the plaintext secret
	// exactly once; only its hash is stored. Losing the secret means
	// re-provisioning.
	Register(ctx context.Context, name, description string, redirectURIs, scopes []string) (*model.Client, string, error)
	// LookupActive loads a client and fails unless it is active.
	LookupActive(ctx context.Context, clientID string) (*model.Client, error)
	// Authenticate verifies client credentials for the token endpoint.
	Authenticate(ctx context.Context, clientID, secret string) (*model.Client, error)
	// Deactivate disables a client; every subsequent operation fails fast.
	Deactivate(ctx context.Context, clientID string) error
	// AuthorizedApps lists clients the user currently has live grants for.
	AuthorizedApps(ctx context.Context, userID uuid.UUID) ([]model.Client, error)
}

type ClientServiceImpl struct {
	clients repository.ClientRepository
}

// NewClientService constructs ClientService.
func NewClientService(clients repository.ClientRepository) *ClientServiceImpl {
	return &ClientServiceImpl{clients: clients}
}

// Register generates random credentials, hashes the secret and stores the client.
func (s *ClientServiceImpl) Register(ctx context.Context, name, description string, redirectURIs, scopes []string) (*model.Client, string, error) {
	if name == "" {
		return nil, "", errors.New("validation: empty client name")
	}
	if len(redirectURIs) == 0 {
		return nil, "", errors.New("validation: at least one redirect uri required")
	}
	for _, u := range redirectURIs {
		if !validRedirectURI(u) {
			return nil, "", fmt.Errorf("validation: redirect uri %q is not an absolute http(s) url", u)
		}
	}

	clientID, err := pkgcrypto.RandHex(16)
	if err != nil {
		return nil, "", err
	}
	secret, err := pkgcrypto.RandHex(32)
	if err != nil {
		return nil, "", err
	}
	hash, err := pkgcrypto.HashSecret(secret)
	if err != nil {
		return nil, "", err
	}

	c := &model.Client{
		ClientID:     clientID,
		SecretHash:   hash,
		Name:         name,
		Description:  description,
		RedirectURIs: redirectURIs,
		Scopes:       scopes,
		Active:       true,
	}
	if err := s.clients.Create(ctx, c); err != nil {
		return nil, "", err
	}
	return c, secret, nil
}

// LookupActive loads the client; inactive clients fail immediately, they
// never degrade into partial service.
func (s *ClientServiceImpl) LookupActive(ctx context.Context, clientID string) (*model.Client, error) {
	if clientID == "" {
		return nil, errs.ErrInvalidClient
	}
	c, err := s.clients.GetByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrInvalidClient
		}
		return nil, err
	}
	if !c.Active {
		return nil, errs.ErrClientInactive
	}
	return c, nil
}

// Authenticate verifies the shared secret against its stored hash.
func (s *ClientServiceImpl) Authenticate(ctx context.Context, clientID, secret string) (*model.Client, error) {
	c, err := s.LookupActive(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !pkgcrypto.VerifySecret(secret, c.SecretHash) {
		return nil, errs.ErrInvalidClient
	}
	return c, nil
}

// Deactivate disables the client.
func (s *ClientServiceImpl) Deactivate(ctx context.Context, clientID string) error {
	return s.clients.Deactivate(ctx, clientID)
}

// AuthorizedApps lists clients holding live tokens for the user.
func (s *ClientServiceImpl) AuthorizedApps(ctx context.Context, userID uuid.UUID) ([]model.Client, error) {
	return s.clients.ListAuthorizedByUser(ctx, userID.String())
}

func validRedirectURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
