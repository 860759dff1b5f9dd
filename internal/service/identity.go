package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/model"
	"github.com/ralendar/oauth-server/internal/provider"
	"github.com/ralendar/oauth-server/internal/repository"
)

// usernameSuffixCap bounds the collision loop before falling back to a
// random username.
const usernameSuffixCap = 100

// IdentityService signs users in through external providers and resolves
// each provider identity to exactly one local account.
type IdentityService interface {
	// Providers lists the configured provider names.
	Providers() []string
	// AuthorizeURL builds the provider consent url for a login attempt.
	AuthorizeURL(name, redirectURI, state string) (string, error)
	// Login completes a provider callback: exchanges the code, fetches
	// the profile and resolves it to a local user, creating one on first
	// contact.
	Login(ctx context.Context, providerName, code, redirectURI string) (*model.User, error)
}

type IdentityServiceImpl struct {
	providers  map[string]provider.Provider
	identities repository.IdentityRepository
	users      repository.UserRepository
	log        *zap.Logger
}

func NewIdentityService(providers []provider.Provider, identities repository.IdentityRepository,
	users repository.UserRepository, log *zap.Logger) *IdentityServiceImpl {
	m := make(map[string]provider.Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &IdentityServiceImpl{providers: m, identities: identities, users: users, log: log}
}

func (s *IdentityServiceImpl) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	return names
}

func (s *IdentityServiceImpl) AuthorizeURL(name, redirectURI, state string) (string, error) {
	p, ok := s.providers[name]
	if !ok {
		return "", fmt.Errorf("%w: unknown provider %q", errs.ErrNotFound, name)
	}
	return p.AuthorizeURL(redirectURI, state), nil
}

func (s *IdentityServiceImpl) Login(ctx context.Context, providerName, code, redirectURI string) (*model.User, error) {
	p, ok := s.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", errs.ErrNotFound, providerName)
	}
	tok, err := p.Exchange(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}
	profile, err := p.FetchProfile(ctx, tok)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, p.Name(), &profile, &tok)
}

// resolve maps a provider profile onto a local user.
//
// The cross-app key, when the provider issues one, is authoritative: it
// survives per-app openid differences, so it is checked first. A hit on the
// bare provider uid backfills the key for accounts created before the
// provider started returning it. Only when both lookups miss is a fresh
// account created.
func (s *IdentityServiceImpl) resolve(ctx context.Context, providerName string, profile *model.Profile, tok *model.ProviderToken) (*model.User, error) {
	if profile.UnionID != "" {
		ident, err := s.identities.GetByUnionID(ctx, providerName, profile.UnionID)
		switch {
		case err == nil:
			return s.refresh(ctx, ident, profile, tok)
		case !errors.Is(err, errs.ErrNotFound):
			return nil, err
		}
	}

	ident, err := s.identities.GetByProviderUID(ctx, providerName, profile.ProviderUID)
	switch {
	case err == nil:
		return s.refresh(ctx, ident, profile, tok)
	case !errors.Is(err, errs.ErrNotFound):
		return nil, err
	}

	return s.register(ctx, providerName, profile, tok)
}

// refresh updates the stored identity on a returning login and loads its user.
func (s *IdentityServiceImpl) refresh(ctx context.Context, ident *model.ProviderIdentity, profile *model.Profile, tok *model.ProviderToken) (*model.User, error) {
	ident.AccessToken = tok.AccessToken
	ident.RefreshToken = tok.RefreshToken
	ident.DisplayName = profile.DisplayName
	ident.AvatarURL = profile.AvatarURL
	if ident.UnionID == "" {
		ident.UnionID = profile.UnionID
	}
	if err := s.identities.UpdateLogin(ctx, ident.ID, ident); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, ident.UserID)
}

// register creates a local user plus its identity row for a first login.
func (s *IdentityServiceImpl) register(ctx context.Context, providerName string, profile *model.Profile, tok *model.ProviderToken) (*model.User, error) {
	username, err := s.pickUsername(ctx, profile.DisplayName)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	user := &model.User{ID: id, Username: username}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	ident := &model.ProviderIdentity{
		Provider:     providerName,
		ProviderUID:  profile.ProviderUID,
		UnionID:      profile.UnionID,
		UserID:       id,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		DisplayName:  profile.DisplayName,
		AvatarURL:    profile.AvatarURL,
	}
	if err := s.identities.Create(ctx, ident); err != nil {
		return nil, err
	}
	s.log.Info("new user from provider login",
		zap.String("provider", providerName),
		zap.String("username", username))
	return user, nil
}

// pickUsername derives a free username from the provider display name,
// suffixing on collision. Pathological collision rates fall back to a
// random name rather than looping forever.
func (s *IdentityServiceImpl) pickUsername(ctx context.Context, displayName string) (string, error) {
	base := strings.TrimSpace(displayName)
	if base == "" {
		base = "user"
	}
	candidate := base
	for i := 1; i <= usernameSuffixCap; i++ {
		taken, err := s.users.UsernameTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d", base, i)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s", base, id.String()[:8]), nil
}

// MergeService folds one user account into another across every table that
// references it.
type MergeService interface {
	Merge(ctx context.Context, survivorID, duplicateID uuid.UUID) (repository.MergeReport, error)
}

type MergeServiceImpl struct {
	merger repository.Merger
	log    *zap.Logger
}

func NewMergeService(merger repository.Merger, log *zap.Logger) *MergeServiceImpl {
	return &MergeServiceImpl{merger: merger, log: log}
}

func (s *MergeServiceImpl) Merge(ctx context.Context, survivorID, duplicateID uuid.UUID) (repository.MergeReport, error) {
	if survivorID == duplicateID {
		return repository.MergeReport{}, errors.New("merge: survivor and duplicate are the same user")
	}
	report, err := s.merger.MergeUsers(ctx, survivorID, duplicateID)
	if err != nil {
		return repository.MergeReport{}, err
	}
	s.log.Info("users merged",
		zap.String("survivor", survivorID.String()),
		zap.String("duplicate", duplicateID.String()),
		zap.Int64("events_moved", report.EventsMoved),
		zap.Int64("identities_moved", report.IdentitiesMoved))
	return report, nil
}
