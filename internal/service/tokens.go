package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/ralendar/oauth-server/internal/crypto"
	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/model"
	"github.com/ralendar/oauth-server/internal/repository"
)

// TokenService implements the back channel: the token endpoint grants,
// revocation and resource-side access validation.
type TokenService interface {
	// Exchange redeems an authorization code for a fresh token pair.
	// Every failure mode surfaces as ErrInvalidGrant so callers cannot
	// probe which precondition broke.
	Exchange(ctx context.Context, clientID, secret, code, redirectURI string) (*model.TokenPair, error)
	// Refresh rotates a refresh token. Presenting an already rotated
	// token is treated as theft evidence and revokes the whole family.
	Refresh(ctx context.Context, clientID, secret, refreshToken string) (*model.TokenPair, error)
	// Revoke invalidates a token the client owns. Unknown values succeed.
	Revoke(ctx context.Context, clientID, secret, value string) error
	// ValidateAccess checks an access token and returns it when live.
	ValidateAccess(ctx context.Context, value string) (*model.Token, error)
	// UserInfo resolves an access token to the user it represents.
	UserInfo(ctx context.Context, accessToken string) (*model.User, string, error)
}

type TokenServiceImpl struct {
	clients    ClientService
	codes      repository.CodeRepository
	tokens     repository.TokenRepository
	users      repository.UserRepository
	accessTTL  time.Duration
	refreshTTL time.Duration
	log        *zap.Logger
}

func NewTokenService(clients ClientService, codes repository.CodeRepository, tokens repository.TokenRepository,
	users repository.UserRepository, accessTTL, refreshTTL time.Duration, log *zap.Logger) *TokenServiceImpl {
	return &TokenServiceImpl{
		clients:    clients,
		codes:      codes,
		tokens:     tokens,
		users:      users,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		log:        log,
	}
}

func (s *TokenServiceImpl) Exchange(ctx context.Context, clientID, secret, code, redirectURI string) (*model.TokenPair, error) {
	if _, err := s.clients.Authenticate(ctx, clientID, secret); err != nil {
		return nil, err
	}
	// The consume statement checks ownership, redirect binding, expiry
	// and single use in one guarded update, so two concurrent exchanges
	// of the same code cannot both win.
	ac, err := s.codes.Consume(ctx, code, clientID, redirectURI, time.Now())
	if err != nil {
		return nil, err
	}
	family, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	return s.mintPair(ctx, clientID, ac.UserID, ac.Scope, family)
}

func (s *TokenServiceImpl) Refresh(ctx context.Context, clientID, secret, refreshToken string) (*model.TokenPair, error) {
	if _, err := s.clients.Authenticate(ctx, clientID, secret); err != nil {
		return nil, err
	}
	old, err := s.tokens.Get(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrInvalidGrant
		}
		return nil, err
	}
	if old.Kind != model.TokenKindRefresh || old.ClientID != clientID {
		return nil, errs.ErrInvalidGrant
	}
	if old.Rotated {
		// Someone already spent this token. Whichever side is the thief,
		// the line is burned.
		n, rerr := s.tokens.RevokeFamily(ctx, old.FamilyID)
		if rerr != nil {
			return nil, rerr
		}
		s.log.Warn("refresh token reuse detected, family revoked",
			zap.String("client_id", clientID),
			zap.String("family_id", old.FamilyID.String()),
			zap.Int64("revoked", n))
		return nil, errs.ErrInvalidGrant
	}
	if old.Revoked || time.Now().After(old.ExpiresAt) {
		return nil, errs.ErrInvalidGrant
	}

	access, refresh, err := s.newPair(clientID, old.UserID, old.Scope, old.FamilyID)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.RotateRefresh(ctx, refreshToken, access, refresh); err != nil {
		return nil, err
	}
	return &model.TokenPair{Access: *access, Refresh: *refresh}, nil
}

func (s *TokenServiceImpl) Revoke(ctx context.Context, clientID, secret, value string) error {
	if _, err := s.clients.Authenticate(ctx, clientID, secret); err != nil {
		return err
	}
	t, err := s.tokens.Get(ctx, value)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}
	if t.ClientID != clientID {
		// Revocation is idempotent and never an oracle for other
		// clients' tokens.
		return nil
	}
	return s.tokens.Revoke(ctx, value)
}

func (s *TokenServiceImpl) ValidateAccess(ctx context.Context, value string) (*model.Token, error) {
	if value == "" {
		return nil, errs.ErrUnauthorized
	}
	t, err := s.tokens.Get(ctx, value)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrUnauthorized
		}
		return nil, err
	}
	if t.Kind != model.TokenKindAccess {
		return nil, errs.ErrUnauthorized
	}
	if t.Revoked {
		return nil, errs.ErrTokenRevoked
	}
	if time.Now().After(t.ExpiresAt) {
		return nil, errs.ErrTokenExpired
	}
	return t, nil
}

func (s *TokenServiceImpl) UserInfo(ctx context.Context, accessToken string) (*model.User, string, error) {
	t, err := s.ValidateAccess(ctx, accessToken)
	if err != nil {
		return nil, "", err
	}
	u, err := s.users.GetByID(ctx, t.UserID)
	if err != nil {
		return nil, "", fmt.Errorf("userinfo: %w", err)
	}
	return u, t.Scope, nil
}

// newPair builds an unsaved access/refresh pair sharing a family.
func (s *TokenServiceImpl) newPair(clientID string, userID uuid.UUID, scope string, family uuid.UUID) (*model.Token, *model.Token, error) {
	accessValue, err := pkgcrypto.RandHex(32)
	if err != nil {
		return nil, nil, err
	}
	refreshValue, err := pkgcrypto.RandHex(32)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now()
	refresh := &model.Token{
		Value:     refreshValue,
		Kind:      model.TokenKindRefresh,
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
		FamilyID:  family,
	}
	access := &model.Token{
		Value:         accessValue,
		Kind:          model.TokenKindAccess,
		ClientID:      clientID,
		UserID:        userID,
		Scope:         scope,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.accessTTL),
		ParentRefresh: refreshValue,
		FamilyID:      family,
	}
	return access, refresh, nil
}

func (s *TokenServiceImpl) mintPair(ctx context.Context, clientID string, userID uuid.UUID, scope string, family uuid.UUID) (*model.TokenPair, error) {
	access, refresh, err := s.newPair(clientID, userID, scope, family)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.CreatePair(ctx, access, refresh); err != nil {
		return nil, err
	}
	return &model.TokenPair{Access: *access, Refresh: *refresh}, nil
}
