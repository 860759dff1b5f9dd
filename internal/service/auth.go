package service

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/ralendar/oauth-server/internal/crypto"
	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/limiter"
	"github.com/ralendar/oauth-server/internal/model"
	"github.com/ralendar/oauth-server/internal/repository"
)

// AuthService handles direct password sign-in and registration on the
// authorization pages, as an alternative to the external providers.
type AuthService interface {
	// Register creates a new user with secure password hashing.
	Register(ctx context.Context, username, email, password string) (*model.User, error)
	// LoginWithIP applies rate limiting and authenticates the user.
	LoginWithIP(ctx context.Context, username, password, ip string) (*model.User, error)
}

type AuthServiceImpl struct {
	users repository.UserRepository
	lim   limiter.Limiter
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, lim limiter.Limiter) *AuthServiceImpl {
	return &AuthServiceImpl{users: users, lim: lim}
}

// Register creates a new user record with a per-user salt.
func (s *AuthServiceImpl) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	if username == "" || password == "" {
		return nil, errors.New("validation: empty username/password")
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	salt, err := pkgcrypto.RandBytes(16)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		ID:       uid,
		Username: username,
		Email:    email,
		PwdHash:  pkgcrypto.HashPassword([]byte(password), salt),
		Salt:     salt,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// LoginWithIP authenticates with rate limiting by (username, ip).
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, username, password, ip string) (*model.User, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil || len(u.PwdHash) == 0 || !pkgcrypto.VerifyPassword([]byte(password), u.Salt, u.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return nil, errs.ErrRateLimited
		}
		// Same answer whether the user is missing, provider-only or the
		// password is wrong.
		return nil, errs.ErrUnauthorized
	}

	// Success: reset counters (best-effort).
	_ = s.lim.Success(ctx, username, ipHash)
	return u, nil
}
