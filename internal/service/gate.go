package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/model"
	"github.com/ralendar/oauth-server/internal/repository"
)

// gateClaims is the shared-secret assertion a partner application signs for
// its own users when calling our API on their behalf.
type gateClaims struct {
	UserID   int64  `json:"uid"`
	Username string `json:"uname"`
	jwt.RegisteredClaims
}

// Gate authenticates partner-app requests. A partner user who previously
// linked accounts acts as their local user; anyone else gets a foreign
// placeholder principal with no local standing.
type Gate interface {
	Authenticate(ctx context.Context, token string) (*model.Principal, error)
	// SignAssertion mints a partner assertion. Exists for the admin
	// tooling and tests; the partner normally signs its own.
	SignAssertion(foreignID int64, username string) (string, error)
}

type GateImpl struct {
	key      []byte
	mappings repository.MappingRepository
	users    repository.UserRepository
}

func NewGate(key []byte, mappings repository.MappingRepository, users repository.UserRepository) *GateImpl {
	return &GateImpl{key: key, mappings: mappings, users: users}
}

func (g *GateImpl) Authenticate(ctx context.Context, token string) (*model.Principal, error) {
	var claims gateClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return g.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: partner assertion: %w", errs.ErrUnauthorized, err)
	}
	if claims.UserID == 0 {
		return nil, fmt.Errorf("%w: partner assertion missing uid", errs.ErrUnauthorized)
	}

	mapping, err := g.mappings.GetByForeignID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return &model.Principal{
				Username:  claims.Username,
				Foreign:   true,
				ForeignID: claims.UserID,
			}, nil
		}
		return nil, err
	}
	u, err := g.users.GetByID(ctx, mapping.UserID)
	if err != nil {
		return nil, err
	}
	return &model.Principal{
		UserID:    u.ID,
		Username:  u.Username,
		ForeignID: claims.UserID,
	}, nil
}

// assertionTTL bounds partner assertions; the gate rejects tokens without
// an expiry outright.
const assertionTTL = 10 * time.Minute

func (g *GateImpl) SignAssertion(foreignID int64, username string) (string, error) {
	now := time.Now()
	claims := gateClaims{
		UserID:   foreignID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(assertionTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.key)
}
