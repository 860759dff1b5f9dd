package service

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/model"
)

const (
	continuationTTL = 10 * time.Minute
	sessionTTL      = 14 * 24 * time.Hour
)

// continuationClaims carries a pending authorization request across the
// provider login detour. It rides in the provider's state parameter, so it
// must be both compact and tamper-proof.
type continuationClaims struct {
	ClientID    string `json:"cid,omitempty"`
	RedirectURI string `json:"ruri,omitempty"`
	Scope       string `json:"scp,omitempty"`
	State       string `json:"st,omitempty"`
	Nonce       string `json:"n"`
	jwt.RegisteredClaims
}

// Sessions signs and verifies the short-lived tokens the browser flow
// depends on: the login continuation and the session cookie.
type Sessions struct {
	key []byte
}

func NewSessions(key []byte) *Sessions {
	return &Sessions{key: key}
}

// NewContinuation wraps a pending authorization request into a signed token.
// req may be nil for a plain sign-in with no authorize request pending.
func (s *Sessions) NewContinuation(req *model.AuthRequest, nonce string) (string, error) {
	claims := continuationClaims{
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(continuationTTL)),
		},
	}
	if req != nil {
		claims.ClientID = req.ClientID
		claims.RedirectURI = req.RedirectURI
		claims.Scope = req.Scope
		claims.State = req.State
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// ParseContinuation verifies the token and returns the pending request, or
// nil when the login was not part of an authorization flow.
func (s *Sessions) ParseContinuation(token string) (*model.AuthRequest, string, error) {
	var claims continuationClaims
	_, err := jwt.ParseWithClaims(token, &claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, "", fmt.Errorf("%w: continuation: %w", errs.ErrUnauthorized, err)
	}
	if claims.ClientID == "" {
		return nil, claims.Nonce, nil
	}
	return &model.AuthRequest{
		ClientID:    claims.ClientID,
		RedirectURI: claims.RedirectURI,
		Scope:       claims.Scope,
		State:       claims.State,
	}, claims.Nonce, nil
}

// NewSession issues the browser session cookie value for a signed-in user.
func (s *Sessions) NewSession(userID uuid.UUID) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(sessionTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// ParseSession returns the user id carried by a session cookie.
func (s *Sessions) ParseSession(token string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: session: %w", errs.ErrUnauthorized, err)
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: session subject: %w", errs.ErrUnauthorized, err)
	}
	return id, nil
}

func (s *Sessions) keyFunc(*jwt.Token) (any, error) {
	return s.key, nil
}
