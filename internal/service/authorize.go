package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/ralendar/oauth-server/internal/crypto"
	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/model"
	"github.com/ralendar/oauth-server/internal/repository"
)

// AuthorizeService runs the authorization-code front channel: request
// validation, consent outcome and code minting.
type AuthorizeService interface {
	// Begin validates an incoming authorization request. Client and
	// redirect failures are terminal and must never be forwarded to the
	// requested redirect uri; response type and scope failures happen
	// after the redirect target is trusted and may be delivered there.
	Begin(ctx context.Context, req model.AuthRequest, responseType string) (*model.Client, error)
	// Approve mints a single-use code for the signed-in user and returns
	// the full redirect url to send the browser to.
	Approve(ctx context.Context, req model.AuthRequest, userID uuid.UUID) (string, error)
	// Deny returns the access_denied redirect for a declined consent.
	Deny(req model.AuthRequest) string
	// ErrorRedirect builds an error delivery redirect for failures that
	// happen after the redirect uri has been validated.
	ErrorRedirect(req model.AuthRequest, oauthErr string) string
}

type AuthorizeServiceImpl struct {
	clients ClientService
	codes   repository.CodeRepository
	codeTTL time.Duration
}

func NewAuthorizeService(clients ClientService, codes repository.CodeRepository, codeTTL time.Duration) *AuthorizeServiceImpl {
	return &AuthorizeServiceImpl{clients: clients, codes: codes, codeTTL: codeTTL}
}

// RedirectableAuthError reports whether an authorization failure may be
// delivered to the client's redirect uri. Anything touching the identity of
// the client or the redirect target itself must be answered directly.
func RedirectableAuthError(err error) (oauthErr string, ok bool) {
	switch {
	case errors.Is(err, errs.ErrUnsupportedResponseType):
		return "unsupported_response_type", true
	case errors.Is(err, errs.ErrScopeNotAllowed):
		return "invalid_scope", true
	}
	return "", false
}

func (s *AuthorizeServiceImpl) Begin(ctx context.Context, req model.AuthRequest, responseType string) (*model.Client, error) {
	client, err := s.clients.LookupActive(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !client.RedirectAllowed(req.RedirectURI) {
		return nil, fmt.Errorf("%w: %s", errs.ErrRedirectNotAllowed, req.RedirectURI)
	}
	// From here on the redirect target is trusted.
	if responseType != "code" {
		return nil, fmt.Errorf("%w: %s", errs.ErrUnsupportedResponseType, responseType)
	}
	for _, sc := range model.SplitScope(req.Scope) {
		if !client.ScopeAllowed(sc) {
			return client, fmt.Errorf("%w: %s", errs.ErrScopeNotAllowed, sc)
		}
	}
	return client, nil
}

func (s *AuthorizeServiceImpl) Approve(ctx context.Context, req model.AuthRequest, userID uuid.UUID) (string, error) {
	value, err := pkgcrypto.RandHex(32)
	if err != nil {
		return "", err
	}
	now := time.Now()
	code := &model.AuthorizationCode{
		Code:        value,
		ClientID:    req.ClientID,
		UserID:      userID,
		RedirectURI: req.RedirectURI,
		Scope:       req.Scope,
		State:       req.State,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.codeTTL),
	}
	if err := s.codes.Create(ctx, code); err != nil {
		return "", err
	}
	return appendQuery(req.RedirectURI, url.Values{
		"code":  {value},
		"state": {req.State},
	}), nil
}

func (s *AuthorizeServiceImpl) Deny(req model.AuthRequest) string {
	return s.ErrorRedirect(req, "access_denied")
}

func (s *AuthorizeServiceImpl) ErrorRedirect(req model.AuthRequest, oauthErr string) string {
	return appendQuery(req.RedirectURI, url.Values{
		"error": {oauthErr},
		"state": {req.State},
	})
}

// appendQuery merges params onto a url, preserving any query it already has.
// The state parameter is echoed verbatim and dropped when empty.
func appendQuery(rawURL string, params url.Values) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// The uri passed the allow-list, so this cannot happen for a
		// well-formed registration; fall back to naive concatenation.
		return rawURL + "?" + params.Encode()
	}
	q := u.Query()
	for k, vs := range params {
		if k == "state" && (len(vs) == 0 || vs[0] == "") {
			continue
		}
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
