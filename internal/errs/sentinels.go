// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")
)

// OAuth protocol sentinels. The HTTP layer maps these onto the wire error
// codes defined by RFC 6749.
var (
	// ErrInvalidClient indicates the client does not exist or failed secret verification.
	ErrInvalidClient = errors.New("invalid client")

	// ErrClientInactive indicates the client exists but has been deactivated.
	ErrClientInactive = errors.New("client inactive")

	// ErrRedirectNotAllowed indicates a redirect URI missing from the client allow-list.
	ErrRedirectNotAllowed = errors.New("redirect uri not allowed")

	// ErrScopeNotAllowed indicates a requested scope outside the client allow-list.
	ErrScopeNotAllowed = errors.New("scope not allowed")

	// ErrUnsupportedResponseType indicates a response_type other than "code".
	ErrUnsupportedResponseType = errors.New("unsupported response type")

	// ErrInvalidGrant covers every code/token redemption failure: missing,
	// consumed, expired, or bound to different client/redirect parameters.
	// Deliberately generic so callers cannot probe which check failed.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrTokenExpired indicates a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked indicates a token that was explicitly revoked.
	ErrTokenRevoked = errors.New("token revoked")
)

// Identity federation sentinels.
var (
	// ErrProviderFailure indicates the upstream identity provider was
	// unreachable, rejected the exchange, or returned a malformed response.
	ErrProviderFailure = errors.New("identity provider failure")

	// ErrFederationConflict indicates a union id already bound to a different
	// local user. Requires an administrative merge, never auto-resolved.
	ErrFederationConflict = errors.New("federation key conflict")
)
