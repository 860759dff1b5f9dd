// Package provider implements the external identity providers used for login.
//
// Each provider hides its own wire quirks behind a uniform capability
// interface; the resolution logic above this boundary is provider-agnostic.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/ralendar/oauth-server/internal/model"
)

// Provider is one external identity provider.
type Provider interface {
	// Name returns the stable provider key stored with identities.
	Name() string
	// AuthorizeURL builds the URL the browser is sent to for provider login.
	// state is round-tripped opaquely through the provider.
	AuthorizeURL(redirectURI, state string) string
	// Exchange trades an authorization code for provider credentials.
	Exchange(ctx context.Context, code, redirectURI string) (model.ProviderToken, error)
	// FetchProfile loads the person behind the credentials, including the
	// federation key for providers that issue one.
	FetchProfile(ctx context.Context, tok model.ProviderToken) (model.Profile, error)
}

// Upstream calls must not hang: a timeout is a catalogued failure.
const requestTimeout = 10 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}
