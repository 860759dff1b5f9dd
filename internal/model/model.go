// Package model defines domain entities used by services and repositories.
package model

import (
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Client is a registered third-party application allowed to request
// authorization. The client id is immutable after creation; the secret is
// stored only as an Argon2id hash.
type Client struct {
	ClientID     string // unique, immutable
	SecretHash   string // argon2id-encoded, never the plaintext
	Name         string
	Description  string
	LogoURL      string
	RedirectURIs []string // exact-match allow-list
	Scopes       []string // allowed scope tokens
	Active       bool
	CreatedAt    time.Time
}

// RedirectAllowed reports whether uri exactly matches a registered redirect.
// No prefix or wildcard matching: anything looser opens a redirect hole.
func (c *Client) RedirectAllowed(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// ScopeAllowed reports whether every space-separated token in scope is a
// member of the client's allowed set.
func (c *Client) ScopeAllowed(scope string) bool {
	for _, tok := range SplitScope(scope) {
		if !c.hasScope(tok) {
			return false
		}
	}
	return true
}

func (c *Client) hasScope(tok string) bool {
	for _, s := range c.Scopes {
		if s == tok {
			return true
		}
	}
	return false
}

// SplitScope splits a space-separated scope string, dropping empty tokens.
func SplitScope(scope string) []string {
	return strings.Fields(scope)
}

// AuthorizationCode is a single-use credential binding client, user,
// redirect URI and scope. Redeemable at most once, before ExpiresAt.
type AuthorizationCode struct {
	Code        string // opaque random value, >=128 bits entropy
	ClientID    string
	UserID      uuid.UUID
	RedirectURI string
	Scope       string
	State       string // caller-supplied echo value, may be empty
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Consumed    bool
}

// TokenKind discriminates rows in the oauth_tokens table.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Token is one issued access or refresh token. Refresh tokens form rotation
// families: every rotation keeps FamilyID, and a rotated token presented
// again marks the whole family compromised.
type Token struct {
	Value         string
	Kind          TokenKind
	ClientID      string
	UserID        uuid.UUID
	Scope         string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Revoked       bool
	Rotated       bool      // refresh only: superseded by a newer token in the family
	ParentRefresh string    // access only: refresh token it was minted from
	FamilyID      uuid.UUID // refresh only: rotation chain id
}

// TokenPair collects the two tokens issued at exchange or refresh time.
type TokenPair struct {
	Access  Token
	Refresh Token
}

// User is the application's own identity record. PwdHash is empty for
// accounts created via an identity provider.
type User struct {
	ID        uuid.UUID
	Username  string // unique
	Email     string
	PwdHash   []byte // Argon2id(password, Salt), empty if no password set
	Salt      []byte
	CreatedAt time.Time
}

// ProviderIdentity links a local user to one external identity provider
// account. ProviderUID is unique per provider; UnionID, when present, is the
// provider-issued federation key and is unique per provider as well.
type ProviderIdentity struct {
	ID           int64
	Provider     string // "acwing" or "qq"
	ProviderUID  string // provider-local id (openid)
	UnionID      string // federation key, empty if the provider has none
	UserID       uuid.UUID
	AccessToken  string // provider-issued credentials, cached
	RefreshToken string
	DisplayName  string
	AvatarURL    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is what a provider reports about the logged-in person.
type Profile struct {
	ProviderUID string
	UnionID     string // empty for providers without a federation key
	DisplayName string
	AvatarURL   string
}

// ProviderToken is the credential set a provider issues on code exchange.
type ProviderToken struct {
	AccessToken  string
	RefreshToken string
	OpenID       string // some providers return the provider-local id here
}

// UserMapping links a local user to the cooperating application's user id
// via the shared federation key.
type UserMapping struct {
	ID              int64
	UserID          uuid.UUID // unique
	ForeignUserID   int64     // unique
	ForeignUsername string
	UnionID         string // unique when present
	SyncEnabled     bool
	LastSyncedAt    time.Time
	CreatedAt       time.Time
}

// Principal is the caller identity produced by the cross-app gate. A foreign
// principal carries only the foreign subject id and must be resolved through
// a user mapping before touching any locally owned data.
type Principal struct {
	UserID    uuid.UUID // zero when Foreign
	Username  string
	Foreign   bool
	ForeignID int64 // subject id from the cooperating application
}

// AuthRequest is a validated authorization request held across the
// authenticate/consent detour.
type AuthRequest struct {
	ClientID    string
	RedirectURI string
	Scope       string
	State       string
}
