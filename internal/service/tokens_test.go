package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/model"
)

type tokenFixture struct {
	svc    *TokenServiceImpl
	codes  *fakeCodes
	tokens *fakeTokens
	users  *fakeUsers

	clientID string
	secret   string
	userID   uuid.UUID
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()

	clientRepo := &fakeClients{byID: map[string]*model.Client{}}
	clients := NewClientService(clientRepo)
	c, secret, err := clients.Register(context.Background(), "roamio", "",
		[]string{"https://roamio.example/oauth/cb"}, []string{"profile"})
	if err != nil {
		t.Fatalf("register client: %v", err)
	}

	userID := uuid.Must(uuid.NewV4())
	users := &fakeUsers{byName: map[string]*model.User{
		"alice": {ID: userID, Username: "alice"},
	}}
	codes := &fakeCodes{byCode: map[string]*model.AuthorizationCode{}}
	tokens := &fakeTokens{byValue: map[string]*model.Token{}}

	svc := NewTokenService(clients, codes, tokens, users, time.Hour, 24*time.Hour, zap.NewNop())
	return &tokenFixture{
		svc:      svc,
		codes:    codes,
		tokens:   tokens,
		users:    users,
		clientID: c.ClientID,
		secret:   secret,
		userID:   userID,
	}
}

func (f *tokenFixture) issueCode(t *testing.T, value string) {
	t.Helper()
	now := time.Now()
	err := f.codes.Create(context.Background(), &model.AuthorizationCode{
		Code:        value,
		ClientID:    f.clientID,
		UserID:      f.userID,
		RedirectURI: "https://roamio.example/oauth/cb",
		Scope:       "profile",
		CreatedAt:   now,
		ExpiresAt:   now.Add(5 * time.Minute),
	})
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}
}

func TestTokens_Exchange(t *testing.T) {
	t.Parallel()
	f := newTokenFixture(t)
	ctx := context.Background()
	f.issueCode(t, "code-1")

	if _, err := f.svc.Exchange(ctx, f.clientID, "wrong", "code-1", "https://roamio.example/oauth/cb"); !errors.Is(err, errs.ErrInvalidClient) {
		t.Fatalf("want ErrInvalidClient on bad secret, got %v", err)
	}

	// A redirect uri differing from the one bound at authorization time
	// fails identically to an unknown code.
	if _, err := f.svc.Exchange(ctx, f.clientID, f.secret, "code-1", "https://roamio.example/other"); !errors.Is(err, errs.ErrInvalidGrant) {
		t.Fatalf("want ErrInvalidGrant on redirect mismatch, got %v", err)
	}

	pair, err := f.svc.Exchange(ctx, f.clientID, f.secret, "code-1", "https://roamio.example/oauth/cb")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if pair.Access.Value == "" || pair.Refresh.Value == "" || pair.Access.Value == pair.Refresh.Value {
		t.Fatalf("bad pair: %+v", pair)
	}
	if pair.Access.UserID != f.userID || pair.Access.Scope != "profile" {
		t.Fatalf("pair not bound to code grant: %+v", pair.Access)
	}
	if pair.Access.FamilyID != pair.Refresh.FamilyID || pair.Access.FamilyID == uuid.Nil {
		t.Fatalf("pair must share a non-nil family")
	}

	// Single use: a second redemption of the same code fails.
	if _, err := f.svc.Exchange(ctx, f.clientID, f.secret, "code-1", "https://roamio.example/oauth/cb"); !errors.Is(err, errs.ErrInvalidGrant) {
		t.Fatalf("want ErrInvalidGrant on code replay, got %v", err)
	}
}

func TestTokens_RefreshRotation(t *testing.T) {
	t.Parallel()
	f := newTokenFixture(t)
	ctx := context.Background()
	f.issueCode(t, "code-1")

	first, err := f.svc.Exchange(ctx, f.clientID, f.secret, "code-1", "https://roamio.example/oauth/cb")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	second, err := f.svc.Refresh(ctx, f.clientID, f.secret, first.Refresh.Value)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.Refresh.Value == first.Refresh.Value {
		t.Fatalf("refresh token not rotated")
	}
	if second.Refresh.FamilyID != first.Refresh.FamilyID {
		t.Fatalf("rotation changed the family")
	}

	if old := f.tokens.byValue[first.Refresh.Value]; !old.Rotated {
		t.Fatalf("old refresh not marked rotated")
	}
}

func TestTokens_RefreshReuseRevokesFamily(t *testing.T) {
	t.Parallel()
	f := newTokenFixture(t)
	ctx := context.Background()
	f.issueCode(t, "code-1")

	first, err := f.svc.Exchange(ctx, f.clientID, f.secret, "code-1", "https://roamio.example/oauth/cb")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	second, err := f.svc.Refresh(ctx, f.clientID, f.secret, first.Refresh.Value)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Replaying the superseded token burns the whole family, including
	// the pair the legitimate holder just received.
	if _, err := f.svc.Refresh(ctx, f.clientID, f.secret, first.Refresh.Value); !errors.Is(err, errs.ErrInvalidGrant) {
		t.Fatalf("want ErrInvalidGrant on reuse, got %v", err)
	}
	if f.tokens.familyRevokes != 1 {
		t.Fatalf("family revocation not triggered: %d", f.tokens.familyRevokes)
	}
	if live := f.tokens.byValue[second.Refresh.Value]; !live.Revoked {
		t.Fatalf("newest refresh survived family revocation")
	}
	if live := f.tokens.byValue[second.Access.Value]; !live.Revoked {
		t.Fatalf("newest access survived family revocation")
	}

	if _, err := f.svc.Refresh(ctx, f.clientID, f.secret, second.Refresh.Value); !errors.Is(err, errs.ErrInvalidGrant) {
		t.Fatalf("revoked refresh must not rotate, got %v", err)
	}
}

func TestTokens_RefreshRejectsForeignAndNonRefresh(t *testing.T) {
	t.Parallel()
	f := newTokenFixture(t)
	ctx := context.Background()
	f.issueCode(t, "code-1")

	pair, err := f.svc.Exchange(ctx, f.clientID, f.secret, "code-1", "https://roamio.example/oauth/cb")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	if _, err := f.svc.Refresh(ctx, f.clientID, f.secret, pair.Access.Value); !errors.Is(err, errs.ErrInvalidGrant) {
		t.Fatalf("access token accepted as refresh, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, f.clientID, f.secret, "no-such-token"); !errors.Is(err, errs.ErrInvalidGrant) {
		t.Fatalf("want ErrInvalidGrant on unknown token, got %v", err)
	}
}

func TestTokens_Revoke(t *testing.T) {
	t.Parallel()
	f := newTokenFixture(t)
	ctx := context.Background()
	f.issueCode(t, "code-1")

	pair, err := f.svc.Exchange(ctx, f.clientID, f.secret, "code-1", "https://roamio.example/oauth/cb")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	// Unknown values succeed so revocation cannot be used as an oracle.
	if err := f.svc.Revoke(ctx, f.clientID, f.secret, "ghost"); err != nil {
		t.Fatalf("Revoke unknown: %v", err)
	}

	if err := f.svc.Revoke(ctx, f.clientID, f.secret, pair.Refresh.Value); err != nil {
		t.Fatalf("Revoke refresh: %v", err)
	}
	if !f.tokens.byValue[pair.Refresh.Value].Revoked {
		t.Fatalf("refresh not revoked")
	}
	if !f.tokens.byValue[pair.Access.Value].Revoked {
		t.Fatalf("child access must be revoked with its refresh")
	}
}

func TestTokens_ValidateAccess(t *testing.T) {
	t.Parallel()
	f := newTokenFixture(t)
	ctx := context.Background()
	f.issueCode(t, "code-1")

	pair, err := f.svc.Exchange(ctx, f.clientID, f.secret, "code-1", "https://roamio.example/oauth/cb")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	got, err := f.svc.ValidateAccess(ctx, pair.Access.Value)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if got.UserID != f.userID {
		t.Fatalf("wrong user: %v", got.UserID)
	}

	if _, err := f.svc.ValidateAccess(ctx, ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on empty value, got %v", err)
	}
	if _, err := f.svc.ValidateAccess(ctx, pair.Refresh.Value); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("refresh token must not authorize resource access, got %v", err)
	}

	f.tokens.byValue[pair.Access.Value].Revoked = true
	if _, err := f.svc.ValidateAccess(ctx, pair.Access.Value); !errors.Is(err, errs.ErrTokenRevoked) {
		t.Fatalf("want ErrTokenRevoked, got %v", err)
	}

	f.tokens.byValue[pair.Access.Value].Revoked = false
	f.tokens.byValue[pair.Access.Value].ExpiresAt = time.Now().Add(-time.Second)
	if _, err := f.svc.ValidateAccess(ctx, pair.Access.Value); !errors.Is(err, errs.ErrTokenExpired) {
		t.Fatalf("want ErrTokenExpired, got %v", err)
	}
}

func TestTokens_UserInfo(t *testing.T) {
	t.Parallel()
	f := newTokenFixture(t)
	ctx := context.Background()
	f.issueCode(t, "code-1")

	pair, err := f.svc.Exchange(ctx, f.clientID, f.secret, "code-1", "https://roamio.example/oauth/cb")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	u, scope, err := f.svc.UserInfo(ctx, pair.Access.Value)
	if err != nil {
		t.Fatalf("UserInfo: %v", err)
	}
	if u.Username != "alice" || scope != "profile" {
		t.Fatalf("bad userinfo: %s %s", u.Username, scope)
	}
}
