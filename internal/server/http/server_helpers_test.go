package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/model"
	"github.com/ralendar/oauth-server/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAuthorize struct {
	client   *model.Client
	beginErr error

	approveURL string
	approveErr error

	lastApprovedBy uuid.UUID
}

var _ service.AuthorizeService = (*fakeAuthorize)(nil)

func (f *fakeAuthorize) Begin(_ context.Context, _ model.AuthRequest, responseType string) (*model.Client, error) {
	if f.beginErr != nil {
		return f.client, f.beginErr
	}
	if responseType != "code" {
		return nil, errs.ErrUnsupportedResponseType
	}
	return f.client, nil
}

func (f *fakeAuthorize) Approve(_ context.Context, req model.AuthRequest, userID uuid.UUID) (string, error) {
	if f.approveErr != nil {
		return "", f.approveErr
	}
	f.lastApprovedBy = userID
	if f.approveURL != "" {
		return f.approveURL, nil
	}
	return req.RedirectURI + "?code=issued&state=" + req.State, nil
}

func (f *fakeAuthorize) Deny(req model.AuthRequest) string {
	return req.RedirectURI + "?error=access_denied"
}

func (f *fakeAuthorize) ErrorRedirect(req model.AuthRequest, oauthErr string) string {
	return req.RedirectURI + "?error=" + oauthErr
}

type fakeTokensSvc struct {
	pair        *model.TokenPair
	exchangeErr error
	refreshErr  error
	revokeErr   error

	user        *model.User
	scope       string
	userInfoErr error

	revoked []string
}

var _ service.TokenService = (*fakeTokensSvc)(nil)

func (f *fakeTokensSvc) Exchange(_ context.Context, clientID, secret, code, redirectURI string) (*model.TokenPair, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.pair, nil
}

func (f *fakeTokensSvc) Refresh(_ context.Context, _, _, _ string) (*model.TokenPair, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.pair, nil
}

func (f *fakeTokensSvc) Revoke(_ context.Context, _, _, value string) error {
	if f.revokeErr != nil {
		return f.revokeErr
	}
	f.revoked = append(f.revoked, value)
	return nil
}

func (f *fakeTokensSvc) ValidateAccess(_ context.Context, _ string) (*model.Token, error) {
	return nil, errs.ErrUnauthorized
}

func (f *fakeTokensSvc) UserInfo(_ context.Context, _ string) (*model.User, string, error) {
	if f.userInfoErr != nil {
		return nil, "", f.userInfoErr
	}
	return f.user, f.scope, nil
}

type fakeClientsSvc struct {
	apps    []model.Client
	listErr error
}

var _ service.ClientService = (*fakeClientsSvc)(nil)

func (f *fakeClientsSvc) Register(context.Context, string, string, []string, []string) (*model.Client, string, error) {
	return nil, "", errs.ErrAlreadyExists
}
func (f *fakeClientsSvc) LookupActive(context.Context, string) (*model.Client, error) {
	return nil, errs.ErrNotFound
}
func (f *fakeClientsSvc) Authenticate(context.Context, string, string) (*model.Client, error) {
	return nil, errs.ErrInvalidClient
}
func (f *fakeClientsSvc) Deactivate(context.Context, string) error { return nil }
func (f *fakeClientsSvc) AuthorizedApps(context.Context, uuid.UUID) ([]model.Client, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.apps, nil
}

type fakeIdentitySvc struct {
	names    []string
	user     *model.User
	loginErr error

	lastProvider string
	lastCode     string
}

var _ service.IdentityService = (*fakeIdentitySvc)(nil)

func (f *fakeIdentitySvc) Providers() []string { return f.names }

func (f *fakeIdentitySvc) AuthorizeURL(name, redirectURI, state string) (string, error) {
	for _, n := range f.names {
		if n == name {
			return fmt.Sprintf("https://%s.example/authorize?redirect_uri=%s&state=%s", name, redirectURI, state), nil
		}
	}
	return "", errs.ErrNotFound
}

func (f *fakeIdentitySvc) Login(_ context.Context, providerName, code, _ string) (*model.User, error) {
	f.lastProvider = providerName
	f.lastCode = code
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.user, nil
}

type fakeAuthSvc struct {
	user     *model.User
	regErr   error
	loginErr error
}

var _ service.AuthService = (*fakeAuthSvc)(nil)

func (f *fakeAuthSvc) Register(context.Context, string, string, string) (*model.User, error) {
	if f.regErr != nil {
		return nil, f.regErr
	}
	return f.user, nil
}

func (f *fakeAuthSvc) LoginWithIP(context.Context, string, string, string) (*model.User, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.user, nil
}

type fakeGate struct {
	principal *model.Principal
	err       error
}

var _ service.Gate = (*fakeGate)(nil)

func (f *fakeGate) Authenticate(context.Context, string) (*model.Principal, error) {
	return f.principal, f.err
}
func (f *fakeGate) SignAssertion(int64, string) (string, error) { return "", nil }

type testServer struct {
	srv       *Server
	authorize *fakeAuthorize
	tokens    *fakeTokensSvc
	clients   *fakeClientsSvc
	identity  *fakeIdentitySvc
	auth      *fakeAuthSvc
	gate      *fakeGate
	sessions  *service.Sessions
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	client := &model.Client{
		ClientID:     "roamio",
		Name:         "Roamio",
		Description:  "travel planner",
		Active:       true,
		RedirectURIs: []string{"https://roamio.example/oauth/cb"},
		Scopes:       []string{"profile"},
	}
	userID := uuid.Must(uuid.NewV4())
	ts := &testServer{
		authorize: &fakeAuthorize{client: client},
		tokens: &fakeTokensSvc{
			pair: &model.TokenPair{
				Access:  model.Token{Value: "at-1", Kind: model.TokenKindAccess, Scope: "profile", ExpiresAt: time.Now().Add(time.Hour)},
				Refresh: model.Token{Value: "rt-1", Kind: model.TokenKindRefresh},
			},
			user:  &model.User{ID: userID, Username: "alice", Email: "a@example.com"},
			scope: "profile user:read",
		},
		clients:  &fakeClientsSvc{},
		identity: &fakeIdentitySvc{names: []string{"acwing", "qq"}, user: &model.User{ID: userID, Username: "alice"}},
		auth:     &fakeAuthSvc{user: &model.User{ID: userID, Username: "alice"}},
		gate:     &fakeGate{},
		sessions: service.NewSessions([]byte("test-session-key")),
	}
	ts.srv = New(ts.auth, ts.authorize, ts.clients, ts.tokens, ts.identity, ts.gate, ts.sessions,
		Options{Addr: ":0", BaseURL: "https://id.ralendar.example"}, zap.NewNop())
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)
	return w
}

// signIn attaches a valid session cookie for the given user.
func (ts *testServer) signIn(t *testing.T, req *http.Request, userID uuid.UUID) {
	t.Helper()
	cookie, err := ts.sessions.NewSession(userID)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: cookie})
}
