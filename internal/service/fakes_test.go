package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/limiter"
	"github.com/ralendar/oauth-server/internal/model"
	"github.com/ralendar/oauth-server/internal/provider"
	"github.com/ralendar/oauth-server/internal/repository"
)

type fakeClients struct {
	byID map[string]*model.Client

	createErr error
	listErr   error
}

var _ repository.ClientRepository = (*fakeClients)(nil)

func (f *fakeClients) Create(_ context.Context, c *model.Client) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byID == nil {
		f.byID = map[string]*model.Client{}
	}
	if _, exists := f.byID[c.ClientID]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *c
	f.byID[c.ClientID] = &cpy
	return nil
}

func (f *fakeClients) GetByID(_ context.Context, clientID string) (*model.Client, error) {
	c, ok := f.byID[clientID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *c
	return &cpy, nil
}

func (f *fakeClients) Deactivate(_ context.Context, clientID string) error {
	c, ok := f.byID[clientID]
	if !ok {
		return errs.ErrNotFound
	}
	c.Active = false
	return nil
}

func (f *fakeClients) ListAuthorizedByUser(_ context.Context, _ string) ([]model.Client, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]model.Client, 0, len(f.byID))
	for _, c := range f.byID {
		out = append(out, *c)
	}
	return out, nil
}

type fakeCodes struct {
	byCode map[string]*model.AuthorizationCode

	createErr error
}

var _ repository.CodeRepository = (*fakeCodes)(nil)

func (f *fakeCodes) Create(_ context.Context, code *model.AuthorizationCode) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byCode == nil {
		f.byCode = map[string]*model.AuthorizationCode{}
	}
	cpy := *code
	f.byCode[code.Code] = &cpy
	return nil
}

func (f *fakeCodes) Consume(_ context.Context, code, clientID, redirectURI string, now time.Time) (*model.AuthorizationCode, error) {
	ac, ok := f.byCode[code]
	if !ok || ac.Consumed || ac.ClientID != clientID || ac.RedirectURI != redirectURI || !ac.ExpiresAt.After(now) {
		return nil, errs.ErrInvalidGrant
	}
	ac.Consumed = true
	cpy := *ac
	return &cpy, nil
}

func (f *fakeCodes) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for k, ac := range f.byCode {
		if !ac.ExpiresAt.After(now) {
			delete(f.byCode, k)
			n++
		}
	}
	return n, nil
}

type fakeTokens struct {
	byValue map[string]*model.Token

	createErr error
	getErr    error

	familyRevokes int
}

var _ repository.TokenRepository = (*fakeTokens)(nil)

func (f *fakeTokens) store(t *model.Token) {
	if f.byValue == nil {
		f.byValue = map[string]*model.Token{}
	}
	cpy := *t
	f.byValue[t.Value] = &cpy
}

func (f *fakeTokens) CreatePair(_ context.Context, access, refresh *model.Token) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.store(access)
	f.store(refresh)
	return nil
}

func (f *fakeTokens) Get(_ context.Context, value string) (*model.Token, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	t, ok := f.byValue[value]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *t
	return &cpy, nil
}

func (f *fakeTokens) RotateRefresh(_ context.Context, oldValue string, access, refresh *model.Token) error {
	old, ok := f.byValue[oldValue]
	if !ok || old.Kind != model.TokenKindRefresh || old.Rotated || old.Revoked {
		return errs.ErrInvalidGrant
	}
	old.Rotated = true
	f.store(access)
	f.store(refresh)
	return nil
}

func (f *fakeTokens) Revoke(_ context.Context, value string) error {
	t, ok := f.byValue[value]
	if !ok {
		return errs.ErrNotFound
	}
	t.Revoked = true
	if t.Kind == model.TokenKindRefresh {
		for _, child := range f.byValue {
			if child.ParentRefresh == value && child.Kind == model.TokenKindAccess {
				child.Revoked = true
			}
		}
	}
	return nil
}

func (f *fakeTokens) RevokeFamily(_ context.Context, familyID uuid.UUID) (int64, error) {
	f.familyRevokes++
	var n int64
	for _, t := range f.byValue {
		if t.FamilyID == familyID && !t.Revoked {
			t.Revoked = true
			n++
		}
	}
	return n, nil
}

func (f *fakeTokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for k, t := range f.byValue {
		if !t.ExpiresAt.After(now) {
			delete(f.byValue, k)
			n++
		}
	}
	return n, nil
}

type fakeUsers struct {
	byName map[string]*model.User

	createErr error
	getErr    error
	takenErr  error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byName == nil {
		f.byName = map[string]*model.User{}
	}
	if _, exists := f.byName[u.Username]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	f.byName[u.Username] = &cpy
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	for _, u := range f.byName {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsers) UsernameTaken(_ context.Context, username string) (bool, error) {
	if f.takenErr != nil {
		return false, f.takenErr
	}
	_, ok := f.byName[username]
	return ok, nil
}

type fakeIdentities struct {
	rows   []*model.ProviderIdentity
	nextID int64

	createErr error
	updateErr error

	updateCalls int
}

var _ repository.IdentityRepository = (*fakeIdentities)(nil)

func (f *fakeIdentities) Create(_ context.Context, ident *model.ProviderIdentity) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	cpy := *ident
	cpy.ID = f.nextID
	f.rows = append(f.rows, &cpy)
	ident.ID = cpy.ID
	return nil
}

func (f *fakeIdentities) GetByUnionID(_ context.Context, provider, unionID string) (*model.ProviderIdentity, error) {
	for _, r := range f.rows {
		if r.Provider == provider && r.UnionID != "" && r.UnionID == unionID {
			c := *r
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeIdentities) GetByProviderUID(_ context.Context, provider, providerUID string) (*model.ProviderIdentity, error) {
	for _, r := range f.rows {
		if r.Provider == provider && r.ProviderUID == providerUID {
			c := *r
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeIdentities) GetByUserID(_ context.Context, provider string, userID uuid.UUID) (*model.ProviderIdentity, error) {
	for _, r := range f.rows {
		if r.Provider == provider && r.UserID == userID {
			c := *r
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeIdentities) UpdateLogin(_ context.Context, id int64, ident *model.ProviderIdentity) error {
	f.updateCalls++
	if f.updateErr != nil {
		return f.updateErr
	}
	for _, r := range f.rows {
		if r.ID == id {
			r.AccessToken = ident.AccessToken
			r.RefreshToken = ident.RefreshToken
			r.DisplayName = ident.DisplayName
			r.AvatarURL = ident.AvatarURL
			if r.UnionID == "" {
				r.UnionID = ident.UnionID
			}
			return nil
		}
	}
	return errs.ErrNotFound
}

type fakeMappings struct {
	rows []*model.UserMapping

	getErr error
}

var _ repository.MappingRepository = (*fakeMappings)(nil)

func (f *fakeMappings) Create(_ context.Context, m *model.UserMapping) error {
	cpy := *m
	f.rows = append(f.rows, &cpy)
	return nil
}

func (f *fakeMappings) GetByUserID(_ context.Context, userID uuid.UUID) (*model.UserMapping, error) {
	for _, r := range f.rows {
		if r.UserID == userID {
			c := *r
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeMappings) GetByForeignID(_ context.Context, foreignID int64) (*model.UserMapping, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, r := range f.rows {
		if r.ForeignUserID == foreignID {
			c := *r
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeMappings) GetByUnionID(_ context.Context, unionID string) (*model.UserMapping, error) {
	for _, r := range f.rows {
		if r.UnionID == unionID {
			c := *r
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

type fakeMerger struct {
	report repository.MergeReport
	err    error
	calls  int
}

var _ repository.Merger = (*fakeMerger)(nil)

func (f *fakeMerger) MergeUsers(_ context.Context, _, _ uuid.UUID) (repository.MergeReport, error) {
	f.calls++
	return f.report, f.err
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

type fakeProvider struct {
	name    string
	token   *model.ProviderToken
	profile *model.Profile

	exchangeErr error
	profileErr  error
}

var _ provider.Provider = (*fakeProvider)(nil)

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthorizeURL(redirectURI, state string) string {
	return fmt.Sprintf("https://%s.example/authorize?redirect_uri=%s&state=%s", p.name, redirectURI, state)
}

func (p *fakeProvider) Exchange(_ context.Context, _, _ string) (model.ProviderToken, error) {
	if p.exchangeErr != nil {
		return model.ProviderToken{}, p.exchangeErr
	}
	return *p.token, nil
}

func (p *fakeProvider) FetchProfile(_ context.Context, _ model.ProviderToken) (model.Profile, error) {
	if p.profileErr != nil {
		return model.Profile{}, p.profileErr
	}
	return *p.profile, nil
}
