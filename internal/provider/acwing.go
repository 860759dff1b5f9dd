package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/model"
)

// AcWing talks JSON on every endpoint and signals errors with an errcode
// field. It has no federation key: identities match on openid only.
type AcWing struct {
	appID   string
	secret  string
	baseURL string
	client  *http.Client
}

// NewAcWing constructs the AcWing provider.
func NewAcWing(appID, secret string) *AcWing {
	return &AcWing{
		appID:   appID,
		secret:  secret,
		baseURL: "https://www.acwing.com",
		client:  newHTTPClient(),
	}
}

// Name implements Provider.
func (p *AcWing) Name() string { return "acwing" }

// AuthorizeURL implements Provider.
func (p *AcWing) AuthorizeURL(redirectURI, state string) string {
	v := url.Values{}
	v.Set("appid", p.appID)
	v.Set("redirect_uri", redirectURI)
	v.Set("scope", "userinfo")
	v.Set("state", state)
	return p.baseURL + "/third_party/api/oauth2/web/authorize/?" + v.Encode()
}

type acwingTokenResp struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	OpenID       string `json:"openid"`
	ErrCode      *int   `json:"errcode"`
	ErrMsg       string `json:"errmsg"`
}

// Exchange implements Provider.
func (p *AcWing) Exchange(ctx context.Context, code, _ string) (model.ProviderToken, error) {
	v := url.Values{}
	v.Set("appid", p.appID)
	v.Set("secret", p.secret)
	v.Set("code", code)

	var resp acwingTokenResp
	if err := p.getJSON(ctx, "/third_party/api/oauth2/access_token/?"+v.Encode(), &resp); err != nil {
		return model.ProviderToken{}, fmt.Errorf("acwing token exchange: %w", err)
	}
	if resp.ErrCode != nil {
		return model.ProviderToken{}, fmt.Errorf("acwing token exchange rejected (errcode=%d): %w", *resp.ErrCode, errs.ErrProviderFailure)
	}
	if resp.AccessToken == "" || resp.OpenID == "" {
		return model.ProviderToken{}, fmt.Errorf("acwing token exchange: malformed response: %w", errs.ErrProviderFailure)
	}
	return model.ProviderToken{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		OpenID:       resp.OpenID,
	}, nil
}

type acwingProfileResp struct {
	Username string `json:"username"`
	Photo    string `json:"photo"`
	ErrCode  *int   `json:"errcode"`
	ErrMsg   string `json:"errmsg"`
}

// FetchProfile implements Provider.
func (p *AcWing) FetchProfile(ctx context.Context, tok model.ProviderToken) (model.Profile, error) {
	v := url.Values{}
	v.Set("access_token", tok.AccessToken)
	v.Set("openid", tok.OpenID)

	var resp acwingProfileResp
	if err := p.getJSON(ctx, "/third_party/api/meta/identity/getinfo/?"+v.Encode(), &resp); err != nil {
		return model.Profile{}, fmt.Errorf("acwing profile fetch: %w", err)
	}
	if resp.ErrCode != nil {
		return model.Profile{}, fmt.Errorf("acwing profile fetch rejected (errcode=%d): %w", *resp.ErrCode, errs.ErrProviderFailure)
	}
	if resp.Username == "" {
		return model.Profile{}, fmt.Errorf("acwing profile fetch: malformed response: %w", errs.ErrProviderFailure)
	}
	return model.Profile{
		ProviderUID: tok.OpenID,
		DisplayName: resp.Username,
		AvatarURL:   resp.Photo,
	}, nil
}

func (p *AcWing) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrProviderFailure, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: invalid json: %v", errs.ErrProviderFailure, err)
	}
	return nil
}
