package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/model"
)

// QQ is the federation-key-aware provider. Its wire formats are uneven: the
// token endpoint answers URL-encoded text, the openid endpoint answers JSONP
// (callback( {...} );), and the profile endpoint answers JSON with a ret
// status field. unionid=1 asks for the cross-application federation key.
type QQ struct {
	appID   string
	appKey  string
	baseURL string
	client  *http.Client
}

// NewQQ constructs the QQ provider.
func NewQQ(appID, appKey string) *QQ {
	return &QQ{
		appID:   appID,
		appKey:  appKey,
		baseURL: "https://graph.qq.com",
		client:  newHTTPClient(),
	}
}

// Name implements Provider.
func (p *QQ) Name() string { return "qq" }

// AuthorizeURL implements Provider.
func (p *QQ) AuthorizeURL(redirectURI, state string) string {
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", p.appID)
	v.Set("redirect_uri", redirectURI)
	v.Set("state", state)
	v.Set("unionid", "1")
	return p.baseURL + "/oauth2.0/authorize?" + v.Encode()
}

// Exchange implements Provider. The redirect URI must match the one used at
// authorize time exactly (QQ enforces this, including the missing trailing
// slash).
func (p *QQ) Exchange(ctx context.Context, code, redirectURI string) (model.ProviderToken, error) {
	v := url.Values{}
	v.Set("grant_type", "authorization_code")
	v.Set("client_id", p.appID)
	v.Set("client_secret", p.appKey)
	v.Set("code", code)
	v.Set("redirect_uri", redirectURI)

	body, err := p.get(ctx, "/oauth2.0/token?"+v.Encode())
	if err != nil {
		return model.ProviderToken{}, fmt.Errorf("qq token exchange: %w", err)
	}
	if strings.Contains(body, "error") {
		return model.ProviderToken{}, fmt.Errorf("qq token exchange rejected: %w", errs.ErrProviderFailure)
	}
	vals, err := url.ParseQuery(body)
	if err != nil || vals.Get("access_token") == "" {
		return model.ProviderToken{}, fmt.Errorf("qq token exchange: malformed response: %w", errs.ErrProviderFailure)
	}
	return model.ProviderToken{
		AccessToken:  vals.Get("access_token"),
		RefreshToken: vals.Get("refresh_token"),
	}, nil
}

type qqOpenIDResp struct {
	OpenID  string `json:"openid"`
	UnionID string `json:"unionid"`
}

type qqProfileResp struct {
	Ret      int    `json:"ret"`
	Msg      string `json:"msg"`
	Nickname string `json:"nickname"`
	Figure   string `json:"figureurl_qq_2"`
}

// FetchProfile implements Provider. Two upstream calls: openid+unionid from
// the JSONP endpoint, then the profile proper.
func (p *QQ) FetchProfile(ctx context.Context, tok model.ProviderToken) (model.Profile, error) {
	v := url.Values{}
	v.Set("access_token", tok.AccessToken)
	v.Set("unionid", "1")

	body, err := p.get(ctx, "/oauth2.0/me?"+v.Encode())
	if err != nil {
		return model.Profile{}, fmt.Errorf("qq openid fetch: %w", err)
	}
	var ids qqOpenIDResp
	if err := json.Unmarshal([]byte(stripJSONP(body)), &ids); err != nil || ids.OpenID == "" {
		return model.Profile{}, fmt.Errorf("qq openid fetch: malformed response: %w", errs.ErrProviderFailure)
	}

	v = url.Values{}
	v.Set("access_token", tok.AccessToken)
	v.Set("oauth_consumer_key", p.appID)
	v.Set("openid", ids.OpenID)

	body, err = p.get(ctx, "/user/get_user_info?"+v.Encode())
	if err != nil {
		return model.Profile{}, fmt.Errorf("qq profile fetch: %w", err)
	}
	var prof qqProfileResp
	if err := json.Unmarshal([]byte(body), &prof); err != nil {
		return model.Profile{}, fmt.Errorf("qq profile fetch: malformed response: %w", errs.ErrProviderFailure)
	}
	if prof.Ret != 0 {
		return model.Profile{}, fmt.Errorf("qq profile fetch rejected (ret=%d): %w", prof.Ret, errs.ErrProviderFailure)
	}

	name := prof.Nickname
	if name == "" {
		name = "qq_user"
	}
	return model.Profile{
		ProviderUID: ids.OpenID,
		UnionID:     ids.UnionID,
		DisplayName: name,
		AvatarURL:   prof.Figure,
	}, nil
}

func (p *QQ) get(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrProviderFailure, err)
	}
	return string(body), nil
}

// stripJSONP unwraps callback( ... ); leaving the JSON payload.
func stripJSONP(s string) string {
	s = strings.TrimSpace(s)
	open := strings.Index(s, "(")
	end := strings.LastIndex(s, ")")
	if open >= 0 && end > open {
		return strings.TrimSpace(s[open+1 : end])
	}
	return s
}
