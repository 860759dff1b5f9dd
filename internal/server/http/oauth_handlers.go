package httpserver

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/ralendar/oauth-server/internal/crypto"
	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/model"
	"github.com/ralendar/oauth-server/internal/service"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope,omitempty"`
}

func (s *Server) handleAuthorizeGet(c *gin.Context) {
	req := model.AuthRequest{
		ClientID:    c.Query("client_id"),
		RedirectURI: c.Query("redirect_uri"),
		Scope:       c.Query("scope"),
		State:       c.Query("state"),
	}
	client, err := s.authorize.Begin(c.Request.Context(), req, c.Query("response_type"))
	if err != nil {
		s.authorizeError(c, req, err)
		return
	}

	userID := s.sessionUser(c)
	nonce, rerr := pkgcrypto.RandHex(8)
	if rerr != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	cont, cerr := s.sessions.NewContinuation(&req, nonce)
	if cerr != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	if userID == uuid.Nil {
		c.Redirect(http.StatusFound, "/oauth/login?next="+url.QueryEscape(cont))
		return
	}

	s.renderConsent(c, client, req, cont)
}

func (s *Server) handleAuthorizePost(c *gin.Context) {
	cont := c.PostForm("request")
	req, _, err := s.sessions.ParseContinuation(cont)
	if err != nil || req == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	// Revalidate: the client may have been deactivated while the consent
	// page sat open.
	if _, err := s.authorize.Begin(c.Request.Context(), *req, "code"); err != nil {
		s.authorizeError(c, *req, err)
		return
	}

	userID := s.sessionUser(c)
	if userID == uuid.Nil {
		c.Redirect(http.StatusFound, "/oauth/login?next="+url.QueryEscape(cont))
		return
	}

	if c.PostForm("decision") != "approve" {
		c.Redirect(http.StatusFound, s.authorize.Deny(*req))
		return
	}
	redirect, err := s.authorize.Approve(c.Request.Context(), *req, userID)
	if err != nil {
		s.log.Error("approve failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	c.Redirect(http.StatusFound, redirect)
}

// authorizeError answers a failed authorization request. Failures that
// happened before the redirect target was trusted are terminal and answered
// directly; the rest travel to the client's redirect uri.
func (s *Server) authorizeError(c *gin.Context, req model.AuthRequest, err error) {
	if oauthErr, ok := service.RedirectableAuthError(err); ok {
		c.Redirect(http.StatusFound, s.authorize.ErrorRedirect(req, oauthErr))
		return
	}
	switch {
	case errors.Is(err, errs.ErrInvalidClient), errors.Is(err, errs.ErrClientInactive):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_client"})
	case errors.Is(err, errs.ErrRedirectNotAllowed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "redirect_uri not registered"})
	default:
		s.log.Error("authorize failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
	}
}

func (s *Server) handleToken(c *gin.Context) {
	clientID, secret := s.clientCredentials(c)
	c.Header("Cache-Control", "no-store")

	switch c.PostForm("grant_type") {
	case "authorization_code":
		pair, err := s.tokens.Exchange(c.Request.Context(), clientID, secret,
			c.PostForm("code"), c.PostForm("redirect_uri"))
		s.tokenReply(c, pair, err)
	case "refresh_token":
		pair, err := s.tokens.Refresh(c.Request.Context(), clientID, secret, c.PostForm("refresh_token"))
		s.tokenReply(c, pair, err)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type"})
	}
}

func (s *Server) tokenReply(c *gin.Context, pair *model.TokenPair, err error) {
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrInvalidClient), errors.Is(err, errs.ErrClientInactive):
			c.Header("WWW-Authenticate", `Basic realm="oauth"`)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
		case errors.Is(err, errs.ErrInvalidGrant):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant"})
		default:
			s.log.Error("token grant failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		}
		return
	}
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:  pair.Access.Value,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(pair.Access.ExpiresAt).Seconds()),
		RefreshToken: pair.Refresh.Value,
		Scope:        pair.Access.Scope,
	})
}

func (s *Server) handleRevoke(c *gin.Context) {
	clientID, secret := s.clientCredentials(c)
	err := s.tokens.Revoke(c.Request.Context(), clientID, secret, c.PostForm("token"))
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrInvalidClient), errors.Is(err, errs.ErrClientInactive):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
		default:
			s.log.Error("revoke failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		}
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) handleUserInfo(c *gin.Context) {
	u, scope, err := s.tokens.UserInfo(c.Request.Context(), bearerToken(c))
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrTokenExpired):
			unauthorizedToken(c, "expired_token")
		case errors.Is(err, errs.ErrTokenRevoked), errors.Is(err, errs.ErrUnauthorized):
			unauthorizedToken(c, "invalid_token")
		default:
			s.log.Error("userinfo failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		}
		return
	}
	resp := gin.H{
		"sub":      u.ID.String(),
		"username": u.Username,
		"scope":    scope,
	}
	if u.Email != "" && scopeGranted(scope, "user:read") {
		resp["email"] = u.Email
	}
	c.JSON(http.StatusOK, resp)
}

// clientCredentials pulls client auth from Basic auth, falling back to form
// fields for clients that post credentials in the body.
func (s *Server) clientCredentials(c *gin.Context) (clientID, secret string) {
	if id, sec, ok := c.Request.BasicAuth(); ok {
		return id, sec
	}
	return c.PostForm("client_id"), c.PostForm("client_secret")
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

func scopeGranted(scope, want string) bool {
	for _, tok := range model.SplitScope(scope) {
		if tok == want {
			return true
		}
	}
	return false
}

func unauthorizedToken(c *gin.Context, code string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`"`)
	c.JSON(http.StatusUnauthorized, gin.H{"error": code})
}
