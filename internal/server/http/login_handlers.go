package httpserver

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/ralendar/oauth-server/internal/crypto"
	"github.com/ralendar/oauth-server/internal/errs"
	"github.com/ralendar/oauth-server/internal/model"
)

func (s *Server) handleLoginPage(c *gin.Context) {
	s.renderLogin(c, c.Query("next"))
}

// handleProviderRedirect sends the browser to the external provider. The
// pending authorization request rides along in the signed state value, so
// the callback can pick the flow back up without server-side state.
func (s *Server) handleProviderRedirect(c *gin.Context) {
	name := c.Param("provider")
	state := c.Query("next")
	if state == "" {
		nonce, err := pkgcrypto.RandHex(8)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
			return
		}
		state, err = s.sessions.NewContinuation(nil, nonce)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
			return
		}
	}
	authURL, err := s.identity.AuthorizeURL(name, s.callbackURL(name), state)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_provider"})
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

func (s *Server) handleProviderCallback(c *gin.Context) {
	name := c.Param("provider")

	// The state must be one of our own signed continuations; anything
	// else is a forged or replayed callback.
	req, _, err := s.sessions.ParseContinuation(c.Query("state"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_state"})
		return
	}
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_code"})
		return
	}

	user, err := s.identity.Login(c.Request.Context(), name, code, s.callbackURL(name))
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_provider"})
		case errors.Is(err, errs.ErrProviderFailure):
			s.log.Warn("provider login failed", zap.String("provider", name), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "provider_failure"})
		case errors.Is(err, errs.ErrFederationConflict):
			s.log.Error("identity conflict on provider login", zap.String("provider", name), zap.Error(err))
			c.JSON(http.StatusConflict, gin.H{"error": "identity_conflict"})
		default:
			s.log.Error("provider login failed", zap.String("provider", name), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		}
		return
	}
	if err := s.setSession(c, user.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	s.finishLogin(c, req)
}

func (s *Server) handleRegister(c *gin.Context) {
	user, err := s.auth.Register(c.Request.Context(),
		c.PostForm("username"), c.PostForm("email"), c.PostForm("password"))
	if err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "username_taken"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := s.setSession(c, user.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	s.finishLoginFromForm(c)
}

func (s *Server) handlePasswordLogin(c *gin.Context) {
	user, err := s.auth.LoginWithIP(c.Request.Context(),
		c.PostForm("username"), c.PostForm("password"), c.ClientIP())
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		case errors.Is(err, errs.ErrUnauthorized):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		default:
			s.log.Error("password login failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		}
		return
	}
	if err := s.setSession(c, user.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	s.finishLoginFromForm(c)
}

func (s *Server) handleAuthorizedApps(c *gin.Context) {
	userID := s.sessionUser(c)
	if userID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "sign_in_required"})
		return
	}
	apps, err := s.clients.AuthorizedApps(c.Request.Context(), userID)
	if err != nil {
		s.log.Error("authorized apps", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	out := make([]gin.H, 0, len(apps))
	for _, a := range apps {
		out = append(out, gin.H{
			"client_id":   a.ClientID,
			"name":        a.Name,
			"description": a.Description,
			"logo_url":    a.LogoURL,
		})
	}
	c.JSON(http.StatusOK, gin.H{"apps": out})
}

// finishLoginFromForm resumes a pending authorization carried in the form's
// next field, or lands on the home page.
func (s *Server) finishLoginFromForm(c *gin.Context) {
	req, _, err := s.sessions.ParseContinuation(c.PostForm("next"))
	if err != nil {
		req = nil
	}
	s.finishLogin(c, req)
}

func (s *Server) finishLogin(c *gin.Context, req *model.AuthRequest) {
	if req == nil {
		c.Redirect(http.StatusFound, "/")
		return
	}
	q := url.Values{
		"client_id":     {req.ClientID},
		"redirect_uri":  {req.RedirectURI},
		"response_type": {"code"},
	}
	if req.Scope != "" {
		q.Set("scope", req.Scope)
	}
	if req.State != "" {
		q.Set("state", req.State)
	}
	c.Redirect(http.StatusFound, "/oauth/authorize?"+q.Encode())
}

func (s *Server) callbackURL(provider string) string {
	return s.baseURL + "/oauth/login/callback/" + provider
}
