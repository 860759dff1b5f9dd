// Package httpserver exposes the authorization server over HTTP.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ralendar/oauth-server/internal/service"
)

const sessionCookie = "ralendar_session"

// Server wires the application services into a gin router.
type Server struct {
	auth      service.AuthService
	authorize service.AuthorizeService
	clients   service.ClientService
	tokens    service.TokenService
	identity  service.IdentityService
	gate      service.Gate
	sessions  *service.Sessions

	baseURL       string
	secureCookies bool
	log           *zap.Logger

	httpSrv *http.Server
}

// Options carries the transport-level knobs.
type Options struct {
	Addr    string
	BaseURL string
}

func New(auth service.AuthService, authorize service.AuthorizeService, clients service.ClientService,
	tokens service.TokenService, identity service.IdentityService, gate service.Gate,
	sessions *service.Sessions, opts Options, log *zap.Logger) *Server {
	s := &Server{
		auth:      auth,
		authorize: authorize,
		clients:   clients,
		tokens:    tokens,
		identity:  identity,
		gate:      gate,
		sessions:  sessions,
		baseURL:   opts.BaseURL,
		// Secure cookies everywhere except local plain-http development.
		secureCookies: strings.HasPrefix(opts.BaseURL, "https://"),
		log:           log,
	}
	s.httpSrv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router builds the route table. Exposed separately so tests can drive the
// handlers without a listening socket.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(Logging(s.log), Recovery(s.log))

	r.GET("/healthz", s.handleHealthz)

	r.GET("/oauth/authorize", s.handleAuthorizeGet)
	r.POST("/oauth/authorize", s.handleAuthorizePost)
	r.POST("/oauth/token", s.handleToken)
	r.POST("/oauth/revoke", s.handleRevoke)
	r.GET("/oauth/userinfo", s.handleUserInfo)

	r.GET("/oauth/login", s.handleLoginPage)
	r.GET("/oauth/login/:provider", s.handleProviderRedirect)
	r.GET("/oauth/login/callback/:provider", s.handleProviderCallback)

	r.POST("/auth/register", s.handleRegister)
	r.POST("/auth/login", s.handlePasswordLogin)

	r.GET("/oauth/authorized-apps", s.handleAuthorizedApps)

	r.GET("/api/me", s.handleMe)

	return r
}

// ListenAndServe runs the server until the context is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
