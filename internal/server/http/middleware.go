package httpserver

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gofrs/uuid/v5"
)

// Logging emits one structured line per request. Metadata only, never
// payloads or token values.
func Logging(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", c.ClientIP()),
		)
	}
}

// Recovery converts panics into a bare 500.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			}
		}()
		c.Next()
	}
}

// sessionUser returns the signed-in user id from the session cookie, or
// uuid.Nil when there is no valid session.
func (s *Server) sessionUser(c *gin.Context) uuid.UUID {
	cookie, err := c.Cookie(sessionCookie)
	if err != nil {
		return uuid.Nil
	}
	id, err := s.sessions.ParseSession(cookie)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// setSession issues the session cookie after a successful sign-in.
func (s *Server) setSession(c *gin.Context, userID uuid.UUID) error {
	cookie, err := s.sessions.NewSession(userID)
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, cookie, int((14 * 24 * time.Hour).Seconds()), "/", "", s.secureCookies, true)
	return nil
}
