package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ralendar/oauth-server/internal/errs"
)

// assertionHeader carries the partner application's signed user assertion.
const assertionHeader = "X-Partner-Assertion"

// handleMe identifies the caller for the partner application. Mapped users
// come back with their local account; unmapped partner users get a foreign
// placeholder so the caller knows only read access applies.
func (s *Server) handleMe(c *gin.Context) {
	assertion := c.GetHeader(assertionHeader)
	if assertion == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_assertion"})
		return
	}
	p, err := s.gate.Authenticate(c.Request.Context(), assertion)
	if err != nil {
		if errors.Is(err, errs.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_assertion"})
			return
		}
		s.log.Error("gate authenticate", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	if p.Foreign {
		c.JSON(http.StatusOK, gin.H{
			"foreign":    true,
			"foreign_id": p.ForeignID,
			"username":   p.Username,
			"read_only":  true,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"foreign":    false,
		"user_id":    p.UserID.String(),
		"username":   p.Username,
		"foreign_id": p.ForeignID,
	})
}
