package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	featuredomain "github.com/smallbiznis/featuregate/internal/feature/domain"
	"github.com/smallbiznis/featuregate/internal/usercontext"
)

const (
	defaultUserHeader = "X-User-ID"
	contextUserIDKey  = "user_id"
)

// UserRequired reads the principal forwarded by the gateway and stores it in
// the request context.
func (s *Server) UserRequired() gin.HandlerFunc {
	header := strings.TrimSpace(s.cfg.AuthUserHeader)
	if header == "" {
		header = defaultUserHeader
	}

	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(header))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		userID, err := featuredomain.NormalizeUserID(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextUserIDKey, userID)
		c.Request = c.Request.WithContext(usercontext.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

func userIDFromContext(c *gin.Context) (string, bool) {
	if c == nil || c.Request == nil {
		return "", false
	}
	return usercontext.UserIDFromContext(c.Request.Context())
}
