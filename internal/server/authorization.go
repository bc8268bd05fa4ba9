package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/featuregate/internal/usercontext"
)

type Actor struct {
	ID string
}

func (s *Server) authorizeAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeActionWithContext(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Request = c.Request.WithContext(usercontext.WithAdmin(c.Request.Context(), true))
		c.Next()
	}
}

func (s *Server) authorizeActionWithContext(c *gin.Context, object string, action string) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return ErrUnauthorized
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(c.Request.Context(), actor.ID, strings.TrimSpace(object), strings.TrimSpace(action))
}

func actorFromContext(c *gin.Context) (Actor, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		return Actor{}, false
	}
	return Actor{ID: userID}, true
}
