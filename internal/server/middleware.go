package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

const ctxUserIDKey = "user_id"

// UserRequired resolves the caller identity set by the upstream auth
// layer. Authentication itself lives outside this service; requests
// arrive with X-User-Id already validated.
func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("X-User-Id"))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		userID, err := snowflake.ParseString(raw)
		if err != nil || userID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Set(ctxUserIDKey, userID)
		c.Next()
	}
}

func currentUserID(c *gin.Context) snowflake.ID {
	value, ok := c.Get(ctxUserIDKey)
	if !ok {
		return 0
	}
	userID, ok := value.(snowflake.ID)
	if !ok {
		return 0
	}
	return userID
}

func parseIDParam(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || id == 0 {
		AbortWithError(c, newValidationError(name, "invalid_"+name, "invalid identifier"))
		return 0, false
	}
	return id, true
}
