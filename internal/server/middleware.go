package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obsmiddleware "github.com/smallbiznis/agrisubsidy/internal/observability/logger"
)

const contextActorIDKey = "actor_id"

// ActorRequired resolves the acting principal from the gateway header.
// Whether that principal may act is decided by the services.
func ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(obsmiddleware.ActorHeader))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		actorID, err := snowflake.ParseString(raw)
		if err != nil || actorID <= 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextActorIDKey, actorID)
		c.Next()
	}
}

func actorFrom(c *gin.Context) snowflake.ID {
	value, ok := c.Get(contextActorIDKey)
	if !ok {
		return 0
	}
	actorID, _ := value.(snowflake.ID)
	return actorID
}

// authorize guards the operations whose services take no actor.
func (s *Server) authorize(c *gin.Context, object, action string) bool {
	if err := s.authzSvc.Authorize(c.Request.Context(), actorFrom(c), object, action); err != nil {
		AbortWithError(c, err)
		return false
	}
	return true
}
