package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/carebridge-health/evv-engine/internal/middleware"
	"github.com/carebridge-health/evv-engine/internal/models"
	"github.com/carebridge-health/evv-engine/internal/service"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext builds the service-layer actor from the verified claims.
func actorFromContext(c *gin.Context) service.Actor {
	actor := service.Actor{
		IP:        c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
	}
	if claims := claimsFromContext(c); claims != nil {
		actor.UserID = claims.UserID
		actor.OrgID = claims.OrgID
		actor.Role = claims.Role
	}
	return actor
}
