// Package front registers the per-user gateway API.
package front

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AIGateway/internal/config"
	"github.com/router-for-me/AIGateway/internal/credential"
	"github.com/router-for-me/AIGateway/internal/http/api/front/handlers"
	"github.com/router-for-me/AIGateway/internal/learning"
	"github.com/router-for-me/AIGateway/internal/security"
	"github.com/router-for-me/AIGateway/internal/selector"
	"gorm.io/gorm"
)

// Deps carries the components behind the user routes.
type Deps struct {
	DB          *gorm.DB
	JWT         config.JWTConfig
	Selector    *selector.Selector
	Engine      *learning.Engine
	Credentials *credential.Service
}

// RegisterFrontRoutes registers the authenticated user routes under /v1.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	authed := r.Group("/v1")
	authed.Use(userAuthMiddleware(deps.JWT))

	selectionHandler := handlers.NewSelectionHandler(deps.Selector)
	authed.POST("/selection", selectionHandler.Select)

	instanceHandler := handlers.NewInstanceHandler(deps.DB, deps.Engine, deps.Selector)
	authed.GET("/instances", instanceHandler.List)
	authed.POST("/instances/:id/success", instanceHandler.Success)
	authed.POST("/instances/:id/failure", instanceHandler.Failure)

	credentialHandler := handlers.NewCredentialHandler(deps.Credentials)
	authed.GET("/credentials", credentialHandler.List)
	authed.POST("/credentials", credentialHandler.Create)
	authed.DELETE("/credentials/:id", credentialHandler.Delete)
}

// userAuthMiddleware validates user JWTs and stores the user id in context.
// Users are owned by an upstream identity system, so the claims are trusted as-is.
func userAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, errBearer := security.BearerToken(c.GetHeader("Authorization"))
		if errBearer != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errBearer.Error()})
			return
		}
		claims, errJWT := security.ParseToken(jwtCfg.Secret, token)
		if errJWT != nil || claims.UserID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("userID", claims.UserID)
		c.Next()
	}
}
