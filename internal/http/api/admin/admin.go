// Package admin registers the operator API.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AIGateway/internal/catalog"
	"github.com/router-for-me/AIGateway/internal/config"
	"github.com/router-for-me/AIGateway/internal/credential"
	"github.com/router-for-me/AIGateway/internal/http/api/admin/handlers"
	"github.com/router-for-me/AIGateway/internal/learning"
	"github.com/router-for-me/AIGateway/internal/maintenance"
	"github.com/router-for-me/AIGateway/internal/security"
	"gorm.io/gorm"
)

// Deps carries the components behind the admin routes.
type Deps struct {
	DB          *gorm.DB
	JWT         config.JWTConfig
	Catalog     *catalog.Store
	CatalogPath string
	Credentials *credential.Service
	Engine      *learning.Engine
	Scheduler   *maintenance.Scheduler
}

// RegisterAdminRoutes registers the authenticated operator routes under /v0/admin.
func RegisterAdminRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	admin := r.Group("/v0/admin")
	admin.Use(adminAuthMiddleware(deps.JWT))

	catalogHandler := handlers.NewCatalogHandler(deps.DB, deps.Catalog, deps.CatalogPath, nil)
	if deps.Credentials != nil {
		catalogHandler = handlers.NewCatalogHandler(deps.DB, deps.Catalog, deps.CatalogPath, deps.Credentials)
	}
	admin.GET("/models", catalogHandler.List)
	admin.POST("/models/reload", catalogHandler.Reload)

	maintenanceHandler := handlers.NewMaintenanceHandler(nil)
	if deps.Scheduler != nil {
		maintenanceHandler = handlers.NewMaintenanceHandler(deps.Scheduler)
	}
	admin.GET("/maintenance", maintenanceHandler.Jobs)
	admin.POST("/maintenance/:job", maintenanceHandler.Run)

	healthHandler := handlers.NewCredentialHealthHandler(deps.Engine)
	admin.POST("/credentials/:id/health-check", healthHandler.HealthCheck)

	settingsHandler := handlers.NewSettingsHandler(deps.DB)
	admin.GET("/settings", settingsHandler.List)
	admin.PUT("/settings/:key", settingsHandler.Put)
}

// adminAuthMiddleware validates admin JWTs and stores the admin id in context.
func adminAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, errBearer := security.BearerToken(c.GetHeader("Authorization"))
		if errBearer != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errBearer.Error()})
			return
		}
		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("adminID", claims.AdminID)
		c.Set("adminUsername", claims.Username)
		c.Next()
	}
}
