package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AIGateway/internal/catalog"
	"github.com/router-for-me/AIGateway/internal/config"
	"github.com/router-for-me/AIGateway/internal/credential"
	"github.com/router-for-me/AIGateway/internal/http/api/admin"
	adminhandlers "github.com/router-for-me/AIGateway/internal/http/api/admin/handlers"
	"github.com/router-for-me/AIGateway/internal/http/api/front"
	"github.com/router-for-me/AIGateway/internal/learning"
	"github.com/router-for-me/AIGateway/internal/maintenance"
	"github.com/router-for-me/AIGateway/internal/selector"
	"gorm.io/gorm"
)

// Deps carries every component the router exposes.
type Deps struct {
	DB          *gorm.DB
	JWT         config.JWTConfig
	Catalog     *catalog.Store
	CatalogPath string
	Credentials *credential.Service
	Engine      *learning.Engine
	Selector    *selector.Selector
	Scheduler   *maintenance.Scheduler
}

// NewRouter builds the gin engine with health, user and admin routes.
func NewRouter(deps Deps) *gin.Engine {
	engine := gin.New()
	engine.Use(RecoveryMiddleware(), AccessLogMiddleware())

	healthHandler := adminhandlers.NewHealthHandler(deps.DB)
	engine.GET("/healthz", healthHandler.Healthz)

	front.RegisterFrontRoutes(engine, front.Deps{
		DB:          deps.DB,
		JWT:         deps.JWT,
		Selector:    deps.Selector,
		Engine:      deps.Engine,
		Credentials: deps.Credentials,
	})
	admin.RegisterAdminRoutes(engine, admin.Deps{
		DB:          deps.DB,
		JWT:         deps.JWT,
		Catalog:     deps.Catalog,
		CatalogPath: deps.CatalogPath,
		Credentials: deps.Credentials,
		Engine:      deps.Engine,
		Scheduler:   deps.Scheduler,
	})

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return engine
}
