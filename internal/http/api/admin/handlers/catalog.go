package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AIGateway/internal/catalog"
	"github.com/router-for-me/AIGateway/internal/models"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// instanceProvisioner is satisfied by *credential.Service.
type instanceProvisioner interface {
	SyncAll(ctx context.Context) (int, error)
}

// CatalogHandler serves the model catalog.
type CatalogHandler struct {
	db          *gorm.DB
	store       *catalog.Store
	path        string
	provisioner instanceProvisioner
}

// NewCatalogHandler constructs a CatalogHandler. path is the catalog file
// re-read on reload; an empty path disables reloading.
func NewCatalogHandler(db *gorm.DB, store *catalog.Store, path string, provisioner instanceProvisioner) *CatalogHandler {
	return &CatalogHandler{db: db, store: store, path: strings.TrimSpace(path), provisioner: provisioner}
}

type definitionView struct {
	ID                     uint64    `json:"id"`
	Provider               string    `json:"provider"`
	ModelID                string    `json:"model_id"`
	DisplayName            string    `json:"display_name,omitempty"`
	IsText                 bool      `json:"is_text"`
	IsImage                bool      `json:"is_image"`
	SupportsVision         bool      `json:"supports_vision"`
	SupportsJSONMode       bool      `json:"supports_json_mode"`
	Capabilities           []string  `json:"capabilities"`
	ContextWindow          int       `json:"context_window"`
	QualityTier            string    `json:"quality_tier"`
	IsFree                 bool      `json:"is_free"`
	IsActive               bool      `json:"is_active"`
	DefaultDailyQuota      int       `json:"default_daily_quota"`
	DefaultMinuteQuota     int       `json:"default_minute_quota"`
	DefaultTokensPerMinute int       `json:"default_tokens_per_minute"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func newDefinitionView(def models.ModelDefinition) definitionView {
	tags := def.CapabilityTags()
	if tags == nil {
		tags = []string{}
	}
	return definitionView{
		ID:                     def.ID,
		Provider:               def.Provider,
		ModelID:                def.ModelID,
		DisplayName:            def.DisplayName,
		IsText:                 def.IsText,
		IsImage:                def.IsImage,
		SupportsVision:         def.SupportsVision,
		SupportsJSONMode:       def.SupportsJSONMode,
		Capabilities:           tags,
		ContextWindow:          def.ContextWindow,
		QualityTier:            def.QualityTier,
		IsFree:                 def.IsFree,
		IsActive:               def.IsActive,
		DefaultDailyQuota:      def.DefaultDailyQuota,
		DefaultMinuteQuota:     def.DefaultMinuteQuota,
		DefaultTokensPerMinute: def.DefaultTokensPerMinute,
		UpdatedAt:              def.UpdatedAt,
	}
}

// List returns catalog definitions, optionally filtered by ?provider= and ?active=true.
func (h *CatalogHandler) List(c *gin.Context) {
	activeOnly := strings.EqualFold(strings.TrimSpace(c.Query("active")), "true")
	var defs []models.ModelDefinition
	if provider := strings.TrimSpace(c.Query("provider")); provider != "" {
		defs = h.store.ByProvider(provider, activeOnly)
	} else {
		defs = h.store.Snapshot()
		if activeOnly {
			defs = lo.Filter(defs, func(def models.ModelDefinition, _ int) bool { return def.IsActive })
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"providers": h.store.Providers(),
		"models":    lo.Map(defs, func(def models.ModelDefinition, _ int) definitionView { return newDefinitionView(def) }),
	})
}

// Reload re-reads the catalog file, upserts it, refreshes the in-memory
// store and provisions instances for new definitions.
func (h *CatalogHandler) Reload(c *gin.Context) {
	if h.path == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "catalog file not configured"})
		return
	}
	defs, errLoad := catalog.LoadFile(h.path)
	if errLoad != nil {
		log.WithError(errLoad).WithField("path", h.path).Warn("catalog reload rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": errLoad.Error()})
		return
	}
	ctx := c.Request.Context()
	synced, errSync := catalog.Sync(ctx, h.db, defs)
	if errSync != nil {
		log.WithError(errSync).Error("catalog sync failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "catalog sync failed"})
		return
	}
	if errRefresh := h.store.Refresh(ctx, h.db); errRefresh != nil {
		log.WithError(errRefresh).Error("catalog refresh failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "catalog refresh failed"})
		return
	}
	created := 0
	if h.provisioner != nil {
		var errProvision error
		created, errProvision = h.provisioner.SyncAll(ctx)
		if errProvision != nil {
			log.WithError(errProvision).Error("instance provisioning failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "instance provisioning failed"})
			return
		}
	}
	log.WithFields(log.Fields{"models": synced, "instances_created": created}).Info("catalog reloaded")
	c.JSON(http.StatusOK, gin.H{"models": synced, "instances_created": created})
}
