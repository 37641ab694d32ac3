package models

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Quality tiers supported by the catalog.
const (
	QualityTierLow    = "low"
	QualityTierMedium = "medium"
	QualityTierHigh   = "high"
)

// Request types matched against catalog capability flags.
const (
	RequestTypeText  = "text"
	RequestTypeImage = "image"
)

// Capability names mapped onto dedicated catalog columns.
const (
	CapabilityVision   = "vision"
	CapabilityJSONMode = "json_mode"
)

// ModelDefinition describes one provider model and its default quotas.
type ModelDefinition struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Provider    string `gorm:"type:varchar(64);not null;uniqueIndex:idx_model_definitions_provider_model,priority:1"`  // Provider id.
	ModelID     string `gorm:"type:varchar(255);not null;uniqueIndex:idx_model_definitions_provider_model,priority:2"` // Provider-side model id.
	DisplayName string `gorm:"type:text"`                                                                              // Display name.

	IsText           bool `gorm:"not null;default:false"`                           // Serves text requests.
	IsImage          bool `gorm:"not null;default:false"`                           // Serves image requests.
	SupportsVision   bool `gorm:"not null;default:false"`                           // Accepts image input.
	SupportsJSONMode bool `gorm:"column:supports_json_mode;not null;default:false"` // Structured JSON output.

	Capabilities datatypes.JSON `gorm:"type:jsonb"` // Extra capability tags.

	ContextWindow int    `gorm:"not null;default:0"`        // Max context tokens.
	QualityTier   string `gorm:"type:varchar(16);not null"` // low, medium or high.
	IsFree        bool   `gorm:"not null;default:false"`    // Free tier model.
	IsActive      bool   `gorm:"not null;index"`            // Catalog availability.

	DefaultDailyQuota      int `gorm:"not null;default:0"` // Requests per day.
	DefaultMinuteQuota     int `gorm:"not null;default:0"` // Requests per minute.
	DefaultTokensPerMinute int `gorm:"not null;default:0"` // Tokens per minute, 0 when untracked.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// CapabilityTags decodes the extra capability tags.
func (m *ModelDefinition) CapabilityTags() []string {
	if m == nil || len(m.Capabilities) == 0 {
		return nil
	}
	var tags []string
	if errUnmarshal := json.Unmarshal(m.Capabilities, &tags); errUnmarshal != nil {
		return nil
	}
	return tags
}

// HasCapability reports whether the model satisfies a capability name.
func (m *ModelDefinition) HasCapability(name string) bool {
	if m == nil {
		return false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return true
	case CapabilityVision:
		return m.SupportsVision
	case CapabilityJSONMode:
		return m.SupportsJSONMode
	case RequestTypeText:
		return m.IsText
	case RequestTypeImage:
		return m.IsImage
	}
	for _, tag := range m.CapabilityTags() {
		if strings.ToLower(strings.TrimSpace(tag)) == name {
			return true
		}
	}
	return false
}

// ServesRequestType reports whether the model handles the request type.
func (m *ModelDefinition) ServesRequestType(requestType string) bool {
	if m == nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(requestType)) {
	case RequestTypeText:
		return m.IsText
	case RequestTypeImage:
		return m.IsImage
	default:
		return false
	}
}

// QualityRank orders quality tiers; unknown tiers rank lowest.
func QualityRank(tier string) int {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case QualityTierHigh:
		return 3
	case QualityTierMedium:
		return 2
	case QualityTierLow:
		return 1
	default:
		return 0
	}
}
