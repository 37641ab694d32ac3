// Package catalog loads, persists and caches the model catalog.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/router-for-me/AIGateway/internal/models"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
)

// File is the YAML layout of a catalog seed file.
type File struct {
	Models []Entry `yaml:"models"`
}

// Entry describes one catalog model in a seed file.
type Entry struct {
	Provider        string   `yaml:"provider"`
	ModelID         string   `yaml:"model-id"`
	DisplayName     string   `yaml:"display-name"`
	Text            bool     `yaml:"text"`
	Image           bool     `yaml:"image"`
	Vision          bool     `yaml:"vision"`
	JSONMode        bool     `yaml:"json-mode"`
	Capabilities    []string `yaml:"capabilities"`
	ContextWindow   int      `yaml:"context-window"`
	QualityTier     string   `yaml:"quality-tier"`
	Free            bool     `yaml:"free"`
	Disabled        bool     `yaml:"disabled"`
	DailyQuota      int      `yaml:"daily-quota"`
	MinuteQuota     int      `yaml:"minute-quota"`
	TokensPerMinute int      `yaml:"tokens-per-minute"`
}

// LoadFile reads a YAML seed file into catalog definitions.
func LoadFile(path string) ([]models.ModelDefinition, error) {
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, errRead)
	}
	return Parse(data)
}

// Parse decodes YAML catalog data and validates every entry.
func Parse(data []byte) ([]models.ModelDefinition, error) {
	var file File
	if errUnmarshal := yaml.Unmarshal(data, &file); errUnmarshal != nil {
		return nil, fmt.Errorf("catalog: parse: %w", errUnmarshal)
	}

	seen := make(map[string]struct{}, len(file.Models))
	defs := make([]models.ModelDefinition, 0, len(file.Models))
	for i, entry := range file.Models {
		def, errEntry := entry.definition()
		if errEntry != nil {
			return nil, fmt.Errorf("catalog: entry %d: %w", i, errEntry)
		}
		key := def.Provider + "/" + strings.ToLower(def.ModelID)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("catalog: entry %d: duplicate model %s", i, key)
		}
		seen[key] = struct{}{}
		defs = append(defs, def)
	}
	return defs, nil
}

func (e Entry) definition() (models.ModelDefinition, error) {
	provider := strings.ToLower(strings.TrimSpace(e.Provider))
	modelID := strings.TrimSpace(e.ModelID)
	if provider == "" || modelID == "" {
		return models.ModelDefinition{}, fmt.Errorf("provider and model-id are required")
	}
	tier := strings.ToLower(strings.TrimSpace(e.QualityTier))
	if tier == "" {
		tier = models.QualityTierMedium
	}
	if models.QualityRank(tier) == 0 {
		return models.ModelDefinition{}, fmt.Errorf("%s/%s: unknown quality tier %q", provider, modelID, e.QualityTier)
	}
	if !e.Text && !e.Image {
		return models.ModelDefinition{}, fmt.Errorf("%s/%s: model serves neither text nor image", provider, modelID)
	}
	if e.DailyQuota < 0 || e.MinuteQuota < 0 || e.TokensPerMinute < 0 || e.ContextWindow < 0 {
		return models.ModelDefinition{}, fmt.Errorf("%s/%s: negative limits", provider, modelID)
	}

	def := models.ModelDefinition{
		Provider:               provider,
		ModelID:                modelID,
		DisplayName:            strings.TrimSpace(e.DisplayName),
		IsText:                 e.Text,
		IsImage:                e.Image,
		SupportsVision:         e.Vision,
		SupportsJSONMode:       e.JSONMode,
		ContextWindow:          e.ContextWindow,
		QualityTier:            tier,
		IsFree:                 e.Free,
		IsActive:               !e.Disabled,
		DefaultDailyQuota:      e.DailyQuota,
		DefaultMinuteQuota:     e.MinuteQuota,
		DefaultTokensPerMinute: e.TokensPerMinute,
	}
	if def.DisplayName == "" {
		def.DisplayName = modelID
	}
	if len(e.Capabilities) > 0 {
		encoded, errMarshal := json.Marshal(e.Capabilities)
		if errMarshal != nil {
			return models.ModelDefinition{}, errMarshal
		}
		def.Capabilities = datatypes.JSON(encoded)
	}
	return def, nil
}
