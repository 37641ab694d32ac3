package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/router-for-me/AIGateway/internal/models"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// Store caches catalog definitions indexed by provider and model ID.
type Store struct {
	mu sync.RWMutex

	// provider -> lower(modelID) -> definition
	byProvider map[string]map[string]models.ModelDefinition
	byID       map[uint64]models.ModelDefinition
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		byProvider: make(map[string]map[string]models.ModelDefinition),
		byID:       make(map[uint64]models.ModelDefinition),
	}
}

// Refresh reloads every definition from the database.
func (s *Store) Refresh(ctx context.Context, db *gorm.DB) error {
	if s == nil {
		return errors.New("catalog: nil store")
	}
	if db == nil {
		return errors.New("catalog: nil db")
	}
	var rows []models.ModelDefinition
	if errFind := db.WithContext(ctx).Order("provider ASC, model_id ASC").Find(&rows).Error; errFind != nil {
		return fmt.Errorf("catalog: load definitions: %w", errFind)
	}
	s.Replace(rows)
	return nil
}

// Replace swaps the cached definitions.
func (s *Store) Replace(defs []models.ModelDefinition) {
	if s == nil {
		return
	}
	byProvider := make(map[string]map[string]models.ModelDefinition)
	byID := make(map[uint64]models.ModelDefinition, len(defs))
	for _, def := range defs {
		provider := strings.ToLower(strings.TrimSpace(def.Provider))
		modelID := strings.ToLower(strings.TrimSpace(def.ModelID))
		if provider == "" || modelID == "" {
			continue
		}
		if byProvider[provider] == nil {
			byProvider[provider] = make(map[string]models.ModelDefinition)
		}
		byProvider[provider][modelID] = def
		if def.ID != 0 {
			byID[def.ID] = def
		}
	}

	s.mu.Lock()
	s.byProvider = byProvider
	s.byID = byID
	s.mu.Unlock()
}

// ByProvider returns the provider's definitions ordered by model ID.
// With activeOnly set, inactive definitions are skipped.
func (s *Store) ByProvider(provider string, activeOnly bool) []models.ModelDefinition {
	if s == nil {
		return nil
	}
	provider = strings.ToLower(strings.TrimSpace(provider))

	s.mu.RLock()
	list := lo.Values(s.byProvider[provider])
	s.mu.RUnlock()

	if activeOnly {
		list = lo.Filter(list, func(def models.ModelDefinition, _ int) bool { return def.IsActive })
	}
	sortDefinitions(list)
	return list
}

// Get returns the definition for a provider and model ID.
func (s *Store) Get(provider, modelID string) (models.ModelDefinition, bool) {
	if s == nil {
		return models.ModelDefinition{}, false
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	modelID = strings.ToLower(strings.TrimSpace(modelID))

	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.byProvider[provider][modelID]
	return def, ok
}

// GetByID returns the definition with the given primary key.
func (s *Store) GetByID(id uint64) (models.ModelDefinition, bool) {
	if s == nil {
		return models.ModelDefinition{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.byID[id]
	return def, ok
}

// Providers lists every provider with at least one definition.
func (s *Store) Providers() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	providers := lo.Keys(s.byProvider)
	s.mu.RUnlock()
	sort.Strings(providers)
	return providers
}

// Snapshot returns every cached definition ordered by provider and model ID.
func (s *Store) Snapshot() []models.ModelDefinition {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	out := make([]models.ModelDefinition, 0, len(s.byID))
	for _, byModel := range s.byProvider {
		out = append(out, lo.Values(byModel)...)
	}
	s.mu.RUnlock()
	sortDefinitions(out)
	return out
}

func sortDefinitions(defs []models.ModelDefinition) {
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Provider != defs[j].Provider {
			return defs[i].Provider < defs[j].Provider
		}
		return strings.ToLower(defs[i].ModelID) < strings.ToLower(defs[j].ModelID)
	})
}
