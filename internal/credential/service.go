// Package credential registers provider credentials and provisions their model instances.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/AIGateway/internal/catalog"
	"github.com/router-for-me/AIGateway/internal/models"
	"github.com/router-for-me/AIGateway/internal/util"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const initialConfidence = 0.5

var (
	// ErrUnknownProvider indicates the catalog has no active model for the provider.
	ErrUnknownProvider = errors.New("credential: unknown provider")
	// ErrCredentialNotFound indicates the credential does not exist or belongs to another user.
	ErrCredentialNotFound = errors.New("credential: not found")
	// ErrInvalidRegistration indicates missing required registration fields.
	ErrInvalidRegistration = errors.New("credential: invalid registration")
)

// Registration is a user's request to add access to a provider.
type Registration struct {
	UserID    uint64
	Provider  string
	SecretRef string
	Nickname  string
}

// Service manages credentials and their instances.
type Service struct {
	db      *gorm.DB
	catalog *catalog.Store
}

// NewService constructs a Service. The catalog store supplies provisioning targets.
func NewService(db *gorm.DB, store *catalog.Store) *Service {
	return &Service{db: db, catalog: store}
}

// Register stores the credential and creates one instance per active catalog
// model of its provider, starting with full quotas.
func (s *Service) Register(ctx context.Context, reg Registration) (*models.ProviderCredential, error) {
	if s == nil || s.db == nil || s.catalog == nil {
		return nil, errors.New("credential: service not initialized")
	}
	provider := strings.ToLower(strings.TrimSpace(reg.Provider))
	secretRef := strings.TrimSpace(reg.SecretRef)
	if reg.UserID == 0 || provider == "" || secretRef == "" {
		return nil, fmt.Errorf("%w: user, provider and secret_ref are required", ErrInvalidRegistration)
	}
	defs := s.catalog.ByProvider(provider, true)
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	cred := &models.ProviderCredential{
		UserID:      reg.UserID,
		Provider:    provider,
		SecretRef:   secretRef,
		Nickname:    strings.TrimSpace(reg.Nickname),
		IsActive:    true,
		HealthScore: models.MaxHealthScore,
	}
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(cred).Error; errCreate != nil {
			return fmt.Errorf("credential: create: %w", errCreate)
		}
		_, errProvision := provision(tx, cred.ID, defs)
		return errProvision
	})
	if errTx != nil {
		return nil, errTx
	}

	log.WithFields(log.Fields{
		"user_id":       cred.UserID,
		"credential_id": cred.ID,
		"provider":      provider,
		"secret_ref":    util.MaskSecret(secretRef),
		"instances":     len(defs),
	}).Info("credential registered")
	return cred, nil
}

// SyncInstances creates instances for active catalog models the credential
// does not cover yet. Existing instances are left untouched.
func (s *Service) SyncInstances(ctx context.Context, credentialID uint64) (int, error) {
	if s == nil || s.db == nil || s.catalog == nil {
		return 0, errors.New("credential: service not initialized")
	}
	var cred models.ProviderCredential
	errFind := s.db.WithContext(ctx).Select("id", "provider").Where("id = ?", credentialID).Take(&cred).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("%w: id=%d", ErrCredentialNotFound, credentialID)
	}
	if errFind != nil {
		return 0, fmt.Errorf("credential: load %d: %w", credentialID, errFind)
	}

	var created int
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, errProvision := provision(tx, cred.ID, s.catalog.ByProvider(cred.Provider, true))
		created = n
		return errProvision
	})
	if errTx != nil {
		return 0, errTx
	}
	if created > 0 {
		log.WithFields(log.Fields{"credential_id": cred.ID, "created": created}).Info("credential instances synced")
	}
	return created, nil
}

// SyncAll provisions missing instances for every active credential.
func (s *Service) SyncAll(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("credential: service not initialized")
	}
	var ids []uint64
	if errFind := s.db.WithContext(ctx).
		Model(&models.ProviderCredential{}).
		Where("is_active = ?", true).
		Order("id ASC").
		Pluck("id", &ids).Error; errFind != nil {
		return 0, fmt.Errorf("credential: list credentials: %w", errFind)
	}
	total := 0
	for _, id := range ids {
		n, errSync := s.SyncInstances(ctx, id)
		if errSync != nil {
			return total, errSync
		}
		total += n
	}
	return total, nil
}

// Remove deletes the user's credential together with its instances and their failure logs.
func (s *Service) Remove(ctx context.Context, userID, credentialID uint64) error {
	if s == nil || s.db == nil {
		return errors.New("credential: service not initialized")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cred models.ProviderCredential
		errFind := tx.Select("id").Where("id = ? AND user_id = ?", credentialID, userID).Take(&cred).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: id=%d", ErrCredentialNotFound, credentialID)
		}
		if errFind != nil {
			return fmt.Errorf("credential: load %d: %w", credentialID, errFind)
		}

		instanceIDs := tx.Model(&models.ModelInstance{}).Select("id").Where("credential_id = ?", cred.ID)
		logs := tx.Where("model_instance_id IN (?)", instanceIDs).Delete(&models.FailureLog{})
		if logs.Error != nil {
			return fmt.Errorf("credential: delete failure logs: %w", logs.Error)
		}
		instances := tx.Where("credential_id = ?", cred.ID).Delete(&models.ModelInstance{})
		if instances.Error != nil {
			return fmt.Errorf("credential: delete instances: %w", instances.Error)
		}
		if errDelete := tx.Delete(&models.ProviderCredential{}, cred.ID).Error; errDelete != nil {
			return fmt.Errorf("credential: delete: %w", errDelete)
		}

		log.WithFields(log.Fields{
			"user_id":       userID,
			"credential_id": cred.ID,
			"instances":     instances.RowsAffected,
			"failure_logs":  logs.RowsAffected,
		}).Info("credential removed")
		return nil
	})
}

// ListByUser returns the user's credentials ordered by id.
func (s *Service) ListByUser(ctx context.Context, userID uint64) ([]models.ProviderCredential, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("credential: service not initialized")
	}
	var rows []models.ProviderCredential
	if errFind := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("credential: list: %w", errFind)
	}
	return rows, nil
}

// provision inserts missing instances; the unique (credential_id, model_id)
// index makes repeated calls idempotent.
func provision(tx *gorm.DB, credentialID uint64, defs []models.ModelDefinition) (int, error) {
	defs = lo.Filter(defs, func(def models.ModelDefinition, _ int) bool { return def.ID != 0 })
	if len(defs) == 0 {
		return 0, nil
	}
	instances := lo.Map(defs, func(def models.ModelDefinition, _ int) models.ModelInstance {
		return newInstance(credentialID, def)
	})
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "credential_id"}, {Name: "model_id"}},
		DoNothing: true,
	}).Create(&instances)
	if res.Error != nil {
		return 0, fmt.Errorf("credential: provision instances: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func newInstance(credentialID uint64, def models.ModelDefinition) models.ModelInstance {
	return models.ModelInstance{
		CredentialID:          credentialID,
		DefinitionID:          def.ID,
		DailyQuota:            def.DefaultDailyQuota,
		RemainingDaily:        def.DefaultDailyQuota,
		MinuteQuota:           def.DefaultMinuteQuota,
		RemainingMinute:       def.DefaultMinuteQuota,
		TokensPerMinute:       def.DefaultTokensPerMinute,
		RemainingTokensMinute: def.DefaultTokensPerMinute,
		HealthScore:           models.MaxHealthScore,
		ConfidenceScore:       initialConfidence,
	}
}
