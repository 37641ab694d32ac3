package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/router-for-me/AIGateway/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sync upserts definitions on (provider, model_id). Existing rows keep their IDs
// so instances stay attached; rows absent from defs are left untouched.
func Sync(ctx context.Context, db *gorm.DB, defs []models.ModelDefinition) (int, error) {
	if db == nil {
		return 0, errors.New("catalog: nil db")
	}
	if len(defs) == 0 {
		return 0, nil
	}
	rows := make([]models.ModelDefinition, len(defs))
	copy(rows, defs)
	for i := range rows {
		rows[i].ID = 0
	}

	errUpsert := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider"}, {Name: "model_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name",
			"is_text",
			"is_image",
			"supports_vision",
			"supports_json_mode",
			"capabilities",
			"context_window",
			"quality_tier",
			"is_free",
			"is_active",
			"default_daily_quota",
			"default_minute_quota",
			"default_tokens_per_minute",
			"updated_at",
		}),
	}).CreateInBatches(&rows, 100).Error
	if errUpsert != nil {
		return 0, fmt.Errorf("catalog: sync: %w", errUpsert)
	}
	log.WithField("models", len(rows)).Info("catalog synced")
	return len(rows), nil
}
