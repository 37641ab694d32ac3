package learning

import (
	"context"
	"errors"
	"fmt"

	"github.com/router-for-me/AIGateway/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	healthCheckSuccessStep    = 10
	healthCheckFailurePenalty = 20
	healthCheckFailureLimit   = 3
)

// RecordHealthCheck applies the result of an external credential health check.
// A nil checkErr counts as success. Three consecutive failures disable the credential.
func (e *Engine) RecordHealthCheck(ctx context.Context, credentialID uint64, checkErr error) error {
	if e == nil || e.db == nil {
		return errors.New("learning: engine not initialized")
	}
	now := e.now()

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		credentials := func() *gorm.DB {
			return tx.Model(&models.ProviderCredential{}).Where("id = ?", credentialID)
		}

		if checkErr == nil {
			res := credentials().Updates(map[string]any{
				"consecutive_failures": 0,
				"health_score":         gorm.Expr(fmt.Sprintf("CASE WHEN health_score + %d > %d THEN %d ELSE health_score + %d END", healthCheckSuccessStep, models.MaxHealthScore, models.MaxHealthScore, healthCheckSuccessStep)),
				"last_health_check_at": now,
				"last_health_error":    "",
			})
			if res.Error != nil {
				return fmt.Errorf("learning: record health check: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: id=%d", ErrCredentialNotFound, credentialID)
			}
			return nil
		}

		res := credentials().Updates(map[string]any{
			"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
			"health_score":         gorm.Expr(fmt.Sprintf("CASE WHEN health_score - %d < 0 THEN 0 ELSE health_score - %d END", healthCheckFailurePenalty, healthCheckFailurePenalty)),
			"last_health_check_at": now,
			"last_health_error":    truncateMessage(checkErr.Error()),
		})
		if res.Error != nil {
			return fmt.Errorf("learning: record health check: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: id=%d", ErrCredentialNotFound, credentialID)
		}

		disabled := credentials().
			Where("is_active = ? AND consecutive_failures >= ?", true, healthCheckFailureLimit).
			Updates(map[string]any{
				"is_active":  false,
				"is_blocked": true,
			})
		if disabled.Error != nil {
			return fmt.Errorf("learning: disable credential: %w", disabled.Error)
		}
		if disabled.RowsAffected > 0 {
			log.WithFields(log.Fields{
				"credential_id": credentialID,
				"failures":      healthCheckFailureLimit,
			}).WithError(checkErr).Warn("health check: credential disabled")
		}
		return nil
	})
}
