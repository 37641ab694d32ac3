package learning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/router-for-me/AIGateway/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultFailureLogDeleteBatchSize = 5000
	maxFailureLogDeleteBatches       = 2000
)

// DailyResetStats summarizes one daily reset pass.
type DailyResetStats struct {
	Instances      int64 // Instances whose quotas were restored.
	Unblocked      int64 // Quota-exceeded instances released.
	Credentials    int64 // Credentials whose daily counters were cleared.
	MonthlyCleared bool  // Monthly counters were cleared too.
}

// RefreshBlockedInstances releases every timed block that has expired at now.
// Blocks without an expiry (awaiting the daily reset or permanent) are untouched.
func (e *Engine) RefreshBlockedInstances(ctx context.Context, now time.Time) (int64, error) {
	if e == nil || e.db == nil {
		return 0, errors.New("learning: engine not initialized")
	}
	res := e.db.WithContext(ctx).
		Model(&models.ModelInstance{}).
		Where("is_blocked = ? AND block_until IS NOT NULL AND block_until <= ?", true, now.UTC()).
		Updates(map[string]any{
			"is_blocked":           false,
			"block_until":          nil,
			"block_reason":         "",
			"consecutive_failures": 0,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("learning: refresh blocked instances: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.Infof("unblocked %d model instances", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

// ResetMinuteQuotas restores the per-minute request and token budgets.
func (e *Engine) ResetMinuteQuotas(ctx context.Context, now time.Time) (int64, error) {
	if e == nil || e.db == nil {
		return 0, errors.New("learning: engine not initialized")
	}
	res := e.db.WithContext(ctx).
		Model(&models.ModelInstance{}).
		Where("remaining_minute <> minute_quota OR remaining_tokens_minute <> tokens_per_minute").
		Updates(map[string]any{
			"remaining_minute":        gorm.Expr("minute_quota"),
			"remaining_tokens_minute": gorm.Expr("tokens_per_minute"),
			"updated_at":              now.UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("learning: reset minute quotas: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ResetDailyQuotas restores every quota window, releases quota-exceeded blocks
// and clears credential usage counters (monthly ones on the first UTC day).
func (e *Engine) ResetDailyQuotas(ctx context.Context, now time.Time) (DailyResetStats, error) {
	var stats DailyResetStats
	if e == nil || e.db == nil {
		return stats, errors.New("learning: engine not initialized")
	}
	now = now.UTC()

	errTx := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		restored := tx.Model(&models.ModelInstance{}).
			Where("remaining_daily <> daily_quota OR remaining_minute <> minute_quota OR remaining_tokens_minute <> tokens_per_minute").
			Updates(map[string]any{
				"remaining_daily":         gorm.Expr("daily_quota"),
				"remaining_minute":        gorm.Expr("minute_quota"),
				"remaining_tokens_minute": gorm.Expr("tokens_per_minute"),
				"updated_at":              now,
			})
		if restored.Error != nil {
			return fmt.Errorf("learning: restore daily quotas: %w", restored.Error)
		}
		stats.Instances = restored.RowsAffected

		unblocked := tx.Model(&models.ModelInstance{}).
			Where("is_blocked = ? AND block_until IS NULL AND block_reason = ?", true, models.BlockReasonQuotaExceeded).
			Updates(map[string]any{
				"is_blocked":           false,
				"block_reason":         "",
				"consecutive_failures": 0,
			})
		if unblocked.Error != nil {
			return fmt.Errorf("learning: release quota blocks: %w", unblocked.Error)
		}
		stats.Unblocked = unblocked.RowsAffected

		credentialUpdates := map[string]any{
			"requests_today":    0,
			"tokens_used_today": 0,
		}
		filter := "requests_today <> 0 OR tokens_used_today <> 0"
		if now.Day() == 1 {
			credentialUpdates["requests_this_month"] = 0
			credentialUpdates["tokens_used_month"] = 0
			filter += " OR requests_this_month <> 0 OR tokens_used_month <> 0"
			stats.MonthlyCleared = true
		}
		credentials := tx.Model(&models.ProviderCredential{}).
			Where(filter).
			Updates(credentialUpdates)
		if credentials.Error != nil {
			return fmt.Errorf("learning: reset credential counters: %w", credentials.Error)
		}
		stats.Credentials = credentials.RowsAffected
		return nil
	})
	if errTx != nil {
		return DailyResetStats{}, errTx
	}

	log.WithFields(log.Fields{
		"instances":       stats.Instances,
		"unblocked":       stats.Unblocked,
		"credentials":     stats.Credentials,
		"monthly_cleared": stats.MonthlyCleared,
	}).Info("daily quotas reset")
	return stats, nil
}

// PruneFailureLogs deletes failure logs older than now-retention in bounded batches.
// A non-positive retention disables pruning.
func (e *Engine) PruneFailureLogs(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	if e == nil || e.db == nil {
		return 0, errors.New("learning: engine not initialized")
	}
	if retention <= 0 {
		return 0, nil
	}
	cutoff := now.UTC().Add(-retention)

	deletedTotal := int64(0)
	for i := 0; i < maxFailureLogDeleteBatches; i++ {
		if ctx != nil && ctx.Err() != nil {
			return deletedTotal, ctx.Err()
		}
		// Bounded subquery keeps each transaction short under live traffic.
		res := e.db.WithContext(ctx).Exec(`
			DELETE FROM failure_logs
			WHERE id IN (
				SELECT id FROM failure_logs
				WHERE "timestamp" < ?
				ORDER BY "timestamp" ASC
				LIMIT ?
			)
		`, cutoff, defaultFailureLogDeleteBatchSize)
		if res.Error != nil {
			return deletedTotal, fmt.Errorf("learning: prune failure logs: %w", res.Error)
		}
		if res.RowsAffected <= 0 {
			break
		}
		deletedTotal += res.RowsAffected
	}

	if deletedTotal > 0 {
		log.Infof("failure log retention: deleted %d rows (cutoff=%s)", deletedTotal, cutoff.Format(time.RFC3339))
	}
	return deletedTotal, nil
}
