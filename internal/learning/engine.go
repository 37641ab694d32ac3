package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/AIGateway/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	successHealthStep       = 5
	confidenceGain          = 0.1
	confidenceDecay         = 0.9
	latencySmoothing        = 0.2
	rateLimitBlock          = 60 * time.Second
	circuitBreakerThreshold = 3
	circuitBreakerCooldown  = 5 * time.Minute
	maxErrorMessageLength   = 2000
)

// Engine applies outcome-driven policy to model instances and their credentials.
// It is the only writer of instance and credential live state.
type Engine struct {
	db  *gorm.DB
	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for outcome timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine constructs an Engine backed by GORM.
func NewEngine(db *gorm.DB, opts ...Option) *Engine {
	e := &Engine{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// instanceRef holds the columns needed to route an outcome.
type instanceRef struct {
	ID           uint64
	CredentialID uint64
}

func loadInstanceRef(ctx context.Context, tx *gorm.DB, instanceID uint64) (instanceRef, error) {
	var ref instanceRef
	errTake := tx.WithContext(ctx).
		Model(&models.ModelInstance{}).
		Select("id", "credential_id").
		Where("id = ?", instanceID).
		Take(&ref).Error
	if errors.Is(errTake, gorm.ErrRecordNotFound) {
		return instanceRef{}, fmt.Errorf("%w: id=%d", ErrInstanceNotFound, instanceID)
	}
	if errTake != nil {
		return instanceRef{}, fmt.Errorf("learning: load instance %d: %w", instanceID, errTake)
	}
	return ref, nil
}

// RecordSuccess consumes one request of quota and reinforces health and confidence.
//
// Counters are decremented by a single UPDATE whose CASE expressions floor at
// zero, so concurrent writers can never drive remaining_* negative.
func (e *Engine) RecordSuccess(ctx context.Context, instanceID uint64, latencyMs int64, tokensUsed int64) error {
	if e == nil || e.db == nil {
		return errors.New("learning: engine not initialized")
	}
	if tokensUsed < 0 {
		tokensUsed = 0
	}
	now := e.now()

	updates := map[string]any{
		"remaining_daily":  gorm.Expr("CASE WHEN remaining_daily > 0 THEN remaining_daily - 1 ELSE 0 END"),
		"remaining_minute": gorm.Expr("CASE WHEN remaining_minute > 0 THEN remaining_minute - 1 ELSE 0 END"),
		"remaining_tokens_minute": gorm.Expr(
			"CASE WHEN tokens_per_minute <= 0 THEN remaining_tokens_minute WHEN remaining_tokens_minute > ? THEN remaining_tokens_minute - ? ELSE 0 END",
			tokensUsed, tokensUsed,
		),
		"total_requests":       gorm.Expr("total_requests + 1"),
		"total_successes":      gorm.Expr("total_successes + 1"),
		"consecutive_failures": 0,
		"last_success_at":      now,
		"health_score":         gorm.Expr(fmt.Sprintf("CASE WHEN health_score + %d > %d THEN %d ELSE health_score + %d END", successHealthStep, models.MaxHealthScore, models.MaxHealthScore, successHealthStep)),
		"confidence_score":     gorm.Expr(fmt.Sprintf("CASE WHEN confidence_score >= %g THEN %g ELSE confidence_score + (%g - confidence_score) * %g END", models.MaxConfidenceScore, models.MaxConfidenceScore, models.MaxConfidenceScore, confidenceGain)),
	}
	if latencyMs > 0 {
		updates["avg_latency_ms"] = gorm.Expr(
			fmt.Sprintf("CASE WHEN avg_latency_ms <= 0 THEN ? ELSE avg_latency_ms * %g + ? END", 1-latencySmoothing),
			float64(latencyMs), float64(latencyMs)*latencySmoothing,
		)
	}

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ref, errRef := loadInstanceRef(ctx, tx, instanceID)
		if errRef != nil {
			return errRef
		}

		if errUpdate := tx.Model(&models.ModelInstance{}).
			Where("id = ?", ref.ID).
			Updates(updates).Error; errUpdate != nil {
			return fmt.Errorf("learning: record success: %w", errUpdate)
		}

		if errUsage := tx.Model(&models.ProviderCredential{}).
			Where("id = ?", ref.CredentialID).
			Updates(map[string]any{
				"requests_today":      gorm.Expr("requests_today + 1"),
				"requests_this_month": gorm.Expr("requests_this_month + 1"),
				"tokens_used_today":   gorm.Expr("tokens_used_today + ?", tokensUsed),
				"tokens_used_month":   gorm.Expr("tokens_used_month + ?", tokensUsed),
				"last_used_at":        now,
			}).Error; errUsage != nil {
			return fmt.Errorf("learning: record credential usage: %w", errUsage)
		}

		log.WithFields(log.Fields{
			"instance_id":   ref.ID,
			"credential_id": ref.CredentialID,
			"latency_ms":    latencyMs,
			"tokens":        tokensUsed,
		}).Debug("request succeeded")
		return nil
	})
}

// RecordFailure logs the failure, penalizes the instance and applies the
// kind-specific blocking policy. Unknown kinds are treated as SERVER_ERROR.
func (e *Engine) RecordFailure(ctx context.Context, instanceID uint64, kind ErrorKind, message string, detail map[string]any) error {
	if e == nil || e.db == nil {
		return errors.New("learning: engine not initialized")
	}
	kind = ParseErrorKind(string(kind))
	now := e.now()

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ref, errRef := loadInstanceRef(ctx, tx, instanceID)
		if errRef != nil {
			return errRef
		}

		entry := models.FailureLog{
			ModelInstanceID: ref.ID,
			ErrorType:       string(kind),
			ErrorMessage:    truncateMessage(message),
			Detail:          encodeDetail(detail),
			Timestamp:       now,
		}
		if errCreate := tx.Create(&entry).Error; errCreate != nil {
			return fmt.Errorf("learning: append failure log: %w", errCreate)
		}

		penalty := kind.HealthPenalty()
		if errUpdate := tx.Model(&models.ModelInstance{}).
			Where("id = ?", ref.ID).
			Updates(map[string]any{
				"total_requests":       gorm.Expr("total_requests + 1"),
				"total_failures":       gorm.Expr("total_failures + 1"),
				"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
				"last_failure_at":      now,
				"health_score":         gorm.Expr(fmt.Sprintf("CASE WHEN health_score - %d < 0 THEN 0 ELSE health_score - %d END", penalty, penalty)),
				"confidence_score":     gorm.Expr(fmt.Sprintf("confidence_score * %g", confidenceDecay)),
			}).Error; errUpdate != nil {
			return fmt.Errorf("learning: record failure: %w", errUpdate)
		}

		if errPolicy := e.applyFailurePolicy(tx, ref, kind, now); errPolicy != nil {
			return errPolicy
		}

		entryLog := log.WithFields(log.Fields{
			"instance_id":   ref.ID,
			"credential_id": ref.CredentialID,
			"error_type":    kind,
		})
		switch kind {
		case ErrorInvalidKey:
			entryLog.Warn("invalid key: credential disabled")
		case ErrorQuotaExceeded:
			entryLog.Warn("quota exceeded: instance blocked until daily reset")
		case ErrorModelNotFound:
			entryLog.Warn("model not found: instance blocked")
		case ErrorRateLimited:
			entryLog.Info("rate limited: instance cooling down")
		default:
			entryLog.Infof("request failed: %s", truncateForLog(message))
		}
		return nil
	})
}

// RecordFailureMessage classifies a raw provider message and records the failure.
func (e *Engine) RecordFailureMessage(ctx context.Context, instanceID uint64, message, extra string) (ErrorKind, error) {
	kind := ClassifyError(message, extra)
	var detail map[string]any
	if strings.TrimSpace(extra) != "" {
		detail = map[string]any{"extra": extra}
	}
	return kind, e.RecordFailure(ctx, instanceID, kind, message, detail)
}

// applyFailurePolicy blocks the instance (and possibly disables its credential).
// Indefinite blocks are never shortened by a timed one.
func (e *Engine) applyFailurePolicy(tx *gorm.DB, ref instanceRef, kind ErrorKind, now time.Time) error {
	instances := func() *gorm.DB {
		return tx.Model(&models.ModelInstance{}).Where("id = ?", ref.ID)
	}
	timedBlock := func(q *gorm.DB, until time.Time, reason string) *gorm.DB {
		return q.
			Where("(is_blocked = ? OR (block_until IS NOT NULL AND block_until < ?))", false, until).
			Updates(map[string]any{
				"is_blocked":   true,
				"block_until":  until,
				"block_reason": reason,
			})
	}

	switch kind {
	case ErrorQuotaExceeded:
		if errUpdate := instances().
			Update("remaining_daily", 0).Error; errUpdate != nil {
			return fmt.Errorf("learning: exhaust daily quota: %w", errUpdate)
		}
		if errUpdate := instances().
			Where("NOT (is_blocked = ? AND block_until IS NULL AND block_reason IN ?)", true, []string{models.BlockReasonInvalidKey, models.BlockReasonModelNotFound}).
			Updates(map[string]any{
				"is_blocked":   true,
				"block_until":  nil,
				"block_reason": models.BlockReasonQuotaExceeded,
			}).Error; errUpdate != nil {
			return fmt.Errorf("learning: block quota exceeded: %w", errUpdate)
		}
	case ErrorRateLimited:
		if errUpdate := timedBlock(instances(), now.Add(rateLimitBlock), models.BlockReasonRateLimited).Error; errUpdate != nil {
			return fmt.Errorf("learning: block rate limited: %w", errUpdate)
		}
	case ErrorInvalidKey:
		if errUpdate := tx.Model(&models.ProviderCredential{}).
			Where("id = ?", ref.CredentialID).
			Updates(map[string]any{
				"is_active":  false,
				"is_blocked": true,
			}).Error; errUpdate != nil {
			return fmt.Errorf("learning: disable credential: %w", errUpdate)
		}
		if errUpdate := instances().
			Updates(map[string]any{
				"is_blocked":   true,
				"block_until":  nil,
				"block_reason": models.BlockReasonInvalidKey,
			}).Error; errUpdate != nil {
			return fmt.Errorf("learning: block invalid key: %w", errUpdate)
		}
	case ErrorModelNotFound:
		if errUpdate := instances().
			Where("NOT (is_blocked = ? AND block_reason = ?)", true, models.BlockReasonInvalidKey).
			Updates(map[string]any{
				"is_blocked":   true,
				"block_until":  nil,
				"block_reason": models.BlockReasonModelNotFound,
			}).Error; errUpdate != nil {
			return fmt.Errorf("learning: block model not found: %w", errUpdate)
		}
	default:
		if !kind.Transient() {
			return nil
		}
		candidates := instances().Where("consecutive_failures >= ?", circuitBreakerThreshold)
		res := timedBlock(candidates, now.Add(circuitBreakerCooldown), models.BlockReasonCircuitOpen)
		if res.Error != nil {
			return fmt.Errorf("learning: open circuit: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			log.WithField("instance_id", ref.ID).Warnf("circuit open after %d consecutive failures", circuitBreakerThreshold)
		}
	}
	return nil
}

func encodeDetail(detail map[string]any) datatypes.JSON {
	if len(detail) == 0 {
		return nil
	}
	encoded, errMarshal := json.Marshal(detail)
	if errMarshal != nil {
		return nil
	}
	return datatypes.JSON(encoded)
}

func truncateMessage(message string) string {
	message = strings.TrimSpace(message)
	if len(message) <= maxErrorMessageLength {
		return message
	}
	return message[:maxErrorMessageLength]
}

func truncateForLog(message string) string {
	message = strings.TrimSpace(message)
	if len(message) > 200 {
		return message[:200] + "..."
	}
	return message
}
