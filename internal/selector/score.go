package selector

import (
	"time"

	"github.com/router-for-me/AIGateway/internal/models"
)

const (
	factorWeight      = 0.25
	recencyCooldown   = 5 * time.Minute
	scarcityThreshold = 0.1
)

// CalculateAvailabilityScore combines health, quota, confidence and recency
// into a value in [0,1]. Each factor is capped independently.
//
// A quota fraction below 10% scales the whole score down (x0.5 when empty),
// so an almost exhausted instance ranks below a healthy one with headroom.
func CalculateAvailabilityScore(inst *models.ModelInstance, now time.Time) float64 {
	if inst == nil {
		return 0
	}
	quota := quotaFactor(inst)
	score := factorWeight * (healthFactor(inst) + quota + clamp01(inst.ConfidenceScore) + recencyFactor(inst, now))
	if quota < scarcityThreshold {
		score *= 0.5 + 0.5*quota/scarcityThreshold
	}
	return clamp01(score)
}

func healthFactor(inst *models.ModelInstance) float64 {
	return clamp01(float64(inst.HealthScore) / float64(models.MaxHealthScore))
}

// quotaFactor is the scarcer of the daily and per-minute remaining fractions.
func quotaFactor(inst *models.ModelInstance) float64 {
	return min(fraction(inst.RemainingDaily, inst.DailyQuota), fraction(inst.RemainingMinute, inst.MinuteQuota))
}

// recencyFactor is 1 when the last failure is outside the cooldown window,
// otherwise the elapsed share of the window divided by the failure streak.
func recencyFactor(inst *models.ModelInstance, now time.Time) float64 {
	if inst.LastFailureAt == nil {
		return 1
	}
	elapsed := now.Sub(*inst.LastFailureAt)
	if elapsed >= recencyCooldown {
		return 1
	}
	if elapsed <= 0 {
		return 0
	}
	streak := max(inst.ConsecutiveFailures, 1)
	return clamp01(elapsed.Seconds() / recencyCooldown.Seconds() / float64(streak))
}

func fraction(remaining, quota int) float64 {
	if quota <= 0 {
		return 0
	}
	return clamp01(float64(remaining) / float64(quota))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
