package models

import "time"

// Block reasons recorded on blocked instances.
const (
	BlockReasonQuotaExceeded = "quota_exceeded"
	BlockReasonRateLimited   = "rate_limited"
	BlockReasonInvalidKey    = "invalid_key"
	BlockReasonModelNotFound = "model_not_found"
	BlockReasonCircuitOpen   = "circuit_open"
)

// Health and confidence bounds.
const (
	MaxHealthScore     = 100
	MaxConfidenceScore = 1.0
)

// ModelInstance binds one credential to one catalog model and carries its live state.
type ModelInstance struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	CredentialID uint64              `gorm:"not null;uniqueIndex:idx_model_instances_credential_model,priority:1"`                       // Parent credential ID.
	Credential   *ProviderCredential `gorm:"foreignKey:CredentialID"`                                                                    // Parent credential.
	DefinitionID uint64              `gorm:"column:model_id;not null;index;uniqueIndex:idx_model_instances_credential_model,priority:2"` // Catalog entry ID.
	Model        *ModelDefinition    `gorm:"foreignKey:DefinitionID"`                                                                    // Catalog entry.

	DailyQuota            int `gorm:"not null;default:0"` // Requests per day.
	RemainingDaily        int `gorm:"not null;default:0"` // Requests left today.
	MinuteQuota           int `gorm:"not null;default:0"` // Requests per minute.
	RemainingMinute       int `gorm:"not null;default:0"` // Requests left this minute.
	TokensPerMinute       int `gorm:"not null;default:0"` // Tokens per minute, 0 when untracked.
	RemainingTokensMinute int `gorm:"not null;default:0"` // Tokens left this minute.

	HealthScore     int     `gorm:"not null"` // Short-term reliability in [0,100].
	ConfidenceScore float64 `gorm:"not null"` // Long-horizon trust in [0,1].

	IsBlocked   bool       `gorm:"not null;index"` // Eligibility suspended.
	BlockUntil  *time.Time `gorm:"index"`          // Nil while awaiting a reset.
	BlockReason string     `gorm:"type:varchar(32)"`

	ConsecutiveFailures int   `gorm:"not null;default:0"`
	TotalRequests       int64 `gorm:"not null;default:0"`
	TotalSuccesses      int64 `gorm:"not null;default:0"`
	TotalFailures       int64 `gorm:"not null;default:0"`

	AvgLatencyMs float64 `gorm:"not null;default:0"` // Rolling latency average.

	LastSuccessAt *time.Time
	LastFailureAt *time.Time

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Blocked reports whether a block is in force at now.
func (m *ModelInstance) Blocked(now time.Time) bool {
	if m == nil || !m.IsBlocked {
		return false
	}
	return m.BlockUntil == nil || m.BlockUntil.After(now)
}
