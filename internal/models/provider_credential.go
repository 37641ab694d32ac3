package models

import "time"

// ProviderCredential stores a user's registered access to one provider.
type ProviderCredential struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID    uint64 `gorm:"not null;index"`                  // Owning user ID.
	Provider  string `gorm:"type:varchar(64);not null;index"` // Provider id.
	SecretRef string `gorm:"type:text;not null"`              // Opaque secret reference.
	Nickname  string `gorm:"type:text"`                       // Display name.

	IsActive  bool `gorm:"not null;index"` // Cleared permanently on invalid key.
	IsBlocked bool `gorm:"not null"`       // Set alongside deactivation.

	HealthScore         int `gorm:"not null"` // Health in [0,100].
	ConsecutiveFailures int `gorm:"not null"` // Consecutive failed health checks.

	RequestsToday     int64 `gorm:"not null;default:0"` // Requests since the daily reset.
	RequestsThisMonth int64 `gorm:"not null;default:0"` // Requests since the monthly reset.
	TokensUsedToday   int64 `gorm:"not null;default:0"` // Tokens since the daily reset.
	TokensUsedMonth   int64 `gorm:"not null;default:0"` // Tokens since the monthly reset.

	LastUsedAt        *time.Time // Last successful use.
	LastHealthCheckAt *time.Time // Last external health check.
	LastHealthError   string     `gorm:"type:text"` // Last health check error.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
