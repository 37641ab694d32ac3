package models

import (
	"time"

	"gorm.io/datatypes"
)

// FailureLog records one failed request against a model instance.
type FailureLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ModelInstanceID uint64 `gorm:"not null;index"`                  // Related instance ID.
	ErrorType       string `gorm:"type:varchar(32);not null;index"` // Classified error kind.
	ErrorMessage    string `gorm:"type:text"`                       // Raw provider message.

	Detail datatypes.JSON `gorm:"type:jsonb"` // Extra context from the caller.

	Timestamp time.Time `gorm:"not null;index"` // Failure time.
}
