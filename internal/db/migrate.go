package db

import (
	"fmt"

	"github.com/router-for-me/AIGateway/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the gateway schema.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.Setting{},
		&models.ModelDefinition{},
		&models.ProviderCredential{},
		&models.ModelInstance{},
		&models.FailureLog{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}
