package db

import (
	"fmt"

	"gorm.io/gorm"

	"resqfood/models"
)

// Migrate создает таблицу диагностик и составной индекс для выборки по типу
func Migrate(orm *gorm.DB) error {
	if err := orm.AutoMigrate(&models.Diagnostic{}); err != nil {
		return fmt.Errorf("failed to migrate diagnostics: %w", err)
	}

	// индекс для Recent с фильтром по kind
	createIndexSQL := `
		CREATE INDEX IF NOT EXISTS idx_diagnostics_kind_created_at ON diagnostics (kind, created_at);
	`
	if err := orm.Exec(createIndexSQL).Error; err != nil {
		return fmt.Errorf("failed to create index idx_diagnostics_kind_created_at: %w", err)
	}
	return nil
}
