package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/dbresolver"

	"resqfood/models"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	RECENT_DEFAULT_LIMIT = 50
	RECENT_MAX_LIMIT     = 500
)

// Journal - журнал диагностик синхронизации в sqlite или postgres
type Journal struct {
	orm *gorm.DB
}

func dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "", DriverSQLite:
		return sqlite.Open(dsn), nil
	case DriverPostgres:
		return postgres.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported journal driver %q", driver)
}

// Open подключается к базе, регистрирует реплики для чтения и применяет миграции
func Open(driver, dsn string, replicas []string) (*Journal, error) {
	if dsn == "" {
		return nil, fmt.Errorf("journal dsn is empty")
	}
	primary, err := dialector(driver, dsn)
	if err != nil {
		return nil, err
	}

	replicaDialectors := make([]gorm.Dialector, 0, len(replicas))
	for _, r := range replicas {
		d, err := dialector(driver, r)
		if err != nil {
			return nil, err
		}
		replicaDialectors = append(replicaDialectors, d)
	}

	orm, err := gorm.Open(primary, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
			NoLowerCase:   false,
		},
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if len(replicaDialectors) > 0 {
		err = orm.Use(dbresolver.Register(dbresolver.Config{
			Replicas: replicaDialectors,
			Policy:   dbresolver.RandomPolicy{},
		}))
		if err != nil {
			return nil, fmt.Errorf("failed to register journal replicas: %w", err)
		}
	}

	if err := Migrate(orm); err != nil {
		return nil, err
	}
	return &Journal{orm: orm}, nil
}

// readDB возвращает подключение для чтения (реплики, если есть)
func (j *Journal) readDB(ctx context.Context) *gorm.DB {
	return j.orm.WithContext(ctx).Clauses(dbresolver.Read)
}

// writeDB возвращает подключение для записи (основная база)
func (j *Journal) writeDB(ctx context.Context) *gorm.DB {
	return j.orm.WithContext(ctx).Clauses(dbresolver.Write)
}

// Record сохраняет одну диагностику
func (j *Journal) Record(ctx context.Context, d *models.Diagnostic) error {
	if err := j.writeDB(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("failed to record diagnostic: %w", err)
	}
	return nil
}

// Recent возвращает последние диагностики, новые первыми; пустой kind - все типы
func (j *Journal) Recent(ctx context.Context, kind models.DiagnosticKind, limit int) ([]models.Diagnostic, error) {
	if limit <= 0 {
		limit = RECENT_DEFAULT_LIMIT
	}
	if limit > RECENT_MAX_LIMIT {
		limit = RECENT_MAX_LIMIT
	}
	q := j.readDB(ctx).Model(&models.Diagnostic{})
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var res []models.Diagnostic
	if err := q.Order("created_at DESC").Limit(limit).Find(&res).Error; err != nil {
		return nil, fmt.Errorf("failed to query diagnostics: %w", err)
	}
	return res, nil
}

type kindCount struct {
	Kind  models.DiagnosticKind
	Total int64
}

// CountByKind - число записей по типу диагностики
func (j *Journal) CountByKind(ctx context.Context) (map[models.DiagnosticKind]int64, error) {
	var rows []kindCount
	err := j.readDB(ctx).Model(&models.Diagnostic{}).
		Select("kind, count(*) as total").
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count diagnostics: %w", err)
	}
	res := make(map[models.DiagnosticKind]int64, len(rows))
	for _, r := range rows {
		res[r.Kind] = r.Total
	}
	return res, nil
}

// Prune удаляет записи старше before
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	tx := j.writeDB(ctx).Where("created_at < ?", before).Delete(&models.Diagnostic{})
	if tx.Error != nil {
		return 0, fmt.Errorf("failed to prune diagnostics: %w", tx.Error)
	}
	return tx.RowsAffected, nil
}

func (j *Journal) Close() error {
	sqlDB, err := j.orm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
