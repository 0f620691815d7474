package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/services/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed migrations
var migrations embed.FS

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

const (
	MigrationsAuto  = "auto"
	MigrationsGoose = "goose"
)

// Migrate applies the schema with GORM AutoMigrate or the embedded goose
// migrations, depending on DATABASE_MIGRATIONS.
func Migrate(db *gorm.DB, cfg *config.Config, modelsOpt *ModelsOption, logger *logging.Service) error {
	switch cfg.Database.Migrations {
	case MigrationsGoose:
		return migrateGoose(context.Background(), db, cfg.Database.Driver, logger)
	case MigrationsAuto, "":
		models := modelsOpt.Models()
		if len(models) == 0 {
			return nil
		}
		if err := db.AutoMigrate(models...); err != nil {
			return fmt.Errorf("failed to auto-migrate models: %w", err)
		}
		if logger != nil {
			logger.Info("schema auto-migrated", zap.Int("models", len(models)))
		}
		return nil
	default:
		return fmt.Errorf("unknown migration mode %q", cfg.Database.Migrations)
	}
}

func gooseDialect(driver string) (dialect, dir string, err error) {
	switch driver {
	case "sqlite":
		return "sqlite3", "migrations/sqlite", nil
	case "postgres", "postgresql":
		return "postgres", "migrations/postgres", nil
	case "mysql":
		return "mysql", "migrations/mysql", nil
	default:
		return "", "", fmt.Errorf("no migrations for driver %q", driver)
	}
}

func migrateGoose(ctx context.Context, db *gorm.DB, driver string, logger *logging.Service) error {
	dialect, dir, err := gooseDialect(driver)
	if err != nil {
		return err
	}

	sub, err := fs.Sub(migrations, dir)
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(sub)
	goose.SetLogger(gooseLogger{logger})
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}

	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if logger != nil {
		logger.Info("schema migrated", zap.String("dialect", dialect), zap.Int64("version", version))
	}
	return nil
}

// gooseLogger routes goose output through the logging service.
type gooseLogger struct {
	logger *logging.Service
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Infof(format, v...)
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Errorf(format, v...)
}
