package db

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"signage-control-backend/config"
	"signage-control-backend/internal/model"
)

// Open connects to the database described by cfg. The gorm logger is quiet
// unless the process runs at debug level.
func Open(cfg config.DatabaseConfig, level zerolog.Level) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	logMode := logger.Warn
	if level <= zerolog.DebugLevel {
		logMode = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logMode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}

	return db, nil
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres", "":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// OperationalModels lists the tables owned by the operational store.
func OperationalModels() []any {
	return []any{
		&model.Organization{},
		&model.Content{},
		&model.Playlist{},
		&model.PlaylistItem{},
		&model.Player{},
		&model.SyncReport{},
		&model.Deployment{},
		&model.DeploymentTarget{},
	}
}

// IdentityModels lists the tables owned by the identity store.
func IdentityModels() []any {
	return []any{
		&model.Profile{},
		&model.TechAssignment{},
		&model.AuditLog{},
		&model.PushSubscription{},
	}
}

// MigrateOperational brings the operational schema up to date.
func MigrateOperational(db *gorm.DB) error {
	if err := db.AutoMigrate(OperationalModels()...); err != nil {
		return fmt.Errorf("operational automigrate failed: %w", err)
	}
	return nil
}

// MigrateIdentity brings the identity schema up to date.
func MigrateIdentity(db *gorm.DB) error {
	if err := db.AutoMigrate(IdentityModels()...); err != nil {
		return fmt.Errorf("identity automigrate failed: %w", err)
	}
	return nil
}
