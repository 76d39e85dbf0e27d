// Package storage is the relay's relational store: gorm-backed CRUD and
// transactional helpers for sessions, the journal, secrets, and
// environments, plus schema migrations.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/forgerelay/relay/internal/logging"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	gormpostgres "gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config selects and configures the relational store driver.
type Config struct {
	Driver string // "sqlite" or "postgres"
	DSN    string
}

// Open opens a database connection, applies pending migrations, and returns
// the ready-to-use *gorm.DB.
func Open(cfg Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var (
		db      *gorm.DB
		sqlDB   *sql.DB
		err     error
		drvName string
	)

	switch cfg.Driver {
	case "sqlite", "":
		db, err = gorm.Open(gormsqlite.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("storage: opening sqlite: %w", err)
		}
		sqlDB, err = db.DB()
		if err != nil {
			return nil, fmt.Errorf("storage: getting sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1) // SQLite allows one writer at a time.
		drvName = "sqlite3"

	case "postgres":
		db, err = gorm.Open(gormpostgres.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("storage: opening postgres: %w", err)
		}
		sqlDB, err = db.DB()
		if err != nil {
			return nil, fmt.Errorf("storage: getting sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
		drvName = "postgres"

	default:
		return nil, fmt.Errorf("storage: unsupported driver %q, use \"sqlite\" or \"postgres\"", cfg.Driver)
	}

	if err := runMigrations(sqlDB, drvName); err != nil {
		return nil, fmt.Errorf("storage: migrations failed: %w", err)
	}

	return db, nil
}

// runMigrations applies all pending up-migrations from the embedded SQL
// files. ErrNoChange is treated as success.
func runMigrations(sqlDB *sql.DB, driver string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	var m *migrate.Migrate

	switch driver {
	case "sqlite3":
		drv, err := migratesqlite3.WithInstance(sqlDB, &migratesqlite3.Config{})
		if err != nil {
			return fmt.Errorf("creating sqlite migrate driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite3", drv)
		if err != nil {
			return fmt.Errorf("creating migrator: %w", err)
		}
	case "postgres":
		drv, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
		if err != nil {
			return fmt.Errorf("creating postgres migrate driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", drv)
		if err != nil {
			return fmt.Errorf("creating migrator: %w", err)
		}
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}

	logging.Info().Str("driver", driver).Msg("database migrations applied")
	return nil
}
