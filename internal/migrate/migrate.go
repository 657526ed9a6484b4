// Package migrate applies the embedded goose migrations.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/nexus-fundraising/nexus/migrations"
)

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// Migrator handles database migrations.
type Migrator struct {
	db     *sql.DB
	fsys   fs.FS
	logger *zap.Logger
}

// NewMigrator creates a Migrator over the embedded migration files.
func NewMigrator(db *sql.DB, logger *zap.Logger) *Migrator {
	return &Migrator{
		db:     db,
		fsys:   migrations.FS,
		logger: logger.Named("migrator"),
	}
}

func (m *Migrator) with(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(m.fsys)
	goose.SetLogger(zapLogger{m.logger.Sugar()})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	return fn()
}

// Up runs all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	m.logger.Info("running database migrations")
	err := m.with(func() error {
		return goose.UpContext(ctx, m.db, ".")
	})
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	m.logger.Info("migrations completed successfully")
	return nil
}

// UpTo runs migrations up to a specific version.
func (m *Migrator) UpTo(ctx context.Context, version int64) error {
	m.logger.Info("running database migrations up to version", zap.Int64("version", version))
	err := m.with(func() error {
		return goose.UpToContext(ctx, m.db, ".", version)
	})
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Down rolls back the last migration.
func (m *Migrator) Down(ctx context.Context) error {
	m.logger.Info("rolling back last migration")
	err := m.with(func() error {
		return goose.DownContext(ctx, m.db, ".")
	})
	if err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	return nil
}

// Status logs the applied state of every migration.
func (m *Migrator) Status(ctx context.Context) error {
	err := m.with(func() error {
		return goose.StatusContext(ctx, m.db, ".")
	})
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	return nil
}

// Version returns the current database version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	var version int64
	err := m.with(func() error {
		var err error
		version, err = goose.GetDBVersionContext(ctx, m.db)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get version: %w", err)
	}
	return version, nil
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Fatalf(format string, v ...any) { l.s.Fatalf(format, v...) }
func (l zapLogger) Printf(format string, v ...any) { l.s.Infof(format, v...) }
