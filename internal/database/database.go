// Package database owns the Postgres pool and the bun handle built on it.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"go.uber.org/fx"

	"github.com/nexus-fundraising/nexus/internal/config"
	"github.com/nexus-fundraising/nexus/pkg/logger"
)

var Module = fx.Module("database",
	fx.Provide(
		NewPgxPool,
		NewBunDB,
		// Provide bun.IDB interface binding for modules that use the interface
		fx.Annotate(
			func(db *bun.DB) bun.IDB { return db },
			fx.As(new(bun.IDB)),
		),
	),
)

// NewPgxPool creates a new pgx connection pool
func NewPgxPool(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	log = log.With(logger.Scope("database"))

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.Database.MaxIdleConns)
	poolConfig.MaxConnIdleTime = cfg.Database.MaxIdleTime

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("database pool created",
		slog.String("host", cfg.Database.Host),
		slog.Int("port", cfg.Database.Port),
		slog.String("database", cfg.Database.Database),
		slog.Int("max_conns", cfg.Database.MaxOpenConns),
	)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("closing database pool")
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

// NewBunDB wraps the pgx pool in bun. The reconcile store, job queue and
// repositories all share this handle.
func NewBunDB(lc fx.Lifecycle, pool *pgxpool.Pool, cfg *config.Config, log *slog.Logger) (*bun.DB, error) {
	log = log.With(logger.Scope("bun"))

	db := bun.NewDB(stdlib.OpenDBFromPool(pool), pgdialect.New())

	db.AddQueryHook(newQueryHook(log, cfg.Database.QueryDebug, cfg.Database.SlowQueryThreshold))

	log.Info("bun database initialized")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("closing bun database")
			return db.Close()
		},
	})

	return db, nil
}

var queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "nexus",
	Subsystem: "db",
	Name:      "query_duration_seconds",
	Help:      "Database query time by operation and outcome.",
	Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 3, 10},
}, []string{"operation", "outcome"})

// queryHook records every query's duration, logs failed and slow queries,
// and logs all queries when debug is set.
type queryHook struct {
	log   *slog.Logger
	debug bool
	slow  time.Duration
}

func newQueryHook(log *slog.Logger, debug bool, slow time.Duration) *queryHook {
	if slow <= 0 {
		slow = 3 * time.Second
	}
	return &queryHook{log: log, debug: debug, slow: slow}
}

func (h *queryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *queryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	duration := time.Since(event.StartTime)
	op := event.Operation()

	outcome := "ok"
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		outcome = "error"
	}
	queryDuration.WithLabelValues(op, outcome).Observe(duration.Seconds())

	switch {
	case outcome == "error":
		h.log.Error("query error",
			slog.String("operation", op),
			slog.String("query", event.Query),
			slog.Duration("duration", duration),
			logger.Error(event.Err))
	case duration > h.slow:
		h.log.Warn("slow query",
			slog.String("operation", op),
			slog.String("query", event.Query),
			slog.Duration("duration", duration))
	case h.debug:
		h.log.Debug("query",
			slog.String("query", event.Query),
			slog.Duration("duration", duration))
	}
}

// SafeTx wraps a bun.Tx so a deferred Rollback is a no-op after Commit.
type SafeTx struct {
	bun.Tx
	committed bool
}

// BeginSafeTx starts a new transaction and returns a SafeTx wrapper.
func BeginSafeTx(ctx context.Context, db bun.IDB) (*SafeTx, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &SafeTx{Tx: tx}, nil
}

// Commit commits the transaction and marks it as committed.
func (tx *SafeTx) Commit() error {
	if tx.committed {
		return nil
	}
	err := tx.Tx.Commit()
	if err == nil {
		tx.committed = true
	}
	return err
}

// Rollback rolls back the transaction only if it hasn't been committed.
// This is safe to call in a defer statement even after Commit.
func (tx *SafeTx) Rollback() error {
	if tx.committed {
		return nil
	}
	return tx.Tx.Rollback()
}
