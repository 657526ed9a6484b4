// Command migrate applies the embedded database migrations.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nexus-fundraising/nexus/internal/config"
	"github.com/nexus-fundraising/nexus/internal/migrate"
	"github.com/nexus-fundraising/nexus/pkg/logger"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var dsn string

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the Nexus CRM sync database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "database URL (default: built from POSTGRES_* variables)")

	run := func(fn func(ctx context.Context, m *migrate.Migrator, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			m, closeDB, err := openMigrator(dsn)
			if err != nil {
				return err
			}
			defer closeDB()
			return fn(cmd.Context(), m, args)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, m *migrate.Migrator, _ []string) error {
				return m.Up(ctx)
			}),
		},
		&cobra.Command{
			Use:   "up-to VERSION",
			Short: "Apply migrations up to and including VERSION",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, m *migrate.Migrator, args []string) error {
				v, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return m.UpTo(ctx, v)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, m *migrate.Migrator, _ []string) error {
				return m.Down(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the applied state of every migration",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, m *migrate.Migrator, _ []string) error {
				return m.Status(ctx)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, m *migrate.Migrator, _ []string) error {
				v, err := m.Version(ctx)
				if err != nil {
					return err
				}
				fmt.Println(v)
				return nil
			}),
		},
	)
	return root
}

func openMigrator(dsn string) (*migrate.Migrator, func(), error) {
	if dsn == "" {
		cfg, err := config.NewConfig(logger.NewLogger())
		if err != nil {
			return nil, nil, err
		}
		dsn = cfg.Database.DSN()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	zl, err := logger.NewZapLogger()
	if err != nil {
		zl = zap.NewNop()
	}

	return migrate.NewMigrator(db, zl), func() {
		_ = zl.Sync()
		_ = db.Close()
	}, nil
}
