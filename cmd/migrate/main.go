// Command migrate applies the embedded database schema.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"shoplist.app/internal/config"
	"shoplist.app/internal/migrate"
	"shoplist.app/migrations"
)

const migrateTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile        string
		migrationsPath string
		seedsPath      string
	)
	v := config.New()

	cmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the shoplist database schema",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().String("dsn", "", "PostgreSQL DSN")
	cmd.PersistentFlags().StringVar(&migrationsPath, "migrations", "", "directory of SQL migrations (default: embedded)")
	cmd.PersistentFlags().StringVar(&seedsPath, "seeds", "", "directory of SQL seeds (default: embedded)")

	run := func(fn func(ctx context.Context, c *cobra.Command, m *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(c *cobra.Command, _ []string) error {
			if err := config.BindFlags(v, c, map[string]string{"database.dsn": "dsn"}); err != nil {
				return err
			}
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Database.DSN) == "" {
				return config.ErrMissingDSN
			}
			db, err := sql.Open("pgx", cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(c.Context(), migrateTimeout)
			defer cancel()
			mgr := migrate.NewManager(db, source(migrationsPath, migrations.Schema()), source(seedsPath, migrations.Seeds()))
			return fn(ctx, c, mgr)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, _ *cobra.Command, m *migrate.Manager) error {
			return m.Up(ctx)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, _ *cobra.Command, m *migrate.Manager) error {
			return m.Down(ctx)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Apply seed files not yet applied",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, _ *cobra.Command, m *migrate.Manager) error {
			return m.Seed(ctx)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied migrations in order",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, c *cobra.Command, m *migrate.Manager) error {
			history, err := m.Status(ctx)
			if err != nil {
				return err
			}
			for _, item := range history {
				fmt.Fprintln(c.OutOrStdout(), item)
			}
			return nil
		}),
	})
	return cmd
}

func source(dir string, embedded fs.FS) fs.FS {
	if dir == "" {
		return embedded
	}
	return os.DirFS(dir)
}
