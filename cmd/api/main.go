// Command api runs the shoplist session and administration service and its
// maintenance tasks.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"shoplist.app/internal/audit"
	"shoplist.app/internal/config"
	"shoplist.app/internal/store/pg"
)

var (
	version = "dev" // set by the linker
	commit  = "none"
)

var flagKeys = map[string]string{
	"http.addr":          "http-addr",
	"grpc.addr":          "grpc-addr",
	"database.dsn":       "dsn",
	"revocation.backend": "revocation-backend",
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	v := config.New()

	cmd := &cobra.Command{
		Use:          "shoplist-api",
		Short:        "Session, broadcast and audit service for shoplist",
		Version:      version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().String("http-addr", "", "HTTP listen address")
	cmd.PersistentFlags().String("grpc-addr", "", "gRPC health listen address; empty disables")
	cmd.PersistentFlags().String("dsn", "", "PostgreSQL DSN")
	cmd.PersistentFlags().String("revocation-backend", "", "revocation registry backend (memory|redis)")

	load := loader(func(c *cobra.Command) (config.Config, error) {
		if err := config.BindFlags(v, c, flagKeys); err != nil {
			return config.Config{}, err
		}
		return config.Load(v, cfgFile)
	})

	cmd.AddCommand(newServeCmd(load))
	cmd.AddCommand(newPurgeLogsCmd(load))
	cmd.AddCommand(newCreateUserCmd(load))
	return cmd
}

type loader func(*cobra.Command) (config.Config, error)

// openStore connects to the database for commands that need nothing else.
func openStore(cfg config.Config) (*pg.Store, error) {
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, config.ErrMissingDSN
	}
	store, err := pg.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns,
		audit.WithStatementTimeout(cfg.Database.StatementTimeout))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

var errPasswordRequired = errors.New("password is required")
