package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"shoplist.app/internal/audit"
	"shoplist.app/internal/auth"
)

const cliTimeout = 30 * time.Second

func newPurgeLogsCmd(load loader) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "purge-logs",
		Short: "Delete audit records older than the given number of days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cliTimeout)
			defer cancel()
			ctx = audit.WithOrigin(ctx, "cli:purge-logs")

			deleted, err := store.Audit().PurgeOlderThan(ctx, days)
			if err != nil {
				return fmt.Errorf("purge audit records: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d audit records older than %d days\n", deleted, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "older-than-days", audit.DefaultRetention, "retention window in days")
	return cmd
}

func newCreateUserCmd(load loader) *cobra.Command {
	var admin bool
	cmd := &cobra.Command{
		Use:   "create-user <username>",
		Short: "Create an account; the password is read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cliTimeout)
			defer cancel()
			ctx = audit.WithOrigin(ctx, "cli:create-user")

			// account provisioning issues no tokens
			svc := auth.NewService(store, nil, nil)
			var id auth.Identity
			if admin {
				id, err = svc.CreateAdministrator(ctx, args[0], password)
			} else {
				id, err = svc.Register(ctx, args[0], password)
			}
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (id %s, admin=%t)\n", id.Username, id.ID, id.IsAdmin)
			return nil
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the administrator role")
	return cmd
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errPasswordRequired
	}
	return password, nil
}
