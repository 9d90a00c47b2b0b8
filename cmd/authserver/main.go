// Command authserver serves the authcore HTTP and gRPC APIs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	ac "github.com/panyam/authcore"
	"github.com/panyam/authcore/config"
	storegorm "github.com/panyam/authcore/stores/gorm"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "authserver",
		Short: "Authentication and password recovery server",
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newPruneCmd(), newSetRoleCmd())
	return root
}

func newServeCmd() *cobra.Command {
	cfg := config.Load()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP (and optional gRPC) server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.run(ctx)
		},
	}
	cfg.BindFlags(cmd)
	return cmd
}

func newMigrateCmd() *cobra.Command {
	cfg := config.Load()
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Creates or updates the SQL schema (gorm backend)",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := storegorm.Open(cfg.Store.Driver, cfg.Store.DSN)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := storegorm.AutoMigrate(db); err != nil {
				return fmt.Errorf("migrate failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
	cfg.BindFlags(cmd)
	return cmd
}

func newPruneCmd() *cobra.Command {
	cfg := config.Load()
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Deletes expired password reset tokens (gorm backend)",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := storegorm.Open(cfg.Store.Driver, cfg.Store.DSN)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			n, err := storegorm.NewResetTokenStore(db).DeleteExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired reset tokens\n", n)
			return nil
		},
	}
	cfg.BindFlags(cmd)
	return cmd
}

func newSetRoleCmd() *cobra.Command {
	cfg := config.Load()
	cmd := &cobra.Command{
		Use:   "set-role <username> <role>",
		Short: "Assigns a role to an identity, e.g. to bootstrap the first admin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := ac.ParseRole(args[1])
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, newLogger(cfg.LogLevel))
			if err != nil {
				return err
			}
			defer a.Close()

			identity, err := a.setRole(cmd.Context(), args[0], role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) is now %s\n", identity.Username, identity.ID, identity.Role)
			return nil
		},
	}
	cfg.BindFlags(cmd)
	return cmd
}
