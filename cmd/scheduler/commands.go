package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/clinic-scheduler/internal/application"
	"github.com/example/clinic-scheduler/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Apply migrations and start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("failed to initialise application")
				return err
			}
			defer app.Close()

			if err := app.Migrate(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to apply migrations")
				return err
			}

			server := &http.Server{
				Addr:              cfg.Addr(),
				Handler:           app.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", server.Addr).Str("storage", cfg.StorageDriver).Str("cache", cfg.CacheDriver).Msg("scheduler API listening")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					logger.Error().Err(err).Msg("server encountered error")
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("failed to shutdown server")
				return err
			}
			return <-errCh
		},
	}
}

func migrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())

			ctx := cmd.Context()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(ctx, logger); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied to %s storage.\n", cfg.StorageDriver)
			return nil
		},
	}
}

func userCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var params application.CreateUserParams
	var role string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account with an explicit role",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())

			ctx := cmd.Context()
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(ctx, logger); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			params.Role = application.Role(role)
			users := application.NewUserServiceWithLogger(store.Users(), nil, nil, nil, logger)
			user, err := users.CreateUser(ctx, params)
			if err != nil {
				var vErr *application.ValidationError
				if errors.As(err, &vErr) {
					for _, field := range slices.Sorted(maps.Keys(vErr.FieldErrors)) {
						fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", field, vErr.FieldErrors[field])
					}
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s %s (%s)\n", user.Role, user.Email, user.ID)
			return nil
		},
	}
	createCmd.Flags().StringVar(&params.Email, "email", "", "login email")
	createCmd.Flags().StringVar(&params.Password, "password", "", "initial password")
	createCmd.Flags().StringVar(&params.DisplayName, "name", "", "display name")
	createCmd.Flags().StringVar(&role, "role", string(application.RoleAdmin), "patient, doctor or admin")
	_ = createCmd.MarkFlagRequired("email")
	_ = createCmd.MarkFlagRequired("password")
	_ = createCmd.MarkFlagRequired("name")

	cmd.AddCommand(createCmd)
	return cmd
}
