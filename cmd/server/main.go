package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"oidc-linker/internal/app"
	"oidc-linker/internal/config"
	"oidc-linker/internal/logger"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "oidc-linker",
		Short:         "Links OpenID Connect logins to local accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./configs/config.yaml)")

	rootCmd.AddCommand(newServeCommand(), newMigrateCommand())

	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE:  runServe,
	}
}

func newMigrateCommand() *cobra.Command {
	var dropLegacy bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long:  `Create or update the schema and copy identities stored on the users table into oidc_links.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := app.RunMigrations(cmd.Context(), cfg, dropLegacy); err != nil {
				return err
			}
			logger.Info("migrations applied", nil)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dropLegacy, "drop-legacy-columns", false, "Drop users.subject and users.issuer after copying them")

	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Options{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
	})
	return cfg, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize app", map[string]any{
			"error": err.Error(),
		})
	}

	go func() {
		if err := application.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", map[string]any{
				"error": err.Error(),
			})
		}
	}()

	logger.Info("oidc-linker started", map[string]any{
		"port":    cfg.AppPort,
		"issuers": len(cfg.Issuers),
	})

	<-ctx.Done() // wait for Ctrl+C

	logger.Info("shutdown signal received", nil)

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("graceful shutdown failed", map[string]any{
			"error": err.Error(),
		})
	}

	logger.Info("oidc-linker stopped cleanly", nil)
	return nil
}
