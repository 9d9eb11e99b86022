package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tenantstack/tenantstack/internal/auth"
	"github.com/tenantstack/tenantstack/internal/config"
	"github.com/tenantstack/tenantstack/internal/server"
	"github.com/tenantstack/tenantstack/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the TenantStack API server",
		Long:  "Start the HTTP server exposing the auth, project, API key, and user management endpoints.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging and error detail)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(dev bool) error {
	if dev {
		viper.Set("environment", "development")
		viper.Set("logging.level", "debug")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg)

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	logger.Info("store ready", "driver", cfg.Database.Driver)

	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry)
	if err != nil {
		st.Close()
		return fmt.Errorf("init token issuer: %w", err)
	}
	logger.Info("token issuer ready", "ttl", tokens.TTL())

	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
		LoginRatePerMin: cfg.Auth.LoginRatePerMin,
		Development:     !cfg.IsProduction(),
	}
	if cfg.Auth.APIKeyExpiryCapH > 0 {
		srvCfg.KeyExpiryCap = time.Duration(cfg.Auth.APIKeyExpiryCapH) * time.Hour
	}

	srv := server.New(srvCfg, st, tokens, logger)
	return srv.ListenAndServe()
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
