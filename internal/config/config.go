// Package config resolves the server configuration from, in increasing
// precedence: built-in defaults, an optional YAML file, TENANTSTACK_*
// environment variables, and command-line flags bound through viper.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Environment string
	Server      Server
	Database    Database
	Auth        Auth
	Logging     Logging
}

// Server controls the HTTP listener.
type Server struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// Database selects the backing store.
type Database struct {
	Driver string // sqlite, postgres, mysql
	DSN    string
}

// Auth controls credential issuance and verification.
type Auth struct {
	JWTSecret        string
	JWTExpiry        time.Duration
	LoginRatePerMin  int
	APIKeyExpiryCapH int // upper bound on requested key lifetime, hours; 0 = uncapped
}

// Logging controls log output.
type Logging struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

// Init registers defaults and the environment binding on the global viper.
// Called once from cobra's OnInitialize hook.
func Init(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("tenantstack")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.tenantstack")
	}

	viper.SetEnvPrefix("TENANTSTACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("environment", "development")
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("server.cors_origins", []string{"*"})
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("auth.jwt_expiry", "24h")
	viper.SetDefault("auth.login_rate_per_minute", 20)
	viper.SetDefault("auth.api_key_expiry_cap_hours", 0)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	viper.ReadInConfig() // config file is optional
}

// Load materializes and validates the configuration from viper state.
func Load() (*Config, error) {
	shutdown, err := time.ParseDuration(viper.GetString("server.shutdown_timeout"))
	if err != nil {
		return nil, fmt.Errorf("server.shutdown_timeout: %w", err)
	}
	expiry, err := time.ParseDuration(viper.GetString("auth.jwt_expiry"))
	if err != nil {
		return nil, fmt.Errorf("auth.jwt_expiry: %w", err)
	}

	cfg := &Config{
		Environment: viper.GetString("environment"),
		Server: Server{
			Host:            viper.GetString("server.host"),
			Port:            viper.GetInt("server.port"),
			ShutdownTimeout: shutdown,
			CORSOrigins:     viper.GetStringSlice("server.cors_origins"),
		},
		Database: Database{
			Driver: viper.GetString("database.driver"),
			DSN:    viper.GetString("database.dsn"),
		},
		Auth: Auth{
			JWTSecret:        viper.GetString("auth.jwt_secret"),
			JWTExpiry:        expiry,
			LoginRatePerMin:  viper.GetInt("auth.login_rate_per_minute"),
			APIKeyExpiryCapH: viper.GetInt("auth.api_key_expiry_cap_hours"),
		},
		Logging: Logging{
			Level:  viper.GetString("logging.level"),
			Format: viper.GetString("logging.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server must not start with.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required (set TENANTSTACK_AUTH_JWT_SECRET)")
	}
	if c.IsProduction() && len(c.Auth.JWTSecret) < 32 {
		return errors.New("auth.jwt_secret must be at least 32 characters in production")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Auth.JWTExpiry <= 0 {
		return errors.New("auth.jwt_expiry must be positive")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql", "":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	return nil
}

// IsProduction reports whether the server runs with production hardening.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LogLevel maps the configured level string onto slog.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
