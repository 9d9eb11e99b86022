package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLConfig mirrors the configuration file layout. It exists so `config
// init` can emit a documented starting point and so tests can round-trip the
// file format independently of viper.
type YAMLConfig struct {
	Environment string       `yaml:"environment"`
	Server      ServerYAML   `yaml:"server"`
	Database    DatabaseYAML `yaml:"database"`
	Auth        AuthYAML     `yaml:"auth"`
	Logging     LoggingYAML  `yaml:"logging"`
}

// ServerYAML controls the HTTP server section of the file.
type ServerYAML struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
	CORSOrigins     []string `yaml:"cors_origins"`
}

// DatabaseYAML selects the backing store in the file.
type DatabaseYAML struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuthYAML controls the credential section of the file.
type AuthYAML struct {
	JWTSecret          string `yaml:"jwt_secret"`
	JWTExpiry          string `yaml:"jwt_expiry"`
	LoginRatePerMinute int    `yaml:"login_rate_per_minute"`
}

// LoggingYAML controls log output in the file.
type LoggingYAML struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before
// parsing, so secrets never have to live in the file itself.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	var cfg YAMLConfig
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

// DefaultYAMLConfig returns a file pre-filled with the built-in defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Environment: "development",
		Server: ServerYAML{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseYAML{
			Driver: "sqlite",
			DSN:    "",
		},
		Auth: AuthYAML{
			JWTSecret:          "${TENANTSTACK_AUTH_JWT_SECRET}",
			JWTExpiry:          "24h",
			LoginRatePerMinute: 20,
		},
		Logging: LoggingYAML{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
