package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Stack  StackConfig  `mapstructure:"stack"`
	Build  BuildConfig  `mapstructure:"build"`
	Docker DockerConfig `mapstructure:"docker"`
	Runner RunnerConfig `mapstructure:"runner"`
	Ledger LedgerConfig `mapstructure:"ledger"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
}

// StackConfig identifies the stack being operated on.
type StackConfig struct {
	Project  string `mapstructure:"project"`
	Manifest string `mapstructure:"manifest"`
	Dir      string `mapstructure:"dir"` // base dir for manifest-relative paths
}

// BuildConfig holds image build configuration.
type BuildConfig struct {
	BaseImage          string `mapstructure:"base_image"`
	DependencyManifest string `mapstructure:"dependency_manifest"`
	ExposePort         int    `mapstructure:"expose_port"`
	NoCache            bool   `mapstructure:"no_cache"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// RunnerConfig holds launch timing configuration.
type RunnerConfig struct {
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
	HealthTimeout  time.Duration `mapstructure:"health_timeout"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

// LedgerConfig holds run ledger configuration.
type LedgerConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("stack.project", "stackd")
	v.SetDefault("stack.manifest", "stackd.yaml")
	v.SetDefault("stack.dir", ".")
	v.SetDefault("build.base_image", "")
	v.SetDefault("build.dependency_manifest", "")
	v.SetDefault("build.expose_port", 0)
	v.SetDefault("build.no_cache", false)
	v.SetDefault("docker.host", "")
	v.SetDefault("runner.stop_timeout", "10s")
	v.SetDefault("runner.health_timeout", "60s")
	v.SetDefault("runner.health_interval", "1s")
	v.SetDefault("ledger.dsn", "./data/stackd.db")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("STACKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
