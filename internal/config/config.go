// Package config resolves logline settings from flags, LOGLINE_* environment
// variables, an optional YAML file and defaults, in that order of precedence.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides: log.path is read from
// LOGLINE_LOG_PATH.
const EnvPrefix = "LOGLINE"

// DefaultTimeout bounds actions whose contract sets no timeout.
const DefaultTimeout = 30 * time.Second

// Log backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config holds every setting.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Contracts ContractsConfig `mapstructure:"contracts"`
	Exec      ExecConfig      `mapstructure:"exec"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// LogConfig locates the span log.
type LogConfig struct {
	Path    string `mapstructure:"path"`
	Backend string `mapstructure:"backend"`
}

// ContractsConfig locates contract files.
type ContractsConfig struct {
	Dir string `mapstructure:"dir"`
}

// ExecConfig bounds actions.
type ExecConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig configures the diagnostic logger (not the span log).
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig configures the Prometheus textfile output.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// TracingConfig configures OTLP trace export. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

var defaults = map[string]any{
	"log.path":         "./data/spans.log",
	"log.backend":      BackendFile,
	"contracts.dir":    "./contracts",
	"exec.timeout":     DefaultTimeout,
	"logging.level":    "info",
	"logging.format":   "text",
	"metrics.textfile": "",
	"tracing.endpoint": "",
	"tracing.insecure": false,
}

// NewViper returns a viper instance with defaults and environment binding
// applied. Callers bind flags to it before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile (if non-empty) into v and decodes the result.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated and bounded settings.
func (c *Config) Validate() error {
	switch c.Log.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("log.backend must be %q or %q, got %q", BackendFile, BackendSQLite, c.Log.Backend)
	}
	if c.Log.Path == "" {
		return fmt.Errorf("log.path is required")
	}
	if c.Exec.Timeout <= 0 {
		return fmt.Errorf("exec.timeout must be positive, got %s", c.Exec.Timeout)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}

// NewLogger builds the diagnostic logger writing to w.
func (c LoggingConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if c.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", s)
}
