package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, "./data/spans.log", cfg.Log.Path)
	assert.Equal(t, BackendFile, cfg.Log.Backend)
	assert.Equal(t, "./contracts", cfg.Contracts.Dir)
	assert.Equal(t, 30*time.Second, cfg.Exec.Timeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Empty(t, cfg.Metrics.Textfile)
	assert.Empty(t, cfg.Tracing.Endpoint)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
log:
  path: /var/lib/logline/spans.db
  backend: sqlite
exec:
  timeout: 5s
logging:
  level: debug
  format: json
`
	path := filepath.Join(dir, "logline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/logline/spans.db", cfg.Log.Path)
	assert.Equal(t, BackendSQLite, cfg.Log.Backend)
	assert.Equal(t, 5*time.Second, cfg.Exec.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "./contracts", cfg.Contracts.Dir, "unset keys keep defaults")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("contracts:\n  dir: /from/file\n"), 0o644))
	t.Setenv("LOGLINE_CONTRACTS_DIR", "/from/env")
	t.Setenv("LOGLINE_EXEC_TIMEOUT", "2m")

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)

	assert.Equal(t, "/from/env", cfg.Contracts.Dir)
	assert.Equal(t, 2*time.Minute, cfg.Exec.Timeout)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("LOGLINE_LOG_PATH", "/from/env.log")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log", "", "")
	require.NoError(t, flags.Parse([]string{"--log", "/from/flag.log"}))

	v := NewViper()
	require.NoError(t, v.BindPFlag("log.path", flags.Lookup("log")))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "/from/flag.log", cfg.Log.Path)
}

func TestLoad_UnsetFlagDoesNotMaskEnv(t *testing.T) {
	t.Setenv("LOGLINE_LOG_PATH", "/from/env.log")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log", "./data/spans.log", "")
	require.NoError(t, flags.Parse(nil))

	v := NewViper()
	require.NoError(t, v.BindPFlag("log.path", flags.Lookup("log")))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "/from/env.log", cfg.Log.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad backend", func(c *Config) { c.Log.Backend = "postgres" }, "log.backend"},
		{"empty path", func(c *Config) { c.Log.Path = "" }, "log.path"},
		{"zero timeout", func(c *Config) { c.Exec.Timeout = 0 }, "exec.timeout"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(NewViper(), "")
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := LoggingConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"k":"v"`)

	buf.Reset()
	logger, err = LoggingConfig{Level: "debug", Format: "text"}.NewLogger(&buf)
	require.NoError(t, err)
	logger.Debug("details")
	assert.Contains(t, buf.String(), "msg=details")

	_, err = LoggingConfig{Level: "nope"}.NewLogger(&buf)
	require.Error(t, err)
}
