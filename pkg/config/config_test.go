package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nestedConfig struct {
	Host string `env:"TESTCFG_HOST" yaml:"host" default:"localhost"`
	Port int    `env:"TESTCFG_PORT" yaml:"port" default:"8080"`
}

type sampleConfig struct {
	Name     string        `env:"TESTCFG_NAME" yaml:"name" required:"true"`
	Interval time.Duration `env:"TESTCFG_INTERVAL" yaml:"interval" default:"5m"`
	Debug    bool          `env:"TESTCFG_DEBUG" yaml:"debug"`
	Tags     []string      `env:"TESTCFG_TAGS" yaml:"tags"`
	Server   nestedConfig  `yaml:"server"`
}

type validatedConfig struct {
	Mode string `env:"TESTCFG_MODE" yaml:"mode"`
}

func (c validatedConfig) Validate() error {
	if c.Mode != "on" && c.Mode != "off" {
		return errors.New("mode must be on or off")
	}
	return nil
}

func TestGetConfigFromEnvVars(t *testing.T) {
	t.Setenv("TESTCFG_NAME", "syncd")
	t.Setenv("TESTCFG_DEBUG", "true")
	t.Setenv("TESTCFG_TAGS", "a, b,c")
	t.Setenv("TESTCFG_PORT", "9090")

	var cfg sampleConfig
	require.NoError(t, GetConfigFromEnvVars(&cfg))

	assert.Equal(t, "syncd", cfg.Name)
	assert.Equal(t, 5*time.Minute, cfg.Interval)
	assert.True(t, cfg.Debug)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Tags)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestGetConfigFromEnvVarsRequiredMissing(t *testing.T) {
	os.Unsetenv("TESTCFG_NAME")

	var cfg sampleConfig
	err := GetConfigFromEnvVars(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TESTCFG_NAME")
	// Config is reset on failure.
	assert.Zero(t, cfg.Interval)
}

func TestGetConfigYAMLThenEnvOverlay(t *testing.T) {
	t.Setenv("TESTCFG_NAME", "from-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: from-file\ndebug: true\n"), 0o644))

	var cfg sampleConfig
	require.NoError(t, GetConfig(&cfg, path, false))
	assert.Equal(t, "from-env", cfg.Name, "environment overrides the file")
	assert.True(t, cfg.Debug)
	assert.Equal(t, 5*time.Minute, cfg.Interval, "default still applies")
}

func TestGetConfigMissingFileAllowed(t *testing.T) {
	t.Setenv("TESTCFG_NAME", "envonly")

	var cfg sampleConfig
	require.NoError(t, GetConfig(&cfg, "/nonexistent/config.yaml", true))
	assert.Equal(t, "envonly", cfg.Name)

	err := GetConfig(&cfg, "/nonexistent/config.yaml", false)
	require.Error(t, err)
}

func TestGetConfigRunsValidator(t *testing.T) {
	t.Setenv("TESTCFG_MODE", "sideways")

	var cfg validatedConfig
	err := GetConfigFromEnvVars(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode must be on or off")
}
