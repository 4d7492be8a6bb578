package config

import (
	"errors"
	"net/url"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/lewisedginton/nutrisync/pkg/config"
)

// AppConfig is the daemon-side configuration for the sync client.
type AppConfig struct {
	LogLevel string        `env:"LOG_LEVEL" yaml:"log_level" default:"info"`
	Remote   RemoteConfig  `yaml:"remote"`
	Storage  StorageConfig `yaml:"storage"`
	Sync     SyncConfig    `yaml:"sync"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

type RemoteConfig struct {
	BaseURL string        `env:"REMOTE_BASE_URL" yaml:"base_url"`
	Token   string        `env:"REMOTE_TOKEN" yaml:"token"`
	Timeout time.Duration `env:"REMOTE_TIMEOUT" yaml:"timeout" default:"30s"`
}

type StorageConfig struct {
	Dir string `env:"STORAGE_DIR" yaml:"dir" required:"true"`
}

type SyncConfig struct {
	Cooldown time.Duration `env:"SYNC_COOLDOWN" yaml:"cooldown" default:"5m"`
	Interval time.Duration `env:"SYNC_INTERVAL" yaml:"interval" default:"1m"`
}

type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" yaml:"enabled"`
	Port    int  `env:"METRICS_PORT" yaml:"port" default:"9091"`
}

func (c AppConfig) Validate() error {
	var result error
	if c.Remote.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.Remote.BaseURL); err != nil {
			result = multierror.Append(result, errors.New("remote base_url is not a valid URL"))
		}
	}
	if c.Sync.Cooldown < 0 {
		result = multierror.Append(result, errors.New("sync cooldown must not be negative"))
	}
	if c.Sync.Interval <= 0 {
		result = multierror.Append(result, errors.New("sync interval must be positive"))
	}
	return result
}

// ServerConfig is the configuration for the reference sync server.
type ServerConfig struct {
	LogLevel string         `env:"LOG_LEVEL" yaml:"log_level" default:"info"`
	Server   ListenConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type ListenConfig struct {
	Port            int           `env:"SERVER_PORT" yaml:"port" default:"8080"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout" default:"10s"`
	AllowedOrigins  []string      `env:"SERVER_ALLOWED_ORIGINS" yaml:"allowed_origins"`
	Tokens          []string      `env:"SERVER_TOKENS" yaml:"tokens"`
}

type DatabaseConfig struct {
	// Empty URL selects the in-memory store.
	URL string `env:"DATABASE_URL" yaml:"url"`
}

func (c ServerConfig) Validate() error {
	var result error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		result = multierror.Append(result, errors.New("server port must be between 1 and 65535"))
	}
	if len(c.Server.Tokens) == 0 {
		result = multierror.Append(result, errors.New("at least one bearer token must be configured"))
	}
	return result
}

// LoadApp reads the daemon config from the given YAML file, overlaying
// environment variables. Missing files are tolerated.
func LoadApp(path string) (AppConfig, error) {
	var cfg AppConfig
	err := config.GetConfig(&cfg, path, true)
	return cfg, err
}

// LoadServer reads the server config the same way.
func LoadServer(path string) (ServerConfig, error) {
	var cfg ServerConfig
	err := config.GetConfig(&cfg, path, true)
	return cfg, err
}
