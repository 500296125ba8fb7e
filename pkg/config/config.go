// Package config loads daemon settings from file, environment, and
// defaults, in that order of increasing precedence for env over file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon's full configuration tree.
type Config struct {
	Listen      string `mapstructure:"listen"`
	LogLevel    string `mapstructure:"log_level"`
	Development bool   `mapstructure:"development"`

	Workers     int `mapstructure:"workers"`
	ClientLimit int `mapstructure:"client_limit"`

	OpTimeout       time.Duration `mapstructure:"op_timeout"`
	RetryMax        int           `mapstructure:"retry_max"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	RetryMaxBackoff time.Duration `mapstructure:"retry_max_backoff"`

	Store   StoreConfig   `mapstructure:"store"`
	Blob    BlobConfig    `mapstructure:"blob"`
	Rate    RateConfig    `mapstructure:"rate"`
	Auth    AuthConfig    `mapstructure:"auth"`
	TLS     TLSConfig     `mapstructure:"tls"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

type StoreConfig struct {
	Type string `mapstructure:"type"` // "memory" or "sqlite"
	Path string `mapstructure:"path"`
}

type BlobConfig struct {
	Root string `mapstructure:"root"`
}

type RateConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type AuthConfig struct {
	// Keys are accepted API keys. Empty leaves the API open.
	Keys []string `mapstructure:"keys"`
}

type TLSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cert    string `mapstructure:"cert"`
	Key     string `mapstructure:"key"`
	// Auto generates a self-signed pair at the cert/key paths when they
	// do not exist yet. Development convenience only.
	Auto bool `mapstructure:"auto"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	Environment string `mapstructure:"environment"`
}

// Load reads configuration. path may be empty, in which case only defaults
// and WAVEQ_* environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("development", false)
	v.SetDefault("workers", 4)
	v.SetDefault("client_limit", 8)
	v.SetDefault("op_timeout", 2*time.Minute)
	v.SetDefault("retry_max", 3)
	v.SetDefault("retry_backoff", 250*time.Millisecond)
	v.SetDefault("retry_max_backoff", 5*time.Second)
	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.path", "waveq.db")
	v.SetDefault("blob.root", "data")
	v.SetDefault("rate.rps", 20.0)
	v.SetDefault("rate.burst", 40)
	v.SetDefault("auth.keys", []string{})
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert", "waveq-cert.pem")
	v.SetDefault("tls.key", "waveq-key.pem")
	v.SetDefault("tls.auto", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.environment", "development")

	v.SetEnvPrefix("WAVEQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	switch c.Store.Type {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	if c.Store.Type == "sqlite" && c.Store.Path == "" {
		return fmt.Errorf("sqlite store requires a path")
	}
	if c.TLS.Enabled && !c.TLS.Auto && (c.TLS.Cert == "" || c.TLS.Key == "") {
		return fmt.Errorf("tls requires cert and key paths when auto generation is off")
	}
	return nil
}
