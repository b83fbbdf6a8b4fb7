// Package config loads snapportal configuration with Viper: a yaml file,
// environment overrides under the SNAPPORTAL prefix, and defaults.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	// Backend pins the backend ("middleware" or "zfscli"); empty means probe.
	Backend string `mapstructure:"backend"`

	Middleware MiddlewareConfig `mapstructure:"middleware"`
	Local      LocalConfig      `mapstructure:"local"`

	ProbeTimeout        time.Duration `mapstructure:"probe_timeout"`
	RPCTimeout          time.Duration `mapstructure:"rpc_timeout"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	JobRetention        time.Duration `mapstructure:"job_retention"`
	SnapshotCacheTTL    time.Duration `mapstructure:"snapshot_cache_ttl"`
}

// MiddlewareConfig points at the remote management daemon.
type MiddlewareConfig struct {
	URL       string `mapstructure:"url"`     // http(s) base or ws(s) endpoint
	WSPath    string `mapstructure:"ws_path"` // appended to an http(s) base
	APIKey    string `mapstructure:"api_key"`
	VerifyTLS bool   `mapstructure:"verify_tls"`
}

// LocalConfig points at the local storage tool.
type LocalConfig struct {
	ZFSPath string `mapstructure:"zfs_path"`
	Workers int    `mapstructure:"workers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", "")
	v.SetDefault("middleware.ws_path", "/websocket")
	v.SetDefault("middleware.verify_tls", false)
	v.SetDefault("local.zfs_path", "zfs")
	v.SetDefault("local.workers", 4)
	v.SetDefault("probe_timeout", 10*time.Second)
	v.SetDefault("rpc_timeout", 30*time.Second)
	v.SetDefault("health_check_interval", time.Minute)
	v.SetDefault("job_retention", 10*time.Minute)
	v.SetDefault("snapshot_cache_ttl", 30*time.Second)
}

// Load reads configuration. If path is empty the default locations are
// searched and a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("snapportal")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/snapportal")

	v.SetEnvPrefix("SNAPPORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case "", "middleware", "zfscli":
	default:
		return fmt.Errorf("invalid backend %q: want middleware or zfscli", c.Backend)
	}
	if c.Middleware.URL != "" {
		if _, err := c.WebSocketURL(); err != nil {
			return err
		}
	}
	return nil
}

// MiddlewareConfigured reports whether the remote backend can be probed.
func (c *Config) MiddlewareConfigured() bool {
	return c.Middleware.URL != "" && c.Middleware.APIKey != ""
}

// WebSocketURL derives the daemon's websocket endpoint from the configured
// URL: ws(s) endpoints pass through, http(s) bases get the websocket path
// and a matching ws scheme.
func (c *Config) WebSocketURL() (string, error) {
	raw := strings.TrimRight(strings.TrimSpace(c.Middleware.URL), "/")
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("middleware url %q must include scheme and host", c.Middleware.URL)
	}
	switch u.Scheme {
	case "ws", "wss":
		return raw, nil
	case "http", "https":
		wsScheme := "ws"
		if u.Scheme == "https" {
			wsScheme = "wss"
		}
		path := c.Middleware.WSPath
		if path == "" {
			path = "/websocket"
		}
		return fmt.Sprintf("%s://%s%s", wsScheme, u.Host, path), nil
	default:
		return "", fmt.Errorf("middleware url scheme must be http, https, ws, or wss; got %q", u.Scheme)
	}
}
