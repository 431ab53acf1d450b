// Package config loads the kernel configuration from environment variables
// (SYNAPD_ prefix) and an optional synapd.yaml, with every numeric knob
// clamped to a sane floor so misconfiguration degrades rather than crashes.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries every recognized kernel option.
type Config struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	DatabaseDSN string `mapstructure:"database_dsn"`

	MaxEventDepth       uint32 `mapstructure:"max_event_depth"`
	MaxFanOutPerEvent   int    `mapstructure:"max_fan_out_per_event"`
	PluginTimeoutSecs   int    `mapstructure:"plugin_timeout_secs"`
	EventQueueCapacity  int    `mapstructure:"event_queue_capacity"`
	EventHistorySize    int    `mapstructure:"event_history_size"`
	EventRetentionHours int    `mapstructure:"event_retention_hours"`

	RateLimitPerSecond int `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int `mapstructure:"rate_limit_burst"`

	// AdminAPIKey authenticates the outer shell; the core only ever sees
	// the resulting actor id.
	AdminAPIKey string `mapstructure:"admin_api_key"`

	// RedisAddr enables the shared config cache when non-empty.
	RedisAddr string `mapstructure:"redis_addr"`

	// ScriptsDir is the base directory subprocess plugin scripts must
	// live under.
	ScriptsDir string `mapstructure:"scripts_dir"`

	// PluginsFile declares out-of-process plugins (yaml).
	PluginsFile string `mapstructure:"plugins_file"`
}

// PluginTimeout returns the per-plugin on-event deadline.
func (c Config) PluginTimeout() time.Duration {
	return time.Duration(c.PluginTimeoutSecs) * time.Second
}

// EventRetention returns the history age cap.
func (c Config) EventRetention() time.Duration {
	return time.Duration(c.EventRetentionHours) * time.Hour
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8420")
	v.SetDefault("database_dsn", "synapd.db")
	v.SetDefault("max_event_depth", 5)
	v.SetDefault("max_fan_out_per_event", 10)
	v.SetDefault("plugin_timeout_secs", 5)
	v.SetDefault("event_queue_capacity", 256)
	v.SetDefault("event_history_size", 1000)
	v.SetDefault("event_retention_hours", 24)
	v.SetDefault("rate_limit_per_second", 10)
	v.SetDefault("rate_limit_burst", 30)
	v.SetDefault("admin_api_key", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("scripts_dir", "scripts")
	v.SetDefault("plugins_file", "")
}

// Load reads configuration from the environment and, when path is
// non-empty, the given yaml file.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SYNAPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.clamp()
	return cfg, nil
}

// clamp floors every numeric knob at its minimum useful value.
func (c *Config) clamp() {
	if c.MaxEventDepth < 1 {
		c.MaxEventDepth = 1
	}
	if c.MaxFanOutPerEvent < 1 {
		c.MaxFanOutPerEvent = 1
	}
	if c.PluginTimeoutSecs < 1 {
		c.PluginTimeoutSecs = 1
	}
	if c.EventQueueCapacity < 1 {
		c.EventQueueCapacity = 1
	}
	if c.EventHistorySize < 1 {
		c.EventHistorySize = 1
	}
	if c.EventRetentionHours < 1 {
		c.EventRetentionHours = 1
	}
	if c.RateLimitPerSecond < 1 {
		c.RateLimitPerSecond = 1
	}
	if c.RateLimitBurst < 1 {
		c.RateLimitBurst = 1
	}
}
