// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the scrape pipeline.
type CrawlerConfig struct {
	Sites    []string `mapstructure:"sites"`
	Cities   []string `mapstructure:"cities"`
	MaxPages int      `mapstructure:"max_pages"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxAntiBotRetry  int     `mapstructure:"max_antibot_retries"`
	MaxConcurrent    int     `mapstructure:"max_concurrent"`
	PerHostRPS       float64 `mapstructure:"per_host_rps"`
	PerHostBurst     int     `mapstructure:"per_host_burst"`
	RetryDelayUnitMs int     `mapstructure:"retry_delay_unit_ms"`
}

// ProxyConfig controls routing through forward proxies.
type ProxyConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	URLs    []string `mapstructure:"urls"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HUURWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.sites", []string{"vb&t"})
	v.SetDefault("crawler.cities", []string{"amsterdam"})
	v.SetDefault("crawler.max_pages", 5)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_antibot_retries", 8)
	v.SetDefault("http.max_concurrent", 10)
	v.SetDefault("http.per_host_rps", 1.0)
	v.SetDefault("http.per_host_burst", 3)
	v.SetDefault("http.retry_delay_unit_ms", 1000)
	v.SetDefault("proxy.enabled", false)
	v.SetDefault("db.table", "listings")
	v.SetDefault("db.max_open_conns", 4)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if len(c.Crawler.Cities) == 0 {
		return fmt.Errorf("crawler.cities must not be empty")
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxConcurrent <= 0 {
		return fmt.Errorf("http.max_concurrent must be > 0")
	}
	if c.HTTP.MaxAntiBotRetry < 0 {
		return fmt.Errorf("http.max_antibot_retries must be >= 0")
	}
	if c.Proxy.Enabled && len(c.Proxy.URLs) == 0 {
		return fmt.Errorf("proxy.urls must be set when proxy is enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// Timeout converts the HTTP timeout config into a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RetryDelayUnit converts the retry delay unit config into a duration.
func (c Config) RetryDelayUnit() time.Duration {
	return time.Duration(c.HTTP.RetryDelayUnitMs) * time.Millisecond
}
