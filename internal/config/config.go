// Package config loads and validates service configuration via Viper.
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
	Auth    AuthConfig    `mapstructure:"auth"`
	Scrape  ScrapeConfig  `mapstructure:"scrape"`
	DB      DBConfig      `mapstructure:"db"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Archive ArchiveConfig `mapstructure:"archive"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
	// Sources maps a source name to its directory adapter settings.
	Sources map[string]SourceConfig `mapstructure:"sources"`
}

// SourceConfig defines one scrapeable directory.
type SourceConfig struct {
	SearchURL        string `mapstructure:"search_url"`
	ItemSelector     string `mapstructure:"item_selector"`
	NameSelector     string `mapstructure:"name_selector"`
	LocationSelector string `mapstructure:"location_selector"`
	URLSelector      string `mapstructure:"url_selector"`
	URLAttribute     string `mapstructure:"url_attribute"`
	MaxRecords       int    `mapstructure:"max_records"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScrapeConfig governs worker and retry behavior.
type ScrapeConfig struct {
	UserAgent           string `mapstructure:"user_agent"`
	MaxAttempts         int    `mapstructure:"max_attempts"`
	BackoffBaseMs       int    `mapstructure:"backoff_base_ms"`
	BackoffMaxMs        int    `mapstructure:"backoff_max_ms"`
	CaptchaBackoffMs    int    `mapstructure:"captcha_backoff_ms"`
	CaptchaBackoffMaxMs int    `mapstructure:"captcha_backoff_max_ms"`
	FetchTimeoutSec     int    `mapstructure:"fetch_timeout_seconds"`
	OpTimeoutSec        int    `mapstructure:"op_timeout_seconds"`
	SnapshotEvery       int    `mapstructure:"snapshot_every"`
	SubscriberBuffer    int    `mapstructure:"subscriber_buffer"`
	MaxErrors           int    `mapstructure:"max_errors"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory stores.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeSec int    `mapstructure:"conn_lifetime_seconds"`
}

// RedisConfig points at the progress cache. An empty address selects the
// in-memory progress store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

// ArchiveConfig sets the raw payload archive destination. An empty bucket
// disables archiving.
type ArchiveConfig struct {
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for lead and job event publishing. An empty
// project disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	LeadTopic string `mapstructure:"lead_topic"`
	JobTopic  string `mapstructure:"job_topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADGEN")
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
	v.SetDefault("scrape.user_agent", "leadgen-bot/0.1")
	v.SetDefault("scrape.max_attempts", 3)
	v.SetDefault("scrape.backoff_base_ms", 250)
	v.SetDefault("scrape.backoff_max_ms", 5000)
	v.SetDefault("scrape.captcha_backoff_ms", 2000)
	v.SetDefault("scrape.captcha_backoff_max_ms", 30000)
	v.SetDefault("scrape.fetch_timeout_seconds", 60)
	v.SetDefault("scrape.op_timeout_seconds", 10)
	v.SetDefault("scrape.snapshot_every", 1)
	v.SetDefault("scrape.subscriber_buffer", 16)
	v.SetDefault("scrape.max_errors", 50)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_seconds", 1800)
	v.SetDefault("redis.ttl_hours", 24)
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("archive.content_type", "application/json")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scrape.MaxAttempts <= 0 {
		return fmt.Errorf("scrape.max_attempts must be > 0")
	}
	if c.Scrape.FetchTimeoutSec <= 0 {
		return fmt.Errorf("scrape.fetch_timeout_seconds must be > 0")
	}
	if c.Scrape.SubscriberBuffer <= 0 {
		return fmt.Errorf("scrape.subscriber_buffer must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.LeadTopic == "" && c.PubSub.JobTopic == "" {
		return fmt.Errorf("pubsub.lead_topic or pubsub.job_topic must be set when pubsub.project_id is set")
	}
	for name, src := range c.Sources {
		if src.SearchURL == "" || src.ItemSelector == "" {
			return fmt.Errorf("sources.%s: search_url and item_selector are required", name)
		}
	}
	return nil
}

// FetchTimeout returns the per-source fetch limit as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Scrape.FetchTimeoutSec) * time.Second
}

// OpTimeout returns the per-record persistence limit as a duration.
func (c Config) OpTimeout() time.Duration {
	return time.Duration(c.Scrape.OpTimeoutSec) * time.Second
}
