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
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Audit   AuditConfig   `mapstructure:"audit"`
	DB      DBConfig      `mapstructure:"db"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs worker pool and crawl pipeline behavior.
type CrawlerConfig struct {
	Concurrency     int    `mapstructure:"concurrency"`
	UserAgent       string `mapstructure:"user_agent"`
	DelaySeconds    int    `mapstructure:"delay_seconds"`
	MaxDepth        int    `mapstructure:"max_depth"`
	MaxPages        int    `mapstructure:"max_pages"`
	MaxBodyBytes    int    `mapstructure:"max_body_bytes"`
	MaxRedirects    int    `mapstructure:"max_redirects"`
	QueuePollMs     int    `mapstructure:"queue_poll_ms"`
	JanitorAgeHours int    `mapstructure:"janitor_age_hours"`
}

// HTTPConfig configures HTTP client behavior for page and robots fetches.
type HTTPConfig struct {
	TimeoutSeconds       int `mapstructure:"timeout_seconds"`
	RobotsTimeoutSeconds int `mapstructure:"robots_timeout_seconds"`
}

// AuditConfig governs lifecycle sweeps.
type AuditConfig struct {
	CompletionWindowMinutes int `mapstructure:"completion_window_minutes"`
	AutoStopAfterDays       int `mapstructure:"auto_stop_after_days"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEOCRAWLER")
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
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.user_agent", "seo-crawler-bot/1.0")
	v.SetDefault("crawler.delay_seconds", 1)
	v.SetDefault("crawler.max_depth", 5)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.max_body_bytes", 10*1024*1024)
	v.SetDefault("crawler.max_redirects", 10)
	v.SetDefault("crawler.queue_poll_ms", 50)
	v.SetDefault("crawler.janitor_age_hours", 24)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.robots_timeout_seconds", 5)
	v.SetDefault("audit.completion_window_minutes", 15)
	v.SetDefault("audit.auto_stop_after_days", 14)
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Audit.CompletionWindowMinutes <= 0 {
		return fmt.Errorf("audit.completion_window_minutes must be > 0")
	}
	if c.Audit.AutoStopAfterDays <= 0 {
		return fmt.Errorf("audit.auto_stop_after_days must be > 0")
	}
	return nil
}

// FetchTimeout returns the page fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RobotsTimeout returns the robots.txt fetch budget.
func (c Config) RobotsTimeout() time.Duration {
	return time.Duration(c.HTTP.RobotsTimeoutSeconds) * time.Second
}

// DomainDelay returns the default per-domain crawl spacing.
func (c Config) DomainDelay() time.Duration {
	return time.Duration(c.Crawler.DelaySeconds) * time.Second
}

// CompletionWindow returns the quiet period required before completion.
func (c Config) CompletionWindow() time.Duration {
	return time.Duration(c.Audit.CompletionWindowMinutes) * time.Minute
}

// AutoStopAfter returns how long a paused audit may linger.
func (c Config) AutoStopAfter() time.Duration {
	return time.Duration(c.Audit.AutoStopAfterDays) * 24 * time.Hour
}
