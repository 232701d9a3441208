// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/scoutline/creator-discovery/internal/creator"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Auth      AuthConfig                `mapstructure:"auth"`
	DB        DBConfig                  `mapstructure:"db"`
	PubSub    PubSubConfig              `mapstructure:"pubsub"`
	Anthropic AnthropicConfig           `mapstructure:"anthropic"`
	Platforms map[string]PlatformConfig `mapstructure:"platforms"`
	Pipeline  PipelineConfig            `mapstructure:"pipeline"`
	Sweep     SweepConfig               `mapstructure:"sweep"`
	Archive   ArchiveConfig             `mapstructure:"archive"`
	Logging   LoggingConfig             `mapstructure:"logging"`
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

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PubSubConfig holds the project for worker message publishing and the
// optional dead-letter destination stamped on every published message.
type PubSubConfig struct {
	ProjectID     string `mapstructure:"project_id"`
	DeadLetterURL string `mapstructure:"dead_letter_url"`
}

// AnthropicConfig configures AI keyword generation.
type AnthropicConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PlatformConfig is one upstream platform API's connection settings.
type PlatformConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	MaxContinuations  int     `mapstructure:"max_continuations"`
	MaxEmptyPages     int     `mapstructure:"max_empty_pages"`
	MinEngagement     int64   `mapstructure:"min_engagement"`
	EnrichEnabled     bool    `mapstructure:"enrich_enabled"`
}

// PipelineConfig sizes the in-process worker pool of a search run.
type PipelineConfig struct {
	EnrichWorkers int `mapstructure:"enrich_workers"`
	QueueDepth    int `mapstructure:"queue_depth"`
}

// SweepConfig controls the stale-job resolution ticker.
type SweepConfig struct {
	IntervalSeconds   int `mapstructure:"interval_seconds"`
	StaleAfterSeconds int `mapstructure:"stale_after_seconds"`
}

// ArchiveConfig sets the raw run-output archive destination.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DISCOVERY")
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
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.timeout_seconds", 20)
	v.SetDefault("pipeline.enrich_workers", 4)
	v.SetDefault("pipeline.queue_depth", 64)
	v.SetDefault("sweep.interval_seconds", 300)
	v.SetDefault("sweep.stale_after_seconds", 1800)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("logging.development", true)

	for _, platform := range []string{"shortvideo", "reels", "longvideo"} {
		v.SetDefault(fmt.Sprintf("platforms.%s.timeout_seconds", platform), 15)
		v.SetDefault(fmt.Sprintf("platforms.%s.requests_per_second", platform), 5)
		v.SetDefault(fmt.Sprintf("platforms.%s.max_continuations", platform), 10)
		v.SetDefault(fmt.Sprintf("platforms.%s.max_empty_pages", platform), 3)
		v.SetDefault(fmt.Sprintf("platforms.%s.min_engagement", platform), 0)
		v.SetDefault(fmt.Sprintf("platforms.%s.enrich_enabled", platform), true)
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Archive.Enabled && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.gcs_bucket must be set when archiving is enabled")
	}
	for name, p := range c.Platforms {
		if p.BaseURL == "" {
			return fmt.Errorf("platforms.%s.base_url must be set", name)
		}
		if p.TimeoutSeconds <= 0 {
			return fmt.Errorf("platforms.%s.timeout_seconds must be > 0", name)
		}
	}
	return nil
}

// SearchConfigs converts the platform sections into per-platform runtime
// configs keyed by platform tag.
func (c Config) SearchConfigs() map[creator.Platform]creator.SearchConfig {
	out := make(map[creator.Platform]creator.SearchConfig, len(c.Platforms))
	for name, p := range c.Platforms {
		out[creator.Platform(name)] = creator.SearchConfig{
			APIKey:            p.APIKey,
			BaseURL:           p.BaseURL,
			RequestTimeout:    time.Duration(p.TimeoutSeconds) * time.Second,
			MaxContinuations:  p.MaxContinuations,
			MaxEmptyPages:     p.MaxEmptyPages,
			MinEngagement:     p.MinEngagement,
			EnrichEnabled:     p.EnrichEnabled,
			RequestsPerSecond: p.RequestsPerSecond,
		}
	}
	return out
}

// SweepInterval returns the stale sweep ticker period.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweep.IntervalSeconds) * time.Second
}

// StaleAfter returns the no-progress window after which jobs are resolved.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.Sweep.StaleAfterSeconds) * time.Second
}
