package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"viewcurve/pkg/baseline"
	"viewcurve/pkg/classify"
	"viewcurve/pkg/envelope"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Envelope EnvelopeConfig `yaml:"envelope"`
	Baseline BaselineConfig `yaml:"baseline"`
	Classify ClassifyConfig `yaml:"classify"`
	Writer   WriterConfig   `yaml:"writer"`
	Adapter  AdapterConfig  `yaml:"adapter"`
	Metadata MetadataConfig `yaml:"metadata"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Server   ServerConfig   `yaml:"server"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig configures recomputation intervals.
type ScheduleConfig struct {
	RecomputeInterval string `yaml:"recompute_interval"`
	BaselineInterval  string `yaml:"baseline_interval"`
}

// ParseRecomputeInterval returns the envelope recompute interval.
func (s ScheduleConfig) ParseRecomputeInterval() time.Duration {
	d, err := time.ParseDuration(s.RecomputeInterval)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// ParseBaselineInterval returns the baseline refresh interval.
func (s ScheduleConfig) ParseBaselineInterval() time.Duration {
	d, err := time.ParseDuration(s.BaselineInterval)
	if err != nil {
		return 6 * time.Hour
	}
	return d
}

// EnvelopeConfig configures percentile computation and smoothing.
type EnvelopeConfig struct {
	MinSamples       int                  `yaml:"min_samples"`
	HorizonDays      int                  `yaml:"horizon_days"`
	Monotonic        *bool                `yaml:"monotonic"`
	SigmaSchedule    []envelope.SigmaStop `yaml:"sigma_schedule"`
	ExtendLinearDays int                  `yaml:"extend_linear_days"`
	TrailingWindow   int                  `yaml:"trailing_window_days"`
}

// Smoother builds the smoother from config.
func (e EnvelopeConfig) Smoother() envelope.Smoother {
	s := envelope.DefaultSmoother()
	if e.HorizonDays > 0 {
		s.Horizon = e.HorizonDays
	}
	if e.Monotonic != nil {
		s.Monotonic = *e.Monotonic
	}
	if len(e.SigmaSchedule) > 0 {
		s.Schedule = e.SigmaSchedule
	}
	if e.ExtendLinearDays > 0 {
		s.ExtendLinearDays = e.ExtendLinearDays
	}
	if e.TrailingWindow > 0 {
		s.TrailingWindow = e.TrailingWindow
	}
	return s
}

// BaselineConfig configures the channel baseline estimator.
type BaselineConfig struct {
	Statistic       string  `yaml:"statistic"`
	TrimFraction    float64 `yaml:"trim_fraction"`
	EarlyWindowDays int     `yaml:"early_window_days"`
	MinVideos       int     `yaml:"min_videos"`
	ReferenceDay    int     `yaml:"reference_day"`
}

// EstimatorConfig builds the estimator config from yaml values.
func (b BaselineConfig) EstimatorConfig() baseline.Config {
	cfg := baseline.DefaultConfig()
	if b.Statistic != "" {
		cfg.Statistic = baseline.Statistic(b.Statistic)
	}
	if b.TrimFraction > 0 {
		cfg.TrimFraction = b.TrimFraction
	}
	if b.EarlyWindowDays > 0 {
		cfg.EarlyWindowDays = b.EarlyWindowDays
	}
	if b.MinVideos > 0 {
		cfg.MinVideos = b.MinVideos
	}
	return cfg
}

// ClassifyConfig configures the performance ratio cut points.
type ClassifyConfig struct {
	Thresholds classify.Thresholds `yaml:"thresholds"`
}

// ParsedThresholds returns thresholds with defaults applied.
func (c ClassifyConfig) ParsedThresholds() classify.Thresholds {
	th := c.Thresholds
	def := classify.DefaultThresholds()
	if th.Viral <= 0 {
		th.Viral = def.Viral
	}
	if th.Outperforming <= 0 {
		th.Outperforming = def.Outperforming
	}
	if th.OnTrack <= 0 {
		th.OnTrack = def.OnTrack
	}
	if th.Underperforming <= 0 {
		th.Underperforming = def.Underperforming
	}
	return th
}

// WriterConfig configures the throttled envelope writer.
type WriterConfig struct {
	BatchSize     int     `yaml:"batch_size"`
	RowsPerSecond float64 `yaml:"rows_per_second"`
}

// AdapterConfig configures snapshot reads.
type AdapterConfig struct {
	PageSize int `yaml:"page_size"`
}

// MetadataConfig configures channel discovery.
type MetadataConfig struct {
	APIKey   string   `yaml:"api_key"`
	Channels []string `yaml:"channels"`
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./viewcurve.db"},
		Schedule: ScheduleConfig{
			RecomputeInterval: "24h",
			BaselineInterval:  "6h",
		},
		Envelope: EnvelopeConfig{
			MinSamples:       10,
			HorizonDays:      3650,
			SigmaSchedule:    envelope.DefaultSigmaSchedule(),
			ExtendLinearDays: 90,
			TrailingWindow:   30,
		},
		Baseline: BaselineConfig{
			Statistic:       string(baseline.StatTrimmedMean),
			TrimFraction:    0.1,
			EarlyWindowDays: 7,
			MinVideos:       10,
			ReferenceDay:    1,
		},
		Classify: ClassifyConfig{Thresholds: classify.DefaultThresholds()},
		Writer: WriterConfig{
			BatchSize:     100,
			RowsPerSecond: 500,
		},
		Adapter: AdapterConfig{PageSize: 1000},
		Alerts:  AlertsConfig{},
		Server:  ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VIEWCURVE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		cfg.Metadata.APIKey = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
}
