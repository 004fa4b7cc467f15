// Package config loads and validates cloner configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/site-cloner/internal/transform"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
	Render      RenderConfig      `mapstructure:"render"`
	Remote      RemoteConfig      `mapstructure:"remote"`
	Capture     CaptureConfig     `mapstructure:"capture"`
	Assets      AssetsConfig      `mapstructure:"assets"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Transform   TransformConfig   `mapstructure:"transform"`
	EventLog    EventLogConfig    `mapstructure:"eventlog"`
	Artifacts   ArtifactsConfig   `mapstructure:"artifacts"`
	DB          DBConfig          `mapstructure:"db"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
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

// JobsConfig sizes the worker pool and request limits.
type JobsConfig struct {
	Workers         int `mapstructure:"workers"`
	QueueDepth      int `mapstructure:"queue_depth"`
	MaxPagesDefault int `mapstructure:"max_pages_default"`
	MaxPagesLimit   int `mapstructure:"max_pages_limit"`
	TimeoutSec      int `mapstructure:"timeout_seconds"`
}

// RenderConfig configures the local headless browser.
type RenderConfig struct {
	MaxParallel      int    `mapstructure:"max_parallel"`
	UserAgent        string `mapstructure:"user_agent"`
	NavTimeoutSec    int    `mapstructure:"nav_timeout_seconds"`
	SettleMs         int    `mapstructure:"settle_ms"`
	ViewportWidth    int    `mapstructure:"viewport_width"`
	ViewportHeight   int    `mapstructure:"viewport_height"`
	MinContentLength int    `mapstructure:"min_content_length"`
	ExecPath         string `mapstructure:"exec_path"`
}

// RemoteConfig configures the hosted browser fallback.
type RemoteConfig struct {
	APIKey        string `mapstructure:"api_key"`
	BaseURL       string `mapstructure:"base_url"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
}

// CaptureConfig batches full-site captures.
type CaptureConfig struct {
	BatchSize    int `mapstructure:"batch_size"`
	BatchPauseMs int `mapstructure:"batch_pause_ms"`
}

// AssetsConfig configures asset downloads.
type AssetsConfig struct {
	TimeoutSec   int     `mapstructure:"timeout_seconds"`
	MaxBodyBytes int     `mapstructure:"max_body_bytes"`
	PerHostRPS   float64 `mapstructure:"per_host_rps"`
	PerHostBurst int     `mapstructure:"per_host_burst"`
	UserAgent    string  `mapstructure:"user_agent"`
}

// CoordinatorConfig paces the phases of a job.
type CoordinatorConfig struct {
	StepPauseMs int `mapstructure:"step_pause_ms"`
}

// TransformConfig selects the generative backend.
type TransformConfig struct {
	Provider     string                     `mapstructure:"provider"`
	BaseURL      string                     `mapstructure:"base_url"`
	APIKey       string                     `mapstructure:"api_key"`
	DefaultModel string                     `mapstructure:"default_model"`
	TimeoutSec   int                        `mapstructure:"timeout_seconds"`
	Models       map[string]transform.Model `mapstructure:"models"`
}

// EventLogConfig paces history replay.
type EventLogConfig struct {
	ReplayIntervalMs int `mapstructure:"replay_interval_ms"`
}

// ArtifactsConfig selects where finished archives are exported.
type ArtifactsConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the job-history database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig describes the trace provider resource.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Transform providers.
const (
	TransformPassthrough = "passthrough"
	TransformOpenAI      = "openai"
)

// Artifact providers.
const (
	ArtifactsNone   = "none"
	ArtifactsMemory = "memory"
	ArtifactsLocal  = "local"
	ArtifactsGCS    = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLONER")
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
	v.SetDefault("auth.enabled", false)
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("jobs.max_pages_default", 20)
	v.SetDefault("jobs.max_pages_limit", 100)
	v.SetDefault("jobs.timeout_seconds", 1800)
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("render.nav_timeout_seconds", 60)
	v.SetDefault("render.settle_ms", 5000)
	v.SetDefault("render.viewport_width", 1920)
	v.SetDefault("render.viewport_height", 1080)
	v.SetDefault("render.min_content_length", 200)
	v.SetDefault("remote.nav_timeout_seconds", 120)
	v.SetDefault("capture.batch_size", 3)
	v.SetDefault("capture.batch_pause_ms", 1000)
	v.SetDefault("assets.timeout_seconds", 30)
	v.SetDefault("assets.max_body_bytes", 20<<20)
	v.SetDefault("assets.per_host_rps", 8.0)
	v.SetDefault("assets.per_host_burst", 4)
	v.SetDefault("assets.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	v.SetDefault("coordinator.step_pause_ms", 500)
	v.SetDefault("transform.provider", TransformPassthrough)
	v.SetDefault("transform.default_model", "agentic")
	v.SetDefault("transform.timeout_seconds", 120)
	v.SetDefault("eventlog.replay_interval_ms", 10)
	v.SetDefault("artifacts.provider", ArtifactsMemory)
	v.SetDefault("artifacts.prefix", "clones")
	v.SetDefault("db.table", "clone_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.service_name", "site-cloner")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.Jobs.Workers <= 0 {
		errs = append(errs, errors.New("jobs.workers must be > 0"))
	}
	if c.Jobs.QueueDepth < 0 {
		errs = append(errs, errors.New("jobs.queue_depth must be >= 0"))
	}
	if c.Jobs.MaxPagesLimit <= 0 {
		errs = append(errs, errors.New("jobs.max_pages_limit must be > 0"))
	}
	if c.Jobs.MaxPagesDefault <= 0 || c.Jobs.MaxPagesDefault > c.Jobs.MaxPagesLimit {
		errs = append(errs, errors.New("jobs.max_pages_default must be within 1..jobs.max_pages_limit"))
	}
	if c.Jobs.TimeoutSec < 0 {
		errs = append(errs, errors.New("jobs.timeout_seconds must be >= 0"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("telemetry.sample_ratio must be within 0..1"))
	}
	if c.Render.MaxParallel <= 0 {
		errs = append(errs, errors.New("render.max_parallel must be > 0"))
	}
	if c.Render.NavTimeoutSec <= 0 {
		errs = append(errs, errors.New("render.nav_timeout_seconds must be > 0"))
	}
	if c.Assets.TimeoutSec <= 0 {
		errs = append(errs, errors.New("assets.timeout_seconds must be > 0"))
	}
	if c.Capture.BatchSize <= 0 {
		errs = append(errs, errors.New("capture.batch_size must be > 0"))
	}
	switch c.Transform.Provider {
	case TransformPassthrough:
	case TransformOpenAI:
		if c.Transform.BaseURL == "" {
			errs = append(errs, errors.New("transform.base_url must be set for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("transform.provider %q is not supported", c.Transform.Provider))
	}
	if _, err := transform.NewRegistry(c.Transform.Models).Lookup(c.Transform.DefaultModel); err != nil {
		errs = append(errs, fmt.Errorf("transform.default_model: %w", err))
	}
	switch c.Artifacts.Provider {
	case ArtifactsNone, ArtifactsMemory:
	case ArtifactsLocal:
		if c.Artifacts.BaseDir == "" {
			errs = append(errs, errors.New("artifacts.base_dir must be set for the local provider"))
		}
	case ArtifactsGCS:
		if c.Artifacts.GCSBucket == "" {
			errs = append(errs, errors.New("artifacts.gcs_bucket must be set for the gcs provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("artifacts.provider %q is not supported", c.Artifacts.Provider))
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id must be set when pubsub.topic_name is set"))
	}
	return errors.Join(errs...)
}

// JobTimeout bounds a whole clone job; zero means unbounded.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.TimeoutSec) * time.Second
}

// RenderNavTimeout is the local browser navigation budget.
func (c Config) RenderNavTimeout() time.Duration {
	return time.Duration(c.Render.NavTimeoutSec) * time.Second
}

// RemoteNavTimeout is the hosted browser navigation budget.
func (c Config) RemoteNavTimeout() time.Duration {
	return time.Duration(c.Remote.NavTimeoutSec) * time.Second
}

// AssetTimeout bounds one asset download.
func (c Config) AssetTimeout() time.Duration {
	return time.Duration(c.Assets.TimeoutSec) * time.Second
}

// TransformTimeout bounds one generative call.
func (c Config) TransformTimeout() time.Duration {
	return time.Duration(c.Transform.TimeoutSec) * time.Second
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// SettleDelay is the post-load wait before capture.
func (c Config) SettleDelay() time.Duration { return millis(c.Render.SettleMs) }

// BatchPause is the pause between capture batches.
func (c Config) BatchPause() time.Duration { return millis(c.Capture.BatchPauseMs) }

// StepPause is the pause between pipeline phases.
func (c Config) StepPause() time.Duration { return millis(c.Coordinator.StepPauseMs) }

// ReplayInterval paces event log history replay.
func (c Config) ReplayInterval() time.Duration { return millis(c.EventLog.ReplayIntervalMs) }
