package config

import (
	"time"

	redisclient "github.com/vietddude/genflow/internal/infra/redis"
	"github.com/vietddude/genflow/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Provider   ProviderConfig     `yaml:"provider"`
	Generation GenerationConfig   `yaml:"generation"`
	Batch      BatchConfig        `yaml:"batch"`
	Redis      redisclient.Config `yaml:"redis"`
	Logging    LoggingConfig      `yaml:"logging"`
	Database   postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ProviderConfig holds settings for the generation provider.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"` // env var holding the API key
	Timeout   string `yaml:"timeout"`     // per-request HTTP timeout

	TimeoutValue time.Duration `yaml:"-"`
}

// GenerationConfig holds the generation pipeline settings. Durations are
// declared as strings ("10s", "1m") and parsed during Load.
type GenerationConfig struct {
	Kind           string   `yaml:"kind"` // image, video
	Model          string   `yaml:"model"`
	FallbackModels []string `yaml:"fallback_models"`
	RetryDelays    []string `yaml:"retry_delays"`
	PollInterval   string   `yaml:"poll_interval"`
	MaxPolls       int      `yaml:"max_polls"`
	Cooldown       string   `yaml:"cooldown"` // wait between batch items
	AspectRatio    string   `yaml:"aspect_ratio"`
	Resolution     string   `yaml:"resolution"`

	RetryDelayValues  []time.Duration `yaml:"-"`
	PollIntervalValue time.Duration   `yaml:"-"`
	CooldownValue     time.Duration   `yaml:"-"`
}

// BatchConfig describes how a batch is assembled from disk.
type BatchConfig struct {
	Name              string `yaml:"name"`
	AssetsDir         string `yaml:"assets_dir"`
	PromptsFile       string `yaml:"prompts_file"` // one prompt per line, paired with assets in order
	Prompt            string `yaml:"prompt"`       // shared prompt when prompts_file is empty
	OutputDir         string `yaml:"output_dir"`
	MaxAssetDimension int    `yaml:"max_asset_dimension"`
	AssetQuality      int    `yaml:"asset_quality"`
}
