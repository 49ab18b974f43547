package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "gemini"
	}
	if cfg.Provider.Timeout == "" {
		cfg.Provider.Timeout = "120s"
	}
	if cfg.Generation.Kind == "" {
		cfg.Generation.Kind = "image"
	}
	if len(cfg.Generation.RetryDelays) == 0 {
		cfg.Generation.RetryDelays = []string{"5s", "10s", "20s"}
	}
	if cfg.Generation.PollInterval == "" {
		cfg.Generation.PollInterval = "10s"
	}
	if cfg.Generation.MaxPolls == 0 {
		cfg.Generation.MaxPolls = 60
	}
	if cfg.Generation.Cooldown == "" {
		cfg.Generation.Cooldown = "30s"
	}
	if cfg.Batch.OutputDir == "" {
		cfg.Batch.OutputDir = "output"
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func parseDurations(cfg *AppConfig) error {
	var err error
	if cfg.Provider.TimeoutValue, err = time.ParseDuration(cfg.Provider.Timeout); err != nil {
		return fmt.Errorf("invalid provider.timeout: %w", err)
	}
	if cfg.Generation.PollIntervalValue, err = time.ParseDuration(cfg.Generation.PollInterval); err != nil {
		return fmt.Errorf("invalid generation.poll_interval: %w", err)
	}
	if cfg.Generation.CooldownValue, err = time.ParseDuration(cfg.Generation.Cooldown); err != nil {
		return fmt.Errorf("invalid generation.cooldown: %w", err)
	}
	cfg.Generation.RetryDelayValues = make([]time.Duration, 0, len(cfg.Generation.RetryDelays))
	for _, s := range cfg.Generation.RetryDelays {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid generation.retry_delays entry %q: %w", s, err)
		}
		cfg.Generation.RetryDelayValues = append(cfg.Generation.RetryDelayValues, d)
	}
	return nil
}

func validate(cfg *AppConfig) error {
	switch cfg.Generation.Kind {
	case "image", "video":
	default:
		return fmt.Errorf("generation.kind must be image or video, got %q", cfg.Generation.Kind)
	}
	if cfg.Generation.Model == "" {
		return fmt.Errorf("generation.model is required")
	}
	if cfg.Batch.PromptsFile == "" && cfg.Batch.Prompt == "" {
		return fmt.Errorf("either batch.prompts_file or batch.prompt is required")
	}
	return nil
}
