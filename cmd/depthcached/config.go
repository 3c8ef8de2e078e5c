package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// NATSConfig configures the optional lifecycle-event broadcaster, grounded
// on the teacher's internal/config.NATSConfig shape.
type NATSConfig struct {
	URI     string `json:"uri"`
	Subject string `json:"subject"`
}

// Config is the top-level daemon configuration loaded from a JSON file.
type Config struct {
	Exchange string   `json:"exchange"`
	Markets  []string `json:"markets"`
	Port     string   `json:"port"`

	DefaultRefreshIntervalSeconds  int  `json:"default_refresh_interval_seconds"`
	InitIntervalMillis             int  `json:"init_interval_millis"`
	InitTimeWindowMillis           int  `json:"init_time_window_millis"`
	DepthCacheUpdateIntervalMillis int  `json:"depth_cache_update_interval_millis"`
	HighPerformance                bool `json:"high_performance"`

	MaxUsedWeight  int `json:"max_used_weight"`
	StreamCapacity int `json:"stream_capacity"`

	NATS *NATSConfig `json:"nats,omitempty"`
}

// LoadConfig loads and validates a Config from a JSON file.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path cannot be empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Exchange == "" {
		return fmt.Errorf("exchange cannot be empty")
	}
	if c.Exchange != "spot" && c.Exchange != "futures" {
		return fmt.Errorf("exchange must be \"spot\" or \"futures\", got %q", c.Exchange)
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("markets cannot be empty")
	}
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.NATS != nil {
		if c.NATS.URI == "" {
			return fmt.Errorf("nats.uri cannot be empty when nats is configured")
		}
		if c.NATS.Subject == "" {
			return fmt.Errorf("nats.subject cannot be empty when nats is configured")
		}
	}
	return nil
}

func (c *Config) refreshInterval() time.Duration {
	return time.Duration(c.DefaultRefreshIntervalSeconds) * time.Second
}

func (c *Config) initInterval() time.Duration {
	return time.Duration(c.InitIntervalMillis) * time.Millisecond
}

func (c *Config) initTimeWindow() time.Duration {
	return time.Duration(c.InitTimeWindowMillis) * time.Millisecond
}

func (c *Config) depthCacheUpdateInterval() time.Duration {
	return time.Duration(c.DepthCacheUpdateIntervalMillis) * time.Millisecond
}
