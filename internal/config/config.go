// Package config loads Sokoni Core configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sokoniapp/sokoni-core/internal/logging"
)

// Config holds all runtime configuration for the client core.
type Config struct {
	// DataDir is where the local sqlite database lives.
	DataDir string `mapstructure:"data_dir"`

	// Endpoint is the remote message-ingestion URL the queue drains into.
	Endpoint string `mapstructure:"endpoint"`

	Queue   QueueConfig   `mapstructure:"queue"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Network NetworkConfig `mapstructure:"network"`

	// WSAddr is the local address the UI event bridge listens on.
	WSAddr string `mapstructure:"ws_addr"`

	Log logging.Config `mapstructure:"log"`
}

// QueueConfig holds outbound queue configuration.
type QueueConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	AutoSync        bool          `mapstructure:"auto_sync"`
}

// CacheConfig holds durable cache configuration.
type CacheConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// NetworkConfig holds speed sampler configuration.
type NetworkConfig struct {
	ProbeURL       string        `mapstructure:"probe_url"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	HistorySize    int           `mapstructure:"history_size"`
	AverageWindow  int           `mapstructure:"average_window"`
}

// Load reads configuration from the given directory (sokoni.yaml) with
// environment variable overrides (SOKONI_QUEUE_MAX_RETRIES and so on).
// A missing config file is not an error; defaults and env vars apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("sokoni")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("SOKONI")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("endpoint", "")
	v.SetDefault("ws_addr", "localhost:8091")

	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.delivery_timeout", 30*time.Second)
	v.SetDefault("queue.auto_sync", true)

	v.SetDefault("cache.sweep_interval", time.Hour)

	v.SetDefault("network.probe_url", "")
	v.SetDefault("network.probe_timeout", 10*time.Second)
	v.SetDefault("network.sample_interval", 30*time.Second)
	v.SetDefault("network.history_size", 10)
	v.SetDefault("network.average_window", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "sokoni-core")
}
