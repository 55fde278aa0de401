package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListen           = "127.0.0.1:7767"
	DefaultFastIntervalMs   = 1000
	DefaultSlowIntervalMs   = 10000
	DefaultFailureThreshold = 3
	DefaultDeviceTimeoutSec = 5
	DefaultJournalDir       = "data"
)

// Config holds the hub daemon settings.
type Config struct {
	Listen    string          `yaml:"listen"`
	Poll      PollConfig      `yaml:"poll"`
	Device    DeviceConfig    `yaml:"device"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Journal   JournalConfig   `yaml:"journal"`
	Speakers  []SpeakerConfig `yaml:"speakers"`
}

// PollConfig tunes the per-node refresh cycle.
type PollConfig struct {
	FastIntervalMs   int `yaml:"fast_interval_ms"`
	SlowIntervalMs   int `yaml:"slow_interval_ms"`
	FailureThreshold int `yaml:"failure_threshold"`
}

func (p PollConfig) FastInterval() time.Duration {
	return time.Duration(p.FastIntervalMs) * time.Millisecond
}

func (p PollConfig) SlowInterval() time.Duration {
	return time.Duration(p.SlowIntervalMs) * time.Millisecond
}

// DeviceConfig tunes the speaker HTTP client.
type DeviceConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

func (d DeviceConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSec) * time.Second
}

// DiscoveryConfig controls mDNS speaker discovery.
type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
	Domain  string `yaml:"domain"`
}

// JournalConfig controls the change journal outputs.
type JournalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Dir       string `yaml:"dir"`
	Outputs   string `yaml:"outputs"`
	QueueSize int    `yaml:"queue_size"`
}

// SpeakerConfig statically registers one speaker.
type SpeakerConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate performs minimal validation for required fields.
func Validate(cfg Config) error {
	if len(cfg.Speakers) == 0 && !cfg.Discovery.Enabled {
		return fmt.Errorf("config must list speakers or enable discovery")
	}
	seen := make(map[string]bool, len(cfg.Speakers))
	for i, sp := range cfg.Speakers {
		if sp.ID == "" {
			return fmt.Errorf("speakers[%d].id is required", i)
		}
		if sp.Address == "" {
			return fmt.Errorf("speaker %s: address is required", sp.ID)
		}
		if seen[sp.ID] {
			return fmt.Errorf("speaker id %s is duplicated", sp.ID)
		}
		seen[sp.ID] = true
	}
	if cfg.Poll.FastIntervalMs > cfg.Poll.SlowIntervalMs {
		return fmt.Errorf("poll.fast_interval_ms must not exceed poll.slow_interval_ms")
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Poll.FastIntervalMs == 0 {
		cfg.Poll.FastIntervalMs = DefaultFastIntervalMs
	}
	if cfg.Poll.SlowIntervalMs == 0 {
		cfg.Poll.SlowIntervalMs = DefaultSlowIntervalMs
	}
	if cfg.Poll.FailureThreshold == 0 {
		cfg.Poll.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Device.TimeoutSec == 0 {
		cfg.Device.TimeoutSec = DefaultDeviceTimeoutSec
	}
	if cfg.Journal.Enabled && cfg.Journal.Dir == "" {
		cfg.Journal.Dir = DefaultJournalDir
	}
	for i := range cfg.Speakers {
		if cfg.Speakers[i].Name == "" {
			cfg.Speakers[i].Name = cfg.Speakers[i].ID
		}
	}
}
