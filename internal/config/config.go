// Package config loads ptyhubd's YAML configuration file and layers
// environment variable overrides on top of it, in the same style the
// teacher's wing.yaml loader uses for its own settings file. Flag
// overrides are applied afterwards by cmd/ptyhubd.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the server's full configuration surface, covering every
// entry in the configuration surface table plus the HTTP bind address
// and log settings.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	MaxSessions           int    `yaml:"max_sessions"`
	InactivityTimeoutSec  int    `yaml:"inactivity_timeout_sec"`
	SweepIntervalSec      int    `yaml:"sweep_interval_sec"`
	PollIntervalMs        int    `yaml:"poll_interval_ms"`
	ReadChunkBytes        int    `yaml:"read_chunk_bytes"`
	DimensionMax          int    `yaml:"dimension_max"`
	Namespace             string `yaml:"namespace"`

	ScrollbackBytes int `yaml:"scrollback_bytes"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Default returns the configuration surface's documented defaults.
func Default() *Config {
	return &Config{
		Host:                 "127.0.0.1",
		Port:                 0,
		MaxSessions:          20,
		InactivityTimeoutSec: 3600,
		SweepIntervalSec:     60,
		PollIntervalMs:       10,
		ReadChunkBytes:       20_480,
		DimensionMax:         10_000,
		Namespace:            "/pty",
		ScrollbackBytes:      64 * 1024,
		LogLevel:             "info",
	}
}

// Load reads a YAML config file at path (if present; a missing file is
// not an error, defaults apply) and layers PTYHUB_*-prefixed environment
// variables on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PTYHUB_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PTYHUB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("PTYHUB_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSessions = n
		}
	}
	if v := os.Getenv("PTYHUB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// DefaultConfigPath returns ~/.ptyhub/config.yaml, honoring PTYHUB_CONFIG
// when set.
func DefaultConfigPath() string {
	if v := os.Getenv("PTYHUB_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ptyhub", "config.yaml")
}
