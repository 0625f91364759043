// Package config loads service configuration from config.yaml overlaid by
// XRAY_-prefixed environment variables.
package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Storage  StorageConfig  `koanf:"storage"`
	Limits   LimitsConfig   `koanf:"limits"`
	Sampling SamplingConfig `koanf:"sampling"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// LimitsConfig bounds a single step submission.
type LimitsConfig struct {
	MaxDecisionsPerStep int `koanf:"max_decisions_per_step"`
	MaxEvidencePerStep  int `koanf:"max_evidence_per_step"`
}

// SamplingConfig tunes the decision sampler.
type SamplingConfig struct {
	Threshold int `koanf:"threshold"`
	PerReason int `koanf:"per_reason"`
}

// Load reads config.yaml (when present) and the environment.
// Environment keys use double underscores as separators, e.g.
// XRAY_SERVER__PORT=9000, XRAY_SAMPLING__THRESHOLD=200.
func Load() (*Config, error) {
	return LoadFile("config.yaml")
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Environment variables override file config
	if err := k.Load(env.Provider("XRAY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "XRAY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	defaults := map[string]any{
		"server.port":                   8090,
		"storage.type":                  "sqlite",
		"storage.sqlite.path":           "./data/xray.db",
		"limits.max_decisions_per_step": 100000,
		"limits.max_evidence_per_step":  1000,
		"sampling.threshold":            500,
		"sampling.per_reason":           50,
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
