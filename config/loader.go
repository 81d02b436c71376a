package config

// loader.go - configuration loading from a YAML file and the
// environment.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (PTYD_*)
//   3. Config file  (--config / PTYD_CONFIG)
//   4. Defaults   (defaults.go)

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "PTYD"

// Load overlays the config file (if path is set) and then the
// environment onto cfg.
func Load(cfg *Config, path string) error {
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return err
		}
		cfg.ConfigFile = path
	}
	return LoadFromEnv(cfg)
}

// LoadFile overlays a YAML file onto cfg.  Keys absent from the file
// keep their current value; unknown keys are an error.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv overlays PTYD_* environment variables onto cfg.  Only
// variables that are set override the existing value.  This should be
// called BEFORE CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	return nil
}
