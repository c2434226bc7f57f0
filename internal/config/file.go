package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ApplyFile overlays the YAML document at path onto cfg. Keys absent from
// the file keep their current values. Unknown keys are an error.
func ApplyFile(cfg Config, path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	return ApplyYAML(cfg, data)
}

// ApplyYAML overlays a YAML document onto cfg.
func ApplyYAML(cfg Config, data []byte) (Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Load builds the configuration from defaults, the environment and, when
// path is non-empty, a YAML file. The result is not validated.
func Load(path string) (Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return cfg, err
	}
	if path == "" {
		return cfg, nil
	}
	return ApplyFile(cfg, path)
}
