package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmpty is returned for a document with no top-level keys.
var ErrEmpty = errors.New("empty config document")

// FromFiles loads each file and layers them in order: a later file's keys
// override an earlier one's, merging nested maps key by key. Lists and
// scalars are replaced whole. This lets a site file add or adjust
// collections on top of a shared catalog.
func FromFiles(paths ...string) (Config, error) {
	merged := make(map[string]any)
	for _, path := range paths {
		cfg, err := FromFile(path)
		if err != nil {
			return Config{}, err
		}
		overlay(merged, cfg.data)
	}
	return New(merged), nil
}

// FromFile loads a document, picking the format from the extension
// (.yaml, .yml or .json).
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		cfg, err = FromYAML(data)
	case ".json":
		cfg, err = FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// FromYAML parses a YAML mapping.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	if len(m) == 0 {
		return Config{}, ErrEmpty
	}
	return New(m), nil
}

// FromJSON parses a JSON object. Numbers decode as float64.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	if len(m) == 0 {
		return Config{}, ErrEmpty
	}
	return New(m), nil
}

// overlay merges src into dst in place.
func overlay(dst, src map[string]any) {
	for k, v := range src {
		sm, srcIsMap := asMap(v)
		dm, dstIsMap := asMap(dst[k])
		if srcIsMap && dstIsMap {
			merged := maps.Clone(dm)
			overlay(merged, sm)
			dst[k] = merged
			continue
		}
		dst[k] = v
	}
}
