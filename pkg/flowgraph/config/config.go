package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a read-only view over a decoded YAML or JSON document.
//
// Keys are dotted paths into nested maps: "collections.sales.description".
// Accessors return the supplied default when the path is missing or holds a
// value of the wrong type.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map. A nil map yields an empty Config.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// lookup walks a dotted path. Each segment but the last must be a map.
func (c Config) lookup(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = c.data
	for seg := range strings.SplitSeq(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// asMap accepts both string-keyed maps and the any-keyed maps some YAML
// documents decode to.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

// String returns the string at path, or defaultVal.
func (c Config) String(path, defaultVal string) string {
	if s, ok := c.get(path).(string); ok {
		return s
	}
	return defaultVal
}

func (c Config) get(path string) any {
	v, _ := c.lookup(path)
	return v
}

// Duration returns the duration at path, or defaultVal.
//
// Strings are parsed with time.ParseDuration; numbers are seconds.
func (c Config) Duration(path string, defaultVal time.Duration) time.Duration {
	switch val := c.get(path).(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Second))
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case time.Duration:
		return val
	}
	return defaultVal
}

// Bool returns the boolean at path, or defaultVal.
func (c Config) Bool(path string, defaultVal bool) bool {
	if b, ok := c.get(path).(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer at path, or defaultVal. A float converts only
// when it has no fractional part.
func (c Config) Int(path string, defaultVal int) int {
	switch val := c.get(path).(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return defaultVal
}

// Float returns the number at path as float64, or defaultVal.
func (c Config) Float(path string, defaultVal float64) float64 {
	switch val := c.get(path).(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	}
	return defaultVal
}

// StringSlice returns the string list at path, or defaultVal if any
// element is not a string.
func (c Config) StringSlice(path string, defaultVal []string) []string {
	switch val := c.get(path).(type) {
	case []string:
		return val
	case []any:
		result := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return defaultVal
			}
			result = append(result, s)
		}
		return result
	}
	return defaultVal
}

// StringMap returns the map at path with every string value kept.
// Non-string values are skipped. Missing paths yield nil.
func (c Config) StringMap(path string) map[string]string {
	m, ok := asMap(c.get(path))
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Sub returns the nested section at path. A missing or non-map path
// yields an empty Config.
func (c Config) Sub(path string) Config {
	m, _ := asMap(c.get(path))
	return New(m)
}

// List returns every map element of the list at path as a Config.
// Scalar elements are skipped.
func (c Config) List(path string) []Config {
	items, ok := c.get(path).([]any)
	if !ok {
		return nil
	}
	out := make([]Config, 0, len(items))
	for _, item := range items {
		if m, ok := asMap(item); ok {
			out = append(out, New(m))
		}
	}
	return out
}

// Decode converts the value at path into out by re-encoding it through
// YAML. An empty path decodes the whole document.
func (c Config) Decode(path string, out any) error {
	var v any = c.data
	if path != "" {
		var ok bool
		if v, ok = c.lookup(path); !ok {
			return fmt.Errorf("decode %s: key not found", path)
		}
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Any returns the raw value at path, or defaultVal.
func (c Config) Any(path string, defaultVal any) any {
	if v, ok := c.lookup(path); ok {
		return v
	}
	return defaultVal
}

// Has reports whether path exists.
func (c Config) Has(path string) bool {
	_, ok := c.lookup(path)
	return ok
}

// Keys returns the top-level keys in sorted order.
func (c Config) Keys() []string {
	return slices.Sorted(maps.Keys(c.data))
}

// Raw returns the underlying map. Callers must not modify it.
func (c Config) Raw() map[string]any {
	return c.data
}
