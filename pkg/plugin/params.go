package plugin

import (
	"fmt"
	"os"
	"time"
)

// Params reads typed values out of a factory configuration map. Values may
// come from YAML, so numbers arrive as int or float64.
type Params map[string]any

// String returns cfg[key] or def.
func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Secret returns cfg[key], then the env variable, then an error naming both.
func (p Params) Secret(key, env string) (string, error) {
	if v := p.String(key, ""); v != "" {
		return v, nil
	}
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%s is required (set %s or provide %s in config)", key, env, key)
}

// Float returns cfg[key] as float64 or def.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// Int returns cfg[key] as int or def.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Bool returns cfg[key] or def.
func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// Duration accepts a Go duration string or a number of milliseconds.
func (p Params) Duration(key string, def time.Duration) time.Duration {
	switch v := p[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case time.Duration:
		return v
	case int, int64, float64:
		return time.Duration(p.Float(key, 0) * float64(time.Millisecond))
	}
	return def
}

// Strings returns a string list from []string or []any.
func (p Params) Strings(key string, def []string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return def
}
