package config

import (
	"fmt"
	"strings"
)

// Validate checks the constraints the pipeline relies on, walking nested
// maps. Key names are matched by suffix so provider-prefixed keys
// ("tracker.max-retries") validate the same as bare ones.
func Validate(m map[string]any) error {
	return validate("", m)
}

func validate(prefix string, m map[string]any) error {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			if err := validate(path, nested); err != nil {
				return err
			}
			continue
		}
		if err := checkKey(path, strings.TrimSuffix(k, appendSuffix), v); err != nil {
			return err
		}
	}
	return nil
}

func checkKey(path, key string, v any) error {
	switch {
	case strings.HasSuffix(key, "probability"):
		p, ok := toFloat(v)
		if !ok || p < 0 || p > 1 {
			return fmt.Errorf("%s: probability must be in [0,1], got %v", path, v)
		}
	case strings.HasSuffix(key, "duration") || strings.HasSuffix(key, "timeout") || strings.HasSuffix(key, "interval"):
		d, ok := toFloat(v)
		if !ok || d <= 0 {
			return fmt.Errorf("%s: duration must be > 0, got %v", path, v)
		}
	case strings.HasSuffix(key, "retries"):
		n, ok := toFloat(v)
		if !ok || n < 0 {
			return fmt.Errorf("%s: retries must be >= 0, got %v", path, v)
		}
	case strings.HasSuffix(key, "backoff-multiplier"):
		m, ok := toFloat(v)
		if !ok || m < 1 {
			return fmt.Errorf("%s: backoff-multiplier must be >= 1, got %v", path, v)
		}
	case key == "sources":
		list, ok := v.([]any)
		if !ok || len(list) == 0 {
			return fmt.Errorf("%s: sources must be a non-empty list", path)
		}
	case strings.HasSuffix(key, "wrapper-depth-limit"):
		n, ok := toFloat(v)
		if !ok || n < 0 {
			return fmt.Errorf("%s: wrapper-depth-limit must be >= 0, got %v", path, v)
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	}
	return 0, false
}
