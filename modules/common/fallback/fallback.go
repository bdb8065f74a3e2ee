package fallback

import (
	"encoding/json"
	"strconv"
	"strings"
)

// SafeString returns a trimmed string or the provided fallback.
func SafeString(value interface{}, fallback string) string {
	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if s != "" {
			return s
		}
	}
	return fallback
}

// SafeFloat converts common number shapes into float64 with a fallback.
func SafeFloat(value interface{}, fallback float64) float64 {
	switch v := value.(type) {
	case float64:
		if v > 0 {
			return v
		}
	case float32:
		if v > 0 {
			return float64(v)
		}
	case int:
		if v > 0 {
			return float64(v)
		}
	case json.Number:
		if n, err := v.Float64(); err == nil && n > 0 {
			return n
		}
	case string:
		trimmed := strings.TrimSuffix(strings.TrimSpace(v), "s")
		if n, err := strconv.ParseFloat(trimmed, 64); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// SafeStrings collects the non-empty strings of a loosely typed list.
func SafeStrings(value interface{}) []string {
	out := []string{}
	switch v := value.(type) {
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []interface{}:
		for _, item := range v {
			if s := SafeString(item, ""); s != "" {
				out = append(out, s)
			}
		}
	case string:
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SceneName picks the generated name for a scene, or the raw scene id.
func SceneName(names map[string]string, sceneID string) string {
	if names == nil {
		return sceneID
	}
	return SafeString(names[sceneID], sceneID)
}
