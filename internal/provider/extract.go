package provider

import (
	"strconv"
	"strings"
)

// ExtractValue normalizes a stat value from a decoded provider payload.
//
// BallDontLie returns flat numbers, but some counters arrive as numeric
// strings and a few feeds wrap aggregates as {"total": n}. This handles all
// three, returning ok=false when the value is not a number.
func ExtractValue(val any) (float64, bool) {
	if val == nil {
		return 0, false
	}

	switch v := val.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
		return 0, false
	case map[string]any:
		for _, key := range []string{"total", "value"} {
			if inner, exists := v[key]; exists && inner != nil {
				return ExtractValue(inner)
			}
		}
		return 0, false
	default:
		return 0, false
	}
}

// identityFields never count as stats even though they are numeric.
var identityFields = map[string]bool{
	"id":            true,
	"season":        true,
	"week":          true,
	"postseason":    true,
	"jersey_number": true,
}

// NumericFields returns every top-level numeric stat of item. Identifiers,
// nested entity objects and non-numeric values are ignored.
func NumericFields(item map[string]any) map[string]float64 {
	out := make(map[string]float64, len(item))
	for key, val := range item {
		if identityFields[key] || strings.HasSuffix(key, "_id") {
			continue
		}
		if m, ok := val.(map[string]any); ok {
			if _, isRef := m["id"]; isRef {
				continue
			}
		}
		if f, ok := ExtractValue(val); ok {
			out[key] = f
		}
	}
	return out
}
