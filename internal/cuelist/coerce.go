/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cuelist

// Coercion helpers for the map-based serialization layer. JSON decoding
// yields float64 for every number while YAML yields int for whole
// numbers, so every numeric read goes through asFloat/asInt.

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	default:
		return 0, false
	}
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func floatOr(data map[string]any, key string, fallback float64) float64 {
	if v, ok := asFloat(data[key]); ok {
		return v
	}
	return fallback
}

func boolOr(data map[string]any, key string, fallback bool) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return fallback
}

func optionalFloat(data map[string]any, key string) *float64 {
	if v, ok := asFloat(data[key]); ok {
		return &v
	}
	return nil
}

func optionalInt(data map[string]any, key string) *int {
	if v, ok := asInt(data[key]); ok {
		return &v
	}
	return nil
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
