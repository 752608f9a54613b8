package utils

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ToStringSlice keeps the non-empty strings of a decoded JSON array and
// returns nil when none remain.
func ToStringSlice(values []any) []string {
	var out []string
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ToInt64 converts a loosely-typed numeric claim. JSON numbers arrive as
// float64 or json.Number depending on the decoder.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

// ToBool accepts the shapes a backend has been seen to send for flags:
// booleans, "true"/"false" strings and 0/1 numbers.
func ToBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, false
		}
		return parsed, true
	case float64:
		return b != 0, true
	case json.Number:
		f, err := b.Float64()
		if err != nil {
			return false, false
		}
		return f != 0, true
	}
	return false, false
}
