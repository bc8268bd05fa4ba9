package domain

import (
	"encoding/json"
	"math"
	"strings"
)

const (
	MaxMetadataKeys         = 16
	MaxMetadataKeyLength    = 64
	MaxMetadataStringLength = 256
)

// Metadata is the audit payload attached to a granted use. Values are
// restricted to nil, string, bool, int64 and float64.
type Metadata map[string]any

// NormalizeMetadata validates raw and converts numeric values to int64 or
// float64. A nil or empty map yields nil.
func NormalizeMetadata(raw map[string]any) (Metadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw) > MaxMetadataKeys {
		return nil, ErrInvalidMetadata
	}

	out := make(Metadata, len(raw))
	for key, value := range raw {
		key = strings.TrimSpace(key)
		if key == "" || len(key) > MaxMetadataKeyLength {
			return nil, ErrInvalidMetadata
		}
		if _, dup := out[key]; dup {
			return nil, ErrInvalidMetadata
		}
		normalized, ok := normalizeValue(value)
		if !ok {
			return nil, ErrInvalidMetadata
		}
		out[key] = normalized
	}
	return out, nil
}

func normalizeValue(value any) (any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, true
	case string:
		return v, len(v) <= MaxMetadataStringLength
	case bool:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float32:
		return finite(float64(v))
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return int64(v), true
		}
		return finite(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		f, err := v.Float64()
		if err != nil {
			return nil, false
		}
		return finite(f)
	default:
		return nil, false
	}
}

func finite(f float64) (any, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return f, true
}
