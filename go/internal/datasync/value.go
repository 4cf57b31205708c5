package datasync

import (
	"fmt"
	"reflect"
)

// Document is a flat JSON-compatible map. Values are primitives, []any
// slices, nested Documents, or Child references installed by a Holder.
type Document = map[string]any

// removedKey is reserved: a one-key document {"__removed": true} inside
// a diff always means removal, never a stored value.
const removedKey = "__removed"

type removedMarker struct{}

func (removedMarker) MarshalJSON() ([]byte, error) {
	return []byte(`{"` + removedKey + `":true}`), nil
}

// Removed marks a key as removed inside a sparse diff. It marshals as a
// one-key document so removals survive the JSON wire format; a literal
// nil in a diff is an ordinary null value.
var Removed any = removedMarker{}

// IsRemoved reports whether a diff value is the removal marker, either
// in its native form or after a round trip through JSON.
func IsRemoved(v any) bool {
	switch val := v.(type) {
	case removedMarker:
		return true
	case Document:
		flag, ok := val[removedKey].(bool)
		return ok && flag && len(val) == 1
	}
	return false
}

// validateValue rejects shapes that cannot round-trip through the wire
// protocol. Child references are allowed because Apply installs them
// into the current view.
func validateValue(key string, value any) error {
	switch value.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return nil
	case Document:
		return nil
	case []any:
		return nil
	case Child:
		return nil
	}
	// Typed slices ([]string, []int, ...) marshal fine.
	if rv := reflect.ValueOf(value); rv.Kind() == reflect.Slice {
		return nil
	}
	return fmt.Errorf("datasync: unsupported value of type %T for key %q", value, key)
}

// cloneValue deep-copies documents and slices so the staged and current
// views never alias each other. Child references are never cloned.
func cloneValue(value any) any {
	switch v := value.(type) {
	case Document:
		out := make(Document, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return value
	}
}

// equalValue is deep structural equality for plain values.
func equalValue(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
