package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// ExactKey builds the layer-1 cache key "tool:<name>:<userId>:<argsHash>".
func ExactKey(toolName, userID string, arguments map[string]any) string {
	return "tool:" + toolName + ":" + userID + ":" + argsHash(arguments)
}

// argsHash returns the first 16 hex characters of the SHA-256 digest of the
// canonical JSON encoding of arguments (object keys sorted recursively), so
// argument order never affects the cache key.
func argsHash(arguments map[string]any) string {
	canonical := canonicalize(arguments)
	raw, _ := json.Marshal(canonical)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

// canonicalize rebuilds map[string]any and []any values recursively, leaving
// every other value as is. Key order in the output comes from encoding/json,
// which sorts map[string] keys on marshal; other map types are not
// normalized.
func canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = canonicalize(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = canonicalize(item)
		}
		return out
	default:
		return val
	}
}
