// Package cache implements the two-tier tool-result cache: an exact,
// per-user, hash-keyed layer for fast repeat lookups, and a semantic,
// cross-user, embedding-keyed layer gated by resource-scope RBAC.
package cache

import "strings"

// nonCacheablePatterns never cache, regardless of arguments: these tools
// mutate state, so a cached response would mask the mutation's effect.
var nonCacheablePatterns = []string{
	"create", "delete", "update", "modify", "put", "post",
	"remove", "start", "stop", "restart", "deploy", "execute_command",
}

// cacheableHints suggest a read-only tool when no non-cacheable pattern matched.
var cacheableHints = []string{
	"list", "get", "fetch", "search", "query", "describe",
}

// Cacheable reports whether a tool call may be served from, or written to,
// the cache. toolName is matched case-insensitively against known
// mutation/read patterns; a generic "execute" tool is conditionally
// cacheable when its arguments specify an HTTP GET method.
func Cacheable(toolName string, arguments map[string]any) bool {
	lower := strings.ToLower(toolName)
	for _, pattern := range nonCacheablePatterns {
		if strings.Contains(lower, pattern) {
			return false
		}
	}
	if strings.Contains(lower, "execute") {
		method, _ := arguments["method"].(string)
		return strings.EqualFold(method, "GET")
	}
	for _, hint := range cacheableHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// Class buckets a tool name for TTL assignment.
type Class int

const (
	classDefault Class = iota
	classStatic
	classSemiStatic
	classDynamic
)

var staticPatterns = []string{"subscription", "account", "resource-group", "resource_group"}
var semiStaticPatterns = []string{"list", "config", "setting"}
var dynamicPatterns = []string{"cost", "metric", "status", "health"}

func classify(toolName string) Class {
	lower := strings.ToLower(toolName)
	for _, p := range staticPatterns {
		if strings.Contains(lower, p) {
			return classStatic
		}
	}
	for _, p := range semiStaticPatterns {
		if strings.Contains(lower, p) {
			return classSemiStatic
		}
	}
	for _, p := range dynamicPatterns {
		if strings.Contains(lower, p) {
			return classDynamic
		}
	}
	return classDefault
}

// TTLSeconds returns the cache lifetime, in seconds, for toolName.
func TTLSeconds(toolName string) int {
	switch classify(toolName) {
	case classStatic:
		return 3600
	case classSemiStatic:
		return 1800
	case classDynamic:
		return 300
	default:
		return 600
	}
}
