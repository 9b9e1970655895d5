package cache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentic-work/chatcore/cache"
)

func TestCacheableRejectsMutatingTools(t *testing.T) {
	require.False(t, cache.Cacheable("delete_resource", nil))
	require.False(t, cache.Cacheable("create_vm", nil))
}

func TestCacheableAcceptsReadTools(t *testing.T) {
	require.True(t, cache.Cacheable("list_subscriptions", nil))
	require.True(t, cache.Cacheable("describe_instance", nil))
}

func TestCacheableExecuteConditionalOnGet(t *testing.T) {
	require.True(t, cache.Cacheable("execute_http_request", map[string]any{"method": "GET"}))
	require.False(t, cache.Cacheable("execute_http_request", map[string]any{"method": "POST"}))
}

func TestCacheableExecuteCommandAlwaysRejected(t *testing.T) {
	require.False(t, cache.Cacheable("execute_command", map[string]any{"method": "GET"}))
}

func TestTTLSecondsByClass(t *testing.T) {
	require.Equal(t, 3600, cache.TTLSeconds("list_subscriptions"))
	require.Equal(t, 1800, cache.TTLSeconds("get_setting"))
	require.Equal(t, 300, cache.TTLSeconds("get_metric"))
	require.Equal(t, 600, cache.TTLSeconds("fetch_widget"))
}

func TestExactKeyStableUnderArgumentOrder(t *testing.T) {
	k1 := cache.ExactKey("list_subscriptions", "u1", map[string]any{"a": 1, "b": 2})
	k2 := cache.ExactKey("list_subscriptions", "u1", map[string]any{"b": 2, "a": 1})
	require.Equal(t, k1, k2)
}

func TestExactKeyVariesByUser(t *testing.T) {
	k1 := cache.ExactKey("list_subscriptions", "u1", map[string]any{"a": 1})
	k2 := cache.ExactKey("list_subscriptions", "u2", map[string]any{"a": 1})
	require.NotEqual(t, k1, k2)
}
