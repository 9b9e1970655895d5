package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentic-work/chatcore/config"
)

func TestLoadFailsWithoutDefaultChatModel(t *testing.T) {
	os.Unsetenv("DEFAULT_CHAT_MODEL")
	_, err := config.Load("")
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("DEFAULT_CHAT_MODEL", "claude-sonnet-4")
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, 127, cfg.ToolLimit)
	require.Equal(t, 8, cfg.MaxToolRounds)
	require.InDelta(t, 0.9, cfg.SemanticCacheSimilarityMin, 0.0001)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("DEFAULT_CHAT_MODEL", "claude-sonnet-4")
	t.Setenv("TOOL_LIMIT", "64")
	t.Setenv("VISION_CAPABLE_MODELS", "gpt-4o, claude-opus-4-vision")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, 64, cfg.ToolLimit)
	require.Equal(t, []string{"gpt-4o", "claude-opus-4-vision"}, cfg.VisionCapableModels)
}

func TestVisionCapableSetBuildsLookup(t *testing.T) {
	cfg := config.Config{VisionCapableModels: []string{"gpt-4o"}}
	set := cfg.VisionCapableSet()
	require.True(t, set["gpt-4o"])
	require.False(t, set["claude-opus-4"])
}
