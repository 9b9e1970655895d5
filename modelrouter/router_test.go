package modelrouter_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentic-work/chatcore/model"
	"github.com/agentic-work/chatcore/modelrouter"
	"github.com/agentic-work/chatcore/pipelineerr"
)

type fakeAnalyzer struct {
	model string
	ok    bool
}

func (f fakeAnalyzer) Suggest(context.Context, string) (string, bool) {
	return f.model, f.ok
}

func TestRouteExplicitModelWins(t *testing.T) {
	r := &modelrouter.Router{Analyzer: fakeAnalyzer{model: "gpt-5", ok: true}}
	dec, err := r.Route(context.Background(), modelrouter.Request{
		ExplicitModel: "claude-opus-4", IntelligentRouting: true, PipelineModel: "gpt-4o",
	})
	require.NoError(t, err)
	require.Equal(t, "claude-opus-4", dec.Model)
}

func TestRouteIgnoresSentinelExplicitModel(t *testing.T) {
	r := &modelrouter.Router{}
	dec, err := r.Route(context.Background(), modelrouter.Request{
		ExplicitModel: "default", PipelineModel: "claude-sonnet-4",
	})
	require.NoError(t, err)
	require.Equal(t, "claude-sonnet-4", dec.Model)
}

func TestRouteIntelligentRoutingSuggestionUsedWhenEnabled(t *testing.T) {
	r := &modelrouter.Router{Analyzer: fakeAnalyzer{model: "gpt-5-mini", ok: true}}
	dec, err := r.Route(context.Background(), modelrouter.Request{
		IntelligentRouting: true, PipelineModel: "claude-sonnet-4",
	})
	require.NoError(t, err)
	require.Equal(t, "gpt-5-mini", dec.Model)
}

func TestRouteFallsBackToPipelineModel(t *testing.T) {
	r := &modelrouter.Router{}
	dec, err := r.Route(context.Background(), modelrouter.Request{PipelineModel: "claude-sonnet-4"})
	require.NoError(t, err)
	require.Equal(t, "claude-sonnet-4", dec.Model)
}

func TestRouteFallsBackToTaskAnalysisWhenNoPipelineModel(t *testing.T) {
	r := &modelrouter.Router{Analyzer: fakeAnalyzer{model: "gpt-4o", ok: true}}
	dec, err := r.Route(context.Background(), modelrouter.Request{})
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", dec.Model)
}

func TestRouteFallsBackToConfiguredDefault(t *testing.T) {
	r := &modelrouter.Router{}
	dec, err := r.Route(context.Background(), modelrouter.Request{ConfiguredDefault: "claude-haiku-4"})
	require.NoError(t, err)
	require.Equal(t, "claude-haiku-4", dec.Model)
}

func TestRouteFailsWithConfigurationErrorWhenNothingResolves(t *testing.T) {
	r := &modelrouter.Router{}
	_, err := r.Route(context.Background(), modelrouter.Request{})
	require.Error(t, err)
	var cfgErr *pipelineerr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestRouteSwapsToVisionModelWhenImagePresent(t *testing.T) {
	r := &modelrouter.Router{Config: modelrouter.Config{
		VisionCapableModels: map[string]bool{"claude-opus-4-vision": true},
		VisionFallbackModel: "claude-opus-4-vision",
	}}
	dec, err := r.Route(context.Background(), modelrouter.Request{
		PipelineModel: "claude-haiku-4",
		Messages: []model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.ImagePart{Format: "png"}}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "claude-opus-4-vision", dec.Model)
	require.True(t, dec.VisionSwap)
}

func TestRouteNoVisionSwapWhenModelAlreadyVisionCapable(t *testing.T) {
	r := &modelrouter.Router{Config: modelrouter.Config{
		VisionCapableModels: map[string]bool{"claude-opus-4-vision": true},
	}}
	dec, err := r.Route(context.Background(), modelrouter.Request{
		PipelineModel: "claude-opus-4-vision",
		Messages: []model.Message{
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.ImagePart{Format: "png"}}},
		},
	})
	require.NoError(t, err)
	require.False(t, dec.VisionSwap)
}

func TestReasoningEnablesExtendedThinkingForCompatibleClaudeHistory(t *testing.T) {
	r := &modelrouter.Router{}
	dec, err := r.Route(context.Background(), modelrouter.Request{
		PipelineModel: "claude-opus-4",
		Messages: []model.Message{
			{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.ThinkingPart{}, model.TextPart{Text: "hi"}}},
		},
	})
	require.NoError(t, err)
	require.True(t, dec.Reasoning.ExtendedThinking)
}

func TestReasoningDisablesExtendedThinkingWhenAssistantHasToolCall(t *testing.T) {
	r := &modelrouter.Router{}
	dec, err := r.Route(context.Background(), modelrouter.Request{
		PipelineModel: "claude-opus-4",
		Messages: []model.Message{
			{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.ToolUsePart{}}},
		},
	})
	require.NoError(t, err)
	require.False(t, dec.Reasoning.ExtendedThinking)
}

func TestReasoningDisabledWhenUserToggleOff(t *testing.T) {
	r := &modelrouter.Router{Config: modelrouter.Config{ThinkingDisabledExplicitly: true}}
	dec, err := r.Route(context.Background(), modelrouter.Request{PipelineModel: "claude-opus-4"})
	require.NoError(t, err)
	require.False(t, dec.Reasoning.ExtendedThinking)
}

func TestMapEffortThresholds(t *testing.T) {
	require.Equal(t, "high", modelrouter.MapEffort(20000))
	require.Equal(t, "medium", modelrouter.MapEffort(10000))
	require.Equal(t, "low", modelrouter.MapEffort(100))
}

func TestGeminiThinkingSupported(t *testing.T) {
	require.True(t, modelrouter.GeminiThinkingSupported("gemini-2.5-pro"))
	require.True(t, modelrouter.GeminiThinkingSupported("gemini-3-flash"))
	require.False(t, modelrouter.GeminiThinkingSupported("gemini-1.5-pro"))
	require.False(t, modelrouter.GeminiThinkingSupported("claude-opus-4"))
}
