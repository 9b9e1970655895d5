// Package modelrouter selects the model and reasoning configuration for a
// completion round from the layered signals a request carries: an explicit
// override, an intelligent-routing suggestion, pipeline configuration, and a
// deployment default.
package modelrouter

import (
	"context"
	"strings"

	"github.com/agentic-work/chatcore/model"
	"github.com/agentic-work/chatcore/pipelineerr"
	"github.com/agentic-work/chatcore/telemetry"
)

const (
	sentinelDefault      = "default"
	sentinelModelRouter  = "model-router"
)

type (
	// TaskAnalyzer produces a routing suggestion from the user's message,
	// e.g. a lightweight classifier or heuristic keyword matcher. Contract
	// only: callers supply the implementation.
	TaskAnalyzer interface {
		Suggest(ctx context.Context, userMessage string) (model string, ok bool)
	}

	// Request carries the per-call signals the router combines into a
	// decision.
	Request struct {
		ExplicitModel      string
		IntelligentRouting bool
		PipelineModel      string
		ConfiguredDefault  string
		UserMessage        string
		Messages           []model.Message
	}

	// Config is deployment-wide router configuration.
	Config struct {
		VisionCapableModels map[string]bool
		VisionFallbackModel string
		// ThinkingDisabledExplicitly reflects a user-facing toggle for
		// extended thinking; when true, Claude-like routing never enables
		// thinking regardless of history compatibility.
		ThinkingDisabledExplicitly bool
	}

	// Decision is the router's output: the chosen model plus its reasoning
	// configuration.
	Decision struct {
		Model        string
		VisionSwap   bool
		Reasoning    ReasoningConfig
	}

	// ReasoningConfig captures the provider-family-specific reasoning
	// parameters to apply to the completion call.
	ReasoningConfig struct {
		// ExtendedThinking enables Claude-like extended thinking.
		ExtendedThinking bool
		// Effort holds a discrete effort level ("high", "medium", "low")
		// or "". Route leaves it "" for every model family, Gemini and
		// OpenAI o-series included; MapEffort computes a level from a
		// thinking budget, and nothing in this module calls it.
		Effort string
	}

	// Router selects models and reasoning configuration per request.
	Router struct {
		Analyzer TaskAnalyzer
		Config   Config
		Logger   telemetry.Logger
	}
)

// Route implements the decision order from explicit override down to the
// configured default, then applies vision routing and reasoning
// configuration on the result.
func (r *Router) Route(ctx context.Context, req Request) (Decision, error) {
	chosen, err := r.selectModel(ctx, req)
	if err != nil {
		return Decision{}, err
	}

	dec := Decision{Model: chosen}

	if hasImageContent(req.Messages) && !r.Config.VisionCapableModels[chosen] {
		if r.Config.VisionFallbackModel != "" {
			dec.Model = r.Config.VisionFallbackModel
			dec.VisionSwap = true
		} else if r.Logger != nil {
			r.Logger.Warn(ctx, "modelrouter: image content with non-vision model and no configured fallback", "model", chosen)
		}
	}

	dec.Reasoning = r.reasoningFor(dec.Model, req.Messages)

	return dec, nil
}

func (r *Router) selectModel(ctx context.Context, req Request) (string, error) {
	if req.ExplicitModel != "" && req.ExplicitModel != sentinelDefault && req.ExplicitModel != sentinelModelRouter {
		return req.ExplicitModel, nil
	}

	if req.IntelligentRouting && r.Analyzer != nil {
		if suggestion, ok := r.Analyzer.Suggest(ctx, req.UserMessage); ok && suggestion != "" {
			return suggestion, nil
		}
	}

	if req.PipelineModel != "" {
		return req.PipelineModel, nil
	}

	if r.Analyzer != nil {
		if suggestion, ok := r.Analyzer.Suggest(ctx, req.UserMessage); ok && suggestion != "" {
			return suggestion, nil
		}
	}

	if req.ConfiguredDefault != "" {
		return req.ConfiguredDefault, nil
	}

	return "", pipelineerr.NewConfigurationError("no model resolved: no override, suggestion, pipeline model, or default configured", nil)
}

func hasImageContent(messages []model.Message) bool {
	for _, m := range messages {
		for _, p := range m.Parts {
			if _, ok := p.(model.ImagePart); ok {
				return true
			}
		}
	}
	return false
}

// reasoningFor applies the provider-family-specific thinking/reasoning
// mapping described for the chosen model.
func (r *Router) reasoningFor(modelName string, messages []model.Message) ReasoningConfig {
	switch family(modelName) {
	case familyClaude:
		enabled := !r.Config.ThinkingDisabledExplicitly && claudeHistoryCompatible(messages)
		return ReasoningConfig{ExtendedThinking: enabled}
	case familyGemini:
		return ReasoningConfig{Effort: "" /* no budget is known here; MapEffort is not applied */}
	case familyOpenAIReasoning:
		return ReasoningConfig{Effort: "" /* as for Gemini: left empty */}
	default:
		return ReasoningConfig{}
	}
}

type providerFamily int

const (
	familyOther providerFamily = iota
	familyClaude
	familyGemini
	familyOpenAIReasoning
)

func family(modelName string) providerFamily {
	lower := strings.ToLower(modelName)
	switch {
	case strings.Contains(lower, "claude"):
		return familyClaude
	case strings.Contains(lower, "gemini"):
		return familyGemini
	case strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		return familyOpenAIReasoning
	default:
		return familyOther
	}
}

// claudeHistoryCompatible reports whether message history is compatible with
// extended thinking: no assistant message may contain tool calls, and any
// text content in an assistant message must begin with a thinking block.
func claudeHistoryCompatible(messages []model.Message) bool {
	for _, m := range messages {
		if m.Role != model.ConversationRoleAssistant {
			continue
		}
		sawThinkingFirst := false
		for i, p := range m.Parts {
			switch p.(type) {
			case model.ThinkingPart:
				if i == 0 {
					sawThinkingFirst = true
				}
			case model.ToolUsePart:
				return false
			case model.TextPart:
				if !sawThinkingFirst {
					return false
				}
			}
		}
	}
	return true
}

// MapEffort maps a numeric thinkingBudget to the discrete effort level used
// by Gemini 2.5+/3.x and OpenAI o-series routing.
func MapEffort(thinkingBudget int) string {
	switch {
	case thinkingBudget > 16000:
		return "high"
	case thinkingBudget > 8000:
		return "medium"
	default:
		return "low"
	}
}

// GeminiThinkingSupported reports whether modelName belongs to a Gemini
// family version that supports the thinking parameter (2.5+ or 3.x).
func GeminiThinkingSupported(modelName string) bool {
	lower := strings.ToLower(modelName)
	if !strings.Contains(lower, "gemini") {
		return false
	}
	for _, marker := range []string{"gemini-2.5", "gemini-3", "gemini-3.", "gemini-2.6", "gemini-2.7", "gemini-2.8", "gemini-2.9"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
