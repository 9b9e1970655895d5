// Package completion drives a single chat-completion round through the
// provider stream and the tool loop: parsing streamed deltas, resolving and
// dispatching tool calls, and finalizing the durable assistant message. It
// is the busiest stage in the pipeline, composing the tool inventory,
// access control, cache, and executor packages around a provider stream.
package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentic-work/chatcore/cache"
	"github.com/agentic-work/chatcore/executor"
	"github.com/agentic-work/chatcore/model"
	"github.com/agentic-work/chatcore/pipelineerr"
	"github.com/agentic-work/chatcore/policy"
	"github.com/agentic-work/chatcore/providers"
	"github.com/agentic-work/chatcore/stream"
	"github.com/agentic-work/chatcore/store"
	"github.com/agentic-work/chatcore/telemetry"
	"github.com/agentic-work/chatcore/toolinventory"
	"github.com/agentic-work/chatcore/transcript"
)

type (
	// Request carries the inputs a single completion round needs, already
	// assembled by the pipeline (retrieval knowledge folded into
	// PreparedContext, model chosen by modelrouter).
	Request struct {
		RunID        string
		SessionID    string
		UserID       string
		TenantID     string
		Groups       []string
		IsAdmin      bool
		Model        string
		Reasoning    ReasoningConfig
		PreparedContext []*model.Message // system/rag/memory messages, prepended every round
		History         []*model.Message // prior turns (user/assistant), prepended every round
		Tools           *toolinventory.Inventory
		ToolDefs        []*model.ToolDefinition
		// CodeExecutions, when non-nil, receives every ExecutionRecord the
		// executor produces for code-tool dispatches in this request,
		// regardless of success, per §4.G.1. It points at the owning
		// pipeline.Context's CodeExecutionContext slice; completion never
		// allocates it.
		CodeExecutions *[]executor.ExecutionRecord
	}

	// ReasoningConfig mirrors modelrouter.ReasoningConfig without importing
	// that package, keeping completion's dependency surface one-directional.
	ReasoningConfig struct {
		ExtendedThinking bool
		Effort           string
	}

	// Outcome is returned once the round (and any tool-loop rounds it
	// triggers) reaches a terminal state.
	Outcome struct {
		MessageID      string
		FinalContent   string
		ToolCalls      []model.ToolCall
		Usage          model.TokenUsage
		Interrupted    bool
		ToolCallsCount int
	}

	// Stage composes every collaborator the tool loop depends on.
	Stage struct {
		Provider  model.Client
		Messages  store.MessageStore
		Sink      stream.Sink
		Cache     *cache.Tier
		Policy    policy.Evaluator
		Executor  *executor.Executor
		Logger    telemetry.Logger
		Metrics   telemetry.Metrics
		MaxRounds int
		PersistThrottle time.Duration
	}
)

const defaultMaxRounds = 8
const defaultPersistThrottle = 1000 * time.Millisecond

// Run executes the database-first placeholder write, the stream-parsing
// state machine, and the tool loop until a round produces zero tool calls
// or the round cap forces a final, tool-free completion.
func (s *Stage) Run(ctx context.Context, req Request) (Outcome, error) {
	maxRounds := s.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}
	throttle := s.PersistThrottle
	if throttle <= 0 {
		throttle = defaultPersistThrottle
	}

	messageID, source := s.writePlaceholder(ctx, req)

	led := transcript.NewLedger()
	toolDefs := req.ToolDefs
	schemaRetries := 0
	failoverReported := false
	requestStart := time.Now()

	var (
		finalContent   string
		lastUsage      model.TokenUsage
		lastToolCalls  []model.ToolCall
		ttft           time.Duration
		toolCallsCount int
	)

	for round := 0; ; round++ {
		forceFinal := round+1 >= maxRounds
		activeTools := toolDefs
		if forceFinal {
			activeTools = nil
		}

		messages := make([]*model.Message, 0, len(req.PreparedContext)+len(req.History)+8)
		messages = append(messages, req.PreparedContext...)
		messages = append(messages, req.History...)
		messages = append(messages, led.BuildMessages()...)

		streamReq := &model.Request{
			RunID:    req.RunID,
			Model:    req.Model,
			Messages: messages,
			Tools:    activeTools,
			Stream:   true,
			Thinking: &model.ThinkingOptions{Enable: req.Reasoning.ExtendedThinking, Effort: req.Reasoning.Effort},
		}

		streamer, err := s.Provider.Stream(ctx, streamReq)
		if err != nil {
			var schemaErr *pipelineerr.SchemaComplexityError
			if isSchemaComplexity(err, &schemaErr) && schemaRetries < 2 {
				schemaRetries++
				toolDefs = halveTools(toolDefs)
				s.emitWarning(ctx, req, "TOOL_LIMIT_EXCEEDED", fmt.Sprintf("retrying with %d tools after schema complexity error", len(toolDefs)))
				round--
				continue
			}
			return s.finalizeOnError(ctx, req, messageID, source, finalContent, err)
		}

		if !failoverReported {
			if occurred, original, failoverProvider, reason := providers.AsFailoverInfo(streamer); occurred {
				_ = s.Sink.Send(ctx, stream.NewProviderFailover(req.RunID, req.SessionID, stream.ProviderFailoverPayload{
					Occurred: true, OriginalProvider: original, FailoverProvider: failoverProvider,
					FailureReason: reason, Message: "provider failed over transparently",
				}))
				failoverReported = true
			}
		}

		roundText, roundToolCalls, usage, roundTTFT, streamErr := s.drainStream(ctx, req, streamer, messageID, &finalContent, throttle, requestStart)
		streamer.Close()
		lastUsage = usage
		_ = roundText
		if ttft == 0 && roundTTFT > 0 {
			ttft = roundTTFT
		}

		if streamErr != nil {
			if pipelineerr.IsClientCancelled(streamErr) {
				return s.finalizeOnCancel(ctx, req, messageID, source, finalContent)
			}
			s.recordMetrics(ctx, req, messageID, "error", requestStart, ttft, lastUsage, toolCallsCount)
			return s.finalizeOnError(ctx, req, messageID, source, finalContent, streamErr)
		}

		toolCallsCount += len(roundToolCalls)

		if len(roundToolCalls) == 0 {
			lastToolCalls = nil
			break
		}
		lastToolCalls = roundToolCalls

		if forceFinal {
			// Tools were stripped; the provider must not have returned any.
			break
		}

		if err := s.runToolRound(ctx, req, led, roundToolCalls); err != nil {
			if pipelineerr.IsClientCancelled(err) {
				return s.finalizeOnCancel(ctx, req, messageID, source, finalContent)
			}
			s.recordMetrics(ctx, req, messageID, "error", requestStart, ttft, lastUsage, toolCallsCount)
			return s.finalizeOnError(ctx, req, messageID, source, finalContent, err)
		}
	}

	s.recordMetrics(ctx, req, messageID, "ok", requestStart, ttft, lastUsage, toolCallsCount)
	outcome, err := s.finalize(ctx, req, messageID, source, finalContent, lastToolCalls, lastUsage)
	outcome.ToolCallsCount = toolCallsCount
	return outcome, err
}

// recordMetrics writes §4.I.4's per-request metrics record via the generic
// counter/timer/gauge surface telemetry.Metrics exposes, tagged so a backend
// can reconstruct the {userId, sessionId, messageId, providerType, model,
// latencyMs, ttftMs, modelLatencyMs, tokensPerSecond, promptTokens,
// completionTokens, toolCallsCount, status} record.
func (s *Stage) recordMetrics(ctx context.Context, req Request, messageID, status string, requestStart time.Time, ttft time.Duration, usage model.TokenUsage, toolCallsCount int) {
	if s.Metrics == nil {
		return
	}
	latency := time.Since(requestStart)
	modelLatency := latency - ttft
	var tokensPerSecond float64
	if secs := latency.Seconds(); secs > 0 {
		tokensPerSecond = float64(usage.OutputTokens) / secs
	}
	tags := []string{
		"userId", req.UserID,
		"sessionId", req.SessionID,
		"messageId", messageID,
		"providerType", providerTypeOf(req.Model),
		"model", req.Model,
		"status", status,
	}
	s.Metrics.RecordTimer("completion.latency_ms", latency, tags...)
	s.Metrics.RecordTimer("completion.ttft_ms", ttft, tags...)
	s.Metrics.RecordTimer("completion.model_latency_ms", modelLatency, tags...)
	s.Metrics.RecordGauge("completion.tokens_per_second", tokensPerSecond, tags...)
	s.Metrics.IncCounter("completion.prompt_tokens", float64(usage.InputTokens), tags...)
	s.Metrics.IncCounter("completion.completion_tokens", float64(usage.OutputTokens), tags...)
	s.Metrics.IncCounter("completion.tool_calls_count", float64(toolCallsCount), tags...)
}

// providerTypeOf classifies a model identifier into the provider family that
// serves it, mirroring modelrouter's model-name heuristics without coupling
// completion to that package.
func providerTypeOf(modelName string) string {
	lower := strings.ToLower(modelName)
	switch {
	case strings.Contains(lower, "anthropic.claude"), strings.HasPrefix(lower, "us.anthropic."), strings.HasPrefix(lower, "eu.anthropic."):
		return "bedrock"
	case strings.Contains(lower, "claude"):
		return "anthropic"
	case strings.HasPrefix(lower, "gpt"), strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		return "openai"
	default:
		return "unknown"
	}
}

func isSchemaComplexity(err error, target **pipelineerr.SchemaComplexityError) bool {
	for e := err; e != nil; {
		if se, ok := e.(*pipelineerr.SchemaComplexityError); ok {
			*target = se
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}

func halveTools(defs []*model.ToolDefinition) []*model.ToolDefinition {
	n := len(defs) / 2
	if n < 20 {
		n = 20
	}
	if n > len(defs) {
		return defs
	}
	return defs[:n]
}

func (s *Stage) writePlaceholder(ctx context.Context, req Request) (messageID, source string) {
	source = "database"
	if s.Messages != nil {
		msg, err := s.Messages.AddMessage(ctx, req.SessionID, store.Message{
			SessionID: req.SessionID, Role: "assistant", Content: "", Model: req.Model, Timestamp: time.Now().UTC(),
		})
		if err != nil {
			if s.Logger != nil {
				s.Logger.Warn(ctx, "completion: placeholder write failed, continuing optimistically", "error", err)
			}
			messageID = "assistant_" + req.RunID
			source = "optimistic"
		} else {
			messageID = msg.ID
		}
	} else {
		messageID = "assistant_" + req.RunID
		source = "optimistic"
	}

	if s.Sink != nil {
		_ = s.Sink.Send(ctx, stream.NewMessageSaved(req.RunID, req.SessionID, stream.MessageSavedPayload{
			MessageID: messageID, Role: "assistant", Content: "", Timestamp: time.Now().UnixMilli(),
			Source: source, Confirmed: true, Streaming: true,
		}))
		_ = s.Sink.Send(ctx, stream.NewCompletionStart(req.RunID, req.SessionID, stream.CompletionStartPayload{
			Model: req.Model, MessageID: messageID, Source: source,
		}))
	}
	return messageID, source
}

// drainStream implements the §4.I.2 state machine over the already-chunked
// model.Streamer: the provider adapters have done the delta assembly, so
// this loop's job is to classify each chunk, emit the matching SSE event,
// throttle-persist text, and collect tool calls for the round.
func (s *Stage) drainStream(ctx context.Context, req Request, streamer model.Streamer, messageID string, finalContent *string, throttle time.Duration, requestStart time.Time) (string, []model.ToolCall, model.TokenUsage, time.Duration, error) {
	var (
		roundText     strings.Builder
		thinkingAccum strings.Builder
		toolCalls     []model.ToolCall
		usage         model.TokenUsage
		lastPersist   time.Time
		streamOpen    = time.Now()
		sawFirstToken bool
		ttft          time.Duration
	)

	for {
		select {
		case <-ctx.Done():
			return roundText.String(), toolCalls, usage, ttft, pipelineerr.NewClientCancelled("context cancelled mid-stream")
		default:
		}

		chunk, err := streamer.Recv()
		if err != nil {
			if err.Error() == "EOF" {
				break
			}
			// io.EOF sentinel comparison via string avoids importing io just for this.
			if isEOF(err) {
				break
			}
			return roundText.String(), toolCalls, usage, ttft, pipelineerr.NewCompletionError("provider stream read failed", "stream_parse", true, err)
		}

		switch chunk.Type {
		case model.ChunkTypeText:
			text := extractText(chunk.Message)
			if text == "" {
				continue
			}
			if !sawFirstToken {
				sawFirstToken = true
				ttft = time.Since(requestStart)
			}
			roundText.WriteString(text)
			*finalContent += text
			if s.Sink != nil {
				_ = s.Sink.Send(ctx, stream.NewStreamDelta(req.RunID, req.SessionID, stream.StreamDeltaPayload{
					Content: text, Timestamp: time.Now().UnixMilli(),
				}))
			}
			if s.Messages != nil && time.Since(lastPersist) >= throttle {
				content := *finalContent
				if err := s.Messages.UpdateMessage(ctx, messageID, store.MessageFields{Content: &content}); err != nil && s.Logger != nil {
					s.Logger.Warn(ctx, "completion: throttled persist failed", "error", err)
				}
				lastPersist = time.Now()
			}

		case model.ChunkTypeThinking:
			if chunk.Thinking == "" {
				continue
			}
			thinkingAccum.WriteString(chunk.Thinking)
			if s.Sink != nil {
				_ = s.Sink.Send(ctx, stream.NewThinking(req.RunID, req.SessionID, stream.ThinkingPayload{
					Content: chunk.Thinking, Accumulated: thinkingAccum.String(),
					ElapsedMs: time.Since(streamOpen).Milliseconds(),
				}))
			}

		case model.ChunkTypeToolCall:
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}

		case model.ChunkTypeUsage:
			if chunk.UsageDelta != nil {
				usage = addUsage(usage, *chunk.UsageDelta)
			}

		case model.ChunkTypeStop:
			goto done
		}
	}

done:
	if s.Sink != nil {
		_ = s.Sink.Send(ctx, stream.NewTokenMetrics(req.RunID, req.SessionID, stream.TokenMetricsPayload{
			Tokens: usage.TotalTokens, ElapsedMs: time.Since(streamOpen).Milliseconds(), Final: true, ActualUsage: usage,
		}))
	}
	return roundText.String(), toolCalls, usage, ttft, nil
}

func isEOF(err error) bool {
	return err != nil && err.Error() == "EOF"
}

func extractText(m *model.Message) string {
	if m == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(model.TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

func addUsage(a, b model.TokenUsage) model.TokenUsage {
	return model.TokenUsage{
		InputTokens:      a.InputTokens + b.InputTokens,
		OutputTokens:     a.OutputTokens + b.OutputTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
		CacheReadTokens:  a.CacheReadTokens + b.CacheReadTokens,
		CacheWriteTokens: a.CacheWriteTokens + b.CacheWriteTokens,
	}
}

func (s *Stage) emitWarning(ctx context.Context, req Request, code, message string) {
	if s.Sink == nil {
		return
	}
	_ = s.Sink.Send(ctx, stream.NewWarning(req.RunID, req.SessionID, stream.WarningPayload{Code: code, Message: message}))
}

func argumentsOf(call model.ToolCall) map[string]any {
	if len(call.Payload) == 0 {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(call.Payload, &out); err != nil {
		return map[string]any{}
	}
	return out
}
