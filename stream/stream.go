// Package stream delivers ordered, client-facing events describing a chat
// completion request's progress (text/reasoning deltas, tool activity, cache
// hits, durable-write confirmations) to a single Server-Sent Events channel.
//
// All concrete event types implement Event and embed Base for the common
// Type()/RunID()/SessionID()/Payload() accessors. A Sink serializes events
// for a single client; implementations must be safe for concurrent Send
// calls since tool execution and text streaming may emit from different
// goroutines within one request.
package stream

import (
	"context"
	"encoding/json"
)

type (
	// Sink delivers events for one request to a transport (SSE, WebSocket).
	// Implementations must serialize concurrent Send calls internally so
	// events remain strictly ordered on the wire even when the pipeline
	// feeds the sink from multiple goroutines (e.g. a tool's heartbeat and
	// the provider stream's text deltas).
	Sink interface {
		// Send publishes an event. An error return stops further delivery
		// to this sink; the caller should treat it as a client disconnect.
		Send(ctx context.Context, event Event) error

		// Close releases sink resources. Idempotent. Blocks until pending
		// events flush or ctx is canceled.
		Close(ctx context.Context) error

		// OnCancel registers a handler invoked when the client disconnects
		// or an external interrupt cancels the request. Handlers fire at
		// most once.
		OnCancel(handler func())
	}

	// Event is one entry in the ordered per-request stream.
	Event interface {
		// Type identifies the event's wire name (e.g. "tool_result").
		Type() EventType
		// RunID is the request's messageId; all events in a request share it.
		RunID() string
		// SessionID is the request's sessionId, empty for anonymous requests.
		SessionID() string
		// Payload returns the JSON-serializable event body.
		Payload() any
	}

	// Base implements the Event accessors; concrete event types embed it.
	Base struct {
		t EventType
		r string
		s string
		p any
	}
)

// NewBase constructs a Base with the given type, run/session ids, and payload.
func NewBase(t EventType, runID, sessionID string, payload any) Base {
	return Base{t: t, r: runID, s: sessionID, p: payload}
}

// Type implements Event.
func (b Base) Type() EventType { return b.t }

// RunID implements Event.
func (b Base) RunID() string { return b.r }

// SessionID implements Event.
func (b Base) SessionID() string { return b.s }

// Payload implements Event.
func (b Base) Payload() any { return b.p }

// EventType enumerates the wire-level event catalogue. Clients must ignore
// event types they do not recognize.
type EventType string

const (
	EventMessageSaved          EventType = "message_saved"
	EventRAGStatus             EventType = "rag_status"
	EventCompletionStart       EventType = "completion_start"
	EventStream                EventType = "stream"
	EventThinking              EventType = "thinking"
	EventTokenMetrics          EventType = "token_metrics"
	EventToolExecuting         EventType = "tool_executing"
	EventToolResult            EventType = "tool_result"
	EventToolError             EventType = "tool_error"
	EventToolCacheHit          EventType = "tool_cache_hit"
	EventToolSemanticCacheHit  EventType = "tool_semantic_cache_hit"
	EventProviderFailover      EventType = "provider_failover"
	EventMessageUpdated        EventType = "message_updated"
	EventCompletionComplete    EventType = "completion_complete"
	EventCompletionError       EventType = "completion_error"
	EventContentSafetyWarning  EventType = "content_safety_warning"
	EventWarning               EventType = "warning"
)

type (
	// MessageSaved announces a durable (or optimistic, in-memory) write of
	// an assistant message placeholder or its final content.
	MessageSaved struct {
		Base
		Data MessageSavedPayload
	}

	// MessageSavedPayload is the wire payload for message_saved.
	MessageSavedPayload struct {
		MessageID string `json:"messageId"`
		Role      string `json:"role"`
		Content   string `json:"content"`
		Timestamp int64  `json:"timestamp"`
		Source    string `json:"source"` // "database" | "optimistic"
		Confirmed bool   `json:"confirmed"`
		Streaming bool   `json:"streaming,omitempty"`
	}

	// RAGStatus reports retrieval counts and timing after the RAG stage joins.
	RAGStatus struct {
		Base
		Data RAGStatusPayload
	}

	// RAGStatusPayload is the wire payload for rag_status.
	RAGStatusPayload struct {
		DocsRetrieved      int      `json:"docsRetrieved"`
		ChatsRetrieved     int      `json:"chatsRetrieved"`
		ArtifactsRetrieved int      `json:"artifactsRetrieved"`
		Collections        []string `json:"collections"`
		RetrievalTimeMs    int64    `json:"retrievalTime"`
	}

	// CompletionStart marks the opening of a provider stream.
	CompletionStart struct {
		Base
		Data CompletionStartPayload
	}

	// CompletionStartPayload is the wire payload for completion_start.
	CompletionStartPayload struct {
		Model     string `json:"model"`
		MessageID string `json:"messageId"`
		Source    string `json:"source"`
	}

	// StreamDelta carries an incremental text token from the model.
	StreamDelta struct {
		Base
		Data StreamDeltaPayload
	}

	// StreamDeltaPayload is the wire payload for stream.
	StreamDeltaPayload struct {
		Type      string `json:"type,omitempty"`
		Content   string `json:"content"`
		Timestamp int64  `json:"timestamp,omitempty"`
	}

	// Thinking carries an incremental reasoning token from the model.
	Thinking struct {
		Base
		Data ThinkingPayload
	}

	// ThinkingPayload is the wire payload for thinking.
	ThinkingPayload struct {
		Content         string  `json:"content"`
		Accumulated     string  `json:"accumulated"`
		Tokens          int     `json:"tokens,omitempty"`
		ElapsedMs       int64   `json:"elapsedMs,omitempty"`
		TokensPerSecond float64 `json:"tokensPerSecond,omitempty"`
	}

	// TokenMetrics reports running or final token-rate accounting.
	TokenMetrics struct {
		Base
		Data TokenMetricsPayload
	}

	// TokenMetricsPayload is the wire payload for token_metrics.
	TokenMetricsPayload struct {
		Tokens          int     `json:"tokens"`
		ElapsedMs       int64   `json:"elapsedMs"`
		TokensPerSecond float64 `json:"tokensPerSecond"`
		ActualUsage     any     `json:"actualUsage,omitempty"`
		Final           bool    `json:"final,omitempty"`
	}

	// ToolExecuting brackets the start of a tool dispatch.
	ToolExecuting struct {
		Base
		Data ToolExecutingPayload
	}

	// ToolExecutingPayload is the wire payload for tool_executing.
	ToolExecutingPayload struct {
		Name         string `json:"name"`
		Arguments    any    `json:"arguments"`
		ToolCallID   string `json:"toolCallId"`
		TargetServer string `json:"targetServer"`
		Timestamp    int64  `json:"timestamp"`
	}

	// ToolResult brackets the successful completion of a tool dispatch.
	ToolResult struct {
		Base
		Data ToolResultPayload
	}

	// ToolResultPayload is the wire payload for tool_result.
	ToolResultPayload struct {
		Name            string `json:"name"`
		Result          any    `json:"result"`
		ToolCallID      string `json:"toolCallId"`
		ExecutionTimeMs int64  `json:"executionTimeMs"`
		TargetServer    string `json:"targetServer"`
		Timestamp       int64  `json:"timestamp"`
	}

	// ToolError brackets a failed tool dispatch.
	ToolError struct {
		Base
		Data ToolErrorPayload
	}

	// ToolErrorPayload is the wire payload for tool_error.
	ToolErrorPayload struct {
		Name         string `json:"name"`
		Error        string `json:"error"`
		ToolCallID   string `json:"toolCallId"`
		TargetServer string `json:"targetServer"`
		Timestamp    int64  `json:"timestamp"`
	}

	// ToolCacheHit replaces the executing/result bracket for an exact-cache hit.
	ToolCacheHit struct {
		Base
		Data ToolCacheHitPayload
	}

	// ToolCacheHitPayload is the wire payload for tool_cache_hit.
	ToolCacheHitPayload struct {
		Name       string `json:"name"`
		ToolCallID string `json:"toolCallId"`
		Cached     bool   `json:"cached"`
		Timestamp  int64  `json:"timestamp"`
	}

	// ToolSemanticCacheHit replaces the executing/result bracket for a
	// cross-user semantic-cache hit.
	ToolSemanticCacheHit struct {
		Base
		Data ToolSemanticCacheHitPayload
	}

	// ToolSemanticCacheHitPayload is the wire payload for tool_semantic_cache_hit.
	ToolSemanticCacheHitPayload struct {
		Name          string  `json:"name"`
		ToolCallID    string  `json:"toolCallId"`
		Cached        bool    `json:"cached"`
		Semantic      bool    `json:"semantic"`
		CrossUser     bool    `json:"crossUser"`
		Similarity    float64 `json:"similarity"`
		ResourceScope string  `json:"resourceScope"`
		TimeSavedMs   int64   `json:"timeSavedMs"`
		Timestamp     int64   `json:"timestamp"`
	}

	// ProviderFailover reports a transparent provider swap mid-request.
	// Emitted at most once per request.
	ProviderFailover struct {
		Base
		Data ProviderFailoverPayload
	}

	// ProviderFailoverPayload is the wire payload for provider_failover.
	ProviderFailoverPayload struct {
		Occurred          bool   `json:"occurred"`
		OriginalProvider  string `json:"originalProvider"`
		FailoverProvider  string `json:"failoverProvider"`
		FailureReason     string `json:"failureReason"`
		FailoverTimeMs    int64  `json:"failoverTime"`
		Message           string `json:"message"`
	}

	// MessageUpdated announces the final durable write of an assistant message.
	MessageUpdated struct {
		Base
		Data MessageUpdatedPayload
	}

	// MessageUpdatedPayload is the wire payload for message_updated.
	MessageUpdatedPayload struct {
		MessageID      string `json:"messageId"`
		Role           string `json:"role"`
		Content        string `json:"content"`
		Timestamp      int64  `json:"timestamp"`
		ToolCalls      any    `json:"toolCalls,omitempty"`
		TokenUsage     any    `json:"tokenUsage,omitempty"`
		Model          string `json:"model"`
		Source         string `json:"source"`
		Confirmed      bool   `json:"confirmed"`
		Final          bool   `json:"final"`
		ThinkingContent string `json:"thinkingContent,omitempty"`
	}

	// CompletionComplete is the terminal success event for a request.
	CompletionComplete struct {
		Base
		Data CompletionCompletePayload
	}

	// CompletionCompletePayload is the wire payload for completion_complete.
	CompletionCompletePayload struct {
		MessageID    string `json:"messageId"`
		ToolCalls    any    `json:"toolCalls"`
		Usage        any    `json:"usage"`
		FinishReason string `json:"finishReason"`
		Model        string `json:"model"`
		Source       string `json:"source"`
	}

	// CompletionError is the terminal failure event for a request.
	CompletionError struct {
		Base
		Data CompletionErrorPayload
	}

	// CompletionErrorPayload is the wire payload for completion_error.
	CompletionErrorPayload struct {
		Error string `json:"error"`
		Stage string `json:"stage,omitempty"`
	}

	// ContentSafetyWarning reports that finalization sanitized the reply.
	ContentSafetyWarning struct {
		Base
		Data ContentSafetyWarningPayload
	}

	// ContentSafetyWarningPayload is the wire payload for content_safety_warning.
	ContentSafetyWarningPayload struct {
		MessageID       string   `json:"messageId"`
		Issues          []string `json:"issues"`
		HadNonEnglish   bool     `json:"hadNonEnglish,omitempty"`
		HadRepetition   bool     `json:"hadRepetition,omitempty"`
		Truncated       bool     `json:"truncated,omitempty"`
	}

	// Warning is a non-fatal, user-visible advisory (e.g. schema-limit retry).
	Warning struct {
		Base
		Data WarningPayload
	}

	// WarningPayload is the wire payload for warning.
	WarningPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

// NewMessageSaved constructs a message_saved event.
func NewMessageSaved(runID, sessionID string, data MessageSavedPayload) MessageSaved {
	return MessageSaved{Base: NewBase(EventMessageSaved, runID, sessionID, data), Data: data}
}

// NewRAGStatus constructs a rag_status event.
func NewRAGStatus(runID, sessionID string, data RAGStatusPayload) RAGStatus {
	return RAGStatus{Base: NewBase(EventRAGStatus, runID, sessionID, data), Data: data}
}

// NewCompletionStart constructs a completion_start event.
func NewCompletionStart(runID, sessionID string, data CompletionStartPayload) CompletionStart {
	return CompletionStart{Base: NewBase(EventCompletionStart, runID, sessionID, data), Data: data}
}

// NewStreamDelta constructs a stream event.
func NewStreamDelta(runID, sessionID string, data StreamDeltaPayload) StreamDelta {
	return StreamDelta{Base: NewBase(EventStream, runID, sessionID, data), Data: data}
}

// NewThinking constructs a thinking event.
func NewThinking(runID, sessionID string, data ThinkingPayload) Thinking {
	return Thinking{Base: NewBase(EventThinking, runID, sessionID, data), Data: data}
}

// NewTokenMetrics constructs a token_metrics event.
func NewTokenMetrics(runID, sessionID string, data TokenMetricsPayload) TokenMetrics {
	return TokenMetrics{Base: NewBase(EventTokenMetrics, runID, sessionID, data), Data: data}
}

// NewToolExecuting constructs a tool_executing event.
func NewToolExecuting(runID, sessionID string, data ToolExecutingPayload) ToolExecuting {
	return ToolExecuting{Base: NewBase(EventToolExecuting, runID, sessionID, data), Data: data}
}

// NewToolResult constructs a tool_result event.
func NewToolResult(runID, sessionID string, data ToolResultPayload) ToolResult {
	return ToolResult{Base: NewBase(EventToolResult, runID, sessionID, data), Data: data}
}

// NewToolError constructs a tool_error event.
func NewToolError(runID, sessionID string, data ToolErrorPayload) ToolError {
	return ToolError{Base: NewBase(EventToolError, runID, sessionID, data), Data: data}
}

// NewToolCacheHit constructs a tool_cache_hit event.
func NewToolCacheHit(runID, sessionID string, data ToolCacheHitPayload) ToolCacheHit {
	return ToolCacheHit{Base: NewBase(EventToolCacheHit, runID, sessionID, data), Data: data}
}

// NewToolSemanticCacheHit constructs a tool_semantic_cache_hit event.
func NewToolSemanticCacheHit(runID, sessionID string, data ToolSemanticCacheHitPayload) ToolSemanticCacheHit {
	return ToolSemanticCacheHit{Base: NewBase(EventToolSemanticCacheHit, runID, sessionID, data), Data: data}
}

// NewProviderFailover constructs a provider_failover event.
func NewProviderFailover(runID, sessionID string, data ProviderFailoverPayload) ProviderFailover {
	return ProviderFailover{Base: NewBase(EventProviderFailover, runID, sessionID, data), Data: data}
}

// NewMessageUpdated constructs a message_updated event.
func NewMessageUpdated(runID, sessionID string, data MessageUpdatedPayload) MessageUpdated {
	return MessageUpdated{Base: NewBase(EventMessageUpdated, runID, sessionID, data), Data: data}
}

// NewCompletionComplete constructs a completion_complete event.
func NewCompletionComplete(runID, sessionID string, data CompletionCompletePayload) CompletionComplete {
	return CompletionComplete{Base: NewBase(EventCompletionComplete, runID, sessionID, data), Data: data}
}

// NewCompletionError constructs a completion_error event.
func NewCompletionError(runID, sessionID string, data CompletionErrorPayload) CompletionError {
	return CompletionError{Base: NewBase(EventCompletionError, runID, sessionID, data), Data: data}
}

// NewContentSafetyWarning constructs a content_safety_warning event.
func NewContentSafetyWarning(runID, sessionID string, data ContentSafetyWarningPayload) ContentSafetyWarning {
	return ContentSafetyWarning{Base: NewBase(EventContentSafetyWarning, runID, sessionID, data), Data: data}
}

// NewWarning constructs a warning event.
func NewWarning(runID, sessionID string, data WarningPayload) Warning {
	return Warning{Base: NewBase(EventWarning, runID, sessionID, data), Data: data}
}

// marshalPayload is a convenience used by Sink implementations that need raw
// JSON bytes rather than the Payload() any value.
func marshalPayload(e Event) ([]byte, error) {
	return json.Marshal(e.Payload())
}

// MarshalJSON renders the canonical wire envelope `{"type": ..., "data": ...}`
// for any Event. Sinks that forward raw JSON (rather than a typed transport)
// should call this instead of json.Marshal(event) directly, since Event
// implementations keep their accessor fields unexported.
func MarshalJSON(e Event) ([]byte, error) {
	body, err := marshalPayload(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type EventType       `json:"type"`
		Data json.RawMessage `json:"data"`
	}{Type: e.Type(), Data: body})
}
