// Package memory defines the durable event contract the pipeline stage
// replays to reconstruct a conversation's provider-ready transcript. It is
// contract-only: this package fixes the event shape, which
// transcript.BuildMessagesFromEvents consumes, and the Store interface that
// pipeline.Stage reads through, but does not own storage. No implementation
// of Store is in this module; the store package persists chat messages
// (store.MessageStore), not Events.
package memory

import (
	"context"
	"encoding/json"
	"time"
)

// EventType classifies a memory Event's Data payload shape.
type EventType string

const (
	// EventUserMessage records a user-authored message appended to the
	// conversation before a completion round begins.
	EventUserMessage EventType = "user_message"
	// EventAssistantMessage records the model's final text content for a
	// completion round.
	EventAssistantMessage EventType = "assistant_message"
	// EventThinking records the model's reasoning content for a round, when
	// the provider and configuration expose it.
	EventThinking EventType = "thinking"
	// EventToolCall records a tool invocation the model requested.
	EventToolCall EventType = "tool_call"
	// EventToolResult records the outcome of executing a tool call.
	EventToolResult EventType = "tool_result"
	// EventPlannerNote records an internal annotation not presented to the
	// model on replay (e.g. routing decisions, cache provenance).
	EventPlannerNote EventType = "planner_note"
)

type (
	// Event is a single immutable fact appended to a conversation's memory.
	// Data holds the event-specific payload; callers type-assert Data against
	// a map[string]any (the canonical JSON-decoded shape) or use Decode to
	// unmarshal into a concrete type.
	Event struct {
		// ID is the store-assigned opaque identifier for this event.
		ID string
		// SessionID groups related events into a conversation thread.
		SessionID string
		// RunID identifies the completion round that produced this event,
		// when applicable (planner notes and user messages may precede a run).
		RunID string
		// Type classifies Data.
		Type EventType
		// Data is the canonical, JSON-friendly payload for the event. Store
		// implementations may represent it as map[string]any after a JSON
		// round-trip, or as a concrete struct prior to persistence.
		Data any
		// Timestamp is the event time, in UTC.
		Timestamp time.Time
	}

	// Page is a forward page of memory events.
	Page struct {
		// Events are ordered oldest-first.
		Events []Event
		// NextCursor is the cursor to use to fetch the next page. Empty when
		// there are no further events.
		NextCursor string
	}

	// Store is an append-only event log for a conversation's memory.
	//
	// Implementations must provide stable, monotonic ordering within a
	// session. Cursor values are store-owned and opaque to callers.
	Store interface {
		// Append durably records e, assigning its ID. Append failures must be
		// surfaced to callers: a completion round that cannot be recorded
		// must not be treated as complete.
		Append(ctx context.Context, e Event) (Event, error)

		// List returns the next forward page of events for sessionID.
		// Cursor is an opaque value returned by a previous call to List, or
		// empty to start from the beginning. Limit must be greater than zero.
		List(ctx context.Context, sessionID string, cursor string, limit int) (Page, error)

		// LoadAll returns every event recorded for sessionID, oldest first.
		// It is a convenience over List used by pipeline.Stage to rebuild a
		// full transcript before a new round.
		LoadAll(ctx context.Context, sessionID string) ([]Event, error)
	}
)

// Tiers is the three-tier memory payload an external collaborator supplies
// for prompt preparation: short-term conversational summaries, longer-lived
// domain knowledge, and semantic matches pulled from past sessions. The
// completion stage treats all three as opaque text additions to the
// system/context portion of the prepared messages.
type Tiers struct {
	ShortTermSummaries []string
	DomainKnowledge     []string
	SemanticMatches     []string
}

// Provider supplies a Tiers payload for a session. It is a contract-only
// boundary: the core never implements memory synthesis itself, it only
// consumes whatever an external collaborator returns.
type Provider interface {
	Fetch(ctx context.Context, sessionID, userID string) (Tiers, error)
}

// Empty reports whether t carries no content in any tier.
func (t Tiers) Empty() bool {
	return len(t.ShortTermSummaries) == 0 && len(t.DomainKnowledge) == 0 && len(t.SemanticMatches) == 0
}

// Decode unmarshals e.Data into out. It supports both the map[string]any
// shape produced by a JSON-backed store and a Data value that is already a
// json.RawMessage.
func Decode(e Event, out any) error {
	switch v := e.Data.(type) {
	case json.RawMessage:
		return json.Unmarshal(v, out)
	case []byte:
		return json.Unmarshal(v, out)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, out)
	}
}
