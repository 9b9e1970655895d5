// Package tools describes the static metadata for a tool made available to
// the language model during a chat completion: its sanitized (LM-visible)
// name, its original (tool-proxy) name, the server that owns it, and the
// JSON schema codec used to validate and (de)serialize its payload/result.
package tools

import "encoding/json"

// Ident is the strong type for fully qualified tool identifiers
// (e.g., "serverId.toolName"). Use this type instead of a bare string when
// referencing tools in maps or APIs to avoid accidental mixing with
// free-form strings.
type Ident string

// AnyJSONCodec is a pre-built codec for the `any` type, suitable when the
// concrete payload/result type is not known at compile time (the common
// case for tools resolved dynamically from a tool-proxy inventory).
var AnyJSONCodec = JSONCodec[any]{
	ToJSON: json.Marshal,
	FromJSON: func(data []byte) (any, error) {
		if len(data) == 0 {
			return nil, nil
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	},
}

type (
	// JSONCodec serializes and deserializes strongly typed values to and from JSON.
	JSONCodec[T any] struct {
		ToJSON   func(T) ([]byte, error)
		FromJSON func([]byte) (T, error)
	}

	// TypeSpec describes the payload or result schema for a tool.
	TypeSpec struct {
		// Name is a short human identifier for the type (e.g. "ListSubscriptionsInput").
		Name string
		// Schema is the JSON Schema document describing the shape, used to
		// validate LM-supplied arguments before dispatch.
		Schema []byte
		// Codec serializes and deserializes values matching the type.
		Codec JSONCodec[any]
	}

	// ToolSpec enumerates the inventory metadata for one tool available
	// during a request.
	ToolSpec struct {
		// ServerID identifies the tool-proxy backend server that owns this tool.
		ServerID string
		// OriginalName is the tool name the tool-proxy expects on dispatch.
		OriginalName string
		// SanitizedName is the name presented to the language model. Providers
		// impose naming restrictions (length, character set) that the original
		// name may violate, so sanitization is frequently non-trivial.
		SanitizedName string
		// Description is human/LM-facing documentation for the tool.
		Description string
		// Tags carry optional metadata labels consumed by policy evaluation.
		Tags []string
		// Payload describes the request schema for the tool.
		Payload TypeSpec
		// Result describes the response schema for the tool.
		Result TypeSpec
	}
)

// Name returns the fully qualified identifier for the tool (serverId.sanitizedName).
func (s ToolSpec) Name() Ident {
	return Ident(s.ServerID + "." + s.SanitizedName)
}

// String returns the identifier as a plain string.
func (i Ident) String() string {
	return string(i)
}

// ToolUnavailable is the sanitized name reserved for a synthetic tool used to
// preserve well-formed tool_use/tool_result pairing when a transcript replays
// a tool call whose original tool is no longer present in the current
// inventory (the server was removed, renamed, or access was revoked). When
// present in a provider's tool configuration, replay substitutes this name
// and wraps the original call under a "requested_tool"/"requested_payload"
// envelope rather than failing the request outright.
const ToolUnavailable Ident = "tool_unavailable"
