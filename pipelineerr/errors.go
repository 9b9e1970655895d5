// Package pipelineerr defines the kinded errors raised across the pipeline.
// Kinds distinguish failures by how they must be handled — fatal at ingress,
// non-fatal to the tool loop, classified for metrics — not by Go type
// hierarchy, so callers branch on errors.As against the concrete kind they
// care about.
package pipelineerr

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a missing or invalid deployment configuration
// (no default model, no tool-proxy URL, etc). Always fatal: the request
// ends without a completion round (modelrouter returns one when no model
// resolves).
type ConfigurationError struct {
	// Message describes the missing or invalid setting.
	Message string
	// Cause is the underlying error, if any.
	Cause error
}

// NewConfigurationError constructs a ConfigurationError.
func NewConfigurationError(message string, cause error) *ConfigurationError {
	return &ConfigurationError{Message: message, Cause: cause}
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Message, e.Cause)
	}
	return "configuration error: " + e.Message
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// CompletionError wraps a provider-stream failure. Stage identifies which
// part of the completion round failed (e.g. "stream_open", "stream_parse").
// Retryable indicates whether the caller may attempt the same round again
// against a different provider.
type CompletionError struct {
	Message       string
	Stage         string
	Retryable     bool
	OriginalError error
}

// NewCompletionError constructs a CompletionError.
func NewCompletionError(message, stage string, retryable bool, original error) *CompletionError {
	return &CompletionError{Message: message, Stage: stage, Retryable: retryable, OriginalError: original}
}

func (e *CompletionError) Error() string {
	if e.OriginalError != nil {
		return fmt.Sprintf("completion error at %s: %s: %v", e.Stage, e.Message, e.OriginalError)
	}
	return fmt.Sprintf("completion error at %s: %s", e.Stage, e.Message)
}

func (e *CompletionError) Unwrap() error { return e.OriginalError }

// ToolExecutionError wraps a single tool dispatch failure. Non-fatal: the
// tool loop injects it as a ToolResult error and continues with the
// remaining calls in the round.
type ToolExecutionError struct {
	ToolName string
	ServerID string
	Message  string
	Cause    error
}

// NewToolExecutionError constructs a ToolExecutionError.
func NewToolExecutionError(serverID, toolName, message string, cause error) *ToolExecutionError {
	return &ToolExecutionError{ServerID: serverID, ToolName: toolName, Message: message, Cause: cause}
}

func (e *ToolExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tool %s.%s failed: %s: %v", e.ServerID, e.ToolName, e.Message, e.Cause)
	}
	return fmt.Sprintf("tool %s.%s failed: %s", e.ServerID, e.ToolName, e.Message)
}

func (e *ToolExecutionError) Unwrap() error { return e.Cause }

// AccessDenied reports a failed access-control check. Never propagates as an
// error to the caller of the tool loop: it materializes as a deny ToolResult
// with error "access denied: <reason>" and the loop continues.
type AccessDenied struct {
	ToolName string
	ServerID string
	Reason   string
}

// NewAccessDenied constructs an AccessDenied error.
func NewAccessDenied(serverID, toolName, reason string) *AccessDenied {
	return &AccessDenied{ServerID: serverID, ToolName: toolName, Reason: reason}
}

func (e *AccessDenied) Error() string {
	return fmt.Sprintf("access denied: %s", e.Reason)
}

// SchemaComplexityError reports that a provider rejected a request because
// its tool/schema set was too large. Recovery halves the tool count (minimum
// 20) and retries up to two times, emitting a "TOOL_LIMIT_EXCEEDED" warning
// on each retry.
type SchemaComplexityError struct {
	ToolCount int
	Cause     error
}

// NewSchemaComplexityError constructs a SchemaComplexityError.
func NewSchemaComplexityError(toolCount int, cause error) *SchemaComplexityError {
	return &SchemaComplexityError{ToolCount: toolCount, Cause: cause}
}

func (e *SchemaComplexityError) Error() string {
	return fmt.Sprintf("schema complexity error: provider rejected %d tools", e.ToolCount)
}

func (e *SchemaComplexityError) Unwrap() error { return e.Cause }

// TimeoutError classifies a provider or tool-proxy failure as a timeout, for
// metric tagging and retry classification.
type TimeoutError struct {
	Operation string
	Cause     error
}

// NewTimeoutError constructs a TimeoutError.
func NewTimeoutError(operation string, cause error) *TimeoutError {
	return &TimeoutError{Operation: operation, Cause: cause}
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout during %s: %v", e.Operation, e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// RateLimitError classifies a provider failure as a rate limit, for metric
// tagging and provider-failover decisions.
type RateLimitError struct {
	Provider string
	Cause    error
}

// NewRateLimitError constructs a RateLimitError.
func NewRateLimitError(provider string, cause error) *RateLimitError {
	return &RateLimitError{Provider: provider, Cause: cause}
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s: %v", e.Provider, e.Cause)
}

func (e *RateLimitError) Unwrap() error { return e.Cause }

// ClientCancelled reports that the request was cancelled by client
// disconnect or an external interrupt. Never emitted as a completion_error
// event; callers close the stream cleanly instead.
type ClientCancelled struct {
	Reason string
}

// NewClientCancelled constructs a ClientCancelled error.
func NewClientCancelled(reason string) *ClientCancelled {
	return &ClientCancelled{Reason: reason}
}

func (e *ClientCancelled) Error() string {
	if e.Reason == "" {
		return "client cancelled"
	}
	return "client cancelled: " + e.Reason
}

// IsClientCancelled reports whether err is, or wraps, a ClientCancelled.
func IsClientCancelled(err error) bool {
	var ce *ClientCancelled
	return errors.As(err, &ce)
}

// IsRetryable reports whether err carries an explicit retryable signal
// (currently only CompletionError does); all other kinds are non-retryable
// by default.
func IsRetryable(err error) bool {
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}
