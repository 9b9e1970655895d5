// Package executor dispatches a resolved tool call to the correct backend
// (the code-execution sandbox or the remote tool-proxy), normalizes its
// response, and brackets the dispatch with SSE heartbeat events and an
// audit record.
package executor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentic-work/chatcore/stream"
	"github.com/agentic-work/chatcore/telemetry"
)

type (
	// Call is a resolved tool invocation ready for dispatch.
	Call struct {
		ToolCallID string
		ServerID   string
		ToolName   string // originalName, as expected by the tool-proxy
		Arguments  map[string]any
		UserID     string
		SessionID  string
	}

	// Result is the normalized outcome of a dispatch.
	Result struct {
		Payload     any
		Error       string
		ExecutedOn  string // pod/host that handled the call, from x-mcp-proxy-host
		LatencyMs   int64
		RequestSize int
		RespSize    int
	}

	// AuditRecord is the immutable record written once per tool invocation.
	AuditRecord struct {
		// ID uniquely identifies this record for cross-system correlation
		// (e.g. tying an audit entry back to the tool_executing/tool_result
		// event pair it brackets in logs or traces).
		ID            string
		UserID        string
		ToolName      string
		ServerID      string
		RequestBytes  int
		ResponseBytes int
		LatencyMs     int64
		Error         string
		Model         string
		Provider      string
		Timestamp     time.Time
	}

	// Auditor persists AuditRecord entries. Failures must be logged, never
	// propagated: an audit-write failure never fails the tool call it
	// describes.
	Auditor interface {
		Write(ctx context.Context, rec AuditRecord) error
	}

	// ExecutionRecord is appended to a request's code-execution context
	// regardless of the call's success, so the completion stage can surface
	// a full trace of sandbox activity.
	ExecutionRecord struct {
		ToolCallID string
		Command    string
		Output     string
		Error      string
		Timestamp  time.Time
	}

	// CodeExecBackend runs tools classified as code tools inside a
	// per-(user, session) sandbox that persists filesystem/workspace state
	// across calls within a request and across rounds.
	CodeExecBackend interface {
		// Execute runs arguments against the session for (userID, sessionID),
		// creating or attaching to it on first use.
		Execute(ctx context.Context, userID, sessionID, toolName string, arguments map[string]any) (any, error)
	}

	// ProxyClient dispatches a tool call to the remote tool-proxy.
	ProxyClient interface {
		Call(ctx context.Context, serverID, originalName string, arguments map[string]any, id string, userToken, identityToken string) (Result, error)
	}

	// Executor wires the code-execution and tool-proxy backends together.
	Executor struct {
		Proxy          ProxyClient
		CodeExec       CodeExecBackend
		Audit          Auditor
		Sink           stream.Sink
		Logger         telemetry.Logger
		// CodeToolPrefixes/CodeToolSuffixes classify a tool as a code tool.
		CodeToolPrefixes []string
		CodeToolSuffixes []string
		// AgentiCodeServerMarker flags a target server as the code-agent
		// server, triggering forced user_id injection.
		AgentiCodeServerMarker string
	}
)

// IsCodeTool reports whether toolName should route to the code-execution
// backend based on the configured prefix/suffix lists.
func (e *Executor) IsCodeTool(toolName string) bool {
	for _, p := range e.CodeToolPrefixes {
		if strings.HasPrefix(toolName, p) {
			return true
		}
	}
	for _, s := range e.CodeToolSuffixes {
		if strings.HasSuffix(toolName, s) {
			return true
		}
	}
	return false
}

// Dispatch executes call against the appropriate backend, emitting
// tool_executing before the call and tool_result/tool_error after, and
// writing exactly one audit record regardless of outcome.
func (e *Executor) Dispatch(ctx context.Context, runID string, call Call) (Result, []ExecutionRecord, error) {
	start := time.Now()

	if e.AgentiCodeServerMarker != "" && strings.Contains(call.ServerID, e.AgentiCodeServerMarker) {
		if call.Arguments == nil {
			call.Arguments = map[string]any{}
		}
		call.Arguments["user_id"] = call.UserID
	}

	if err := e.emitExecuting(ctx, runID, call); err != nil {
		return Result{}, nil, err
	}

	var (
		result Result
		execs  []ExecutionRecord
	)

	if e.CodeExec != nil && e.IsCodeTool(call.ToolName) {
		payload, err := e.CodeExec.Execute(ctx, call.UserID, call.SessionID, call.ToolName, call.Arguments)
		rec := ExecutionRecord{ToolCallID: call.ToolCallID, Command: call.ToolName, Timestamp: time.Now().UTC()}
		if err != nil {
			rec.Error = err.Error()
			result = Result{Error: err.Error()}
		} else {
			rec.Output = renderOutput(payload)
			result = Result{Payload: payload}
		}
		execs = append(execs, rec)
	} else if e.Proxy != nil {
		r, err := e.Proxy.Call(ctx, call.ServerID, call.ToolName, call.Arguments, call.ToolCallID, call.UserID, "")
		if err != nil {
			result = Result{Error: err.Error()}
		} else {
			result = r
		}
	} else {
		result = Result{Error: "no executor backend configured for tool"}
	}

	result.LatencyMs = time.Since(start).Milliseconds()

	e.writeAudit(ctx, call, result)

	if result.Error != "" {
		if err := e.emitError(ctx, runID, call, result); err != nil {
			return result, execs, err
		}
	} else if err := e.emitResult(ctx, runID, call, result); err != nil {
		return result, execs, err
	}

	return result, execs, nil
}

func renderOutput(v any) string {
	s, ok := v.(string)
	if ok {
		return s
	}
	return ""
}

func (e *Executor) emitExecuting(ctx context.Context, runID string, call Call) error {
	if e.Sink == nil {
		return nil
	}
	return e.Sink.Send(ctx, stream.NewToolExecuting(runID, call.SessionID, stream.ToolExecutingPayload{
		Name:         call.ToolName,
		Arguments:    call.Arguments,
		ToolCallID:   call.ToolCallID,
		TargetServer: call.ServerID,
		Timestamp:    time.Now().UnixMilli(),
	}))
}

func (e *Executor) emitResult(ctx context.Context, runID string, call Call, result Result) error {
	if e.Sink == nil {
		return nil
	}
	return e.Sink.Send(ctx, stream.NewToolResult(runID, call.SessionID, stream.ToolResultPayload{
		Name:            call.ToolName,
		Result:          result.Payload,
		ToolCallID:      call.ToolCallID,
		ExecutionTimeMs: result.LatencyMs,
		TargetServer:    call.ServerID,
		Timestamp:       time.Now().UnixMilli(),
	}))
}

func (e *Executor) emitError(ctx context.Context, runID string, call Call, result Result) error {
	if e.Sink == nil {
		return nil
	}
	return e.Sink.Send(ctx, stream.NewToolError(runID, call.SessionID, stream.ToolErrorPayload{
		Name:         call.ToolName,
		Error:        result.Error,
		ToolCallID:   call.ToolCallID,
		TargetServer: call.ServerID,
		Timestamp:    time.Now().UnixMilli(),
	}))
}

func (e *Executor) writeAudit(ctx context.Context, call Call, result Result) {
	if e.Audit == nil {
		return
	}
	rec := AuditRecord{
		ID:        uuid.NewString(),
		UserID:    call.UserID,
		ToolName:  call.ToolName,
		ServerID:  call.ServerID,
		LatencyMs: result.LatencyMs,
		Error:     result.Error,
		Timestamp: time.Now().UTC(),
	}
	if err := e.Audit.Write(ctx, rec); err != nil && e.Logger != nil {
		e.Logger.Warn(ctx, "executor: audit write failed", "error", err, "tool", call.ToolName)
	}
}

// DenyResult builds the Result/audit pair for an access-denied call: a
// ToolResult-shaped error, no execution event pair, and exactly one audit
// record, per the access-control contract.
func (e *Executor) DenyResult(ctx context.Context, call Call, reason string) Result {
	result := Result{Error: "access denied: " + reason}
	e.writeAudit(ctx, call, result)
	return result
}

// AuditCacheHit writes the single audit record a cache-hit tool call still
// owes per §4.G: the call never reaches a backend, so no execution event
// pair is emitted, but the dispatch is still recorded.
func (e *Executor) AuditCacheHit(ctx context.Context, call Call) {
	e.writeAudit(ctx, call, Result{})
}

// InvalidArgumentsResult builds the Result/audit pair for a call whose
// arguments fail schema validation before dispatch: like DenyResult, no
// execution event pair is emitted since the call never reaches a backend,
// but exactly one audit record is still written.
func (e *Executor) InvalidArgumentsResult(ctx context.Context, call Call, reason string) Result {
	result := Result{Error: "invalid arguments: " + reason}
	e.writeAudit(ctx, call, result)
	return result
}
