package executor_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentic-work/chatcore/executor"
	"github.com/agentic-work/chatcore/stream"
)

type fakeProxy struct {
	result executor.Result
	err    error
	calls  []string
}

func (f *fakeProxy) Call(_ context.Context, serverID, originalName string, _ map[string]any, _ string, _, _ string) (executor.Result, error) {
	f.calls = append(f.calls, serverID+"."+originalName)
	return f.result, f.err
}

type fakeCodeExec struct {
	lastUserID, lastSessionID string
	result                    any
	err                       error
}

func (f *fakeCodeExec) Execute(_ context.Context, userID, sessionID, _ string, _ map[string]any) (any, error) {
	f.lastUserID, f.lastSessionID = userID, sessionID
	return f.result, f.err
}

type fakeAuditor struct {
	mu      sync.Mutex
	records []executor.AuditRecord
}

func (f *fakeAuditor) Write(_ context.Context, rec executor.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

type fakeSink struct {
	events []stream.Event
}

func (f *fakeSink) Send(_ context.Context, e stream.Event) error {
	f.events = append(f.events, e)
	return nil
}
func (f *fakeSink) Close(_ context.Context) error  { return nil }
func (f *fakeSink) OnCancel(_ func())              {}

func (f *fakeSink) types() []string {
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = string(e.Type())
	}
	return out
}

func TestDispatchRoutesToProxyByDefault(t *testing.T) {
	proxy := &fakeProxy{result: executor.Result{Payload: "ok"}}
	audit := &fakeAuditor{}
	sink := &fakeSink{}
	exec := &executor.Executor{Proxy: proxy, Audit: audit, Sink: sink}

	result, execs, err := exec.Dispatch(context.Background(), "run1", executor.Call{
		ToolCallID: "tc1", ServerID: "azure", ToolName: "list_resources", UserID: "u1", SessionID: "s1",
	})
	require.NoError(t, err)
	require.Empty(t, result.Error)
	require.Empty(t, execs)
	require.Equal(t, []string{"azure.list_resources"}, proxy.calls)
	require.Len(t, audit.records, 1)
	require.Equal(t, []string{"tool_executing", "tool_result"}, sink.types())
}

func TestDispatchRoutesCodeToolsToCodeExecBackend(t *testing.T) {
	code := &fakeCodeExec{result: "done"}
	proxy := &fakeProxy{}
	exec := &executor.Executor{
		Proxy: proxy, CodeExec: code,
		CodeToolPrefixes: []string{"code_"},
	}

	_, execs, err := exec.Dispatch(context.Background(), "run1", executor.Call{
		ToolCallID: "tc1", ServerID: "agent", ToolName: "code_run", UserID: "u1", SessionID: "s1",
		Arguments: map[string]any{"command": "echo hi"},
	})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	require.Equal(t, "done", execs[0].Output)
	require.Empty(t, proxy.calls)
	require.Equal(t, "u1", code.lastUserID)
	require.Equal(t, "s1", code.lastSessionID)
}

func TestDispatchInjectsUserIDForAgentiCodeServer(t *testing.T) {
	var captured map[string]any
	code := &recordingCodeExec{capture: &captured}
	exec := &executor.Executor{
		CodeExec:               code,
		CodeToolPrefixes:       []string{"code_"},
		AgentiCodeServerMarker: "agenticode",
	}

	_, _, err := exec.Dispatch(context.Background(), "run1", executor.Call{
		ServerID: "agenticode-prod", ToolName: "code_run", UserID: "real-user", SessionID: "s1",
		Arguments: map[string]any{"user_id": "lm-supplied-impersonation"},
	})
	require.NoError(t, err)
	require.Equal(t, "real-user", captured["user_id"])
}

type recordingCodeExec struct {
	capture *map[string]any
}

func (r *recordingCodeExec) Execute(_ context.Context, _, _, _ string, arguments map[string]any) (any, error) {
	*r.capture = arguments
	return "ok", nil
}

func TestDispatchEmitsToolErrorOnProxyFailure(t *testing.T) {
	proxy := &fakeProxy{err: errors.New("boom")}
	sink := &fakeSink{}
	audit := &fakeAuditor{}
	exec := &executor.Executor{Proxy: proxy, Sink: sink, Audit: audit}

	result, _, err := exec.Dispatch(context.Background(), "run1", executor.Call{
		ServerID: "azure", ToolName: "list_resources", UserID: "u1", SessionID: "s1",
	})
	require.NoError(t, err)
	require.Equal(t, "boom", result.Error)
	require.Equal(t, []string{"tool_executing", "tool_error"}, sink.types())
	require.Len(t, audit.records, 1)
	require.Equal(t, "boom", audit.records[0].Error)
}

func TestDenyResultWritesAuditWithoutDispatch(t *testing.T) {
	proxy := &fakeProxy{}
	audit := &fakeAuditor{}
	exec := &executor.Executor{Proxy: proxy, Audit: audit}

	result := exec.DenyResult(context.Background(), executor.Call{
		ServerID: "azure", ToolName: "delete_resource", UserID: "u1",
	}, "user lacks group for server azure")

	require.Contains(t, result.Error, "access denied")
	require.Empty(t, proxy.calls)
	require.Len(t, audit.records, 1)
}

func TestAuditWriteFailureDoesNotFailDispatch(t *testing.T) {
	proxy := &fakeProxy{result: executor.Result{Payload: "ok"}}
	exec := &executor.Executor{Proxy: proxy, Audit: failingAuditor{}}

	_, _, err := exec.Dispatch(context.Background(), "run1", executor.Call{
		ServerID: "azure", ToolName: "list_resources", UserID: "u1", SessionID: "s1",
	})
	require.NoError(t, err)
}

type failingAuditor struct{}

func (failingAuditor) Write(context.Context, executor.AuditRecord) error {
	return errors.New("audit store unavailable")
}
