package completion_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentic-work/chatcore/completion"
	"github.com/agentic-work/chatcore/executor"
	"github.com/agentic-work/chatcore/model"
	"github.com/agentic-work/chatcore/policy"
	"github.com/agentic-work/chatcore/stream"
	"github.com/agentic-work/chatcore/store"
	"github.com/agentic-work/chatcore/tools"
	"github.com/agentic-work/chatcore/toolinventory"
)

type scriptedStreamer struct {
	chunks []model.Chunk
	idx    int
}

func (s *scriptedStreamer) Recv() (model.Chunk, error) {
	if s.idx >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}
func (s *scriptedStreamer) Close() error             { return nil }
func (s *scriptedStreamer) Metadata() map[string]any { return nil }

type scriptedProvider struct {
	rounds [][]model.Chunk
	idx    int
}

func (p *scriptedProvider) Complete(context.Context, *model.Request) (*model.Response, error) {
	return &model.Response{}, nil
}

func (p *scriptedProvider) Stream(context.Context, *model.Request) (model.Streamer, error) {
	if p.idx >= len(p.rounds) {
		return &scriptedStreamer{}, nil
	}
	chunks := p.rounds[p.idx]
	p.idx++
	return &scriptedStreamer{chunks: chunks}, nil
}

func textChunk(s string) model.Chunk {
	return model.Chunk{Type: model.ChunkTypeText, Message: &model.Message{Parts: []model.Part{model.TextPart{Text: s}}}}
}

func stopChunk() model.Chunk { return model.Chunk{Type: model.ChunkTypeStop} }

func toolCallChunk(id, name string, args map[string]any) model.Chunk {
	payload, _ := json.Marshal(args)
	return model.Chunk{Type: model.ChunkTypeToolCall, ToolCall: &model.ToolCall{ID: id, Name: tools.Ident(name), Payload: payload}}
}

type fakeMessageStore struct {
	messages map[string]store.Message
	seq      int
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: map[string]store.Message{}}
}

func (f *fakeMessageStore) AddMessage(_ context.Context, sessionID string, msg store.Message) (store.Message, error) {
	f.seq++
	id := "m" + string(rune('0'+f.seq))
	msg.ID = id
	msg.SessionID = sessionID
	f.messages[id] = msg
	return msg, nil
}

func (f *fakeMessageStore) UpdateMessage(_ context.Context, messageID string, fields store.MessageFields) error {
	msg, ok := f.messages[messageID]
	if !ok {
		return store.ErrMessageNotFound
	}
	if fields.Content != nil {
		msg.Content = *fields.Content
	}
	if fields.Status != nil {
		msg.Status = *fields.Status
	}
	f.messages[messageID] = msg
	return nil
}

func (f *fakeMessageStore) ListMessages(context.Context, string, int) ([]store.Message, error) {
	return nil, nil
}

type fakeSink struct {
	events []stream.Event
}

func (f *fakeSink) Send(_ context.Context, e stream.Event) error {
	f.events = append(f.events, e)
	return nil
}
func (f *fakeSink) Close(context.Context) error { return nil }
func (f *fakeSink) OnCancel(func())             {}

func (f *fakeSink) types() []string {
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = string(e.Type())
	}
	return out
}

type allowAllPolicy struct{}

func (allowAllPolicy) EvaluateTool(context.Context, policy.Input) (policy.Decision, error) {
	return policy.Decision{Allowed: true}, nil
}
func (allowAllPolicy) EvaluateResourceScope(context.Context, policy.Input, string) (policy.Decision, error) {
	return policy.Decision{Allowed: true}, nil
}

type denyAllPolicy struct{}

func (denyAllPolicy) EvaluateTool(context.Context, policy.Input) (policy.Decision, error) {
	return policy.Decision{Allowed: false, Reason: "user lacks permission"}, nil
}
func (denyAllPolicy) EvaluateResourceScope(context.Context, policy.Input, string) (policy.Decision, error) {
	return policy.Decision{Allowed: true}, nil
}

type fakeProxy struct {
	calls []string
}

func (f *fakeProxy) Call(_ context.Context, serverID, originalName string, _ map[string]any, _ string, _, _ string) (executor.Result, error) {
	f.calls = append(f.calls, serverID+"."+originalName)
	return executor.Result{Payload: map[string]any{"ok": true}}, nil
}

func TestRunPureChatNoTools(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]model.Chunk{
		{textChunk("Hi"), textChunk(" there"), stopChunk()},
	}}
	messages := newFakeMessageStore()
	sink := &fakeSink{}

	stage := &completion.Stage{Provider: provider, Messages: messages, Sink: sink}
	outcome, err := stage.Run(context.Background(), completion.Request{RunID: "r1", SessionID: "s1", Model: "claude-sonnet-4"})

	require.NoError(t, err)
	require.Equal(t, "Hi there", outcome.FinalContent)
	require.Contains(t, sink.types(), "completion_complete")
	require.Contains(t, sink.types(), "message_saved")
	require.Contains(t, sink.types(), "message_updated")

	// Q1: message_saved strictly precedes stream and message_updated precedes completion_complete.
	savedIdx, updatedIdx, completeIdx := indexOf(sink.types(), "message_saved"), indexOf(sink.types(), "message_updated"), indexOf(sink.types(), "completion_complete")
	require.Less(t, savedIdx, updatedIdx)
	require.Less(t, updatedIdx, completeIdx)
}

func TestRunToolCallDispatchesAndLoopsToFinalText(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]model.Chunk{
		{toolCallChunk("tc1", "list_resources", map[string]any{}), stopChunk()},
		{textChunk("done"), stopChunk()},
	}}
	messages := newFakeMessageStore()
	sink := &fakeSink{}
	proxy := &fakeProxy{}

	inv := toolinventory.New([]tools.ToolSpec{{ServerID: "azure", OriginalName: "ListResources", SanitizedName: "list_resources"}})

	stage := &completion.Stage{
		Provider: provider, Messages: messages, Sink: sink, Policy: allowAllPolicy{},
		Executor: &executor.Executor{Proxy: proxy, Sink: sink},
	}
	outcome, err := stage.Run(context.Background(), completion.Request{
		RunID: "r1", SessionID: "s1", Model: "claude-sonnet-4", Tools: inv,
	})

	require.NoError(t, err)
	require.Equal(t, "done", outcome.FinalContent)
	require.Equal(t, []string{"azure.ListResources"}, proxy.calls)

	// Q2: tool_executing precedes tool_result.
	execIdx, resultIdx := indexOf(sink.types(), "tool_executing"), indexOf(sink.types(), "tool_result")
	require.GreaterOrEqual(t, execIdx, 0)
	require.Less(t, execIdx, resultIdx)
}

func TestRunDeniedToolProducesErrorResultWithoutDispatch(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]model.Chunk{
		{toolCallChunk("tc1", "delete_resource", map[string]any{}), stopChunk()},
		{textChunk("ok, declined"), stopChunk()},
	}}
	messages := newFakeMessageStore()
	sink := &fakeSink{}
	proxy := &fakeProxy{}

	inv := toolinventory.New([]tools.ToolSpec{{ServerID: "azure", OriginalName: "DeleteResource", SanitizedName: "delete_resource"}})

	stage := &completion.Stage{
		Provider: provider, Messages: messages, Sink: sink, Policy: denyAllPolicy{},
		Executor: &executor.Executor{Proxy: proxy},
	}
	_, err := stage.Run(context.Background(), completion.Request{
		RunID: "r1", SessionID: "s1", Model: "claude-sonnet-4", Tools: inv,
	})

	require.NoError(t, err)
	require.Empty(t, proxy.calls)
	require.NotContains(t, sink.types(), "tool_executing")
}

func TestRunCancellationMarksMessageInterruptedWithoutCompletionComplete(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &scriptedProvider{rounds: [][]model.Chunk{{textChunk("partial"), stopChunk()}}}
	messages := newFakeMessageStore()
	sink := &fakeSink{}

	stage := &completion.Stage{Provider: provider, Messages: messages, Sink: sink}
	outcome, err := stage.Run(ctx, completion.Request{RunID: "r1", SessionID: "s1", Model: "claude-sonnet-4"})

	require.NoError(t, err)
	require.True(t, outcome.Interrupted)
	require.NotContains(t, sink.types(), "completion_complete")
}

func indexOf(haystack []string, needle string) int {
	for i, v := range haystack {
		if v == needle {
			return i
		}
	}
	return -1
}
