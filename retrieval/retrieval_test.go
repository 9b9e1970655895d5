package retrieval_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentic-work/chatcore/retrieval"
)

type fakeDocs struct {
	items []retrieval.Item
	err   error
}

func (f *fakeDocs) SearchDocs(_ context.Context, _ string, limit int, _ []string) ([]retrieval.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.items) {
		return f.items[:limit], nil
	}
	return f.items, nil
}

type fakeChats struct {
	items []retrieval.Item
}

func (f *fakeChats) SearchChats(_ context.Context, _, _ string, _ bool, _ int) ([]retrieval.Item, error) {
	return f.items, nil
}

func TestStageJoinsAndRanksResults(t *testing.T) {
	stage := &retrieval.Stage{
		Docs:  &fakeDocs{items: []retrieval.Item{{Content: "a", Score: 0.2}, {Content: "b", Score: 0.9}}},
		Chats: &fakeChats{items: []retrieval.Item{{Content: "c", Score: 0.5}}},
	}
	k, ok := stage.Run(context.Background(), "hello", "u1", false, retrieval.Config{
		MaxDocs: 5, MaxChats: 5, MinRelevanceScore: 0.1,
	})
	require.True(t, ok)
	require.Len(t, k.Docs, 2)
	require.Equal(t, "b", k.Docs[0].Content)
	require.Len(t, k.Chats, 1)
}

func TestStageFiltersBelowMinRelevance(t *testing.T) {
	stage := &retrieval.Stage{
		Docs: &fakeDocs{items: []retrieval.Item{{Content: "a", Score: 0.05}, {Content: "b", Score: 0.9}}},
	}
	k, ok := stage.Run(context.Background(), "hello", "u1", false, retrieval.Config{
		MaxDocs: 5, MinRelevanceScore: 0.1,
	})
	require.True(t, ok)
	require.Len(t, k.Docs, 1)
	require.Equal(t, "b", k.Docs[0].Content)
}

func TestStageFailedBackendYieldsEmptyNotError(t *testing.T) {
	stage := &retrieval.Stage{
		Docs: &fakeDocs{err: context.DeadlineExceeded},
	}
	k, ok := stage.Run(context.Background(), "hello", "u1", false, retrieval.Config{MaxDocs: 5})
	require.False(t, ok)
	require.Empty(t, k.Docs)
}

func TestStageNoBackendsConfiguredYieldsAbsent(t *testing.T) {
	stage := &retrieval.Stage{}
	_, ok := stage.Run(context.Background(), "hello", "u1", false, retrieval.Config{MaxDocs: 5})
	require.False(t, ok)
}
