package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentic-work/chatcore/cache"
	"github.com/agentic-work/chatcore/embed"
	"github.com/agentic-work/chatcore/policy"
)

type fakeExact struct {
	store map[string][]byte
}

func newFakeExact() *fakeExact { return &fakeExact{store: map[string][]byte{}} }

func (f *fakeExact) Get(_ context.Context, key string) ([]byte, error) {
	if v, ok := f.store[key]; ok {
		return v, nil
	}
	return nil, cache.ErrMiss
}

func (f *fakeExact) Set(_ context.Context, key string, payload []byte, _ time.Duration) error {
	f.store[key] = payload
	return nil
}

type fakeSemantic struct {
	entries []cache.SemanticEntry
}

func (f *fakeSemantic) Lookup(_ context.Context, tenantID, toolName string, queryEmbedding []float32, threshold float64) (cache.SemanticEntry, float64, bool, error) {
	var best cache.SemanticEntry
	var bestScore float64
	found := false
	for _, e := range f.entries {
		if e.TenantID != tenantID || e.ToolName != toolName {
			continue
		}
		score := embed.CosineSimilarity(queryEmbedding, e.QueryEmbedding)
		if score >= threshold && (!found || score > bestScore) {
			best, bestScore, found = e, score, true
		}
	}
	return best, bestScore, found, nil
}

func (f *fakeSemantic) Store(_ context.Context, entry cache.SemanticEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeSemantic) RecordHit(_ context.Context, _ string) error { return nil }

func TestTierGetExactHitSkipsSemantic(t *testing.T) {
	exact := newFakeExact()
	exact.store[cache.ExactKey("list_subscriptions", "u1", map[string]any{})] = []byte(`{"ok":true}`)
	tier := &cache.Tier{Exact: exact}

	lookup, err := tier.Get(context.Background(), policy.Input{UserID: "u1"}, "t1", "list_subscriptions", map[string]any{}, "seed")
	require.NoError(t, err)
	require.True(t, lookup.Hit)
	require.False(t, lookup.Semantic)
}

func TestTierGetSemanticHitDeniedByRBACIsMiss(t *testing.T) {
	exact := newFakeExact()
	embedder := embed.NewFake(16)
	vec, _ := embedder.Embed(context.Background(), "list my subscriptions")
	sem := &fakeSemantic{entries: []cache.SemanticEntry{
		{TenantID: "t1", OriginalUserID: "other", ToolName: "list_subscriptions", ResourceScope: "sub-123", QueryEmbedding: vec, Result: []byte(`{"ok":true}`)},
	}}
	eng := policy.New(policy.Options{Scopes: policy.ScopeOwners{"sub-123": {"finance"}}})
	tier := &cache.Tier{Exact: exact, Semantic: sem, Embedder: embedder, Policy: eng, SimilarityMin: 0.99}

	lookup, err := tier.Get(context.Background(), policy.Input{UserID: "u1", Groups: []string{"eng"}}, "t1", "list_subscriptions", map[string]any{}, "list my subscriptions")
	require.NoError(t, err)
	require.False(t, lookup.Hit)
}

func TestTierGetSemanticHitAllowedByRBAC(t *testing.T) {
	exact := newFakeExact()
	embedder := embed.NewFake(16)
	vec, _ := embedder.Embed(context.Background(), "list my subscriptions")
	sem := &fakeSemantic{entries: []cache.SemanticEntry{
		{TenantID: "t1", OriginalUserID: "other", ToolName: "list_subscriptions", ResourceScope: "sub-123", QueryEmbedding: vec, Result: []byte(`{"ok":true}`)},
	}}
	eng := policy.New(policy.Options{Scopes: policy.ScopeOwners{"sub-123": {"finance"}}})
	tier := &cache.Tier{Exact: exact, Semantic: sem, Embedder: embedder, Policy: eng, SimilarityMin: 0.99}

	lookup, err := tier.Get(context.Background(), policy.Input{UserID: "u1", Groups: []string{"finance"}}, "t1", "list_subscriptions", map[string]any{}, "list my subscriptions")
	require.NoError(t, err)
	require.True(t, lookup.Hit)
	require.True(t, lookup.Semantic)
	require.True(t, lookup.CrossUser)
}
