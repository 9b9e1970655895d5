package cache

import (
	"context"
	"time"

	"github.com/agentic-work/chatcore/embed"
	"github.com/agentic-work/chatcore/policy"
)

// resourceScopeKeys lists the argument keys inspected, in order, to capture
// a tenant-sensitive resource scope from a tool call's arguments (e.g. an
// Azure subscription id or AWS account id). The first present key wins.
var resourceScopeKeys = []string{
	"subscriptionId", "subscription_id",
	"accountId", "account_id",
	"resourceGroup", "resource_group",
}

// ResourceScope extracts the resource-scope identifier from tool
// arguments, or "" when none of the known keys are present.
func ResourceScope(arguments map[string]any) string {
	for _, key := range resourceScopeKeys {
		if v, ok := arguments[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// Lookup is the result of consulting the two-tier cache for a tool call.
type Lookup struct {
	// Hit reports whether a usable cached result was found.
	Hit bool
	// Semantic reports whether the hit came from the layer-2 cache.
	Semantic bool
	// CrossUser reports whether a semantic hit originated from a different
	// user than the one requesting it now.
	CrossUser bool
	// Similarity is the cosine similarity score for a semantic hit.
	Similarity float64
	// ResourceScope is the scope carried by a semantic hit, when any.
	ResourceScope string
	// Result is the cached payload.
	Result []byte
	// EntryID identifies a semantic entry, for RecordHit.
	EntryID string
}

// Tier composes the exact and semantic cache layers with the RBAC check
// semantic reuse requires. Exact is consulted first; on miss, Semantic; on
// miss, callers dispatch live and populate both layers via StoreExact
// (synchronous, fire-and-forget from the caller's perspective) and
// StoreSemantic (intended to run off the hot path).
type Tier struct {
	Exact         ExactCache
	Semantic      SemanticCache
	Embedder      embed.Embedder
	Policy        policy.Evaluator
	SimilarityMin float64
}

// Get consults the exact cache, then the semantic cache with its mandatory
// RBAC gate on ResourceScope. tenantID scopes the semantic lookup to the
// entries written under it by StoreSemantic. similaritySeed is the text
// embedded for a semantic lookup (typically the user message or a
// canonicalized rendering of the tool arguments).
func (t *Tier) Get(ctx context.Context, in policy.Input, tenantID, toolName string, arguments map[string]any, similaritySeed string) (Lookup, error) {
	exactKey := ExactKey(toolName, in.UserID, arguments)
	if payload, err := t.Exact.Get(ctx, exactKey); err == nil {
		return Lookup{Hit: true, Result: payload}, nil
	} else if err != ErrMiss {
		return Lookup{}, err
	}

	if t.Semantic == nil || t.Embedder == nil {
		return Lookup{}, nil
	}
	queryEmbedding, err := t.Embedder.Embed(ctx, similaritySeed)
	if err != nil {
		return Lookup{}, err
	}
	threshold := t.SimilarityMin
	if threshold <= 0 {
		threshold = 0.85
	}
	entry, similarity, ok, err := t.Semantic.Lookup(ctx, tenantID, toolName, queryEmbedding, threshold)
	if err != nil {
		return Lookup{}, err
	}
	if !ok {
		return Lookup{}, nil
	}

	decision, err := t.Policy.EvaluateResourceScope(ctx, in, entry.ResourceScope)
	if err != nil {
		return Lookup{}, err
	}
	if !decision.Allowed {
		// Q6: an RBAC-failing semantic match is treated as a miss, not an error.
		return Lookup{}, nil
	}

	return Lookup{
		Hit:           true,
		Semantic:      true,
		CrossUser:     entry.OriginalUserID != in.UserID,
		Similarity:    similarity,
		ResourceScope: entry.ResourceScope,
		Result:        entry.Result,
		EntryID:       entry.ID,
	}, nil
}

// StoreExact writes payload into the exact layer under the standard key
// derived from (toolName, userID, arguments), using the TTL classified
// from toolName.
func (t *Tier) StoreExact(ctx context.Context, userID, toolName string, arguments map[string]any, payload []byte) error {
	key := ExactKey(toolName, userID, arguments)
	ttl := time.Duration(TTLSeconds(toolName)) * time.Second
	return t.Exact.Set(ctx, key, payload, ttl)
}

// StoreSemantic writes a fresh result into the layer-2 cache after a
// successful live execution of a cacheable tool.
func (t *Tier) StoreSemantic(ctx context.Context, tenantID, userID, toolName, similaritySeed, resourceScope string, payload []byte) error {
	if t.Semantic == nil || t.Embedder == nil {
		return nil
	}
	queryEmbedding, err := t.Embedder.Embed(ctx, similaritySeed)
	if err != nil {
		return err
	}
	return t.Semantic.Store(ctx, SemanticEntry{
		TenantID:        tenantID,
		OriginalUserID:  userID,
		ToolName:        toolName,
		ArgumentsSketch: similaritySeed,
		ResourceScope:   resourceScope,
		QueryEmbedding:  queryEmbedding,
		Result:          payload,
		CachedAt:        time.Now().UTC(),
	})
}
