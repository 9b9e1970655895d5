// Package retrieval implements the RAG stage: a best-effort fan-out across
// documentation, prior-chat, and user-artifact backends, each of which may
// be absent or may fail independently without failing the request.
package retrieval

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentic-work/chatcore/stream"
	"github.com/agentic-work/chatcore/telemetry"
)

type (
	// Item is one retrieved piece of knowledge.
	Item struct {
		Content  string
		Metadata map[string]any
		Score    float64
	}

	// Config bounds and filters a retrieval round.
	Config struct {
		MaxDocs              int
		MaxChats             int
		MaxArtifacts         int
		MinRelevanceScore    float64
		EnableArtifactSearch bool
		Collections          []string
	}

	// Knowledge is the joined, truncated result of a retrieval round.
	Knowledge struct {
		Docs          []Item
		Chats         []Item
		Artifacts     []Item
		RetrievalTime time.Duration
		Collections   []string
	}

	// DocBackend searches documentation collections. Admin callers receive
	// the full MaxDocs budget; non-admins receive half (rounded down,
	// minimum 1 when MaxDocs > 0).
	DocBackend interface {
		SearchDocs(ctx context.Context, query string, limit int, collections []string) ([]Item, error)
	}

	// ChatHistoryBackend searches prior conversation turns, scoped to
	// userID unless the caller is an admin.
	ChatHistoryBackend interface {
		SearchChats(ctx context.Context, query, userID string, isAdmin bool, limit int) ([]Item, error)
	}

	// ArtifactBackend searches artifacts (files, generated outputs)
	// belonging to a user.
	ArtifactBackend interface {
		SearchArtifacts(ctx context.Context, query, userID string, limit int) ([]Item, error)
	}

	// Stage runs the fan-out retrieval round. Any backend left nil is
	// skipped silently: a deployment need not wire all three.
	Stage struct {
		Docs   DocBackend
		Chats  ChatHistoryBackend
		Artif  ArtifactBackend
		Logger telemetry.Logger
	}
)

// Run fans out up to three parallel retrievals and joins their results.
// Each sub-query failure is logged and treated as an empty sub-result; Run
// itself never returns an error. When every configured backend yields
// nothing, Run returns a zero Knowledge and the caller should treat
// ragContext as absent (emit no rag_status event).
func (s *Stage) Run(ctx context.Context, userMessage, userID string, isAdmin bool, cfg Config) (Knowledge, bool) {
	start := time.Now()

	var wg sync.WaitGroup
	var docs, chats, artifacts []Item

	if s.Docs != nil && cfg.MaxDocs > 0 {
		limit := cfg.MaxDocs
		if !isAdmin {
			limit = cfg.MaxDocs / 2
			if limit < 1 {
				limit = 1
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := s.Docs.SearchDocs(ctx, userMessage, limit, cfg.Collections)
			if err != nil {
				s.logWarn(ctx, "retrieval: doc search failed", "error", err)
				return
			}
			docs = items
		}()
	}

	if s.Chats != nil && cfg.MaxChats > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := s.Chats.SearchChats(ctx, userMessage, userID, isAdmin, cfg.MaxChats)
			if err != nil {
				s.logWarn(ctx, "retrieval: chat history search failed", "error", err)
				return
			}
			chats = items
		}()
	}

	if s.Artif != nil && cfg.EnableArtifactSearch && cfg.MaxArtifacts > 0 && userID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := s.Artif.SearchArtifacts(ctx, userMessage, userID, cfg.MaxArtifacts)
			if err != nil {
				s.logWarn(ctx, "retrieval: artifact search failed", "error", err)
				return
			}
			artifacts = items
		}()
	}

	wg.Wait()

	docs = rank(docs, cfg.MaxDocs, cfg.MinRelevanceScore)
	chats = rank(chats, cfg.MaxChats, cfg.MinRelevanceScore)
	artifacts = rank(artifacts, cfg.MaxArtifacts, cfg.MinRelevanceScore)

	if len(docs) == 0 && len(chats) == 0 && len(artifacts) == 0 {
		return Knowledge{}, false
	}

	return Knowledge{
		Docs:          docs,
		Chats:         chats,
		Artifacts:     artifacts,
		RetrievalTime: time.Since(start),
		Collections:   cfg.Collections,
	}, true
}

// Emit sends the rag_status event summarizing a retrieval round.
func Emit(ctx context.Context, sink stream.Sink, runID, sessionID string, k Knowledge) error {
	return sink.Send(ctx, stream.NewRAGStatus(runID, sessionID, stream.RAGStatusPayload{
		DocsRetrieved:      len(k.Docs),
		ChatsRetrieved:     len(k.Chats),
		ArtifactsRetrieved: len(k.Artifacts),
		Collections:        k.Collections,
		RetrievalTimeMs:    k.RetrievalTime.Milliseconds(),
	}))
}

func rank(items []Item, limit int, minScore float64) []Item {
	filtered := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Score >= minScore {
			filtered = append(filtered, it)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}

func (s *Stage) logWarn(ctx context.Context, msg string, keyvals ...any) {
	if s.Logger == nil {
		return
	}
	s.Logger.Warn(ctx, msg, keyvals...)
}
