// Package providers composes the provider-specific model.Client
// implementations (anthropic, bedrock, openai) behind a single failover
// contract: the completion stage depends only on model.Client/model.Streamer
// and calls AsFailoverInfo on the opened Streamer for failover signalling,
// never on which concrete provider is live.
package providers

import (
	"context"
	"fmt"

	"github.com/agentic-work/chatcore/model"
	"github.com/agentic-work/chatcore/pipelineerr"
)

type (
	// Named pairs a model.Client with the provider identifier used in
	// failover metadata and audit/metrics records.
	Named struct {
		Provider string
		Client   model.Client
	}

	// FailoverManager tries providers in order, falling back to the next
	// when Stream fails to open. It never fails over mid-stream: once a
	// Streamer is returned, its own errors are surfaced to the caller as
	// CompletionErrors, consistent with the per-request Q9 "at most once"
	// invariant applying only to stream-open failures.
	FailoverManager struct {
		Providers []Named
	}
)

// Complete implements model.Client by delegating to the first provider;
// non-streaming completion does not participate in failover since it has no
// client consuming a live stream to notify.
func (f *FailoverManager) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if len(f.Providers) == 0 {
		return nil, pipelineerr.NewConfigurationError("no providers configured", nil)
	}
	return f.Providers[0].Client.Complete(ctx, req)
}

// Stream implements model.Client. It attempts each configured provider in
// order until one opens successfully, wrapping the result in a
// failoverStreamer that reports exactly the signal the completion stage
// needs: whether a failover occurred, and from/to which provider.
func (f *FailoverManager) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	if len(f.Providers) == 0 {
		return nil, pipelineerr.NewConfigurationError("no providers configured", nil)
	}

	var lastErr error
	for i, p := range f.Providers {
		streamer, err := p.Client.Stream(ctx, req)
		if err == nil {
			occurred := i > 0
			var original, reason string
			if occurred {
				original = f.Providers[0].Provider
				reason = lastErr.Error()
			}
			return &failoverStreamer{
				inner:            streamer,
				occurred:         occurred,
				originalProvider: original,
				failoverProvider: p.Provider,
				failureReason:    reason,
			}, nil
		}
		lastErr = fmt.Errorf("%s: %w", p.Provider, err)
	}

	return nil, pipelineerr.NewCompletionError("all providers failed to open a stream", "stream_open", false, lastErr)
}

// failoverStreamer decorates a model.Streamer with one-shot failover
// metadata. FailoverInfo clears its internal flag once read, so a poller
// calling it twice observes the signal only on the first call — the
// "idempotence" behavior Q9 requires of the completion stage's emission.
type failoverStreamer struct {
	inner model.Streamer

	occurred         bool
	originalProvider string
	failoverProvider string
	failureReason    string
	reported         bool
}

func (s *failoverStreamer) Recv() (model.Chunk, error) { return s.inner.Recv() }
func (s *failoverStreamer) Close() error               { return s.inner.Close() }

func (s *failoverStreamer) Metadata() map[string]any {
	meta := s.inner.Metadata()
	if meta == nil {
		meta = map[string]any{}
	}
	if s.occurred {
		meta["failover_occurred"] = true
		meta["original_provider"] = s.originalProvider
		meta["failover_provider"] = s.failoverProvider
		meta["failure_reason"] = s.failureReason
	}
	return meta
}

// FailoverInfo reports whether a failover occurred for this stream and
// clears the flag, so a second poll within the same request observes
// occurred=false even though the underlying swap is unchanged.
func (s *failoverStreamer) FailoverInfo() (occurred bool, original, failover, reason string) {
	if s.reported || !s.occurred {
		return false, "", "", ""
	}
	s.reported = true
	return true, s.originalProvider, s.failoverProvider, s.failureReason
}

// AsFailoverInfo extracts failover signalling from a model.Streamer
// produced by a FailoverManager, or reports no failover for any other
// Streamer implementation (e.g. a single-provider deployment).
func AsFailoverInfo(s model.Streamer) (occurred bool, original, failover, reason string) {
	fs, ok := s.(*failoverStreamer)
	if !ok {
		return false, "", "", ""
	}
	return fs.FailoverInfo()
}
