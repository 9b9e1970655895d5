package completion

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/agentic-work/chatcore/model"
	"github.com/agentic-work/chatcore/stream"
	"github.com/agentic-work/chatcore/store"
)

const apologyPlaceholder = "I wasn't able to finish that response. Please try again."

// safetyCheck inspects finalContent for the sanity conditions worth
// catching before it reaches the user: repetition loops, content whose
// runes are more than 60% non-ASCII (reported as "non_english"; the request
// is not consulted), and length over 50000 bytes. It
// returns the content to store (possibly replaced) and the issues found.
func safetyCheck(content string) (string, []string) {
	var issues []string

	if hasRepetitionLoop(content) {
		issues = append(issues, "repetition")
	}
	if len(content) > 50000 {
		issues = append(issues, "excessive_length")
		content = content[:50000] + "…"
	}
	if content != "" && nonASCIIRatio(content) > 0.6 {
		issues = append(issues, "non_english")
	}

	if len(issues) > 0 && strings.Contains(strings.Join(issues, ","), "repetition") {
		content = collapseRepetition(content)
	}

	return content, issues
}

// hasRepetitionLoop detects a short substring repeated enough times to
// dominate the response, a common degenerate-generation failure mode.
func hasRepetitionLoop(content string) bool {
	const window = 40
	if len(content) < window*6 {
		return false
	}
	tail := content[len(content)-window:]
	count := strings.Count(content, tail)
	return count >= 5
}

func collapseRepetition(content string) string {
	const window = 40
	if len(content) < window*6 {
		return content
	}
	tail := content[len(content)-window:]
	idx := strings.Index(content, tail)
	if idx <= 0 {
		return content
	}
	return content[:idx+window]
}

func nonASCIIRatio(s string) float64 {
	var nonASCII, total int
	for _, r := range s {
		total++
		if r > unicode.MaxASCII {
			nonASCII++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(nonASCII) / float64(total)
}

// finalize completes §4.I.4: apply the content-safety check, update the
// durable placeholder, emit message_updated, and — only when the terminal
// round produced zero tool calls — emit completion_complete, since earlier
// rounds already own their own bracket closures otherwise.
func (s *Stage) finalize(ctx context.Context, req Request, messageID, source, finalContent string, lastToolCalls []model.ToolCall, usage model.TokenUsage) (Outcome, error) {
	safe, issues := safetyCheck(finalContent)
	if safe == "" {
		safe = apologyPlaceholder
	}

	if s.Messages != nil {
		content := safe
		final := true
		if err := s.Messages.UpdateMessage(ctx, messageID, store.MessageFields{Content: &content, Final: &final}); err != nil && s.Logger != nil {
			s.Logger.Warn(ctx, "completion: final persist failed", "error", err)
		}
	}

	if s.Sink != nil {
		if len(issues) > 0 {
			_ = s.Sink.Send(ctx, stream.NewContentSafetyWarning(req.RunID, req.SessionID, stream.ContentSafetyWarningPayload{
				MessageID: messageID, Issues: issues,
			}))
		}
		_ = s.Sink.Send(ctx, stream.NewMessageUpdated(req.RunID, req.SessionID, stream.MessageUpdatedPayload{
			MessageID: messageID, Role: "assistant", Content: safe, Timestamp: time.Now().UnixMilli(),
			Model: req.Model, Source: source, Confirmed: true, Final: true,
		}))

		if len(lastToolCalls) == 0 {
			_ = s.Sink.Send(ctx, stream.NewCompletionComplete(req.RunID, req.SessionID, stream.CompletionCompletePayload{
				MessageID: messageID, ToolCalls: lastToolCalls, Usage: usage, FinishReason: "stop", Model: req.Model, Source: source,
			}))
		}
	}

	return Outcome{MessageID: messageID, FinalContent: safe, ToolCalls: lastToolCalls, Usage: usage}, nil
}

// finalizeOnError closes the stream on an unrecoverable provider or
// completion failure: whatever text streamed is preserved, and a
// completion_error event terminates the request.
func (s *Stage) finalizeOnError(ctx context.Context, req Request, messageID, source, finalContent string, cause error) (Outcome, error) {
	safe := finalContent
	if safe == "" {
		safe = apologyPlaceholder
	}
	if s.Messages != nil {
		content := safe
		final := true
		_ = s.Messages.UpdateMessage(ctx, messageID, store.MessageFields{Content: &content, Final: &final})
	}
	if s.Sink != nil {
		_ = s.Sink.Send(ctx, stream.NewMessageUpdated(req.RunID, req.SessionID, stream.MessageUpdatedPayload{
			MessageID: messageID, Role: "assistant", Content: safe, Timestamp: time.Now().UnixMilli(),
			Model: req.Model, Source: source, Confirmed: true, Final: true,
		}))
		_ = s.Sink.Send(ctx, stream.NewCompletionError(req.RunID, req.SessionID, stream.CompletionErrorPayload{
			Error: cause.Error(), Stage: "completion",
		}))
	}
	return Outcome{MessageID: messageID, FinalContent: safe}, cause
}

// finalizeOnCancel implements Q10: after cancellation, no completion_complete
// or further stream events are emitted; the durable row is marked
// interrupted with whatever text had accumulated.
func (s *Stage) finalizeOnCancel(ctx context.Context, req Request, messageID, source, finalContent string) (Outcome, error) {
	if s.Messages != nil {
		content := finalContent
		status := "interrupted"
		bg := context.Background()
		_ = s.Messages.UpdateMessage(bg, messageID, store.MessageFields{Content: &content, Status: &status})
	}
	return Outcome{MessageID: messageID, FinalContent: finalContent, Interrupted: true}, nil
}
