package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentic-work/chatcore/cache"
	"github.com/agentic-work/chatcore/executor"
	"github.com/agentic-work/chatcore/model"
	"github.com/agentic-work/chatcore/pipelineerr"
	"github.com/agentic-work/chatcore/policy"
	"github.com/agentic-work/chatcore/stream"
	"github.com/agentic-work/chatcore/tools"
	"github.com/agentic-work/chatcore/transcript"
)

// runToolRound resolves, authorizes, caches, and dispatches every tool call
// in a round, sequentially and in order, then appends the synthetic
// assistant-with-tool-calls and per-call tool-result messages to led.
func (s *Stage) runToolRound(ctx context.Context, req Request, led *transcript.Ledger, calls []model.ToolCall) error {
	results := make([]transcript.ToolResultSpec, 0, len(calls))

	for _, call := range calls {
		select {
		case <-ctx.Done():
			return pipelineerr.NewClientCancelled(fmt.Sprintf("tool round interrupted: %v", ctx.Err()))
		default:
		}

		spec, originalName, sanitizedName := s.resolveTool(req, call)
		arguments := argumentsOf(call)

		led.DeclareToolUse(call.ID, sanitizedName, arguments)

		result := s.dispatchOne(ctx, req, spec, call.ID, originalName, sanitizedName, arguments)
		results = append(results, transcript.ToolResultSpec{
			ToolUseID: call.ID,
			Content:   result.Content,
			IsError:   result.IsError,
		})
	}

	led.FlushAssistant()
	led.AppendUserToolResults(results)
	return nil
}

type toolOutcome struct {
	Content any
	IsError bool
}

// resolveTool maps the model's (possibly invented) tool name back onto the
// inventory via toolinventory's resolution rules, falling back to passing
// the invented name through unresolved per §4.E's "fail downstream" clause.
func (s *Stage) resolveTool(req Request, call model.ToolCall) (tools.ToolSpec, string, string) {
	name := call.Name.String()
	if req.Tools == nil {
		return tools.ToolSpec{}, name, name
	}
	if spec, ok := req.Tools.Resolve(name); ok {
		return spec, spec.OriginalName, spec.SanitizedName
	}
	return tools.ToolSpec{}, name, name
}

func (s *Stage) dispatchOne(ctx context.Context, req Request, spec tools.ToolSpec, toolCallID, originalName, sanitizedName string, arguments map[string]any) toolOutcome {
	call := executor.Call{
		ToolCallID: toolCallID,
		ServerID:   spec.ServerID,
		ToolName:   originalName,
		Arguments:  arguments,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
	}

	if !req.IsAdmin && s.Policy != nil {
		decision, err := s.Policy.EvaluateTool(ctx, policy.Input{
			UserID: req.UserID, Groups: req.Groups, IsAdmin: req.IsAdmin,
			ServerID: spec.ServerID, ToolName: sanitizedName,
		})
		if err != nil && s.Logger != nil {
			s.Logger.Warn(ctx, "completion: access check failed, denying", "error", err, "tool", sanitizedName)
		}
		if err != nil || !decision.Allowed {
			reason := decision.Reason
			if reason == "" {
				reason = "access check failed"
			}
			result := s.Executor.DenyResult(ctx, call, reason)
			return toolOutcome{Content: errorContent(result.Error), IsError: true}
		}
	}

	if req.Tools != nil {
		if err := req.Tools.ValidateArguments(spec, arguments); err != nil {
			result := s.Executor.InvalidArgumentsResult(ctx, call, err.Error())
			return toolOutcome{Content: errorContent(result.Error), IsError: true}
		}
	}

	if s.Cache != nil && cache.Cacheable(sanitizedName, arguments) {
		seed := similaritySeed(sanitizedName, arguments)
		lookup, err := s.Cache.Get(ctx, policy.Input{UserID: req.UserID, Groups: req.Groups, IsAdmin: req.IsAdmin}, req.TenantID, sanitizedName, arguments, seed)
		if err == nil && lookup.Hit {
			s.Executor.AuditCacheHit(ctx, call)
			s.emitCacheHit(ctx, req, sanitizedName, toolCallID, lookup)
			return toolOutcome{Content: decodeCachedPayload(lookup.Result)}
		}
	}

	result, execs, err := s.Executor.Dispatch(ctx, req.RunID, call)
	if req.CodeExecutions != nil && len(execs) > 0 {
		*req.CodeExecutions = append(*req.CodeExecutions, execs...)
	}
	if err != nil {
		return toolOutcome{Content: errorContent(err.Error()), IsError: true}
	}
	if result.Error != "" {
		return toolOutcome{Content: errorContent(result.Error), IsError: true}
	}

	if s.Cache != nil && cache.Cacheable(sanitizedName, arguments) {
		payload, encErr := json.Marshal(result.Payload)
		if encErr == nil {
			_ = s.Cache.StoreExact(ctx, req.UserID, sanitizedName, arguments, payload)
			go func() {
				bg := context.Background()
				seed := similaritySeed(sanitizedName, arguments)
				scope := cache.ResourceScope(arguments)
				_ = s.Cache.StoreSemantic(bg, req.TenantID, req.UserID, sanitizedName, seed, scope, payload)
			}()
		}
	}

	return toolOutcome{Content: result.Payload}
}

func similaritySeed(toolName string, arguments map[string]any) string {
	payload, _ := json.Marshal(arguments)
	return toolName + ":" + string(payload)
}

func decodeCachedPayload(raw []byte) any {
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return string(raw)
	}
	return out
}

func errorContent(message string) map[string]any {
	return map[string]any{"error": message}
}

func (s *Stage) emitCacheHit(ctx context.Context, req Request, toolName, toolCallID string, lookup cache.Lookup) {
	if s.Sink == nil {
		return
	}
	if lookup.Semantic {
		_ = s.Sink.Send(ctx, stream.NewToolSemanticCacheHit(req.RunID, req.SessionID, stream.ToolSemanticCacheHitPayload{
			Name: toolName, ToolCallID: toolCallID, Cached: true, Semantic: true,
			CrossUser: lookup.CrossUser, Similarity: lookup.Similarity, ResourceScope: lookup.ResourceScope,
			Timestamp: time.Now().UnixMilli(),
		}))
		return
	}
	_ = s.Sink.Send(ctx, stream.NewToolCacheHit(req.RunID, req.SessionID, stream.ToolCacheHitPayload{
		Name: toolName, ToolCallID: toolCallID, Cached: true, Timestamp: time.Now().UnixMilli(),
	}))
}
