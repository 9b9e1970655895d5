// Package pipeline orchestrates one request end to end: retrieval, the
// external memory collaborator, model routing, and the completion stage,
// against the §6.1 inbound request contract. It owns the per-request
// Context and the SSE bracket (rag_status, then whatever completion emits).
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentic-work/chatcore/completion"
	"github.com/agentic-work/chatcore/memory"
	"github.com/agentic-work/chatcore/model"
	"github.com/agentic-work/chatcore/modelrouter"
	"github.com/agentic-work/chatcore/retrieval"
	"github.com/agentic-work/chatcore/session"
	"github.com/agentic-work/chatcore/stream"
	"github.com/agentic-work/chatcore/telemetry"
	"github.com/agentic-work/chatcore/tools"
	"github.com/agentic-work/chatcore/toolinventory"
	"github.com/agentic-work/chatcore/transcript"
)

type (
	// RequestConfig mirrors the nested `config` object of the inbound
	// request contract (§6.1).
	RequestConfig struct {
		Model              string
		Temperature        float32
		MaxTokens          int
		SuppressStreaming  bool
		EnableRAG          bool
	}

	// Attachment is a file reference accompanying the user's message. The
	// core treats attachments as opaque metadata; interpreting their
	// content is a provider/tool concern.
	Attachment struct {
		Name        string
		ContentType string
		URL         string
	}

	// Request is the inbound request contract (§6.1).
	Request struct {
		UserID                 string
		SessionID              string
		MessageID              string
		Message                string
		Attachments            []Attachment
		Config                 RequestConfig
		SliderConfig           map[string]any
		EnableExtendedThinking bool

		// Groups and IsAdmin carry the caller's authorization context,
		// supplied by whatever authenticates the inbound request ahead of
		// the pipeline; the core treats them as a read-only borrow.
		Groups  []string
		IsAdmin bool

		// TenantID scopes cross-user collaborators (the semantic tool
		// cache, per §4.F) to the caller's tenant. It is distinct from
		// UserID: two users in the same tenant share semantic cache
		// entries, two tenants never do.
		TenantID string
	}

	// Stage composes every collaborator a full request needs, beyond what
	// completion.Stage already owns.
	Stage struct {
		Retrieval       *retrieval.Stage
		RetrievalConfig retrieval.Config

		Memory       memory.Provider
		MemoryEvents memory.Store

		Router     *modelrouter.Router
		Completion *completion.Stage
		Sessions   session.Store

		Sink stream.Sink

		Tools *toolinventory.Inventory

		DefaultModel  string
		MaxToolRounds int

		Logger telemetry.Logger
	}
)

// Run drives one request through retrieval, memory folding, model
// selection, and the completion stage, per the control flow in §2:
// retrieval (C) → memory (D) → completion (I).
func (s *Stage) Run(ctx context.Context, req Request) (completion.Outcome, error) {
	pctx := NewContext(req, req.UserID, req.Groups, req.IsAdmin)
	pctx.SuppressStreaming = req.Config.SuppressStreaming

	if s.Sessions != nil && req.SessionID != "" {
		if _, err := s.Sessions.CreateSession(ctx, req.SessionID, time.Now().UTC()); err != nil && s.Logger != nil {
			s.Logger.Warn(ctx, "pipeline: session create failed, continuing", "error", err, "sessionId", req.SessionID)
		}
		_ = s.Sessions.UpsertRun(ctx, session.RunMeta{
			RunID: req.MessageID, SessionID: req.SessionID, Status: session.RunStatusRunning,
			StartedAt: pctx.StartTime, UpdatedAt: pctx.StartTime,
		})
	}

	s.runRetrieval(ctx, pctx)
	s.foldMemory(ctx, pctx)
	history := s.loadHistory(ctx, pctx)

	decision, err := s.route(ctx, pctx)
	if err != nil {
		s.finishRun(ctx, req, "", session.RunStatusFailed, err, 0)
		return completion.Outcome{}, err
	}
	pctx.ModelSelectionReason = decision.Model

	toolDefs, inv := s.toolsFor(pctx)

	creq := completion.Request{
		RunID:           req.MessageID,
		SessionID:       req.SessionID,
		UserID:          req.UserID,
		TenantID:        req.TenantID,
		Groups:          req.Groups,
		IsAdmin:         req.IsAdmin,
		Model:           decision.Model,
		Reasoning:       completion.ReasoningConfig{ExtendedThinking: decision.Reasoning.ExtendedThinking, Effort: decision.Reasoning.Effort},
		PreparedContext: pctx.PreparedMessages,
		History:         history,
		Tools:           inv,
		ToolDefs:        toolDefs,
		CodeExecutions:  &pctx.CodeExecutionContext,
	}

	outcome, err := s.Completion.Run(ctx, creq)

	status := session.RunStatusCompleted
	if err != nil {
		status = session.RunStatusFailed
	} else if outcome.Interrupted {
		status = session.RunStatusCanceled
	}
	s.finishRun(ctx, req, decision.Model, status, err, outcome.ToolCallsCount)

	return outcome, err
}

func (s *Stage) finishRun(ctx context.Context, req Request, model string, status session.RunStatus, cause error, toolCallsCount int) {
	if s.Sessions == nil || req.SessionID == "" {
		return
	}
	var errMsg string
	if cause != nil {
		errMsg = cause.Error()
	}
	_ = s.Sessions.UpsertRun(ctx, session.RunMeta{
		RunID: req.MessageID, SessionID: req.SessionID, Status: status, Model: model,
		Error: errMsg, ToolCallsCount: toolCallsCount, UpdatedAt: time.Now().UTC(),
	})
}

// runRetrieval executes the RAG fan-out when the caller opted in and a
// Retrieval collaborator is wired, folding the result into pctx and
// emitting rag_status.
func (s *Stage) runRetrieval(ctx context.Context, pctx *Context) {
	if s.Retrieval == nil || !pctx.Request.Config.EnableRAG {
		return
	}
	knowledge, ok := s.Retrieval.Run(ctx, pctx.Request.Message, pctx.UserID, pctx.IsAdmin, s.RetrievalConfig)
	if !ok {
		return
	}
	pctx.RAGContext = &knowledge
	if s.Sink != nil {
		_ = retrieval.Emit(ctx, s.Sink, pctx.Request.MessageID, pctx.SessionID, knowledge)
	}
	pctx.PreparedMessages = append(pctx.PreparedMessages, ragMessage(knowledge))
}

func ragMessage(k retrieval.Knowledge) *model.Message {
	var b []string
	for _, it := range k.Docs {
		b = append(b, it.Content)
	}
	for _, it := range k.Chats {
		b = append(b, it.Content)
	}
	for _, it := range k.Artifacts {
		b = append(b, it.Content)
	}
	return &model.Message{
		Role:  model.ConversationRoleSystem,
		Parts: []model.Part{model.TextPart{Text: joinWithHeader("Retrieved context:", b)}},
	}
}

// foldMemory fetches the external memory collaborator's tiered payload
// (§4.D) and folds it into pctx's prepared messages as an opaque system
// addition. The completion stage never inspects its structure.
func (s *Stage) foldMemory(ctx context.Context, pctx *Context) {
	if s.Memory == nil {
		return
	}
	tiers, err := s.Memory.Fetch(ctx, pctx.SessionID, pctx.UserID)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn(ctx, "pipeline: memory fetch failed, continuing without it", "error", err)
		}
		return
	}
	if tiers.Empty() {
		return
	}
	var b []string
	b = append(b, tiers.ShortTermSummaries...)
	b = append(b, tiers.DomainKnowledge...)
	b = append(b, tiers.SemanticMatches...)
	pctx.PreparedMessages = append(pctx.PreparedMessages, &model.Message{
		Role:  model.ConversationRoleSystem,
		Parts: []model.Part{model.TextPart{Text: joinWithHeader("Memory:", b)}},
	})
}

// loadHistory replays the durable event log for the session into
// provider-ready messages, when a memory.Store is wired. Absent one, the
// completion round proceeds with empty prior history.
func (s *Stage) loadHistory(ctx context.Context, pctx *Context) []*model.Message {
	if s.MemoryEvents == nil || pctx.SessionID == "" {
		return nil
	}
	events, err := s.MemoryEvents.LoadAll(ctx, pctx.SessionID)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn(ctx, "pipeline: history replay failed, continuing without it", "error", err)
		}
		return nil
	}
	pctx.Messages = transcript.BuildMessagesFromEvents(events)
	return pctx.Messages
}

func (s *Stage) route(ctx context.Context, pctx *Context) (modelrouter.Decision, error) {
	if s.Router == nil {
		return modelrouter.Decision{Model: pctx.Request.Config.Model}, nil
	}
	rreq := modelrouter.Request{
		ExplicitModel:      pctx.Request.Config.Model,
		IntelligentRouting: false,
		PipelineModel:      s.DefaultModel,
		ConfiguredDefault:  s.DefaultModel,
		UserMessage:        pctx.Request.Message,
		Messages:           dereference(pctx.Messages),
	}
	return s.Router.Route(ctx, rreq)
}

func dereference(msgs []*model.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m != nil {
			out = append(out, *m)
		}
	}
	return out
}

// toolsFor builds the provider-facing tool definitions and the
// toolinventory.Inventory the completion stage resolves call names
// against, from whichever inventory this Stage was wired with. RBAC
// filtering of individual calls happens later, in the completion stage's
// dispatch path (§4.E); here we only decide whether tools are offered at
// all (suppressed streaming never disables tools, per §6.1's field list).
func (s *Stage) toolsFor(pctx *Context) ([]*model.ToolDefinition, *toolinventory.Inventory) {
	if s.Tools == nil || pctx.ForceFinalCompletion {
		return nil, s.Tools
	}
	specs := s.Tools.Specs()
	defs := make([]*model.ToolDefinition, 0, len(specs))
	for _, spec := range specs {
		defs = append(defs, toolDefinitionFor(spec))
	}
	pctx.AvailableTools = defs
	return defs, s.Tools
}

func toolDefinitionFor(spec tools.ToolSpec) *model.ToolDefinition {
	var schema any
	if len(spec.Payload.Schema) > 0 {
		schema = json.RawMessage(spec.Payload.Schema)
	}
	return &model.ToolDefinition{
		Name:        spec.SanitizedName,
		Description: spec.Description,
		InputSchema: schema,
	}
}

func joinWithHeader(header string, parts []string) string {
	if len(parts) == 0 {
		return header
	}
	out := header
	for _, p := range parts {
		out += "\n" + p
	}
	return out
}
