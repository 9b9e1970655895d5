package pipeline

import (
	"sync"
	"time"

	"github.com/agentic-work/chatcore/executor"
	"github.com/agentic-work/chatcore/memory"
	"github.com/agentic-work/chatcore/model"
	"github.com/agentic-work/chatcore/retrieval"
)

// Context is the per-request aggregate every stage reads from and, in its
// own turn, writes to. It is single-owner: only the owning goroutine
// mutates Messages, CodeExecutionContext, and Metadata. The one exception
// is MCPCalls: AppendMCPCall guards that write path with a mutex, so it may
// be called from another goroutine, while the rest of Context stays
// lock-free. Nothing in this module calls AppendMCPCall.
//
// A Context is created when a request arrives and discarded once the
// request reaches a terminal state (completion, error, or client
// cancellation); it is never reused across requests.
type Context struct {
	Request   Request
	UserID    string
	Groups    []string
	IsAdmin   bool
	SessionID string

	// Messages is the ordered, chronological conversation history replayed
	// from durable storage for this session, oldest first.
	Messages []*model.Message

	// PreparedMessages are the system/RAG/memory messages prepended ahead
	// of Messages for every completion round.
	PreparedMessages []*model.Message

	AvailableTools []*model.ToolDefinition

	RAGContext *retrieval.Knowledge

	CodeExecutionContext []executor.ExecutionRecord

	Metadata map[string]any

	StartTime time.Time

	ModelSelectionReason string

	SuppressStreaming    bool
	ForceFinalCompletion bool

	mu       sync.Mutex
	mcpCalls []memory.Event
}

// NewContext builds a fresh Context for req, stamping StartTime.
func NewContext(req Request, userID string, groups []string, isAdmin bool) *Context {
	return &Context{
		Request:   req,
		UserID:    userID,
		Groups:    groups,
		IsAdmin:   isAdmin,
		SessionID: req.SessionID,
		Metadata:  make(map[string]any),
		StartTime: time.Now(),
	}
}

// AppendMCPCall records a tool-call memory event. Safe for concurrent use
// while the owning goroutine drives the rest of the request.
func (c *Context) AppendMCPCall(e memory.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mcpCalls = append(c.mcpCalls, e)
}

// MCPCalls returns a snapshot of the tool-call events recorded so far.
func (c *Context) MCPCalls() []memory.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]memory.Event, len(c.mcpCalls))
	copy(out, c.mcpCalls)
	return out
}

// Elapsed returns the time since the request began.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.StartTime)
}
