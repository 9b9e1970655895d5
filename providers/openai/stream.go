package openai

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	sdkopenai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/agentic-work/chatcore/model"
	"github.com/agentic-work/chatcore/tools"
)

// ssestreamIface captures the subset of openai-go's ssestream.Stream used by
// the adapter, so responsesAdapter and tests can both satisfy it without
// depending on the generic stream type directly.
type ssestreamIface struct {
	inner interface {
		Next() bool
		Current() responses.ResponseStreamEventUnion
		Err() error
		Close() error
	}
}

func (s *ssestreamIface) Next() bool                                    { return s.inner.Next() }
func (s *ssestreamIface) Current() responses.ResponseStreamEventUnion { return s.inner.Current() }
func (s *ssestreamIface) Err() error                                     { return s.inner.Err() }
func (s *ssestreamIface) Close() error                                   { return s.inner.Close() }

// responsesAdapter wraps the real openai-go Responses service so it
// satisfies ResponsesClient.
type responsesAdapter struct {
	svc *sdkopenai.ResponseService
}

func (a *responsesAdapter) New(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) (*responses.Response, error) {
	return a.svc.New(ctx, body, opts...)
}

func (a *responsesAdapter) NewStreaming(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) *ssestreamIface {
	return &ssestreamIface{inner: a.svc.NewStreaming(ctx, body, opts...)}
}

// openaiStreamer adapts a Responses API streaming call to model.Streamer. It
// mirrors the anthropic adapter's goroutine-plus-channel shape: a background
// goroutine drains the SDK stream and converts events into model.Chunks.
type openaiStreamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestreamIface

	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu   sync.RWMutex
	metadata map[string]any

	toolNameMap map[string]string
}

func newOpenAIStreamer(stream *ssestreamIface, nameMap map[string]string) model.Streamer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &openaiStreamer{
		ctx:         ctx,
		cancel:      cancel,
		stream:      stream,
		chunks:      make(chan model.Chunk, 32),
		toolNameMap: nameMap,
	}
	go s.run()
	return s
}

func (s *openaiStreamer) Recv() (model.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return model.Chunk{}, err
		}
		return model.Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		s.setErr(err)
		return model.Chunk{}, err
	}
}

func (s *openaiStreamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *openaiStreamer) Metadata() map[string]any {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	if len(s.metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

func (s *openaiStreamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			s.setErr(s.stream.Err())
			return
		}
		if err := s.handle(s.stream.Current()); err != nil {
			s.setErr(err)
			return
		}
	}
}

// handle converts one Responses API streaming event into zero or more
// model.Chunks. Only the event shapes the Responses API is documented to
// emit during a tool-enabled text turn are handled; anything else is
// ignored rather than treated as an error, since the SDK adds event types
// over time.
func (s *openaiStreamer) handle(event responses.ResponseStreamEventUnion) error {
	switch event.Type {
	case "response.output_text.delta":
		if event.Delta == "" {
			return nil
		}
		return s.emit(model.Chunk{
			Type: model.ChunkTypeText,
			Message: &model.Message{
				Role:  model.ConversationRoleAssistant,
				Parts: []model.Part{model.TextPart{Text: event.Delta}},
			},
		})
	case "response.output_item.done":
		item := event.Item
		if item.Type != "function_call" {
			return nil
		}
		name := item.Name
		if canonical, ok := s.toolNameMap[name]; ok {
			name = canonical
		}
		return s.emit(model.Chunk{
			Type: model.ChunkTypeToolCall,
			ToolCall: &model.ToolCall{
				Name:    tools.Ident(name),
				Payload: json.RawMessage(item.Arguments),
				ID:      item.CallID,
			},
		})
	case "response.completed":
		usage := model.TokenUsage{
			InputTokens:  int(event.Response.Usage.InputTokens),
			OutputTokens: int(event.Response.Usage.OutputTokens),
			TotalTokens:  int(event.Response.Usage.TotalTokens),
		}
		s.recordUsage(usage)
		if err := s.emit(model.Chunk{Type: model.ChunkTypeUsage, UsageDelta: &usage}); err != nil {
			return err
		}
		return s.emit(model.Chunk{Type: model.ChunkTypeStop, StopReason: string(event.Response.Status)})
	default:
		return nil
	}
}

func (s *openaiStreamer) emit(chunk model.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *openaiStreamer) recordUsage(usage model.TokenUsage) {
	s.metaMu.Lock()
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata["usage"] = usage
	s.metaMu.Unlock()
}

func (s *openaiStreamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *openaiStreamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}
