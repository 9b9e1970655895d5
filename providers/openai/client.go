// Package openai provides a model.Client implementation backed by the
// OpenAI Responses API. It translates chat-completion requests into
// responses.ResponseNewParams calls using github.com/openai/openai-go and
// maps responses (text, function calls, usage) back into the generic
// model structures, mirroring the block-based encoding anthropic uses.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/agentic-work/chatcore/model"
	"github.com/agentic-work/chatcore/tools"
)

// ResponsesClient captures the subset of the OpenAI SDK client used by the
// adapter. The SDK's Responses service does not satisfy it directly (its
// NewStreaming returns the SDK stream type); responsesAdapter wraps it, and
// tests can pass a mock.
type ResponsesClient interface {
	New(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) (*responses.Response, error)
	NewStreaming(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) *ssestreamIface
}

// Options configures the OpenAI adapter.
type Options struct {
	Client       ResponsesClient
	DefaultModel string
	Effort       string
}

// Client implements model.Client via the OpenAI Responses API.
type Client struct {
	responses ResponsesClient
	model     string
	effort    string
}

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai responses client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{responses: opts.Client, model: modelID, effort: opts.Effort}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Client: &responsesAdapter{svc: &c.Responses}, DefaultModel: defaultModel})
}

// Complete issues a non-streaming Responses.New call and translates the
// output items into model-generic structures.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.responses.New(ctx, *params)
	if err != nil {
		return nil, fmt.Errorf("openai responses.new: %w", err)
	}
	return translateResponse(resp, nameMap), nil
}

// Stream invokes Responses.NewStreaming and adapts incremental events into
// model.Chunks.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.responses.NewStreaming(ctx, *params)
	return newOpenAIStreamer(stream, nameMap), nil
}

func (c *Client) prepareRequest(req *model.Request) (*responses.ResponseNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	items, instructions, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}
	toolList, nameMap, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(modelID),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: items},
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}
	if len(toolList) > 0 {
		params.Tools = toolList
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if c.effort != "" {
		params.Reasoning = shared.ReasoningParam{Effort: shared.ReasoningEffort(c.effort)}
	}
	return &params, nameMap, nil
}

// encodeMessages folds system messages into the instructions field (the
// Responses API's system-prompt slot) and everything else into ordered
// input items, mirroring anthropic's system/conversation split.
func encodeMessages(msgs []*model.Message) ([]responses.ResponseInputItemUnionParam, string, error) {
	var instructions strings.Builder
	items := make([]responses.ResponseInputItemUnionParam, 0, len(msgs))

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.ConversationRoleSystem {
			for _, p := range m.Parts {
				if v, ok := p.(model.TextPart); ok && v.Text != "" {
					if instructions.Len() > 0 {
						instructions.WriteString("\n")
					}
					instructions.WriteString(v.Text)
				}
			}
			continue
		}

		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text == "" {
					continue
				}
				role := responses.EasyInputMessageRoleUser
				if m.Role == model.ConversationRoleAssistant {
					role = responses.EasyInputMessageRoleAssistant
				}
				items = append(items, responses.ResponseInputItemParamOfMessage(v.Text, role))
			case model.ToolUsePart:
				payload, err := json.Marshal(v.Input)
				if err != nil {
					return nil, "", fmt.Errorf("openai: encode tool_use %q: %w", v.Name, err)
				}
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(string(payload), v.ID, v.Name))
			case model.ToolResultPart:
				items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(v.ToolUseID, stringifyResult(v.Content)))
			}
		}
	}
	if len(items) == 0 {
		return nil, "", errors.New("openai: at least one user/assistant message is required")
	}
	return items, instructions.String(), nil
}

func stringifyResult(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func encodeTools(defs []*model.ToolDefinition) ([]responses.ToolUnionParam, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil
	}
	toolList := make([]responses.ToolUnionParam, 0, len(defs))
	nameMap := make(map[string]string, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		tool := responses.ToolParamOfFunction(def.Name, def.InputSchema, true)
		if tool.OfFunction != nil {
			tool.OfFunction.Description = openai.String(def.Description)
		}
		toolList = append(toolList, tool)
		nameMap[def.Name] = def.Name
	}
	return toolList, nameMap, nil
}

func translateResponse(resp *responses.Response, nameMap map[string]string) *model.Response {
	out := &model.Response{}
	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, content := range item.Content {
				if content.Type == "output_text" && content.Text != "" {
					out.Content = append(out.Content, model.Message{
						Role:  model.ConversationRoleAssistant,
						Parts: []model.Part{model.TextPart{Text: content.Text}},
					})
				}
			}
		case "function_call":
			name := item.Name
			if canonical, ok := nameMap[name]; ok {
				name = canonical
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				Name:    tools.Ident(name),
				Payload: json.RawMessage(item.Arguments),
				ID:      item.CallID,
			})
		}
	}
	out.Usage = model.TokenUsage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	out.StopReason = string(resp.Status)
	return out
}
