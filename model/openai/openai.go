// Package openai provides a streaming transport adapter for the OpenAI Chat
// Completions API (including function/tool calling).
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/model"
	"github.com/openai/openai-go"
)

// aggCall tracks the latest known id for a streamed tool-call index so
// argument fragments can be attributed to a stable call identifier.
type aggCall struct{ id, name string }

// Options configure the OpenAI transport adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	ContextWindow       int
}

// Transport wraps the OpenAI Chat Completions API behind the generic
// model.Transport interface.
type Transport struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI transport using the official client.
func New(optFns ...func(o *Options)) *Transport {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new OpenAI transport from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Transport {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 8192,
		ContextWindow:       128_000,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Transport{client: client, opts: opts}
}

// Stream implements model.Transport by adapting chat completion chunks
// (content deltas, tool-call deltas, usage) into model.Chunk values.
func (t *Transport) Stream(ctx context.Context, req model.Request) (<-chan model.Chunk, <-chan error) {
	out := make(chan model.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := t.buildParams(req)

		agg := map[int64]*aggCall{}
		var usage core.Usage
		sawUsage := false

		stream := t.client.Chat.Completions.NewStreaming(ctx, params)
		for stream.Next() {
			ck := stream.Current()
			if ck.Usage.TotalTokens > 0 {
				usage.InputTokens = int(ck.Usage.PromptTokens)
				usage.OutputTokens = int(ck.Usage.CompletionTokens)
				sawUsage = true
			}
			for _, choice := range ck.Choices {
				if choice.Delta.Content != "" {
					select {
					case <-ctx.Done():
						errCh <- ctx.Err()
						return
					case out <- model.Chunk{Type: model.ChunkText, Text: choice.Delta.Content}:
					}
				}
				for _, tc := range choice.Delta.ToolCalls {
					ac, ok := agg[tc.Index]
					if !ok {
						ac = &aggCall{}
						agg[tc.Index] = ac
					}
					if tc.ID != "" {
						ac.id = tc.ID
					}
					delta := model.ToolCallDelta{ID: ac.id, ArgsDelta: tc.Function.Arguments}
					if tc.Function.Name != "" && ac.name == "" {
						ac.name = tc.Function.Name
						delta.Name = tc.Function.Name
					}
					if delta.Name == "" && delta.ArgsDelta == "" {
						continue
					}
					select {
					case <-ctx.Done():
						errCh <- ctx.Err()
						return
					case out <- model.Chunk{Type: model.ChunkToolCall, ToolCall: &delta}:
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			errCh <- classifyError(err)
			return
		}

		if sawUsage {
			usage.ContextWindow = t.opts.ContextWindow
			out <- model.Chunk{Type: model.ChunkUsage, Usage: &usage}
		}
	}()

	return out, errCh
}

// classifyError wraps context window overflows for the engine's compaction
// path; other errors pass through annotated.
func classifyError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "context length") || strings.Contains(msg, "maximum context") {
		return fmt.Errorf("openai: %v: %w", err, model.ErrContextWindowExceeded)
	}
	return fmt.Errorf("openai streaming error: %w", err)
}

// buildParams assembles the request parameters including tool definitions.
func (t *Transport) buildParams(req model.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               t.opts.Model,
		Temperature:         openai.Float(t.opts.Temperature),
		MaxCompletionTokens: openai.Int(t.opts.MaxCompletionTokens),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, def := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  def.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// buildMessages converts conversation messages into OpenAI chat messages.
// Native tool results become tool role messages immediately after the
// assistant message that carried the matching tool calls.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion

	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	for _, m := range req.Messages {
		text := m.Text()

		switch m.Role {
		case core.RoleAssistant:
			toolCalls := extractToolCalls(m)
			if len(toolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(text))
				continue
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: toolCalls,
			}
			if text != "" {
				assistant.Content.OfString = openai.String(text)
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		default:
			for _, r := range m.ToolResults() {
				messages = append(messages, openai.ToolMessage(r.Content, r.CallID))
			}
			if text != "" {
				messages = append(messages, openai.UserMessage(text))
			}
		}
	}

	return messages
}

// extractToolCalls converts native tool_use parts into OpenAI tool calls.
func extractToolCalls(m core.Message) []openai.ChatCompletionMessageToolCallParam {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, call := range m.ToolUses() {
		args := call.RawInput
		if args == "" {
			raw, err := json.Marshal(call.Input)
			if err != nil {
				raw = []byte("{}")
			}
			args = string(raw)
		}
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   call.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Name,
				Arguments: args,
			},
		})
	}
	return toolCalls
}

// Info returns metadata describing this OpenAI transport.
func (t *Transport) Info() model.Info {
	return model.Info{
		Name:            t.opts.Model,
		Provider:        "openai",
		NativeToolCalls: true,
	}
}
