// Package anthropic provides a streaming transport adapter for the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/model"
)

// Options configures the Anthropic transport adapter.
type Options struct {
	Model         anthropic.Model
	Temperature   float64
	MaxTokens     int64
	ContextWindow int
	APIKey        string
}

// Transport wraps the Anthropic Messages API behind the generic
// model.Transport interface.
type Transport struct {
	client *anthropic.Client
	opts   Options
}

// New creates a new Anthropic transport using the official client.
func New(optFns ...func(o *Options)) *Transport {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Transport{client: &client, opts: opts}
}

// NewFromClient creates a new Anthropic transport from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Transport {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Transport{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:         anthropic.ModelClaude3_5Sonnet20241022,
		Temperature:   0.7,
		MaxTokens:     8192,
		ContextWindow: 200_000,
	}
}

// Stream implements model.Transport. It adapts Anthropic streaming events
// (text deltas, input_json deltas, thinking/signature deltas, usage) into
// model.Chunk values in arrival order.
func (t *Transport) Stream(ctx context.Context, req model.Request) (<-chan model.Chunk, <-chan error) {
	out := make(chan model.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:       t.opts.Model,
			MaxTokens:   t.opts.MaxTokens,
			Temperature: anthropic.Float(t.opts.Temperature),
			Messages:    buildMessages(req.Messages),
		}
		if req.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.System}}
		}
		if len(req.Tools) > 0 {
			params.Tools = buildTools(req.Tools)
		}

		// Maps streamed block indices to the tool call id announced at
		// content_block_start, so later input_json deltas can be attributed.
		blockCalls := map[int64]string{}
		var usage core.Usage

		stream := t.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				usage.InputTokens = int(variant.Message.Usage.InputTokens)
				usage.CacheWriteTokens = int(variant.Message.Usage.CacheCreationInputTokens)
				usage.CacheReadTokens = int(variant.Message.Usage.CacheReadInputTokens)
			case anthropic.ContentBlockStartEvent:
				if block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					blockCalls[variant.Index] = block.ID
					select {
					case <-ctx.Done():
						errCh <- ctx.Err()
						return
					case out <- model.Chunk{Type: model.ChunkToolCall, ToolCall: &model.ToolCallDelta{
						ID:   block.ID,
						Name: block.Name,
					}}:
					}
				}
			case anthropic.ContentBlockDeltaEvent:
				chunk, ok := deltaChunk(variant, blockCalls)
				if !ok {
					continue
				}
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case out <- chunk:
				}
			case anthropic.MessageDeltaEvent:
				if variant.Usage.OutputTokens > 0 {
					usage.OutputTokens = int(variant.Usage.OutputTokens)
				}
			}
		}

		if err := stream.Err(); err != nil {
			errCh <- classifyError(err)
			return
		}

		usage.ContextWindow = t.opts.ContextWindow
		out <- model.Chunk{Type: model.ChunkUsage, Usage: &usage}
	}()

	return out, errCh
}

// deltaChunk converts one content_block delta event into a chunk.
func deltaChunk(ev anthropic.ContentBlockDeltaEvent, blockCalls map[int64]string) (model.Chunk, bool) {
	switch delta := ev.Delta.AsAny().(type) {
	case anthropic.TextDelta:
		if delta.Text == "" {
			return model.Chunk{}, false
		}
		return model.Chunk{Type: model.ChunkText, Text: delta.Text}, true
	case anthropic.ThinkingDelta:
		if delta.Thinking == "" {
			return model.Chunk{}, false
		}
		return model.Chunk{Type: model.ChunkReasoning, Text: delta.Thinking}, true
	case anthropic.SignatureDelta:
		if delta.Signature == "" {
			return model.Chunk{}, false
		}
		return model.Chunk{Type: model.ChunkReasoning, Signature: delta.Signature}, true
	case anthropic.InputJSONDelta:
		id, ok := blockCalls[ev.Index]
		if !ok || delta.PartialJSON == "" {
			return model.Chunk{}, false
		}
		return model.Chunk{Type: model.ChunkToolCall, ToolCall: &model.ToolCallDelta{
			ID:        id,
			ArgsDelta: delta.PartialJSON,
		}}, true
	}
	return model.Chunk{}, false
}

// classifyError wraps context window overflows so the engine can attempt
// compaction-then-retry; other errors pass through annotated.
func classifyError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "prompt is too long") || strings.Contains(msg, "context window") {
		return fmt.Errorf("anthropic: %v: %w", err, model.ErrContextWindowExceeded)
	}
	return fmt.Errorf("anthropic streaming error: %w", err)
}

// buildMessages converts conversation messages to Anthropic message params.
// Native tool_use blocks map to tool_use content, native tool results to
// tool_result content; text-convention results are already plain text parts.
func buildMessages(messages []core.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))

	for _, m := range messages {
		var content []anthropic.ContentBlockParamUnion

		for _, p := range m.Parts {
			switch part := p.(type) {
			case core.TextPart:
				if part.Text != "" {
					content = append(content, anthropic.NewTextBlock(part.Text))
				}
			case core.ToolUsePart:
				var input any = map[string]any{}
				if part.ToolCall.Input != nil {
					input = part.ToolCall.Input
				} else if part.ToolCall.RawInput != "" {
					var parsed any
					if err := json.Unmarshal([]byte(part.ToolCall.RawInput), &parsed); err == nil {
						input = parsed
					}
				}
				content = append(content, anthropic.NewToolUseBlock(part.ToolCall.ID, input, part.ToolCall.Name))
			case core.ToolResultPart:
				content = append(content, anthropic.NewToolResultBlock(
					part.ToolResult.CallID,
					part.ToolResult.Content,
					part.ToolResult.IsError,
				))
			}
		}
		if len(content) == 0 {
			continue
		}

		switch m.Role {
		case core.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(content...))
		default:
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}

	return out
}

// buildTools converts tool definitions to the Anthropic tool schema format.
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))

	for i, def := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if def.Parameters != nil {
			if properties, ok := def.Parameters["properties"]; ok {
				schema.Properties = properties
			}
			if required, ok := def.Parameters["required"]; ok {
				schema.Required = toStringSlice(required)
			}
		}

		tool := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if tool.OfTool != nil {
			tool.OfTool.Description = anthropic.String(def.Description)
		}
		out[i] = tool
	}

	return out
}

func toStringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Info returns metadata describing this Anthropic transport. Native tool
// calling is always available on the Messages API.
func (t *Transport) Info() model.Info {
	return model.Info{
		Name:            string(t.opts.Model),
		Provider:        "anthropic",
		NativeToolCalls: true,
	}
}
