package model

import (
	"context"
	"errors"

	"github.com/hupe1980/agentloop/core"
)

// ErrContextWindowExceeded classifies a transport failure caused by the
// conversation no longer fitting the model's context budget. Adapters wrap
// provider errors with it so the engine can attempt compaction-then-retry.
var ErrContextWindowExceeded = errors.New("context window exceeded")

// IsContextWindowExceeded reports whether err is (or wraps) a context window
// overflow signal.
func IsContextWindowExceeded(err error) bool {
	return errors.Is(err, ErrContextWindowExceeded)
}

// ChunkType identifies a streamed unit.
type ChunkType string

const (
	// ChunkText is a plain assistant text token.
	ChunkText ChunkType = "text"
	// ChunkReasoning is a reasoning ("thinking") fragment and/or a signature
	// token.
	ChunkReasoning ChunkType = "reasoning"
	// ChunkToolCall is a structured tool-call fragment (id, name, partial
	// argument text).
	ChunkToolCall ChunkType = "tool_call"
	// ChunkUsage is a token accounting tally.
	ChunkUsage ChunkType = "usage"
)

// ToolCallDelta is one structured tool-call fragment. The first fragment for
// a call id carries the tool name; later fragments append argument text.
type ToolCallDelta struct {
	ID        string
	Name      string
	ArgsDelta string
}

// Chunk is a (partial) unit emitted by a streaming transport. Exactly the
// fields implied by Type are set.
type Chunk struct {
	Type      ChunkType
	Text      string
	Signature string
	ToolCall  *ToolCallDelta
	Usage     *core.Usage
}

// ToolDefinition declaratively exposes a callable tool to the model when
// native tool calling is configured. Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures one streamed chat request: system prompt, conversation and
// (when native tool calling is configured for the run) the tool schema.
type Request struct {
	System   string
	Messages []core.Message
	Tools    []ToolDefinition
}

// Transport is the minimal interface required to drive one conversation turn.
// Stream issues a single streamed chat request; chunks arrive on the first
// channel in protocol order, a terminal error (if any) on the second. Both
// channels are closed when the turn ends. Cancelling ctx aborts the in-flight
// call.
type Transport interface {
	Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error)

	// Info returns metadata about the transport implementation.
	Info() Info
}

// Info contains metadata about a transport implementation. NativeToolCalls
// decides, once per run, which tool-calling representation is authoritative.
type Info struct {
	Name            string `json:"name"`
	Provider        string `json:"provider"`
	NativeToolCalls bool   `json:"native_tool_calls"`
}
