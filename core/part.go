package core

import "github.com/google/uuid"

// Part represents a polymorphic segment of role-based message content.
// Concrete part types implement the unexported isPart marker enabling a
// closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string // Plain UTF-8 text
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// ReasoningPart holds assembled model reasoning ("thinking") text plus the
// latest cryptographic signature token observed while streaming, if any.
type ReasoningPart struct {
	Text      string
	Signature string
}

// isPart implements the Part interface for ReasoningPart.
func (ReasoningPart) isPart() {}

// ToolUsePart wraps a finalized ToolCall as an assistant content block. Only
// native calls are represented as parts; text-embedded calls live inside the
// surrounding TextPart.
type ToolUsePart struct {
	ToolCall ToolCall
}

// isPart implements the Part interface for ToolUsePart.
func (ToolUsePart) isPart() {}

// ToolResultPart answers a previously emitted ToolUsePart. CallID must match
// the originating call.
type ToolResultPart struct {
	ToolResult ToolResult
}

// isPart implements the Part interface for ToolResultPart.
func (ToolResultPart) isPart() {}

// ToolCall is a model-requested tool invocation, immutable once finalized by
// the delta assembler or the text parser.
type ToolCall struct {
	// ID is the protocol call identifier. Native calls carry the transport
	// assigned id; text-embedded calls receive a generated one.
	ID string `json:"id"`
	// Name is the tool name the model asked for.
	Name string `json:"name"`
	// Input holds the parsed argument object. For a call whose argument
	// stream never completed this is a best-effort partial extraction.
	Input map[string]any `json:"input,omitempty"`
	// RawInput preserves the accumulated argument text exactly as streamed.
	RawInput string `json:"raw_input,omitempty"`
	// Native reports which result-serialization convention answers this
	// call: true for structured tool_result blocks, false for text.
	Native bool `json:"native"`
	// PartialInput marks Input as having come from the lossy recovery path
	// rather than a complete JSON parse. Suitable for previews and error
	// reporting, never a reason to skip execution.
	PartialInput bool `json:"partial_input,omitempty"`
}

// InputString returns the named input field as a string, or "" when absent or
// of another type.
func (c ToolCall) InputString(key string) string {
	if c.Input == nil {
		return ""
	}
	if s, ok := c.Input[key].(string); ok {
		return s
	}
	return ""
}

// ToolResult is the serialized outcome of executing (or refusing) a ToolCall.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
	// Native mirrors the convention of the originating call so message
	// building can keep the tool_use/tool_result pairing intact.
	Native bool `json:"native"`
}

// Role identifies a conversation message role.
type Role string

const (
	// RoleUser marks caller-authored messages (prompts, tool results, nudges).
	RoleUser Role = "user"
	// RoleAssistant marks model-authored messages.
	RoleAssistant Role = "assistant"
)

// Message holds a role plus ordered heterogeneous parts.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Text concatenates all TextPart segments of the message in order.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// ToolUses returns the native tool_use blocks in the message preserving order.
func (m Message) ToolUses() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if tu, ok := p.(ToolUsePart); ok {
			calls = append(calls, tu.ToolCall)
		}
	}
	return calls
}

// ToolResults returns the tool_result blocks in the message preserving order.
func (m Message) ToolResults() []ToolResult {
	var results []ToolResult
	for _, p := range m.Parts {
		if tr, ok := p.(ToolResultPart); ok {
			results = append(results, tr.ToolResult)
		}
	}
	return results
}

// UserText builds a plain text user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart{Text: text}}}
}

// AssistantText builds a plain text assistant message.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Parts: []Part{TextPart{Text: text}}}
}

// NewID generates a new unique identifier for runs and generated call ids.
func NewID() string { return uuid.NewString() }
