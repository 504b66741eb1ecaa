package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConversation(t *testing.T) {
	c := NewConversation("do the task", "cwd=/tmp")
	require.Equal(t, 1, c.Len())

	first := c.First()
	assert.Equal(t, RoleUser, first.Role)
	assert.Len(t, first.Parts, 2)
	assert.Equal(t, "do the taskcwd=/tmp", first.Text())
}

func TestNewConversation_NoMetadata(t *testing.T) {
	c := NewConversation("do the task", "")
	assert.Len(t, c.First().Parts, 1)
}

func TestConversation_Append_Alternation(t *testing.T) {
	c := NewConversation("prompt", "")

	require.NoError(t, c.Append(AssistantText("hi")))
	require.NoError(t, c.Append(UserText("continue")))

	// Same role twice is rejected.
	err := c.Append(UserText("again"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "alternate")
	assert.Equal(t, 3, c.Len())
}

func TestConversation_Append_MustStartWithUser(t *testing.T) {
	c := &Conversation{}
	err := c.Append(AssistantText("hi"))
	assert.Error(t, err)
}

func TestConversation_Validate_Pairing(t *testing.T) {
	call := ToolCall{ID: "call-1", Name: "read_file", Native: true}

	t.Run("paired", func(t *testing.T) {
		c := NewConversation("prompt", "")
		require.NoError(t, c.Append(Message{Role: RoleAssistant, Parts: []Part{ToolUsePart{ToolCall: call}}}))
		require.NoError(t, c.Append(Message{Role: RoleUser, Parts: []Part{ToolResultPart{ToolResult: ToolResult{CallID: "call-1", Name: "read_file", Content: "ok", Native: true}}}}))
		assert.NoError(t, c.Validate())
	})

	t.Run("unanswered", func(t *testing.T) {
		c := NewConversation("prompt", "")
		require.NoError(t, c.Append(Message{Role: RoleAssistant, Parts: []Part{ToolUsePart{ToolCall: call}}}))
		require.NoError(t, c.Append(UserText("no result block here")))
		assert.Error(t, c.Validate())
	})

	t.Run("trailing tool_use", func(t *testing.T) {
		c := NewConversation("prompt", "")
		require.NoError(t, c.Append(Message{Role: RoleAssistant, Parts: []Part{ToolUsePart{ToolCall: call}}}))
		assert.Error(t, c.Validate())
	})
}

func TestFromMessages_RejectsBadAlternation(t *testing.T) {
	_, err := FromMessages([]Message{AssistantText("hi")})
	assert.Error(t, err)

	c, err := FromMessages([]Message{UserText("a"), AssistantText("b")})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestMessage_Accessors(t *testing.T) {
	m := Message{Role: RoleAssistant, Parts: []Part{
		ReasoningPart{Text: "thinking"},
		TextPart{Text: "hello "},
		TextPart{Text: "world"},
		ToolUsePart{ToolCall: ToolCall{ID: "c1", Name: "list_files", Native: true}},
	}}

	assert.Equal(t, "hello world", m.Text())
	require.Len(t, m.ToolUses(), 1)
	assert.Equal(t, "list_files", m.ToolUses()[0].Name)
	assert.Empty(t, m.ToolResults())
}

func TestToolCall_InputString(t *testing.T) {
	c := ToolCall{Input: map[string]any{"path": "main.go", "n": 3}}
	assert.Equal(t, "main.go", c.InputString("path"))
	assert.Equal(t, "", c.InputString("n"))
	assert.Equal(t, "", c.InputString("missing"))
	assert.Equal(t, "", ToolCall{}.InputString("path"))
}
