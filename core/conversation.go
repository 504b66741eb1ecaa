package core

import "fmt"

// Conversation is an ordered, append-only sequence of messages for one run.
//
// Invariants enforced on mutation:
//   - Roles strictly alternate user, assistant, user, ... starting with user.
//   - Every native tool_use block in an assistant message is answered by
//     exactly one tool_result block (same call id) in the immediately
//     following user message.
//
// Workspace/environment metadata is attached only to the first user message
// and never repeated. The conversation is mutated exclusively by the turn
// engine and discarded at run end; an Archive collaborator may keep a copy.
type Conversation struct {
	messages []Message
}

// NewConversation creates a conversation seeded with a single user message
// containing the task prompt. Non-empty metadata (workspace and environment
// details) is appended to that first message as a second text part.
func NewConversation(prompt, metadata string) *Conversation {
	parts := []Part{TextPart{Text: prompt}}
	if metadata != "" {
		parts = append(parts, TextPart{Text: metadata})
	}
	return &Conversation{messages: []Message{{Role: RoleUser, Parts: parts}}}
}

// FromMessages builds a conversation from an existing slice, validating the
// structural invariants. The slice is copied.
func FromMessages(messages []Message) (*Conversation, error) {
	c := &Conversation{messages: append([]Message(nil), messages...)}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Append adds a message, enforcing role alternation.
func (c *Conversation) Append(m Message) error {
	if len(c.messages) == 0 {
		if m.Role != RoleUser {
			return fmt.Errorf("conversation must start with a user message, got %q", m.Role)
		}
	} else if last := c.messages[len(c.messages)-1].Role; last == m.Role {
		return fmt.Errorf("roles must alternate: %q follows %q", m.Role, last)
	}
	c.messages = append(c.messages, m)
	return nil
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.messages) }

// Messages returns a copy of the message slice.
func (c *Conversation) Messages() []Message {
	return append([]Message(nil), c.messages...)
}

// First returns the initial (metadata-bearing) user message.
func (c *Conversation) First() Message { return c.messages[0] }

// Last returns the most recent message and true, or a zero message and false
// when the conversation is empty.
func (c *Conversation) Last() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Validate checks role alternation and the tool_use/tool_result pairing
// invariant across the whole transcript.
func (c *Conversation) Validate() error {
	for i, m := range c.messages {
		want := RoleUser
		if i%2 == 1 {
			want = RoleAssistant
		}
		if m.Role != want {
			return fmt.Errorf("message %d: role %q, want %q", i, m.Role, want)
		}
	}
	for i, m := range c.messages {
		if m.Role != RoleAssistant {
			continue
		}
		uses := m.ToolUses()
		if len(uses) == 0 {
			continue
		}
		if i+1 >= len(c.messages) {
			return fmt.Errorf("message %d: tool_use blocks without a following user message", i)
		}
		answered := map[string]int{}
		for _, r := range c.messages[i+1].ToolResults() {
			answered[r.CallID]++
		}
		for _, u := range uses {
			if !u.Native {
				continue
			}
			if answered[u.ID] != 1 {
				return fmt.Errorf("message %d: tool_use %s answered %d times, want 1", i, u.ID, answered[u.ID])
			}
		}
	}
	return nil
}
