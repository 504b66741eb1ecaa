package compact

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentloop/core"
)

func readExchange(t *testing.T, conv *core.Conversation, callID, path, content string) {
	t.Helper()
	require.NoError(t, conv.Append(core.Message{
		Role: core.RoleAssistant,
		Parts: []core.Part{core.ToolUsePart{ToolCall: core.ToolCall{
			ID: callID, Name: "read_file", Input: map[string]any{"path": path}, Native: true,
		}}},
	}))
	require.NoError(t, conv.Append(core.Message{
		Role: core.RoleUser,
		Parts: []core.Part{core.ToolResultPart{ToolResult: core.ToolResult{
			CallID: callID, Name: "read_file", Content: content, Native: true,
		}}},
	}))
}

func TestCollapseFileReads(t *testing.T) {
	conv := core.NewConversation("check main.go", "")
	readExchange(t, conv, "c1", "main.go", "package main // v1")
	readExchange(t, conv, "c2", "util.go", "package util")
	readExchange(t, conv, "c3", "main.go", "package main // v2")

	out, changed := CollapseFileReads(conv)
	require.True(t, changed)
	require.NoError(t, out.Validate())

	results := map[string]string{}
	for _, m := range out.Messages() {
		for _, r := range m.ToolResults() {
			results[r.CallID] = r.Content
		}
	}
	assert.Equal(t, supersededNotice, results["c1"])
	assert.Equal(t, "package util", results["c2"])
	assert.Equal(t, "package main // v2", results["c3"])
}

func TestCollapseFileReadsNoDuplicates(t *testing.T) {
	conv := core.NewConversation("task", "")
	readExchange(t, conv, "c1", "a.go", "a")
	readExchange(t, conv, "c2", "b.go", "b")

	out, changed := CollapseFileReads(conv)
	assert.False(t, changed)
	assert.Same(t, conv, out)
}

func TestTruncatePreservesInvariants(t *testing.T) {
	conv := core.NewConversation("task", "workspace: /repo")
	for i := 0; i < 6; i++ {
		readExchange(t, conv, fmt.Sprintf("c%d", i), fmt.Sprintf("f%d.go", i), "content")
	}
	before := conv.Len()

	out, err := Truncate(conv)
	require.NoError(t, err)
	assert.Less(t, out.Len(), before)
	require.NoError(t, out.Validate())

	// The metadata-bearing first message survives.
	first := out.First()
	assert.Equal(t, core.RoleUser, first.Role)
	assert.Contains(t, first.Text(), "workspace: /repo")
}

func TestTruncateTooShort(t *testing.T) {
	conv := core.NewConversation("task", "")
	_, err := Truncate(conv)
	assert.ErrorIs(t, err, ErrNothingToCompact)
}

func TestTruncateMinimalConversation(t *testing.T) {
	conv := core.NewConversation("task", "")
	readExchange(t, conv, "c1", "a.go", "a")

	out, err := Truncate(conv)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Len())
}

func TestShouldCompact(t *testing.T) {
	p := DefaultPolicy()

	assert.False(t, p.ShouldCompact(core.RunStats{}))
	assert.False(t, p.ShouldCompact(core.RunStats{ContextWindow: 1000, ContextUsagePct: 50}))
	assert.True(t, p.ShouldCompact(core.RunStats{ContextWindow: 1000, ContextUsagePct: 85}))
}

func TestCompactPrefersCollapse(t *testing.T) {
	p := DefaultPolicy()
	conv := core.NewConversation("task", "")
	big := strings.Repeat("x", 4000)
	readExchange(t, conv, "c1", "main.go", big)
	readExchange(t, conv, "c2", "main.go", big)

	// Window sized so dropping one duplicate is enough.
	out, err := p.Compact(conv, 2000)
	require.NoError(t, err)
	assert.Equal(t, conv.Len(), out.Len())

	results := map[string]string{}
	for _, m := range out.Messages() {
		for _, r := range m.ToolResults() {
			results[r.CallID] = r.Content
		}
	}
	assert.Equal(t, supersededNotice, results["c1"])
	assert.Equal(t, big, results["c2"])
}

func TestCompactFallsBackToTruncation(t *testing.T) {
	p := DefaultPolicy()
	conv := core.NewConversation("task", "")
	for i := 0; i < 4; i++ {
		readExchange(t, conv, fmt.Sprintf("c%d", i), fmt.Sprintf("f%d.go", i), strings.Repeat("y", 4000))
	}

	out, err := p.Compact(conv, 100)
	require.NoError(t, err)
	assert.Less(t, out.Len(), conv.Len())
	require.NoError(t, out.Validate())
}

func TestCompactNothingToDo(t *testing.T) {
	p := DefaultPolicy()
	conv := core.NewConversation("task", "")

	_, err := p.Compact(conv, 100)
	assert.ErrorIs(t, err, ErrNothingToCompact)
}

func TestCharEstimator(t *testing.T) {
	conv := core.NewConversation(strings.Repeat("a", 400), "")
	assert.Equal(t, 100, CharEstimator{}.EstimateTokens(conv))
	assert.Equal(t, 200, CharEstimator{CharsPerToken: 2}.EstimateTokens(conv))
}
