package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentloop/model"
)

func toolChunk(id, name, args string) model.Chunk {
	return model.Chunk{
		Type:     model.ChunkToolCall,
		ToolCall: &model.ToolCallDelta{ID: id, Name: name, ArgsDelta: args},
	}
}

// splitEvery slices s into fragments of at most n bytes.
func splitEvery(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	return append(out, s)
}

func TestAssemblerSingleCall(t *testing.T) {
	a := New()
	a.ProcessDelta(toolChunk("call_1", "read_file", ""))
	a.ProcessDelta(toolChunk("call_1", "", `{"path": "ma`))
	a.ProcessDelta(toolChunk("call_1", "", `in.go"}`))

	calls := a.AllFinalized()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "read_file", calls[0].Name)
	assert.Equal(t, "main.go", calls[0].InputString("path"))
	assert.False(t, calls[0].PartialInput)
	assert.True(t, calls[0].Native)
}

func TestAssemblerChunkingInvariance(t *testing.T) {
	const args = `{"path": "src/app.go", "query": "func \"main\"", "count": 3}`

	want := func() []map[string]any {
		a := New()
		a.ProcessDelta(toolChunk("c1", "search_files", args))
		calls := a.AllFinalized()
		require.Len(t, calls, 1)
		return []map[string]any{calls[0].Input}
	}()

	for _, size := range []int{1, 2, 3, 7, 16, len(args)} {
		a := New()
		a.ProcessDelta(toolChunk("c1", "search_files", ""))
		for _, frag := range splitEvery(args, size) {
			a.ProcessDelta(toolChunk("c1", "", frag))
		}
		calls := a.AllFinalized()
		require.Len(t, calls, 1, "fragment size %d", size)
		assert.Equal(t, want[0], calls[0].Input, "fragment size %d", size)
		assert.Equal(t, args, calls[0].RawInput, "fragment size %d", size)
	}
}

func TestAssemblerInterleavedCalls(t *testing.T) {
	a := New()
	a.ProcessDelta(toolChunk("b", "list_files", ""))
	a.ProcessDelta(toolChunk("a", "read_file", `{"path":`))
	a.ProcessDelta(toolChunk("b", "", `{"path": "."`))
	a.ProcessDelta(toolChunk("a", "", ` "go.mod"}`))
	a.ProcessDelta(toolChunk("b", "", `}`))

	calls := a.AllFinalized()
	require.Len(t, calls, 2)
	// First-seen order, not completion order.
	assert.Equal(t, "b", calls[0].ID)
	assert.Equal(t, "a", calls[1].ID)
	assert.Equal(t, ".", calls[0].InputString("path"))
	assert.Equal(t, "go.mod", calls[1].InputString("path"))
}

func TestAssemblerTruncatedArguments(t *testing.T) {
	a := New()
	a.ProcessDelta(toolChunk("c1", "execute_command", `{"command": "go vet ./...", "cwd": "/repo`))

	call, ok := a.Finalized("c1")
	require.True(t, ok)
	assert.True(t, call.PartialInput)
	assert.Equal(t, "go vet ./...", call.InputString("command"))
	assert.Equal(t, "/repo", call.InputString("cwd"))
}

func TestAssemblerEmptyArguments(t *testing.T) {
	a := New()
	a.ProcessDelta(toolChunk("c1", "attempt_completion", ""))

	call, ok := a.Finalized("c1")
	require.True(t, ok)
	assert.False(t, call.PartialInput)
	assert.Empty(t, call.Input)
}

func TestAssemblerDropsUnattributableFragments(t *testing.T) {
	a := New()
	a.ProcessDelta(toolChunk("", "", `{"path": "x"}`))
	assert.Empty(t, a.AllFinalized())
	assert.Empty(t, a.PartialPreview())
}

func TestAssemblerNamelessCallExcluded(t *testing.T) {
	a := New()
	a.ProcessDelta(toolChunk("c1", "", `{"path": "x"}`))

	_, ok := a.Finalized("c1")
	assert.False(t, ok)
	assert.Empty(t, a.AllFinalized())
	// The preview still surfaces it so a UI can show something arrived.
	assert.Len(t, a.PartialPreview(), 1)
}

func TestAssemblerFirstNameWins(t *testing.T) {
	a := New()
	a.ProcessDelta(toolChunk("c1", "read_file", `{}`))
	a.ProcessDelta(toolChunk("c1", "list_files", ""))

	call, ok := a.Finalized("c1")
	require.True(t, ok)
	assert.Equal(t, "read_file", call.Name)
}

func TestAssemblerTextAndReasoning(t *testing.T) {
	a := New()
	a.ProcessDelta(model.Chunk{Type: model.ChunkReasoning, Text: "thinking "})
	a.ProcessDelta(model.Chunk{Type: model.ChunkText, Text: "Hello"})
	a.ProcessDelta(model.Chunk{Type: model.ChunkReasoning, Text: "hard", Signature: "sig-1"})
	a.ProcessDelta(model.Chunk{Type: model.ChunkText, Text: ", world"})

	assert.Equal(t, "Hello, world", a.Text())
	reasoning, sig := a.Reasoning()
	assert.Equal(t, "thinking hard", reasoning)
	assert.Equal(t, "sig-1", sig)
}

func TestAssemblerPartialPreview(t *testing.T) {
	a := New()
	a.ProcessDelta(toolChunk("c1", "read_file", `{"path": "REA`))

	previews := a.PartialPreview()
	require.Len(t, previews, 1)
	assert.True(t, previews[0].PartialInput)
	assert.Equal(t, "REA", previews[0].InputString("path"))

	a.ProcessDelta(toolChunk("c1", "", `DME.md"}`))
	previews = a.PartialPreview()
	require.Len(t, previews, 1)
	assert.False(t, previews[0].PartialInput)
	assert.Equal(t, "README.md", previews[0].InputString("path"))
}
