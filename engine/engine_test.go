package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentloop/archive"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/model"
	"github.com/hupe1980/agentloop/tool"
)

type recordingHandler struct {
	name   string
	output string
	log    *[]string
	mu     *sync.Mutex
}

func (h recordingHandler) Execute(_ context.Context, input map[string]any) (any, error) {
	if h.log != nil {
		h.mu.Lock()
		*h.log = append(*h.log, h.name)
		h.mu.Unlock()
	}
	return h.output, nil
}

func (h recordingHandler) Describe(map[string]any) string { return "running " + h.name }

type warnRecorder struct {
	mu    sync.Mutex
	warns []string
}

func (w *warnRecorder) Debug(string, ...any) {}
func (w *warnRecorder) Info(string, ...any)  {}
func (w *warnRecorder) Error(string, ...any) {}
func (w *warnRecorder) Warn(msg string, _ ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.warns = append(w.warns, msg)
}

func newTestDispatcher(handlers map[tool.Name]tool.Handler) *tool.Dispatcher {
	r := tool.NewRegistry()
	for name, h := range handlers {
		r.Register(name, "test handler", map[string]any{"type": "object"}, h)
	}
	return tool.NewDispatcher(r, tool.SubagentAllowlist(), nil)
}

func textChunk(s string) model.Chunk {
	return model.Chunk{Type: model.ChunkText, Text: s}
}

func callChunk(id string, name tool.Name, args string) model.Chunk {
	return model.Chunk{Type: model.ChunkToolCall, ToolCall: &model.ToolCallDelta{ID: id, Name: string(name), ArgsDelta: args}}
}

func usageChunk(in, out, window int) model.Chunk {
	return model.Chunk{Type: model.ChunkUsage, Usage: &core.Usage{InputTokens: in, OutputTokens: out, ContextWindow: window}}
}

func completionTurn(result string) model.ScriptedTurn {
	return model.ScriptedTurn{Chunks: []model.Chunk{
		callChunk("comp", tool.AttemptCompletion, fmt.Sprintf(`{"result": %q}`, result)),
	}}
}

func TestRunCompletesAfterTwoRequests(t *testing.T) {
	transport := model.NewMockTransport(
		model.ScriptedTurn{Chunks: []model.Chunk{
			textChunk("Listing files."),
			callChunk("c1", tool.ListFiles, `{"path": "."}`),
			usageChunk(100, 20, 200_000),
		}},
		completionTurn("done"),
	)
	d := newTestDispatcher(map[tool.Name]tool.Handler{
		tool.ListFiles: recordingHandler{name: "list_files", output: "a.go\nb.go"},
	})

	res := New(transport, d).Run(context.Background(), "List files")
	assert.Equal(t, core.StatusCompleted, res.Status)
	assert.Equal(t, "done", res.Result)
	assert.Equal(t, 2, transport.Calls())
	assert.Equal(t, 1, res.Stats.ToolCalls)
	assert.Equal(t, 100, res.Stats.InputTokens)

	// Native mode sends the tool schema with every request.
	assert.NotEmpty(t, transport.Requests()[0].Tools)
}

func TestRunFailsAfterEmptyTurnBudget(t *testing.T) {
	var turns []model.ScriptedTurn
	for i := 0; i < 10; i++ {
		turns = append(turns, model.ScriptedTurn{Chunks: []model.Chunk{textChunk("hmm")}})
	}
	transport := model.NewMockTransport(turns...)
	d := newTestDispatcher(nil)

	res := New(transport, d).Run(context.Background(), "do something")
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "without a tool use")
	assert.Equal(t, DefaultMaxEmptyTurnRetries+1, transport.Calls())
}

func TestRunSilentTurnGetsPlaceholderAndNudge(t *testing.T) {
	transport := model.NewMockTransport(
		model.ScriptedTurn{}, // no chunks at all, no error
		completionTurn("ok"),
	)
	d := newTestDispatcher(nil)

	res := New(transport, d).Run(context.Background(), "task")
	require.Equal(t, core.StatusCompleted, res.Status)

	second := transport.Requests()[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, placeholderResponse, second[1].Text())
	assert.Contains(t, second[2].Text(), "did not use a tool")
}

func TestRunEmptyCompletionContinues(t *testing.T) {
	transport := model.NewMockTransport(
		model.ScriptedTurn{Chunks: []model.Chunk{
			callChunk("c1", tool.AttemptCompletion, `{}`),
		}},
		completionTurn("actual result"),
	)
	d := newTestDispatcher(nil)

	res := New(transport, d).Run(context.Background(), "task")
	assert.Equal(t, core.StatusCompleted, res.Status)
	assert.Equal(t, "actual result", res.Result)
	require.Equal(t, 2, transport.Calls())

	// The empty completion was answered with a tool error, visible to the
	// model on the second request.
	second := transport.Requests()[1].Messages
	results := second[len(second)-1].ToolResults()
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Equal(t, "c1", results[0].CallID)
}

func TestRunDispatchOrderPreserved(t *testing.T) {
	var order []string
	var mu sync.Mutex
	transport := model.NewMockTransport(
		model.ScriptedTurn{Chunks: []model.Chunk{
			callChunk("a", tool.ReadFile, `{"path": "a.go"}`),
			callChunk("b", tool.ListFiles, `{"path": "."}`),
		}},
		completionTurn("done"),
	)
	d := newTestDispatcher(map[tool.Name]tool.Handler{
		tool.ReadFile:  recordingHandler{name: "read_file", output: "A", log: &order, mu: &mu},
		tool.ListFiles: recordingHandler{name: "list_files", output: "B", log: &order, mu: &mu},
	})

	res := New(transport, d).Run(context.Background(), "task")
	require.Equal(t, core.StatusCompleted, res.Status)
	assert.Equal(t, []string{"read_file", "list_files"}, order)

	second := transport.Requests()[1].Messages
	results := second[len(second)-1].ToolResults()
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].CallID)
	assert.Equal(t, "b", results[1].CallID)
}

func TestRunContextWindowCompactionRetry(t *testing.T) {
	transport := model.NewMockTransport(
		model.ScriptedTurn{Chunks: []model.Chunk{
			callChunk("c1", tool.ListFiles, `{"path": "."}`),
		}},
		model.ScriptedTurn{Err: model.ErrContextWindowExceeded},
		completionTurn("done"),
	)
	d := newTestDispatcher(map[tool.Name]tool.Handler{
		tool.ListFiles: recordingHandler{name: "list_files", output: "a.go"},
	})

	res := New(transport, d).Run(context.Background(), "task")
	assert.Equal(t, core.StatusCompleted, res.Status)
	require.Equal(t, 3, transport.Calls())

	reqs := transport.Requests()
	assert.Less(t, len(reqs[2].Messages), len(reqs[1].Messages))
}

func TestRunContextWindowWithoutCompactableContentFails(t *testing.T) {
	transport := model.NewMockTransport(
		model.ScriptedTurn{Err: model.ErrContextWindowExceeded},
	)
	d := newTestDispatcher(nil)

	res := New(transport, d).Run(context.Background(), "task")
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "nothing to compact")
	assert.Equal(t, 1, transport.Calls())
}

func TestRunInitialTransportErrorNoRetry(t *testing.T) {
	transport := model.NewMockTransport(
		model.ScriptedTurn{Err: errors.New("connection refused")},
	)
	d := newTestDispatcher(nil)

	res := New(transport, d).Run(context.Background(), "task")
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "connection refused")
	assert.Equal(t, 1, transport.Calls())
}

func TestRunMidStreamErrorFails(t *testing.T) {
	transport := model.NewMockTransport(
		model.ScriptedTurn{
			Chunks: []model.Chunk{textChunk("partial answ")},
			Err:    errors.New("connection reset"),
		},
	)
	d := newTestDispatcher(nil)

	res := New(transport, d).Run(context.Background(), "task")
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "stream interrupted")
}

func TestRunTextModeParsesEmbeddedCalls(t *testing.T) {
	transport := model.NewMockTransport(
		model.ScriptedTurn{Chunks: []model.Chunk{
			textChunk("<read_file>\n<path>go.mod</path>\n</read_file>"),
		}},
		model.ScriptedTurn{Chunks: []model.Chunk{
			textChunk("<attempt_completion>\n<result>all done</result>\n</attempt_completion>"),
		}},
	)
	transport.SetNativeToolCalls(false)
	d := newTestDispatcher(map[tool.Name]tool.Handler{
		tool.ReadFile: recordingHandler{name: "read_file", output: "module contents"},
	})

	res := New(transport, d).Run(context.Background(), "task")
	assert.Equal(t, core.StatusCompleted, res.Status)
	assert.Equal(t, "all done", res.Result)

	// Text mode sends no tool schema and serializes results as plain text.
	reqs := transport.Requests()
	assert.Empty(t, reqs[0].Tools)
	second := reqs[1].Messages
	last := second[len(second)-1]
	assert.Empty(t, last.ToolResults())
	assert.Contains(t, last.Text(), "module contents")
}

func TestRunTextModeNativeFallback(t *testing.T) {
	transport := model.NewMockTransport(
		model.ScriptedTurn{Chunks: []model.Chunk{
			callChunk("c1", tool.ReadFile, `{"path": "go.mod"}`),
		}},
		model.ScriptedTurn{Chunks: []model.Chunk{
			textChunk("<attempt_completion>\n<result>done</result>\n</attempt_completion>"),
		}},
	)
	transport.SetNativeToolCalls(false)
	d := newTestDispatcher(map[tool.Name]tool.Handler{
		tool.ReadFile: recordingHandler{name: "read_file", output: "contents"},
	})
	logger := &warnRecorder{}

	res := New(transport, d, WithLogger(logger)).Run(context.Background(), "task")
	assert.Equal(t, core.StatusCompleted, res.Status)

	// The mismatch is logged and the result uses the text convention.
	require.NotEmpty(t, logger.warns)
	second := transport.Requests()[1].Messages
	last := second[len(second)-1]
	assert.Empty(t, last.ToolResults())
	assert.Contains(t, last.Text(), "contents")

	// No tool_use blocks are recorded either: a replayed transcript must
	// never carry a tool_use answered only by text.
	assert.Empty(t, second[1].ToolUses())
}

func TestRunCancellation(t *testing.T) {
	transport := model.NewMockTransport(
		model.ScriptedTurn{Chunks: []model.Chunk{textChunk("thinking...")}},
	)
	d := newTestDispatcher(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := New(transport, d).Run(ctx, "task")
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Equal(t, ErrCancelled.Error(), res.Error)
}

func TestRunRequestLimit(t *testing.T) {
	var turns []model.ScriptedTurn
	for i := 0; i < 5; i++ {
		turns = append(turns, model.ScriptedTurn{Chunks: []model.Chunk{textChunk("no tool")}})
	}
	transport := model.NewMockTransport(turns...)
	d := newTestDispatcher(nil)

	res := New(transport, d, WithMaxRequests(2)).Run(context.Background(), "task")
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "max model requests")
	assert.Equal(t, 2, transport.Calls())
}

func TestRunArchivesConversation(t *testing.T) {
	transport := model.NewMockTransport(completionTurn("done"))
	d := newTestDispatcher(nil)
	store := archive.NewInMemory()

	res := New(transport, d, WithArchive(store)).Run(context.Background(), "task")
	require.Equal(t, core.StatusCompleted, res.Status)

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, core.StatusCompleted, records[0].Result.Status)
	assert.GreaterOrEqual(t, len(records[0].Messages), 2)
}

func TestRunStreamsLiveToolCallPreview(t *testing.T) {
	transport := model.NewMockTransport(
		model.ScriptedTurn{Chunks: []model.Chunk{
			callChunk("c1", tool.ReadFile, `{"path": "a`),
			usageChunk(50, 10, 100_000),
			callChunk("c1", tool.ReadFile, `.go"}`),
			usageChunk(10, 5, 100_000),
		}},
		completionTurn("done"),
	)
	d := newTestDispatcher(map[tool.Name]tool.Handler{
		tool.ReadFile: recordingHandler{name: "read_file", output: "A"},
	})

	var updates []core.ProgressUpdate
	res := New(transport, d, WithProgress(func(u core.ProgressUpdate) {
		updates = append(updates, u)
	})).Run(context.Background(), "task")
	require.Equal(t, core.StatusCompleted, res.Status)

	// The preview must surface while the call is still streaming, before
	// any dispatch bumped the tool-call counter.
	midStream := 0
	for _, u := range updates {
		if u.Stats.ToolCalls == 0 && u.LatestToolCall != "" {
			midStream++
		}
	}
	assert.GreaterOrEqual(t, midStream, 2)
}

func TestRunProgressUpdates(t *testing.T) {
	transport := model.NewMockTransport(
		model.ScriptedTurn{Chunks: []model.Chunk{
			callChunk("c1", tool.ListFiles, `{}`),
			usageChunk(50, 10, 100_000),
		}},
		completionTurn("done"),
	)
	d := newTestDispatcher(map[tool.Name]tool.Handler{
		tool.ListFiles: recordingHandler{name: "list_files", output: "a.go"},
	})

	var updates []core.ProgressUpdate
	res := New(transport, d, WithProgress(func(u core.ProgressUpdate) {
		updates = append(updates, u)
	})).Run(context.Background(), "task")
	require.Equal(t, core.StatusCompleted, res.Status)

	var sawToolPreview, sawTerminal bool
	for _, u := range updates {
		if u.LatestToolCall != "" {
			sawToolPreview = true
		}
		if u.Status == core.StatusCompleted {
			sawTerminal = true
			assert.Equal(t, "done", u.Result)
		}
	}
	assert.True(t, sawToolPreview)
	assert.True(t, sawTerminal)
}
