package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentloop/core"
)

func TestInMemoryStoreAndGet(t *testing.T) {
	a := NewInMemory()
	conv := core.NewConversation("task", "")
	result := core.RunResult{Status: core.StatusCompleted, Result: "done"}

	require.NoError(t, a.Store("run-1", conv, result))

	rec, ok := a.Get("run-1")
	require.True(t, ok)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "done", rec.Result.Result)
	assert.Len(t, rec.Messages, 1)
	assert.False(t, rec.StoredAt.IsZero())

	_, ok = a.Get("missing")
	assert.False(t, ok)
}

func TestInMemorySnapshotIsolation(t *testing.T) {
	a := NewInMemory()
	conv := core.NewConversation("task", "")
	require.NoError(t, a.Store("run-1", conv, core.RunResult{Status: core.StatusFailed, Error: "cancelled"}))

	// Later appends must not leak into the stored record.
	require.NoError(t, conv.Append(core.AssistantText("late")))

	rec, _ := a.Get("run-1")
	assert.Len(t, rec.Messages, 1)
	assert.Len(t, a.Records(), 1)
}
