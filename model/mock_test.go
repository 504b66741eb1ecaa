package model

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/agentloop/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, chunks <-chan Chunk, errs <-chan error) ([]Chunk, error) {
	t.Helper()
	var got []Chunk
	for c := range chunks {
		got = append(got, c)
	}
	return got, <-errs
}

func TestMockTransport_ReplaysTurnsInOrder(t *testing.T) {
	mt := NewMockTransport(
		ScriptedTurn{Chunks: []Chunk{{Type: ChunkText, Text: "one"}}},
		ScriptedTurn{Chunks: []Chunk{{Type: ChunkText, Text: "two"}}},
	)

	chunks, errs := mt.Stream(context.Background(), Request{})
	got, err := drain(t, chunks, errs)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "one", got[0].Text)

	chunks, errs = mt.Stream(context.Background(), Request{})
	got, err = drain(t, chunks, errs)
	require.NoError(t, err)
	assert.Equal(t, "two", got[0].Text)

	// Beyond the script the stream is empty.
	chunks, errs = mt.Stream(context.Background(), Request{})
	got, err = drain(t, chunks, errs)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 3, mt.Calls())
}

func TestMockTransport_MidStreamError(t *testing.T) {
	boom := errors.New("boom")
	mt := NewMockTransport(ScriptedTurn{
		Chunks: []Chunk{{Type: ChunkText, Text: "partial"}},
		Err:    boom,
	})

	chunks, errs := mt.Stream(context.Background(), Request{})
	got, err := drain(t, chunks, errs)
	assert.Len(t, got, 1)
	assert.ErrorIs(t, err, boom)
}

func TestMockTransport_UsageChunk(t *testing.T) {
	mt := NewMockTransport(ScriptedTurn{Chunks: []Chunk{
		{Type: ChunkUsage, Usage: &core.Usage{InputTokens: 10, OutputTokens: 5, ContextWindow: 1000}},
	}})

	chunks, errs := mt.Stream(context.Background(), Request{})
	got, err := drain(t, chunks, errs)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Usage)
	assert.Equal(t, 15, got[0].Usage.Tokens())
}

func TestIsContextWindowExceeded(t *testing.T) {
	wrapped := errors.Join(errors.New("request failed"), ErrContextWindowExceeded)
	assert.True(t, IsContextWindowExceeded(wrapped))
	assert.False(t, IsContextWindowExceeded(errors.New("other")))
}
