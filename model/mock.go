package model

import (
	"context"
	"sync"
)

// ScriptedTurn is one canned transport response: the chunks to stream, or an
// error to fail with. When Err is set alongside chunks, the chunks are
// streamed first and the error is delivered afterwards (a mid-stream failure);
// Err with no chunks models an initial request failure with zero bytes.
type ScriptedTurn struct {
	Chunks []Chunk
	Err    error
}

// MockTransport is a lightweight in-memory Transport useful for tests and
// examples. Each Stream call consumes the next scripted turn in order; calls
// beyond the script return an empty stream.
type MockTransport struct {
	info  Info
	turns []ScriptedTurn
	reqs  []Request
	calls int
	mu    sync.Mutex
}

// NewMockTransport constructs a MockTransport with native tool calling
// enabled by default.
func NewMockTransport(turns ...ScriptedTurn) *MockTransport {
	return &MockTransport{
		info:  Info{Name: "mock", Provider: "mock", NativeToolCalls: true},
		turns: turns,
	}
}

// SetNativeToolCalls toggles the advertised tool-calling capability.
func (m *MockTransport) SetNativeToolCalls(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info.NativeToolCalls = v
}

// Calls returns how many times Stream was invoked.
func (m *MockTransport) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns the requests seen so far, in order.
func (m *MockTransport) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.reqs...)
}

// Append adds further scripted turns, useful when a test builds the script
// incrementally.
func (m *MockTransport) Append(turns ...ScriptedTurn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turns...)
}

// Stream implements Transport by replaying the next scripted turn.
func (m *MockTransport) Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	m.mu.Lock()
	var turn ScriptedTurn
	if m.calls < len(m.turns) {
		turn = m.turns[m.calls]
	}
	m.calls++
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()

	out := make(chan Chunk, len(turn.Chunks)+1)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		for _, c := range turn.Chunks {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- c:
			}
		}
		if turn.Err != nil {
			errCh <- turn.Err
		}
	}()

	return out, errCh
}

// Info implements Transport.
func (m *MockTransport) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}
