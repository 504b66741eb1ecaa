// Package archive provides conversation archival implementations for callers
// that want to keep transcripts beyond run end. The engine itself never
// persists anything; it hands the finished conversation to a core.Archive at
// terminal states.
package archive

import (
	"sync"
	"time"

	"github.com/hupe1980/agentloop/core"
)

// Record is one archived run: the final transcript plus the terminal result.
// Messages is a snapshot; a failed run may legitimately end mid-exchange, so
// no structural validation is applied here.
type Record struct {
	RunID    string
	Messages []core.Message
	Result   core.RunResult
	StoredAt time.Time
}

// InMemory is a volatile core.Archive implementation storing records in a
// process local slice. It is safe for concurrent access and best suited for
// tests, examples and ephemeral tooling.
type InMemory struct {
	mu      sync.RWMutex
	records []Record
}

// NewInMemory constructs an empty in-memory archive.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// Store implements core.Archive.
func (a *InMemory) Store(runID string, conversation *core.Conversation, result core.RunResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, Record{
		RunID:    runID,
		Messages: conversation.Messages(),
		Result:   result,
		StoredAt: time.Now(),
	})
	return nil
}

// Records returns a copy of all stored records in insertion order.
func (a *InMemory) Records() []Record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Record(nil), a.records...)
}

// Get returns the record for a run id, or false if none was stored.
func (a *InMemory) Get(runID string) (Record, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, r := range a.records {
		if r.RunID == runID {
			return r, true
		}
	}
	return Record{}, false
}
