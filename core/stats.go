package core

// Usage is a token accounting signal reported by the model transport, usually
// once per streamed response.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	// ContextWindow is the model's total context budget in tokens, when the
	// transport knows it. Zero means unknown.
	ContextWindow int `json:"context_window,omitempty"`
}

// Tokens returns the total tokens the usage signal accounts for against the
// context window.
func (u Usage) Tokens() int {
	return u.InputTokens + u.OutputTokens + u.CacheWriteTokens + u.CacheReadTokens
}

// PriceTable holds flat per-million-token rates used for the running cost
// estimate. The concrete figures are caller-supplied data.
type PriceTable struct {
	InputPerMTok      float64 `yaml:"input_per_mtok" json:"input_per_mtok"`
	OutputPerMTok     float64 `yaml:"output_per_mtok" json:"output_per_mtok"`
	CacheWritePerMTok float64 `yaml:"cache_write_per_mtok" json:"cache_write_per_mtok"`
	CacheReadPerMTok  float64 `yaml:"cache_read_per_mtok" json:"cache_read_per_mtok"`
}

// Cost computes the incremental cost of one usage signal.
func (p PriceTable) Cost(u Usage) float64 {
	const mtok = 1_000_000
	return float64(u.InputTokens)*p.InputPerMTok/mtok +
		float64(u.OutputTokens)*p.OutputPerMTok/mtok +
		float64(u.CacheWriteTokens)*p.CacheWritePerMTok/mtok +
		float64(u.CacheReadTokens)*p.CacheReadPerMTok/mtok
}

// RunStats accumulates per-run accounting. Counters are monotonically
// non-decreasing across a run; compaction resets the conversation, never the
// stats.
type RunStats struct {
	ToolCalls        int     `json:"tool_calls"`
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	CacheWriteTokens int     `json:"cache_write_tokens"`
	CacheReadTokens  int     `json:"cache_read_tokens"`
	Cost             float64 `json:"cost"`
	// ContextWindow and ContextUsagePct reflect the latest usage signal,
	// not a running total.
	ContextWindow   int     `json:"context_window"`
	ContextUsagePct float64 `json:"context_usage_pct"`
}

// AddUsage folds one usage signal into the accumulator.
func (s *RunStats) AddUsage(u Usage, prices PriceTable) {
	s.InputTokens += u.InputTokens
	s.OutputTokens += u.OutputTokens
	s.CacheWriteTokens += u.CacheWriteTokens
	s.CacheReadTokens += u.CacheReadTokens
	s.Cost += prices.Cost(u)
	if u.ContextWindow > 0 {
		s.ContextWindow = u.ContextWindow
		s.ContextUsagePct = 100 * float64(u.Tokens()) / float64(u.ContextWindow)
	}
}

// Status describes the lifecycle phase of a run or fan-out member.
type Status string

const (
	// StatusPending marks a member not yet started.
	StatusPending Status = "pending"
	// StatusRunning marks an in-flight run.
	StatusRunning Status = "running"
	// StatusCompleted marks a run terminated with a result.
	StatusCompleted Status = "completed"
	// StatusFailed marks a run terminated with an error (including cancellation).
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RunResult is the terminal value of a run.
type RunResult struct {
	Status Status   `json:"status"`
	Result string   `json:"result,omitempty"`
	Error  string   `json:"error,omitempty"`
	Stats  RunStats `json:"stats"`
}

// SubagentStatusItem is one row of a fan-out batch report. Owned exclusively
// by the coordinator; engines only ever report into it via progress callbacks.
type SubagentStatusItem struct {
	Index          int      `json:"index"`
	Prompt         string   `json:"prompt"`
	Status         Status   `json:"status"`
	Result         string   `json:"result,omitempty"`
	Error          string   `json:"error,omitempty"`
	LatestToolCall string   `json:"latest_tool_call,omitempty"`
	Stats          RunStats `json:"stats"`
}

// ProgressUpdate is an immutable snapshot emitted by a running engine, at
// least once per usage signal and once per state transition.
type ProgressUpdate struct {
	Status         Status   `json:"status,omitempty"`
	Stats          RunStats `json:"stats"`
	LatestToolCall string   `json:"latest_tool_call,omitempty"`
	Result         string   `json:"result,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// ProgressFunc receives run progress snapshots. Implementations must be safe
// to call from the engine's goroutine and must not retain the update's maps.
type ProgressFunc func(ProgressUpdate)

// Archive receives finished conversations for callers that want to keep
// transcripts beyond run end. Persistence itself is out of scope for the
// engine; the in-memory implementation in package archive suffices for tests
// and development.
type Archive interface {
	Store(runID string, conversation *Conversation, result RunResult) error
}
