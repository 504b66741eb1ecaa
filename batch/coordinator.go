// Package batch implements the fan-out coordinator: it runs several
// independent turn engine instances concurrently and merges their live status
// into one aggregated report.
//
// Each member runs in its own goroutine with no shared mutable state; engines
// report immutable progress snapshots over a channel, and a single aggregator
// loop owns the only mutable aggregate. One member's failure never affects
// the others: even a fully-failed batch returns a structured summary.
package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/engine"
	"github.com/hupe1980/agentloop/logging"
)

// MaxBatchSize caps the number of concurrent members per batch request.
const MaxBatchSize = 5

// Update is one aggregated batch snapshot. Partial updates stream while the
// batch is active; exactly one non-partial update closes the stream.
type Update struct {
	Partial bool `json:"partial"`

	Total     int `json:"total"`
	Completed int `json:"completed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	ToolCalls    int     `json:"tool_calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`

	// PeakContextUsagePct is the highest context usage observed across all
	// members over the batch's lifetime, not just the latest signals.
	PeakContextUsagePct float64 `json:"peak_context_usage_pct"`

	Items []core.SubagentStatusItem `json:"items"`
}

// UpdateFunc receives aggregated updates. Called from the coordinator's
// aggregator goroutine only, so implementations need no locking of their own.
type UpdateFunc func(Update)

// Options configures a Coordinator.
type Options struct {
	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = logger }
}

// Coordinator fans prompts out over concurrent engine runs. It is safe for
// concurrent use, but Abort applies to the most recently started batch.
type Coordinator struct {
	eng    *engine.Engine
	logger logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCoordinator creates a Coordinator over an engine. The engine is
// stateless across runs, so one instance serves every member.
func NewCoordinator(eng *engine.Engine, optFns ...func(o *Options)) *Coordinator {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Coordinator{eng: eng, logger: opts.Logger}
}

// memberUpdate attributes one engine snapshot to its batch index.
type memberUpdate struct {
	index  int
	update core.ProgressUpdate
}

// RunBatch runs every prompt concurrently and blocks until all members reach
// a terminal status, returning one status item per prompt in prompt order.
// onUpdate (optional) receives partial aggregated updates while members
// progress and one final non-partial update before RunBatch returns.
//
// Cancelling ctx (or calling Abort) cancels every member; cancelled members
// report failed status with a "cancelled" error rather than hanging.
func (c *Coordinator) RunBatch(ctx context.Context, prompts []string, onUpdate UpdateFunc) ([]core.SubagentStatusItem, error) {
	if len(prompts) == 0 {
		return nil, fmt.Errorf("batch needs at least one prompt")
	}
	if len(prompts) > MaxBatchSize {
		return nil, fmt.Errorf("batch size %d exceeds the limit of %d", len(prompts), MaxBatchSize)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.Info("batch started", "members", len(prompts))

	updates := make(chan memberUpdate, 4*len(prompts))
	var wg sync.WaitGroup
	for i, prompt := range prompts {
		wg.Add(1)
		go func(index int, prompt string) {
			defer wg.Done()
			defer func() {
				// allSettled isolation: a panicking member becomes a failed
				// item instead of tearing the batch down.
				if r := recover(); r != nil {
					c.logger.Error("batch member panicked", "index", index, "panic", fmt.Sprint(r))
					updates <- memberUpdate{index: index, update: core.ProgressUpdate{
						Status: core.StatusFailed,
						Error:  fmt.Sprintf("panic: %v", r),
					}}
				}
			}()
			c.eng.RunWithProgress(ctx, prompt, func(u core.ProgressUpdate) {
				updates <- memberUpdate{index: index, update: u}
			})
		}(i, prompt)
	}
	go func() {
		wg.Wait()
		close(updates)
	}()

	// The aggregator below is the sole owner of items; member goroutines
	// only ever send snapshots.
	items := make([]core.SubagentStatusItem, len(prompts))
	for i, prompt := range prompts {
		items[i] = core.SubagentStatusItem{Index: i, Prompt: prompt, Status: core.StatusPending}
	}
	peak := 0.0

	for snap := range updates {
		item := &items[snap.index]
		u := snap.update
		if u.Status != "" {
			item.Status = u.Status
		}
		item.Stats = u.Stats
		if u.LatestToolCall != "" {
			item.LatestToolCall = u.LatestToolCall
		}
		if u.Result != "" {
			item.Result = u.Result
		}
		if u.Error != "" {
			item.Error = u.Error
		}
		if u.Stats.ContextUsagePct > peak {
			peak = u.Stats.ContextUsagePct
		}
		if onUpdate != nil {
			onUpdate(aggregate(items, peak, true))
		}
	}

	final := aggregate(items, peak, false)
	if onUpdate != nil {
		onUpdate(final)
	}
	c.logger.Info("batch finished", "members", final.Total, "succeeded", final.Succeeded, "failed", final.Failed)

	return append([]core.SubagentStatusItem(nil), items...), nil
}

// Abort cancels the active batch. Members observe the cancellation at their
// next checkpoint and report failed status.
func (c *Coordinator) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func aggregate(items []core.SubagentStatusItem, peak float64, partial bool) Update {
	u := Update{
		Partial:             partial,
		Total:               len(items),
		PeakContextUsagePct: peak,
		Items:               append([]core.SubagentStatusItem(nil), items...),
	}
	for _, item := range items {
		if item.Status.Terminal() {
			u.Completed++
		}
		switch item.Status {
		case core.StatusCompleted:
			u.Succeeded++
		case core.StatusFailed:
			u.Failed++
		}
		u.ToolCalls += item.Stats.ToolCalls
		u.InputTokens += item.Stats.InputTokens
		u.OutputTokens += item.Stats.OutputTokens
		u.Cost += item.Stats.Cost
	}
	return u
}
