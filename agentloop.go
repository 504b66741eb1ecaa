// Package agentloop provides a high-level façade over the turn engine, tool
// dispatcher and fan-out coordinator. Most applications interact with this
// package by:
//  1. Creating an AgentLoop via New() with a model transport and tool registry
//  2. Running a single task with Run(), or several in parallel with RunBatch()
//  3. Inspecting the returned RunResult (or batch status items) for outcome,
//     token usage and cost
//
// The façade delegates orchestration to engine.Engine while keeping setup
// ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply a structured logger, a
// price table and a durable archive.
package agentloop

import (
	"context"

	"github.com/hupe1980/agentloop/batch"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/engine"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/model"
	"github.com/hupe1980/agentloop/tool"
)

// Options configures the AgentLoop instance.
type Options struct {
	// Allowlist restricts which registered tools the model may invoke. When
	// nil, an allow-list over every registered tool is used.
	Allowlist *tool.Allowlist

	// Engine holds the turn-engine options (system prompt, limits, prices,
	// compaction, archive). Applied on top of the engine defaults.
	Engine []func(o *engine.Options)

	// Logger receives structured events from the engine, the dispatcher and
	// the batch coordinator. Defaults to the no-op logger.
	Logger logging.Logger
}

// WithAllowlist restricts the tools the model may invoke.
func WithAllowlist(a *tool.Allowlist) func(o *Options) {
	return func(o *Options) { o.Allowlist = a }
}

// WithEngineOptions appends turn-engine options.
func WithEngineOptions(optFns ...func(o *engine.Options)) func(o *Options) {
	return func(o *Options) { o.Engine = append(o.Engine, optFns...) }
}

// WithLogger sets the logger shared by the engine and the coordinator.
func WithLogger(logger logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = logger }
}

// AgentLoop is the high-level façade aggregating the engine and coordinator.
type AgentLoop struct {
	engine      *engine.Engine
	coordinator *batch.Coordinator
}

// New creates an AgentLoop from a model transport and a tool registry.
func New(transport model.Transport, registry *tool.Registry, optFns ...func(o *Options)) *AgentLoop {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Allowlist == nil {
		opts.Allowlist = tool.NewAllowlist(registry.Names()...)
	}
	dispatcher := tool.NewDispatcher(registry, opts.Allowlist, opts.Logger)

	engineOpts := append([]func(o *engine.Options){engine.WithLogger(opts.Logger)}, opts.Engine...)
	eng := engine.New(transport, dispatcher, engineOpts...)

	return &AgentLoop{
		engine:      eng,
		coordinator: batch.NewCoordinator(eng, batch.WithLogger(opts.Logger)),
	}
}

// Engine exposes the underlying turn engine for advanced use.
func (l *AgentLoop) Engine() *engine.Engine {
	return l.engine
}

// Run executes a single task to completion and returns its result.
func (l *AgentLoop) Run(ctx context.Context, prompt string) core.RunResult {
	return l.engine.Run(ctx, prompt)
}

// RunWithProgress executes a single task, reporting progress snapshots after
// every model response and tool dispatch.
func (l *AgentLoop) RunWithProgress(ctx context.Context, prompt string, fn core.ProgressFunc) core.RunResult {
	return l.engine.RunWithProgress(ctx, prompt, fn)
}

// RunBatch executes up to batch.MaxBatchSize prompts concurrently and returns
// the per-prompt status items. onUpdate may be nil.
func (l *AgentLoop) RunBatch(ctx context.Context, prompts []string, onUpdate batch.UpdateFunc) ([]core.SubagentStatusItem, error) {
	return l.coordinator.RunBatch(ctx, prompts, onUpdate)
}

// Abort cancels an in-flight batch. Running members observe the cancellation
// at their next dispatch or stream boundary.
func (l *AgentLoop) Abort() {
	l.coordinator.Abort()
}
