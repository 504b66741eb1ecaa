package engine

import (
	"errors"

	"github.com/hupe1980/agentloop/compact"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/model"
	"github.com/hupe1980/agentloop/parse"
	"github.com/hupe1980/agentloop/tool"
)

// State identifies a turn engine phase. Terminal states are StateCompleted
// and StateFailed.
type State string

const (
	// StateRequesting covers issuing one streamed chat request.
	StateRequesting State = "requesting"
	// StateStreaming covers consuming the response stream.
	StateStreaming State = "streaming"
	// StateDeciding covers finalizing tool calls for the turn.
	StateDeciding State = "deciding"
	// StateDispatching covers sequential tool execution.
	StateDispatching State = "dispatching"
	// StateRetrying covers the compaction-then-retry path.
	StateRetrying State = "retrying"
	// StateCompleted marks a run that produced a final result.
	StateCompleted State = "completed"
	// StateFailed marks a run terminated by an error.
	StateFailed State = "failed"
)

// ErrCancelled reports a run terminated by caller cancellation. Callers that
// implement retry policies can use errors.Is to tell cancellation apart from
// other failures.
var ErrCancelled = errors.New("cancelled")

// ErrEmptyTurnLimit reports a model that kept answering without any tool use
// past the retry budget.
var ErrEmptyTurnLimit = errors.New("too many responses without a tool use")

// DefaultMaxEmptyTurnRetries is the number of toolless turns tolerated before
// the run fails. The run fails on the request after the budget is spent.
const DefaultMaxEmptyTurnRetries = 3

// Options configures an Engine instance using the functional options pattern.
type Options struct {
	// System is the system prompt sent with every request.
	System string

	// Metadata is attached to the first user message only (workspace and
	// environment details), never repeated.
	Metadata string

	// Prices feeds the running cost estimate. The zero value disables cost
	// accounting.
	Prices core.PriceTable

	// MaxEmptyTurnRetries bounds consecutive turns without a tool call.
	MaxEmptyTurnRetries int

	// MaxRequests bounds model requests per run. Zero means unlimited.
	MaxRequests int

	// Compaction shrinks the conversation on context-window pressure.
	// Defaults to compact.DefaultPolicy(). Set the field to nil explicitly
	// to disable compaction entirely.
	Compaction *compact.Policy

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger

	// OnProgress receives run snapshots, at least once per usage signal and
	// once per state transition. May be nil.
	OnProgress core.ProgressFunc

	// Archive receives the finished conversation at terminal states. May be
	// nil.
	Archive core.Archive
}

// WithSystem sets the system prompt.
func WithSystem(system string) func(o *Options) {
	return func(o *Options) { o.System = system }
}

// WithMetadata sets the first-message workspace/environment metadata.
func WithMetadata(metadata string) func(o *Options) {
	return func(o *Options) { o.Metadata = metadata }
}

// WithPrices sets the price table for cost accounting.
func WithPrices(prices core.PriceTable) func(o *Options) {
	return func(o *Options) { o.Prices = prices }
}

// WithMaxRequests bounds model requests per run.
func WithMaxRequests(max int) func(o *Options) {
	return func(o *Options) { o.MaxRequests = max }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = logger }
}

// WithProgress sets the progress sink.
func WithProgress(fn core.ProgressFunc) func(o *Options) {
	return func(o *Options) { o.OnProgress = fn }
}

// WithArchive sets the conversation archive.
func WithArchive(a core.Archive) func(o *Options) {
	return func(o *Options) { o.Archive = a }
}

// WithMaxEmptyTurnRetries bounds consecutive turns without a tool call.
func WithMaxEmptyTurnRetries(n int) func(o *Options) {
	return func(o *Options) { o.MaxEmptyTurnRetries = n }
}

// WithCompaction sets the compaction policy. Passing nil disables compaction.
func WithCompaction(p *compact.Policy) func(o *Options) {
	return func(o *Options) { o.Compaction = p }
}

// Engine owns one conversation's turn loop. It issues streamed requests,
// assembles each response, decides between tool dispatch, retry and
// completion, and reports a terminal RunResult. An Engine is stateless across
// runs and safe for concurrent Run calls; each run owns its own conversation.
type Engine struct {
	transport  model.Transport
	dispatcher *tool.Dispatcher
	parser     *parse.Parser
	opts       Options
}

// New creates an Engine over a transport and a tool dispatcher.
//
// Example:
//
//	eng := engine.New(transport, dispatcher,
//	    engine.WithSystem(systemPrompt),
//	    engine.WithMaxRequests(50),
//	    engine.WithLogger(logger),
//	)
//	result := eng.Run(ctx, "Summarize the repository layout")
func New(transport model.Transport, dispatcher *tool.Dispatcher, optFns ...func(o *Options)) *Engine {
	opts := Options{
		MaxEmptyTurnRetries: DefaultMaxEmptyTurnRetries,
		Compaction:          compact.DefaultPolicy(),
		Logger:              logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	var names []string
	for _, n := range dispatcher.Allowlist().Names() {
		names = append(names, string(n))
	}
	return &Engine{
		transport:  transport,
		dispatcher: dispatcher,
		parser:     parse.New(names...),
		opts:       opts,
	}
}
