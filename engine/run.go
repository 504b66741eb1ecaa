package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/delta"
	"github.com/hupe1980/agentloop/model"
	"github.com/hupe1980/agentloop/tool"
)

const (
	// placeholderResponse stands in for a blank assistant turn so the
	// transcript never contains an empty message.
	placeholderResponse = "I did not provide a response."

	noToolNudge = "You did not use a tool in your previous response. Retry with a tool use, " +
		"or call attempt_completion with your final result if the task is done."

	emptyCompletionError = "attempt_completion was called without a result. Provide the final " +
		"result text, or keep working with other tools first."
)

// run carries the mutable state of one Run invocation. A fresh run is built
// per call so concurrent runs never share state.
type run struct {
	eng        *Engine
	id         string
	conv       *core.Conversation
	stats      core.RunStats
	limiter    *core.RequestLimiter
	native     bool
	emptyTurns int
	state      State
	onProgress core.ProgressFunc
}

// Run drives one conversation from prompt to terminal status. It blocks until
// the run completes, fails or ctx is cancelled; cancellation is reported as a
// failed result with ErrCancelled's message, never as a panic or a hang.
func (e *Engine) Run(ctx context.Context, prompt string) core.RunResult {
	return e.RunWithProgress(ctx, prompt, nil)
}

// RunWithProgress behaves like Run but additionally delivers this run's
// progress snapshots to fn, independent of the engine-wide OnProgress option.
// The fan-out coordinator uses it to attribute snapshots to batch members.
func (e *Engine) RunWithProgress(ctx context.Context, prompt string, fn core.ProgressFunc) core.RunResult {
	r := &run{
		eng:        e,
		id:         core.NewID(),
		conv:       core.NewConversation(prompt, e.opts.Metadata),
		limiter:    core.NewRequestLimiter(e.opts.MaxRequests),
		onProgress: fn,
	}
	defs := e.dispatcher.Definitions()
	r.native = e.transport.Info().NativeToolCalls && len(defs) > 0

	e.opts.Logger.Debug("run started", "run_id", r.id, "native_tools", r.native)
	r.progress(core.ProgressUpdate{Status: core.StatusRunning, Stats: r.stats})

	for {
		// Proactive path: compact before the request when the previous
		// turn's usage crossed the threshold. A failure here is not fatal;
		// the request itself will surface the hard error if there is one.
		if e.opts.Compaction != nil && e.opts.Compaction.ShouldCompact(r.stats) {
			r.setState(StateRetrying)
			if conv, err := e.opts.Compaction.Compact(r.conv, r.stats.ContextWindow); err == nil {
				e.opts.Logger.Info("compacted conversation", "run_id", r.id, "messages", conv.Len())
				r.conv = conv
			}
		}

		if err := r.limiter.Increment(); err != nil {
			return r.fail(err)
		}

		asm := delta.New()
		received, streamErr := r.stream(ctx, asm, defs)
		if streamErr != nil {
			if errors.Is(streamErr, ErrCancelled) || errors.Is(streamErr, context.Canceled) {
				return r.fail(ErrCancelled)
			}
			if !received && model.IsContextWindowExceeded(streamErr) {
				if err := r.retryCompaction(streamErr); err != nil {
					return r.fail(err)
				}
				continue
			}
			if received {
				// Retain partial progress as diagnostic context only.
				if text := asm.Text(); text != "" {
					_ = r.conv.Append(core.AssistantText(text))
				}
				return r.fail(fmt.Errorf("stream interrupted: %w", streamErr))
			}
			// Initial failure with zero bytes: no retry, so a persistent
			// transport outage is not masked.
			return r.fail(fmt.Errorf("request failed: %w", streamErr))
		}

		r.setState(StateDeciding)
		text := asm.Text()
		reasoning, signature := asm.Reasoning()
		calls, asText := r.selectCalls(asm, text)

		if len(calls) == 0 {
			r.emptyTurns++
			msg := text
			if msg == "" {
				msg = placeholderResponse
			}
			if err := r.conv.Append(assistantMessage(reasoning, signature, msg, nil)); err != nil {
				return r.fail(err)
			}
			if r.emptyTurns > e.opts.MaxEmptyTurnRetries {
				return r.fail(fmt.Errorf("%w (after %d attempts)", ErrEmptyTurnLimit, r.emptyTurns))
			}
			if err := r.conv.Append(core.UserText(noToolNudge)); err != nil {
				return r.fail(err)
			}
			continue
		}

		if result, ok := completionResult(calls); ok {
			if err := r.conv.Append(assistantMessage(reasoning, signature, text, nil)); err != nil {
				return r.fail(err)
			}
			return r.complete(result)
		}

		r.setState(StateDispatching)
		r.emptyTurns = 0

		var uses []core.ToolCall
		if !asText {
			uses = calls
		}
		if err := r.conv.Append(assistantMessage(reasoning, signature, text, uses)); err != nil {
			return r.fail(err)
		}

		results, err := r.dispatch(ctx, calls)
		if err != nil {
			return r.fail(err)
		}
		if err := r.conv.Append(resultsMessage(results)); err != nil {
			return r.fail(err)
		}
	}
}

// stream issues one request and consumes its response in arrival order. Every
// consumed unit doubles as a cancellation checkpoint. Returns whether any
// chunk arrived, and the terminal stream error if one occurred.
func (r *run) stream(ctx context.Context, asm *delta.Assembler, defs []model.ToolDefinition) (received bool, err error) {
	r.setState(StateRequesting)
	req := model.Request{System: r.eng.opts.System, Messages: r.conv.Messages()}
	if r.native {
		req.Tools = defs
	}
	chunks, errs := r.eng.transport.Stream(ctx, req)
	r.setState(StateStreaming)

	// preview is the latest best-effort description of the tool call
	// currently streaming, refreshed as argument fragments arrive so live
	// progress stays responsive during the turn.
	preview := ""
	for chunks != nil || errs != nil {
		select {
		case <-ctx.Done():
			return received, ErrCancelled
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			received = true
			if c.Type == model.ChunkUsage {
				if c.Usage != nil {
					r.stats.AddUsage(*c.Usage, r.eng.opts.Prices)
					r.progress(core.ProgressUpdate{Status: core.StatusRunning, Stats: r.stats, LatestToolCall: preview})
				}
				continue
			}
			asm.ProcessDelta(c)
			if c.Type == model.ChunkToolCall {
				if desc := r.previewDescription(asm); desc != "" && desc != preview {
					preview = desc
					r.progress(core.ProgressUpdate{Status: core.StatusRunning, Stats: r.stats, LatestToolCall: preview})
				}
			}
		case streamErr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if streamErr != nil {
				err = streamErr
			}
		}
	}
	return received, err
}

// previewDescription describes the tool call currently being assembled,
// using its partial input. Suitable for live display only, never execution.
func (r *run) previewDescription(asm *delta.Assembler) string {
	previews := asm.PartialPreview()
	if len(previews) == 0 {
		return ""
	}
	last := previews[len(previews)-1]
	if last.Name == "" {
		return ""
	}
	return r.eng.dispatcher.Describe(last)
}

// selectCalls applies the dual-mode tie-break: native finalized calls are
// authoritative when native mode is enabled, parsed text calls when it is
// not. Native-shaped fragments arriving in text mode indicate a capability
// negotiation mismatch; they are executed anyway but answered with the text
// result convention, and the mismatch is logged. The second return reports
// whether the calls follow the text convention, in which case no tool_use
// blocks are recorded for them: a transcript replayed to a transport must
// never carry a tool_use without a paired tool_result.
func (r *run) selectCalls(asm *delta.Assembler, text string) (calls []core.ToolCall, asText bool) {
	nativeCalls := asm.AllFinalized()
	if r.native {
		return nativeCalls, false
	}
	if textCalls := r.eng.parser.Parse(text); len(textCalls) > 0 {
		return textCalls, true
	}
	if len(nativeCalls) > 0 {
		r.eng.opts.Logger.Warn("transport emitted native tool calls in text mode; using text result convention",
			"run_id", r.id, "calls", len(nativeCalls))
		for i := range nativeCalls {
			nativeCalls[i].Native = false
		}
		return nativeCalls, true
	}
	return nil, false
}

// dispatch executes every call sequentially in finalization order. Later
// calls may depend on side effects of earlier ones, and results must be
// appended in call order to keep the pairing invariant, so no concurrency
// here. The only error returned is cancellation.
func (r *run) dispatch(ctx context.Context, calls []core.ToolCall) ([]core.ToolResult, error) {
	results := make([]core.ToolResult, 0, len(calls))
	for _, call := range calls {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		r.stats.ToolCalls++
		r.progress(core.ProgressUpdate{
			Status:         core.StatusRunning,
			Stats:          r.stats,
			LatestToolCall: r.eng.dispatcher.Describe(call),
		})

		var res core.ToolResult
		if call.Name == string(tool.AttemptCompletion) {
			// Reaching dispatch means the completion call had no usable
			// result; tell the model instead of terminating.
			res = core.ToolResult{CallID: call.ID, Name: call.Name, Content: emptyCompletionError, IsError: true, Native: call.Native}
		} else {
			res = r.eng.dispatcher.Dispatch(ctx, call)
		}
		results = append(results, res)

		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
	}
	return results, nil
}

// retryCompaction implements the one recovery granted to an initial request
// failure: shrink the conversation and try again. Returns an error when
// nothing is compactable, in which case the run fails with both causes.
func (r *run) retryCompaction(cause error) error {
	r.setState(StateRetrying)
	if r.eng.opts.Compaction == nil {
		return cause
	}
	conv, err := r.eng.opts.Compaction.Compact(r.conv, r.stats.ContextWindow)
	if err != nil {
		return fmt.Errorf("%v; %w", cause, err)
	}
	r.eng.opts.Logger.Info("compacted conversation after context overflow", "run_id", r.id, "messages", conv.Len())
	r.conv = conv
	return nil
}

func (r *run) complete(result string) core.RunResult {
	r.state = StateCompleted
	res := core.RunResult{Status: core.StatusCompleted, Result: result, Stats: r.stats}
	r.finish(res)
	return res
}

func (r *run) fail(err error) core.RunResult {
	r.state = StateFailed
	res := core.RunResult{Status: core.StatusFailed, Error: err.Error(), Stats: r.stats}
	r.finish(res)
	return res
}

func (r *run) finish(res core.RunResult) {
	logger := r.eng.opts.Logger
	if res.Status == core.StatusCompleted {
		logger.Info("run completed", "run_id", r.id, "requests", r.limiter.Count(), "tool_calls", r.stats.ToolCalls)
	} else {
		logger.Error("run failed", "run_id", r.id, "requests", r.limiter.Count(), "error", res.Error)
	}
	r.progress(core.ProgressUpdate{Status: res.Status, Stats: r.stats, Result: res.Result, Error: res.Error})
	if a := r.eng.opts.Archive; a != nil {
		if err := a.Store(r.id, r.conv, res); err != nil {
			logger.Warn("archive store failed", "run_id", r.id, "error", err.Error())
		}
	}
}

func (r *run) setState(s State) {
	if r.state == s {
		return
	}
	r.state = s
	r.eng.opts.Logger.Debug("state transition", "run_id", r.id, "state", string(s))
	r.progress(core.ProgressUpdate{Status: core.StatusRunning, Stats: r.stats})
}

func (r *run) progress(u core.ProgressUpdate) {
	if fn := r.eng.opts.OnProgress; fn != nil {
		fn(u)
	}
	if r.onProgress != nil {
		r.onProgress(u)
	}
}

// completionResult returns the first completion call's result, reporting
// found only when the result is non-empty. An empty completion falls through
// to dispatch, which answers it with a tool error.
func completionResult(calls []core.ToolCall) (string, bool) {
	for _, call := range calls {
		if call.Name != string(tool.AttemptCompletion) {
			continue
		}
		if result := call.InputString("result"); result != "" {
			return result, true
		}
	}
	return "", false
}

// assistantMessage assembles the turn's assistant message: reasoning first,
// then text, then any tool_use blocks not already embedded in the text.
func assistantMessage(reasoning, signature, text string, uses []core.ToolCall) core.Message {
	var parts []core.Part
	if reasoning != "" {
		parts = append(parts, core.ReasoningPart{Text: reasoning, Signature: signature})
	}
	if text != "" {
		parts = append(parts, core.TextPart{Text: text})
	}
	for _, call := range uses {
		parts = append(parts, core.ToolUsePart{ToolCall: call})
	}
	if len(parts) == 0 {
		parts = append(parts, core.TextPart{Text: placeholderResponse})
	}
	return core.Message{Role: core.RoleAssistant, Parts: parts}
}

// resultsMessage builds the single user message answering every call of the
// turn, preserving call order and each result's serialization convention.
func resultsMessage(results []core.ToolResult) core.Message {
	var parts []core.Part
	for _, res := range results {
		if res.Native {
			parts = append(parts, core.ToolResultPart{ToolResult: res})
		} else {
			parts = append(parts, core.TextPart{Text: formatTextResult(res)})
		}
	}
	return core.Message{Role: core.RoleUser, Parts: parts}
}

func formatTextResult(res core.ToolResult) string {
	label := "Result"
	if res.IsError {
		label = "Error"
	}
	return fmt.Sprintf("[%s] %s:\n%s", res.Name, label, res.Content)
}
