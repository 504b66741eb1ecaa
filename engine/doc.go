// Package engine implements the single-run turn loop that drives an agent
// conversation against a streaming model transport.
//
// One run proceeds through a small state machine:
//
//	Requesting -> Streaming -> Deciding -> {Dispatching, Retrying, Completed, Failed}
//
// Requesting issues one streamed chat request with the current conversation,
// system prompt and, for native tool-calling transports, the tool schema.
// Streaming consumes the response in arrival order, feeding every fragment to
// the delta assembler and folding usage signals into the run's stats; each
// consumed unit is also a cancellation checkpoint. Deciding finalizes the
// turn's tool calls, in one of two mutually exclusive modes:
//
//   - Native: calls come from the assembler's finalized set, used when the
//     transport advertises native tool calling and tools are configured.
//   - Text-embedded: calls are parsed from the assistant text's tag grammar,
//     used otherwise. Should a text-mode transport nonetheless emit structured
//     call fragments, they are executed with the text result convention and
//     the mismatch is logged as a warning.
//
// A turn with no tool calls spends one unit of the empty-turn retry budget
// and sends the model a nudge; exhausting the budget fails the run. A call to
// the completion tool with a non-empty result terminates the run; an empty
// completion is answered with a tool error so the model can retry with
// content. All other calls are dispatched strictly sequentially in
// finalization order, and their results appended in one user message.
//
// Failure recovery is deliberately narrow: an initial request failure is
// fatal unless classified as a context-window overflow, which earns one
// compaction-then-retry via the configured compact.Policy. Compaction also
// runs proactively once the previous turn's context usage crosses the policy
// threshold. Mid-stream transport failures and cancellation always fail the
// run, with partial assistant text retained as diagnostic context.
//
// The Engine itself is stateless across runs; package batch fans multiple
// runs out concurrently and aggregates their progress.
package engine
