// Package core provides the foundational domain types used by AgentLoop. It
// defines the core abstractions for:
//
//   - Messages and Parts (role-based protocol content, tool use/result blocks)
//   - Conversations (append-only alternating transcripts with pairing rules)
//   - ToolCalls (finalized model tool invocations, native or text-embedded)
//   - RunStats / RunResult (per-run accounting and terminal outcomes)
//   - Progress reporting types shared by single runs and fan-out batches
//
// The package intentionally keeps implementation concerns (transports, turn
// orchestration, tool dispatch) out of scope, exposing small types so the
// engine, batch coordinator and model adapters can share one vocabulary.
package core
