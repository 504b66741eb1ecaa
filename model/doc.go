// Package model defines the provider-agnostic streaming transport consumed by
// the turn engine, plus the chunk vocabulary streamed back: text tokens,
// reasoning fragments, tool-call argument fragments and usage tallies.
//
// Concrete adapters live in the subpackages anthropic and openai. A scripted
// MockTransport supports tests and examples without network access.
package model
