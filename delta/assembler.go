// Package delta reconstructs complete typed message blocks from the
// incremental fragments a streaming transport emits: text tokens, reasoning
// fragments and tool-call argument fragments interleaved across many call
// identifiers within one turn.
package delta

import (
	"encoding/json"
	"strings"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/model"
)

// pending accumulates one tool call while its fragments are still arriving.
type pending struct {
	id      string
	name    string
	args    strings.Builder
	scanner jsonScanner
	// parsed caches the authoritative input once the scanner reports a
	// complete top-level value, overriding any previous partial guess.
	parsed map[string]any
}

// Assembler consumes streamed chunks in arrival order and incrementally
// rebuilds tool calls, assistant text and reasoning for one turn. It is not
// safe for concurrent use; each turn owns its own Assembler.
type Assembler struct {
	calls     map[string]*pending
	order     []string
	text      strings.Builder
	reasoning strings.Builder
	signature string
}

// New creates an empty Assembler for one turn.
func New() *Assembler {
	return &Assembler{calls: map[string]*pending{}}
}

// ProcessDelta routes one streamed chunk. Must be called once per chunk in
// the order received. Usage chunks are ignored here; accounting is the
// engine's concern.
func (a *Assembler) ProcessDelta(c model.Chunk) {
	switch c.Type {
	case model.ChunkText:
		a.text.WriteString(c.Text)
	case model.ChunkReasoning:
		a.reasoning.WriteString(c.Text)
		if c.Signature != "" {
			a.signature = c.Signature
		}
	case model.ChunkToolCall:
		if c.ToolCall == nil {
			return
		}
		a.processToolCall(*c.ToolCall)
	}
}

func (a *Assembler) processToolCall(d model.ToolCallDelta) {
	if d.ID == "" {
		// A fragment that cannot be attributed to any call is dropped.
		return
	}
	p, ok := a.calls[d.ID]
	if !ok {
		p = &pending{id: d.ID}
		a.calls[d.ID] = p
		a.order = append(a.order, d.ID)
	}
	if d.Name != "" && p.name == "" {
		p.name = d.Name
	}
	if d.ArgsDelta == "" {
		return
	}
	p.args.WriteString(d.ArgsDelta)
	if p.scanner.feed(d.ArgsDelta) {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(p.args.String()), &parsed); err == nil {
			p.parsed = parsed
		}
	}
}

// Finalized returns the frozen ToolCall for a completed id, or false if the
// id never produced a usable name. When well-formed JSON never arrived the
// input is a best-effort extraction from the partial text.
func (a *Assembler) Finalized(id string) (core.ToolCall, bool) {
	p, ok := a.calls[id]
	if !ok || p.name == "" {
		return core.ToolCall{}, false
	}
	return p.finalize(), true
}

// AllFinalized returns every assembled call in first-seen order, skipping
// fragments that never yielded a name.
func (a *Assembler) AllFinalized() []core.ToolCall {
	var out []core.ToolCall
	for _, id := range a.order {
		if call, ok := a.Finalized(id); ok {
			out = append(out, call)
		}
	}
	return out
}

// PartialPreview returns best-effort, possibly incomplete ToolCall-shaped
// values suitable only for live display, never for execution.
func (a *Assembler) PartialPreview() []core.ToolCall {
	var out []core.ToolCall
	for _, id := range a.order {
		p := a.calls[id]
		call := core.ToolCall{
			ID:       p.id,
			Name:     p.name,
			RawInput: p.args.String(),
			Native:   true,
		}
		if p.parsed != nil {
			call.Input = p.parsed
		} else {
			call.Input = extractPartialInput(call.RawInput)
			call.PartialInput = call.RawInput != ""
		}
		out = append(out, call)
	}
	return out
}

// Text returns the accumulated assistant text for the turn.
func (a *Assembler) Text() string { return a.text.String() }

// Reasoning returns the assembled reasoning text and the latest signature
// token observed, if any.
func (a *Assembler) Reasoning() (string, string) {
	return a.reasoning.String(), a.signature
}

func (p *pending) finalize() core.ToolCall {
	call := core.ToolCall{
		ID:       p.id,
		Name:     p.name,
		RawInput: p.args.String(),
		Native:   true,
	}
	if p.parsed != nil {
		call.Input = p.parsed
		return call
	}
	if call.RawInput == "" {
		// Tools without parameters legitimately stream no argument bytes.
		call.Input = map[string]any{}
		return call
	}
	// The argument stream ended syntactically incomplete. Recover what we
	// can so a denied or failed call still has a plausible description.
	call.Input = extractPartialInput(call.RawInput)
	call.PartialInput = true
	return call
}
