package tool

import (
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Allowlist is the restricted subset of tools a run may invoke. It is a set
// over typed names plus glob patterns for whole families, and is checked by
// the Dispatcher before any handler lookup. A nil or empty Allowlist permits
// nothing.
type Allowlist struct {
	names    map[Name]struct{}
	patterns []string
}

// NewAllowlist creates an Allowlist permitting exactly the given names.
func NewAllowlist(names ...Name) *Allowlist {
	a := &Allowlist{names: make(map[Name]struct{}, len(names))}
	for _, n := range names {
		a.names[n] = struct{}{}
	}
	return a
}

// Allow additionally permits the given names. Returns the receiver for
// chaining.
func (a *Allowlist) Allow(names ...Name) *Allowlist {
	for _, n := range names {
		a.names[n] = struct{}{}
	}
	return a
}

// AllowPattern additionally permits every name matching a doublestar glob,
// for example "read_*". Returns the receiver for chaining.
func (a *Allowlist) AllowPattern(patterns ...string) *Allowlist {
	a.patterns = append(a.patterns, patterns...)
	return a
}

// Allows reports whether the named tool may be invoked.
func (a *Allowlist) Allows(name Name) bool {
	if a == nil {
		return false
	}
	if _, ok := a.names[name]; ok {
		return true
	}
	for _, p := range a.patterns {
		if ok, err := doublestar.Match(p, string(name)); err == nil && ok {
			return true
		}
	}
	return false
}

// Names returns the explicitly allowed names, sorted, without pattern
// expansion.
func (a *Allowlist) Names() []Name {
	if a == nil {
		return nil
	}
	out := make([]Name, 0, len(a.names))
	for n := range a.names {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SubagentAllowlist returns the read-mostly tool subset granted to fan-out
// members: inspection tools, shell execution, skills and the completion tool.
// Write, edit, browser and MCP tools stay denied even when registered.
func SubagentAllowlist() *Allowlist {
	return NewAllowlist(
		ReadFile,
		ListFiles,
		SearchFiles,
		ListCodeDefinitionNames,
		ExecuteCommand,
		UseSkill,
		AttemptCompletion,
	)
}
