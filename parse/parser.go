// Package parse extracts tool invocations embedded in assistant free text as
// tag pairs. The grammar is fixed and small: a known tool name as an
// opening/closing tag wrapping parameter tags, for example
//
//	<read_file>
//	<path>main.go</path>
//	</read_file>
//
// The package is independent of the native tool-call path; either producer
// can be swapped without touching the other.
package parse

import (
	"strings"

	"github.com/hupe1980/agentloop/core"
)

// Parser scans text for invocations of a known set of tool names. Unknown
// tags are left alone so ordinary prose containing angle brackets does not
// produce spurious calls.
type Parser struct {
	names map[string]struct{}
}

// New creates a Parser recognizing the given tool names.
func New(names ...string) *Parser {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return &Parser{names: set}
}

// Parse returns every tool invocation found in text, in order of appearance.
// Each call is assigned a fresh identifier and carries string-valued
// parameters. An invocation whose closing tag never appears is still
// returned, flagged as partial, with the parameters collected so far.
func (p *Parser) Parse(text string) []core.ToolCall {
	var calls []core.ToolCall
	for i := 0; i < len(text); {
		open := strings.IndexByte(text[i:], '<')
		if open < 0 {
			break
		}
		i += open
		name, end, ok := readTag(text, i)
		if !ok || strings.HasPrefix(name, "/") {
			i++
			continue
		}
		if _, known := p.names[name]; !known {
			i++
			continue
		}
		call, next := p.parseBody(text, name, i, end)
		calls = append(calls, call)
		i = next
	}
	return calls
}

// parseBody consumes parameter tags after an opening tool tag at start,
// returning the assembled call and the position to resume scanning from.
func (p *Parser) parseBody(text, tool string, start, pos int) (core.ToolCall, int) {
	call := core.ToolCall{
		ID:     core.NewID(),
		Name:   tool,
		Input:  map[string]any{},
		Native: false,
	}
	closing := "</" + tool + ">"
	for pos < len(text) {
		rel := strings.IndexByte(text[pos:], '<')
		if rel < 0 {
			pos = len(text)
			break
		}
		pos += rel
		if strings.HasPrefix(text[pos:], closing) {
			call.RawInput = strings.TrimSpace(text[start+len(tool)+2 : pos])
			return call, pos + len(closing)
		}
		param, bodyStart, ok := readTag(text, pos)
		if !ok || strings.HasPrefix(param, "/") {
			pos++
			continue
		}
		value, next, terminated := readValue(text, param, bodyStart)
		call.Input[param] = value
		pos = next
		if !terminated {
			break
		}
	}
	// Closing tool tag never appeared, typically a stream cut off mid-call.
	call.RawInput = strings.TrimSpace(text[start+len(tool)+2:])
	call.PartialInput = true
	return call, len(text)
}

// readValue extracts the content of one parameter tag. A parameter with no
// closing tag consumes the remainder of the text.
func readValue(text, param string, start int) (value string, next int, terminated bool) {
	closing := "</" + param + ">"
	if end := strings.Index(text[start:], closing); end >= 0 {
		return strings.TrimSpace(text[start : start+end]), start + end + len(closing), true
	}
	return strings.TrimSpace(text[start:]), len(text), false
}

// readTag parses a tag at text[i] (which must be '<') and returns its name,
// possibly '/'-prefixed, and the index just past the '>'.
func readTag(text string, i int) (name string, end int, ok bool) {
	j := i + 1
	if j < len(text) && text[j] == '/' {
		j++
	}
	for j < len(text) && isTagByte(text[j]) {
		j++
	}
	if j >= len(text) || text[j] != '>' || j == i+1 {
		return "", 0, false
	}
	return text[i+1 : j], j + 1, true
}

func isTagByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
