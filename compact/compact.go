// Package compact shrinks a conversation that is nearing or has exceeded its
// context budget so a run can retry instead of dying. It first applies a
// cheap optimization (collapsing superseded file reads) and only then
// truncates the oldest span of the transcript, always preserving the
// tool_use/tool_result pairing and the first metadata-bearing user message.
package compact

import (
	"errors"
	"fmt"

	"github.com/hupe1980/agentloop/core"
)

// ErrNothingToCompact reports that the conversation is too short to shrink;
// the caller should fail the run rather than loop.
var ErrNothingToCompact = errors.New("conversation has nothing to compact")

// supersededNotice replaces the content of a file-read result that a later
// read of the same path has made redundant.
const supersededNotice = "[Content removed: this file was read again later in the conversation.]"

// Estimator approximates the token footprint of a conversation.
type Estimator interface {
	EstimateTokens(conv *core.Conversation) int
}

// CharEstimator estimates tokens from transcript character counts. Crude but
// provider-agnostic; the ratio holds well enough for budget decisions.
type CharEstimator struct {
	CharsPerToken int
}

// EstimateTokens implements Estimator.
func (e CharEstimator) EstimateTokens(conv *core.Conversation) int {
	per := e.CharsPerToken
	if per <= 0 {
		per = 4
	}
	chars := 0
	for _, m := range conv.Messages() {
		for _, p := range m.Parts {
			switch v := p.(type) {
			case core.TextPart:
				chars += len(v.Text)
			case core.ReasoningPart:
				chars += len(v.Text)
			case core.ToolUsePart:
				chars += len(v.ToolCall.RawInput)
			case core.ToolResultPart:
				chars += len(v.ToolResult.Content)
			}
		}
	}
	return chars / per
}

// Policy decides whether and how to compact a conversation.
type Policy struct {
	// Threshold is the fraction of the context window above which the next
	// request is preceded by a proactive compaction.
	Threshold float64
	// Estimator measures candidate transcripts during Compact. Defaults to
	// CharEstimator{4}.
	Estimator Estimator
}

// DefaultPolicy returns a Policy compacting above 80% context usage.
func DefaultPolicy() *Policy {
	return &Policy{Threshold: 0.8, Estimator: CharEstimator{CharsPerToken: 4}}
}

// ShouldCompact reports whether the latest usage signal puts the run above
// the proactive threshold.
func (p *Policy) ShouldCompact(stats core.RunStats) bool {
	return stats.ContextWindow > 0 && stats.ContextUsagePct >= p.Threshold*100
}

// Compact returns a smaller copy of conv that fits the given window when
// possible. The collapse optimization is tried first; if the estimate still
// exceeds the threshold, the oldest compactable span is truncated. Returns
// ErrNothingToCompact when conv holds nothing but the initial exchange.
func (p *Policy) Compact(conv *core.Conversation, window int) (*core.Conversation, error) {
	est := p.Estimator
	if est == nil {
		est = CharEstimator{CharsPerToken: 4}
	}

	collapsed, changed := CollapseFileReads(conv)
	if changed && window > 0 && float64(est.EstimateTokens(collapsed)) <= p.Threshold*float64(window) {
		return collapsed, nil
	}

	truncated, err := Truncate(collapsed)
	if err != nil {
		if changed {
			// The collapse freed something even though the truncation could
			// not; better to retry with that than to fail outright.
			return collapsed, nil
		}
		return nil, err
	}
	return truncated, nil
}

// CollapseFileReads replaces the content of every file-read tool result that
// is superseded by a later read of the same path. Returns the (possibly new)
// conversation and whether anything changed.
func CollapseFileReads(conv *core.Conversation) (*core.Conversation, bool) {
	messages := conv.Messages()

	// Last read wins per path; earlier call ids get collapsed.
	lastRead := map[string]string{}
	pathByCall := map[string]string{}
	for _, m := range messages {
		if m.Role != core.RoleAssistant {
			continue
		}
		for _, u := range m.ToolUses() {
			if u.Name != "read_file" {
				continue
			}
			path := u.InputString("path")
			if path == "" {
				continue
			}
			pathByCall[u.ID] = path
			lastRead[path] = u.ID
		}
	}

	changed := false
	for i, m := range messages {
		if m.Role != core.RoleUser {
			continue
		}
		var parts []core.Part
		rewrote := false
		for _, part := range m.Parts {
			tr, ok := part.(core.ToolResultPart)
			if ok && !tr.ToolResult.IsError {
				path := pathByCall[tr.ToolResult.CallID]
				if path != "" && lastRead[path] != tr.ToolResult.CallID &&
					tr.ToolResult.Content != supersededNotice {
					tr.ToolResult.Content = supersededNotice
					part = tr
					rewrote = true
				}
			}
			parts = append(parts, part)
		}
		if rewrote {
			messages[i] = core.Message{Role: m.Role, Parts: parts}
			changed = true
		}
	}
	if !changed {
		return conv, false
	}
	out, err := core.FromMessages(messages)
	if err != nil {
		// Rewriting content cannot break structure; treat as no-op if it
		// somehow did.
		return conv, false
	}
	return out, true
}

// Truncate removes the oldest compactable span: roughly half of the
// transcript, in whole assistant/user pairs starting after the first user
// message, so alternation and tool pairing survive the cut.
func Truncate(conv *core.Conversation) (*core.Conversation, error) {
	messages := conv.Messages()
	if len(messages) < 3 {
		return nil, ErrNothingToCompact
	}

	// Whole pairs only. Removing (assistant, user) pairs starting at index 1
	// keeps index 0 and leaves the remainder alternating correctly.
	remove := (len(messages) - 1) / 2
	if remove%2 == 1 {
		remove--
	}
	if remove < 2 {
		remove = 2
	}
	if 1+remove > len(messages) {
		return nil, ErrNothingToCompact
	}

	kept := make([]core.Message, 0, len(messages)-remove)
	kept = append(kept, messages[0])
	kept = append(kept, messages[1+remove:]...)

	out, err := core.FromMessages(kept)
	if err != nil {
		return nil, fmt.Errorf("truncation produced an invalid conversation: %w", err)
	}
	return out, nil
}
