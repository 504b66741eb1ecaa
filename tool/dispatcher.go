package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/model"
)

// Dispatcher resolves a finalized tool call to a handler, enforces the
// allow-list and serializes whatever the handler produces into one result
// block. A handler failure never propagates: panics and errors both become
// tool-error results so the model can see and react to them.
type Dispatcher struct {
	registry *Registry
	allow    *Allowlist
	logger   logging.Logger
}

// NewDispatcher creates a Dispatcher over a registry and allow-list. A nil
// logger disables dispatch logging.
func NewDispatcher(registry *Registry, allow *Allowlist, logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Dispatcher{registry: registry, allow: allow, logger: logger}
}

// Allowlist returns the dispatcher's allow-list.
func (d *Dispatcher) Allowlist() *Allowlist { return d.allow }

// Definitions returns the schema definitions for the allowed tools.
func (d *Dispatcher) Definitions() []model.ToolDefinition {
	return d.registry.Definitions(d.allow)
}

// Describe returns a short preview for a call, or a generic line when no
// handler is registered for it.
func (d *Dispatcher) Describe(call core.ToolCall) string {
	if h, ok := d.registry.Get(Name(call.Name)); ok {
		return h.Describe(call.Input)
	}
	return fmt.Sprintf("Calling %s", call.Name)
}

// Dispatch executes one call and returns its result block. The result always
// carries the call's identifier and serialization convention, so the caller
// can append it without inspecting the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, call core.ToolCall) core.ToolResult {
	name := Name(call.Name)
	if !d.allow.Allows(name) {
		d.logger.Warn("tool denied by allow-list", "tool", call.Name, "call_id", call.ID)
		return errorResult(call, fmt.Sprintf("Tool %q is not available in this run.", call.Name))
	}

	h, ok := d.registry.Get(name)
	if !ok {
		d.logger.Warn("no handler registered", "tool", call.Name, "call_id", call.ID)
		return errorResult(call, fmt.Sprintf("Tool %q has no registered handler.", call.Name))
	}

	start := time.Now()
	value, err := d.execute(ctx, h, call)
	if err != nil {
		d.logger.Error("tool execution failed", "tool", call.Name, "call_id", call.ID, "duration_ms", time.Since(start).Milliseconds(), "error", err.Error())
		return errorResult(call, err.Error())
	}
	d.logger.Debug("tool execution completed", "tool", call.Name, "call_id", call.ID, "duration_ms", time.Since(start).Milliseconds())

	content, err := serialize(value)
	if err != nil {
		return errorResult(call, fmt.Sprintf("tool %q returned an unserializable value: %v", call.Name, err))
	}
	return core.ToolResult{CallID: call.ID, Name: call.Name, Content: content, Native: call.Native}
}

// execute isolates the handler invocation so a panicking handler is reported
// as a tool error instead of tearing down the run.
func (d *Dispatcher) execute(ctx context.Context, h Handler, call core.ToolCall) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %q panicked: %v", call.Name, r)
		}
	}()
	return h.Execute(ctx, call.Input)
}

// serialize normalizes a handler return value into result-block text.
func serialize(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case error:
		return v.Error(), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func errorResult(call core.ToolCall, msg string) core.ToolResult {
	return core.ToolResult{CallID: call.ID, Name: call.Name, Content: msg, IsError: true, Native: call.Native}
}
