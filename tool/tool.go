// Package tool implements the tool calling subsystem that lets an agent run
// invoke structured capabilities (file access, search, shell execution) with
// typed identifiers, an explicit allow-list and consistent error handling.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentloop/model"
)

// Name is a typed tool identifier. Dispatch and allow-list checks operate on
// Name rather than raw strings so a misspelled tool cannot silently slip
// through a lookup.
type Name string

// Tool identifiers known to this package. Handlers for them are supplied by
// the host; only AttemptCompletion is interpreted by the engine itself.
const (
	ReadFile                Name = "read_file"
	ListFiles               Name = "list_files"
	SearchFiles             Name = "search_files"
	ListCodeDefinitionNames Name = "list_code_definition_names"
	ExecuteCommand          Name = "execute_command"
	UseSkill                Name = "use_skill"
	AttemptCompletion       Name = "attempt_completion"

	WriteToFile         Name = "write_to_file"
	ReplaceInFile       Name = "replace_in_file"
	BrowserAction       Name = "browser_action"
	UseMCPTool          Name = "use_mcp_tool"
	AccessMCPResource   Name = "access_mcp_resource"
	AskFollowupQuestion Name = "ask_followup_question"
	NewTask             Name = "new_task"
)

// Handler executes one tool. Implementations live outside this module; tests
// and examples use lightweight fakes.
//
// Handler implementations should:
//   - Handle errors gracefully and return them rather than panicking
//   - Be safe for concurrent use; one handler may serve many runs
//   - Own their own timeout policy (notably subprocess-backed handlers)
type Handler interface {
	// Execute runs the tool with the given input. The returned value may be
	// a string, an error, or any JSON-serializable value; the Dispatcher
	// normalizes it into a result block.
	Execute(ctx context.Context, input map[string]any) (any, error)

	// Describe returns a short human-readable summary of what this
	// invocation would do, derived from the input (for example the path
	// being read). Used for progress previews.
	Describe(input map[string]any) string
}

// Error represents a failure during tool execution.
type Error struct {
	Tool    Name   `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewError creates an Error with the specified details.
func NewError(tool Name, message, code string) *Error {
	return &Error{Tool: tool, Message: message, Code: code}
}

// entry pairs a handler with the metadata exposed to models.
type entry struct {
	handler     Handler
	description string
	parameters  map[string]any
}

// Registry maps tool names to handlers plus the schema metadata a native
// tool-calling transport needs. The zero value is not usable; use NewRegistry.
type Registry struct {
	entries map[Name]entry
	order   []Name
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[Name]entry{}}
}

// Register adds or replaces a handler. The parameters map is a minimal
// JSON-Schema-like description of the accepted arguments; CreateSchema can
// derive one from a struct.
func (r *Registry) Register(name Name, description string, parameters map[string]any, h Handler) {
	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	r.entries[name] = entry{handler: h, description: description, parameters: parameters}
}

// Get returns the handler for name, or false if none is registered.
func (r *Registry) Get(name Name) (Handler, bool) {
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.handler, true
}

// Names returns every registered name in registration order.
func (r *Registry) Names() []Name {
	out := make([]Name, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions returns the schema definitions for the given allow-list, in
// registration order, suitable for a native tool-calling request. A nil
// allow-list yields no definitions, matching the dispatcher's deny-by-default.
func (r *Registry) Definitions(allow *Allowlist) []model.ToolDefinition {
	var defs []model.ToolDefinition
	for _, name := range r.order {
		if !allow.Allows(name) {
			continue
		}
		e := r.entries[name]
		defs = append(defs, model.ToolDefinition{
			Name:        string(name),
			Description: e.description,
			Parameters:  e.parameters,
		})
	}
	return defs
}
