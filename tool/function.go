package tool

import (
	"context"
	"fmt"
)

// FunctionHandler is a generic adapter that exposes a plain Go function as a
// tool Handler. It validates arguments against a lightweight JSON-Schema-like
// specification before invoking the function and normalizes failures into
// *Error values with consistent codes:
//
//	VALIDATION_ERROR -> schema / argument mismatch
//	EXECUTION_ERROR  -> underlying function returned an error (non-*Error)
//	(custom codes preserved if the function returns *Error directly)
//
// A FunctionHandler has no mutable state after construction and is safe for
// concurrent use by multiple goroutines.
type FunctionHandler struct {
	name       Name
	parameters map[string]any
	fn         func(ctx context.Context, input map[string]any) (any, error)
	describe   func(input map[string]any) string
}

// NewFunctionHandler constructs a FunctionHandler from explicit schema and
// function. The describe func may be nil, in which case a generic preview is
// produced.
//
// Example:
//
//	h := tool.NewFunctionHandler(
//	  tool.ReadFile,
//	  tool.CreateSchema(struct {
//	    Path string `json:"path" description:"File to read"`
//	  }{}),
//	  func(ctx context.Context, input map[string]any) (any, error) {
//	    return os.ReadFile(input["path"].(string))
//	  },
//	  func(input map[string]any) string {
//	    return fmt.Sprintf("Reading %v", input["path"])
//	  },
//	)
func NewFunctionHandler(
	name Name,
	parameters map[string]any,
	fn func(ctx context.Context, input map[string]any) (any, error),
	describe func(input map[string]any) string,
) *FunctionHandler {
	return &FunctionHandler{name: name, parameters: parameters, fn: fn, describe: describe}
}

// Execute validates input against the declared schema then invokes the
// wrapped function. Validation or execution failures are wrapped (or passed
// through) as *Error for uniform downstream handling.
func (h *FunctionHandler) Execute(ctx context.Context, input map[string]any) (any, error) {
	if err := ValidateParameters(input, h.parameters); err != nil {
		return nil, &Error{
			Tool:    h.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    "VALIDATION_ERROR",
			Details: err,
		}
	}

	result, err := h.fn(ctx, input)
	if err != nil {
		if toolErr, ok := err.(*Error); ok {
			return nil, toolErr
		}
		return nil, &Error{Tool: h.name, Message: err.Error(), Code: "EXECUTION_ERROR"}
	}
	return result, nil
}

// Describe returns a short preview of what this invocation would do.
func (h *FunctionHandler) Describe(input map[string]any) string {
	if h.describe != nil {
		return h.describe(input)
	}
	return fmt.Sprintf("Running %s", h.name)
}
