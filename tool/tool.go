// Package tool implements the tool subsystem: the Tool capability interface,
// a function adapter with schema-validated arguments, the process-wide
// registry with collision-safe public naming, and the built-in file tools
// backed by the session file store.
package tool

import (
	"fmt"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/util"
)

// Tool is the capability contract every registered tool must structurally
// provide. The shape is validated at registration time, not at call time.
//
// Implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define a JSON schema for parameters
//   - Return errors for expected, recoverable failures instead of panicking
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool
	// (snake_case recommended).
	Name() string

	// Description returns a human-readable description provided to the model
	// so it understands when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with parsed arguments and the invocation's
	// ToolContext. Expected failures are returned as errors, never thrown as
	// panics.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
