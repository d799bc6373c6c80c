// Package tool implements the function / tool calling subsystem that lets the
// search engine invoke structured capabilities (file edits, terminal commands,
// completion attempts) with schema validated arguments, consistent error
// handling and rich metadata for LLM guidance. The engine depends only on the
// Executor's Invoke capability; concrete tools are registered by the caller.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agenttree/internal/util"
	"github.com/hupe1980/agenttree/logging"
)

// Tool defines the interface for capabilities the search engine may execute.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be thread-safe; candidates within one expansion step run concurrently
type Tool interface {
	// Name returns the unique identifier for this tool.
	// Names should be descriptive and follow function naming conventions (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the LLM to help it understand when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	// This schema is used for parameter validation and LLM function calling.
	Parameters() map[string]any

	// Call executes the tool with already-validated structured arguments.
	// The Context carries the materialized working directory for the
	// trajectory being expanded.
	Call(ctx context.Context, toolCtx *Context, args map[string]any) (*Output, error)
}

// Context carries per-invocation state into a tool call.
type Context struct {
	// WorkDir is the materialized repository state for the trajectory.
	WorkDir string
	// Logger is never nil; defaults to NoOpLogger.
	Logger logging.Logger
}

// NewContext builds a tool context, substituting a NoOpLogger when nil.
func NewContext(workDir string, logger logging.Logger) *Context {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Context{WorkDir: workDir, Logger: logger}
}

// Output is the structured result of one executed action. The flags feed
// directly into the observation attached to the resulting trajectory node.
type Output struct {
	// Message is the human-readable result shown to the model on the next turn.
	Message string `json:"message"`
	// Summary is a short form of Message suitable for trajectory listings.
	Summary string `json:"summary,omitempty"`
	// IsError marks a recoverable execution failure.
	IsError bool `json:"is_error,omitempty"`
	// IsTerminal marks the trajectory as finished (solution complete or unrecoverable).
	IsTerminal bool `json:"is_terminal,omitempty"`
	// ExpectCorrection flags that a follow-up action is likely required.
	ExpectCorrection bool `json:"expect_correction,omitempty"`
	// FileUpdates maps file path to updated content so the tree can
	// reconstruct repository state without replaying every action.
	FileUpdates map[string]string `json:"file_content_updates,omitempty"`
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
