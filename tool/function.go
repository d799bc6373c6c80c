package tool

import (
	"context"

	"github.com/hupe1980/agenttree/internal/util"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a tool.
//
// Responsibilities:
//   - Holds a lightweight JSON-Schema-like parameter specification
//   - Invokes the wrapped function with the per-invocation Context
//   - Leaves validation to the Executor so behavior matches custom tools
//
// Concurrency:
//
//	A FunctionTool has no internal mutable state after construction and is
//	safe for concurrent use by multiple goroutines.
type FunctionTool struct {
	// Tool identifier (snake_case recommended)
	name string
	// Human-readable description shown to models
	description string
	// JSON schema describing accepted arguments
	parameters map[string]any
	// User supplied implementation
	fn func(ctx context.Context, toolCtx *Context, args map[string]any) (*Output, error)
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	echoTool := NewFunctionTool(
//	  "echo",
//	  "Echo the provided text back",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "text": map[string]any{"type": "string"},
//	    },
//	    "required": []string{"text"},
//	  },
//	  func(_ context.Context, _ *Context, args map[string]any) (*Output, error) {
//	    return &Output{Message: args["text"].(string)}, nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, toolCtx *Context, args map[string]any) (*Output, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using
// reflection. It is a convenience for simple argument containers and produces
// a schema equivalent to util.CreateSchema(structType).
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(ctx context.Context, toolCtx *Context, args map[string]any) (*Output, error),
) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

// Name returns the unique tool name used in function call declarations and routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the human-readable tool description.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema for the tool's arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call implements Tool by delegating to the wrapped function.
func (t *FunctionTool) Call(ctx context.Context, toolCtx *Context, args map[string]any) (*Output, error) {
	return t.fn(ctx, toolCtx, args)
}
