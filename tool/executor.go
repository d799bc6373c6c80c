package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agenttree/internal/util"
	"github.com/hupe1980/agenttree/logging"
	"github.com/hupe1980/agenttree/model"
)

// Executor holds the registered tool set and dispatches actions to it.
// It is the single execution capability the search engine depends on:
// Invoke(action) -> (*Output, error).
//
// Registration happens up front; Invoke is safe for concurrent use since
// candidates within one expansion step execute in parallel goroutines.
type Executor struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger logging.Logger
}

// NewExecutor builds an executor over the given tools. Duplicate names panic
// at construction time since the tool set is static configuration.
func NewExecutor(logger logging.Logger, tools ...Tool) *Executor {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	e := &Executor{tools: make(map[string]Tool), logger: logger}
	for _, t := range tools {
		if err := e.Register(t); err != nil {
			panic(err)
		}
	}
	return e
}

// Register adds a tool, rejecting duplicate names.
func (e *Executor) Register(t Tool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	e.tools[t.Name()] = t
	return nil
}

// Get returns the tool registered under name.
func (e *Executor) Get(name string) (Tool, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tools[name]
	return t, ok
}

// Names returns the sorted registered tool names.
func (e *Executor) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions exposes the registered tools as model tool definitions,
// restricted to the given names (all tools when names is empty).
func (e *Executor) Definitions(names ...string) []model.ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	selected := names
	if len(selected) == 0 {
		for name := range e.tools {
			selected = append(selected, name)
		}
		sort.Strings(selected)
	}
	defs := make([]model.ToolDefinition, 0, len(selected))
	for _, name := range selected {
		t, ok := e.tools[name]
		if !ok {
			continue
		}
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Invoke executes one action against the registered tool set.
//
// Error normalization:
//
//	UNKNOWN_TOOL      -> the action names an unregistered tool
//	INVALID_ARGUMENTS -> the serialized arguments are not valid JSON
//	VALIDATION_ERROR  -> arguments fail the tool's parameter schema
//	EXECUTION_ERROR   -> the tool returned a non-ToolError failure
//
// A *ToolError returned by the tool itself passes through unchanged.
func (e *Executor) Invoke(ctx context.Context, toolCtx *Context, action Action) (*Output, error) {
	start := time.Now()

	t, ok := e.Get(action.Name)
	if !ok {
		return nil, NewToolError(action.Name, "tool is not registered", "UNKNOWN_TOOL")
	}

	args, err := action.ArgsMap()
	if err != nil {
		return nil, &ToolError{Tool: action.Name, Message: "arguments are not valid JSON", Code: "INVALID_ARGUMENTS", Details: err.Error()}
	}

	if schema := t.Parameters(); schema != nil {
		if err := util.ValidateParameters(args, schema); err != nil {
			return nil, &ToolError{Tool: action.Name, Message: err.Error(), Code: "VALIDATION_ERROR"}
		}
	}

	if toolCtx == nil {
		toolCtx = NewContext("", e.logger)
	}

	out, err := t.Call(ctx, toolCtx, args)
	dur := time.Since(start)
	if tl, ok := e.logger.(*logging.TreeLogger); ok {
		tl.LogToolCall(action.Name, dur, err == nil, err)
	} else if err != nil {
		e.logger.Error("Tool execution failed", "tool", action.Name, "duration", dur, "error", err)
	} else {
		e.logger.Debug("Tool execution completed", "tool", action.Name, "duration", dur)
	}
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok {
			return nil, toolErr
		}
		return nil, &ToolError{Tool: action.Name, Message: err.Error(), Code: "EXECUTION_ERROR"}
	}
	if out == nil {
		out = &Output{}
	}
	return out, nil
}
