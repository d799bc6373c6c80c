// Package model defines the normalized interface between the search engine
// and LLM providers. The engine issues a policy call per candidate expansion:
// system instructions plus the trajectory history, constrained to the
// configured tool set, returning either a structured action proposal or a
// terminal natural-language answer. Streaming providers are consumed only as
// their finalized structured result.
package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agenttree/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized policy-call input produced by the expansion
// executor.
type Request struct {
	Instructions string           `json:"instructions"` // System instructions for the model
	Contents     []core.Content   `json:"contents"`     // Trajectory history as provider messages
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Temperature  *float64         `json:"temperature,omitempty"` // Per-call override (candidate diversity)
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the finalized completion returned by a provider.
type Response struct {
	ID           string       `json:"id"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required to drive candidate generation.
type Model interface {
	// Generate performs one policy call and returns the finalized response.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// Error wraps provider failures (network, auth, rate limits) so callers can
// distinguish them from tool execution failures.
type Error struct {
	Provider string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model error [%s]: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("model error [%s]: %s", e.Provider, e.Message)
}

// Unwrap exposes the underlying provider error.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a provider error.
func NewError(provider, message string, err error) *Error {
	return &Error{Provider: provider, Message: message, Err: err}
}

// MockModel is a lightweight scripted Model useful for tests & examples.
// Responses are served FIFO; when the script is exhausted, a deterministic
// text echo of the last user message is returned.
type MockModel struct {
	mu     sync.Mutex
	info   Info
	script []scriptEntry
	calls  int
}

type scriptEntry struct {
	resp *Response
	err  error
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info: Info{Name: name, Provider: "mock", SupportsTools: true},
	}
}

// EnqueueResponse appends a prepared response to the script.
func (m *MockModel) EnqueueResponse(resp Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scriptEntry{resp: &resp})
}

// EnqueueToolCall appends a response proposing a single tool invocation.
func (m *MockModel) EnqueueToolCall(name, arguments string) {
	m.EnqueueResponse(Response{
		Content: core.Content{
			Role: "assistant",
			Parts: []core.Part{core.FunctionCallPart{FunctionCall: core.FunctionCall{
				Name:      name,
				Arguments: arguments,
			}}},
		},
		FinishReason: "tool_calls",
	})
}

// EnqueueError appends a failing policy call to the script.
func (m *MockModel) EnqueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scriptEntry{err: err})
}

// Calls reports how many Generate invocations the mock has served.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.script) > 0 {
		entry := m.script[0]
		m.script = m.script[1:]
		if entry.err != nil {
			return nil, entry.err
		}
		return entry.resp, nil
	}
	var lastText string
	if len(req.Contents) > 0 {
		lastText = req.Contents[len(req.Contents)-1].Text()
	}
	return &Response{
		Content:      core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: fmt.Sprintf("Mock response to: %s", lastText)}}},
		FinishReason: "stop",
	}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
