// Package core holds the content model shared between the search engine, the
// model adapters and the tool layer: role-tagged message contents composed of
// a closed set of part types (text, retained reasoning, function calls and
// their responses).
package core

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string // Plain UTF-8 text
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// ThinkingPart carries retained model reasoning that should be preserved in
// trajectory history but never replayed as user-visible output.
type ThinkingPart struct {
	Thinking string
}

// isPart implements the Part interface for ThinkingPart.
func (ThinkingPart) isPart() {}

// FunctionCall describes a tool/function invocation request.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`        // Optional stable id (can be supplied later)
	Name      string `json:"name"`                // Tool / function name
	Arguments string `json:"arguments,omitempty"` // Serialized argument payload (JSON)
}

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall
}

// isPart implements the Part interface for FunctionCallPart.
func (FunctionCallPart) isPart() {}

// FunctionResponse describes the outcome of a function call.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"` // Matches originating FunctionCall ID
	Name     string `json:"name"`         // Function name
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"` // Populated on failure
}

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse
}

// isPart implements the Part interface for FunctionResponsePart.
func (FunctionResponsePart) isPart() {}

// Content holds role + ordered parts.
type Content struct {
	Role  string `json:"role,omitempty"` // Conversation role (user, assistant, tool, system)
	Parts []Part `json:"parts"`          // Ordered heterogeneous parts
}

// NewUserContent builds a single-part user message.
func NewUserContent(text string) Content {
	return Content{Role: "user", Parts: []Part{TextPart{Text: text}}}
}

// NewSystemContent builds a single-part system message.
func NewSystemContent(text string) Content {
	return Content{Role: "system", Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates all TextPart segments of the content.
func (c Content) Text() string {
	var out string
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// FunctionCalls returns all function call parts in order.
func (c Content) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range c.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// Thinking concatenates all retained reasoning segments of the content.
func (c Content) Thinking() string {
	var out string
	for _, p := range c.Parts {
		if tp, ok := p.(ThinkingPart); ok {
			out += tp.Thinking
		}
	}
	return out
}
