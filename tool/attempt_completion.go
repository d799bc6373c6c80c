package tool

import (
	"context"
)

// AttemptCompletionName is the canonical name of the built-in terminal tool.
const AttemptCompletionName = "attempt_completion"

// attemptCompletionArgs is the argument container for the completion tool.
type attemptCompletionArgs struct {
	Result string `json:"result" description:"The final result of the task, stated completely without questions or offers of further assistance"`
}

// NewAttemptCompletion returns the built-in tool a policy calls to declare a
// trajectory finished. Its output is terminal, so the resulting node becomes
// a finished node and is excluded from future selection.
func NewAttemptCompletion() *FunctionTool {
	return NewFunctionToolFromStruct(
		AttemptCompletionName,
		"Present the final result of the task to the user once the work is verified complete",
		attemptCompletionArgs{},
		func(_ context.Context, _ *Context, args map[string]any) (*Output, error) {
			result, _ := args["result"].(string)
			return &Output{
				Message:    result,
				Summary:    "attempted completion",
				IsTerminal: true,
			}, nil
		},
	)
}
