package search

import (
	"github.com/hupe1980/agenttree/tool"
)

// ActionObservation is the structured result of one executed action. It is
// everything the tree needs to reconstruct state and history without
// replaying the action: the message shown to the model, a short summary,
// retained reasoning, status flags and the file contents the action changed.
type ActionObservation struct {
	// Message is the human-readable result of the action.
	Message string `json:"message"`
	// Summary is a short form used in trajectory listings.
	Summary string `json:"summary,omitempty"`
	// Thinking is the retained reasoning text that produced the action.
	Thinking string `json:"thinking,omitempty"`
	// IsError marks a recoverable execution failure.
	IsError bool `json:"is_error,omitempty"`
	// IsTerminal marks the trajectory as finished.
	IsTerminal bool `json:"is_terminal,omitempty"`
	// ExpectCorrection flags that a follow-up action is likely required.
	ExpectCorrection bool `json:"expect_correction,omitempty"`
	// FileContentUpdates maps file path to full updated content.
	FileContentUpdates map[string]string `json:"file_content_updates,omitempty"`
}

// newObservationFromOutput derives an observation from a tool output,
// attaching the model reasoning that led to the action.
func newObservationFromOutput(out *tool.Output, thinking string) *ActionObservation {
	return &ActionObservation{
		Message:            out.Message,
		Summary:            out.Summary,
		Thinking:           thinking,
		IsError:            out.IsError,
		IsTerminal:         out.IsTerminal,
		ExpectCorrection:   out.ExpectCorrection,
		FileContentUpdates: out.FileUpdates,
	}
}

// newErrorObservation captures a failed action. The branch stays in the tree
// so the search can learn to avoid it.
func newErrorObservation(err error, thinking string) *ActionObservation {
	return &ActionObservation{
		Message:  err.Error(),
		Summary:  "action failed",
		Thinking: thinking,
		IsError:  true,
	}
}

// Clone deep-copies the observation.
func (o *ActionObservation) Clone() *ActionObservation {
	if o == nil {
		return nil
	}
	clone := *o
	if o.FileContentUpdates != nil {
		clone.FileContentUpdates = make(map[string]string, len(o.FileContentUpdates))
		for k, v := range o.FileContentUpdates {
			clone.FileContentUpdates[k] = v
		}
	}
	return &clone
}
