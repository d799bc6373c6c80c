package search

import "fmt"

// ConfigurationError reports invalid run parameters. It is fatal at
// construction and surfaced to the caller before any search starts.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// newConfigError builds a ConfigurationError for a named parameter.
func newConfigError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}

// PersistenceError reports a checkpoint write failure after the bounded retry
// policy was exhausted. The in-memory run continues; resumability is degraded.
type PersistenceError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error: %s after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

// Unwrap exposes the underlying filesystem error.
func (e *PersistenceError) Unwrap() error { return e.Err }

// TerminationReason records why a run stopped. SearchExhausted is a normal
// stop, not a failure: the run returns whatever finished trajectories exist.
type TerminationReason string

const (
	// TerminationNone means the run is still in progress.
	TerminationNone TerminationReason = ""
	// TerminationMaxIterations fired the iteration budget.
	TerminationMaxIterations TerminationReason = "max_iterations"
	// TerminationMaxFinishedNodes fired the finished-node cap.
	TerminationMaxFinishedNodes TerminationReason = "max_finished_nodes"
	// TerminationRewardThreshold fired the reward goal with enough finished nodes.
	TerminationRewardThreshold TerminationReason = "reward_threshold"
	// TerminationSearchExhausted fired after max_search_try consecutive
	// failed expansions.
	TerminationSearchExhausted TerminationReason = "search_exhausted"
	// TerminationNoExpandableNodes means every node is finished, pruned or
	// at max depth.
	TerminationNoExpandableNodes TerminationReason = "no_expandable_nodes"
	// TerminationCancelled means the owning caller cancelled the run.
	TerminationCancelled TerminationReason = "cancelled"
)
