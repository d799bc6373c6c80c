// Package reward converts action observations into scalar rewards on the
// engine's -100..100 scale. Two estimators ship by default: a flag-driven
// Heuristic for cheap local scoring and an LLM Judge that asks a model to
// grade the trajectory and returns the numeric verdict plus its rationale.
package reward

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/model"
)

// MinValue and MaxValue bound the reward scale.
const (
	MinValue = -100.0
	MaxValue = 100.0
)

// Reward is the scored outcome of one observation.
type Reward struct {
	Value       float64 `json:"value"`
	Explanation string  `json:"explanation,omitempty"`
}

// Input carries everything an estimator may need: the task, the trajectory
// transcript so far and the flags of the newly produced observation.
type Input struct {
	ProblemStatement string
	Transcript       []core.Content
	Message          string
	Summary          string
	IsError          bool
	IsTerminal       bool
	ExpectCorrection bool
}

// Estimator scores one observation. Implementations must be safe for
// concurrent use; candidates within an expansion step are scored in order but
// judges may be shared between trees.
type Estimator interface {
	Estimate(ctx context.Context, in Input) (*Reward, error)
}

// Clamp bounds a value to the reward scale.
func Clamp(v float64) float64 {
	if v < MinValue {
		return MinValue
	}
	if v > MaxValue {
		return MaxValue
	}
	return v
}

// Heuristic is a deterministic, observation-flag driven estimator.
type Heuristic struct {
	// ErrorValue is assigned to error observations.
	ErrorValue float64
	// TerminalValue is assigned to successful terminal observations.
	TerminalValue float64
	// CorrectionValue is assigned when the tool expects a follow-up.
	CorrectionValue float64
	// DefaultValue covers ordinary successful intermediate steps.
	DefaultValue float64
}

// NewHeuristic returns the default heuristic scoring.
func NewHeuristic() *Heuristic {
	return &Heuristic{ErrorValue: MinValue, TerminalValue: 75, CorrectionValue: 25, DefaultValue: 50}
}

// Estimate implements Estimator.
func (h *Heuristic) Estimate(_ context.Context, in Input) (*Reward, error) {
	switch {
	case in.IsError:
		return &Reward{Value: Clamp(h.ErrorValue), Explanation: "action failed"}, nil
	case in.IsTerminal:
		return &Reward{Value: Clamp(h.TerminalValue), Explanation: "trajectory finished"}, nil
	case in.ExpectCorrection:
		return &Reward{Value: Clamp(h.CorrectionValue), Explanation: "follow-up expected"}, nil
	default:
		return &Reward{Value: Clamp(h.DefaultValue)}, nil
	}
}

// Judge scores observations by asking a model to grade the trajectory.
type Judge struct {
	model        model.Model
	instructions string
}

const judgeInstructions = `You are grading one step of an autonomous coding agent working on the stated task.
Score how much the latest action moved the agent toward a correct, verified solution.
Reply with a single JSON object: {"value": <integer -100..100>, "explanation": "<one sentence>"}.`

// NewJudge builds an LLM-judge estimator over the given model.
func NewJudge(m model.Model, optFns ...func(o *JudgeOptions)) *Judge {
	opts := JudgeOptions{Instructions: judgeInstructions}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Judge{model: m, instructions: opts.Instructions}
}

// JudgeOptions configure the judge prompt.
type JudgeOptions struct {
	Instructions string
}

// Estimate implements Estimator. The transcript is replayed to the judge
// followed by the observation under grading; the numeric verdict is parsed
// from the reply and clamped to the reward scale.
func (j *Judge) Estimate(ctx context.Context, in Input) (*Reward, error) {
	contents := make([]core.Content, 0, len(in.Transcript)+2)
	contents = append(contents, core.NewUserContent(fmt.Sprintf("Task:\n%s", in.ProblemStatement)))
	contents = append(contents, in.Transcript...)

	status := "ok"
	switch {
	case in.IsError:
		status = "error"
	case in.IsTerminal:
		status = "terminal"
	case in.ExpectCorrection:
		status = "expects correction"
	}
	contents = append(contents, core.NewUserContent(fmt.Sprintf(
		"Latest observation (%s):\n%s\n\nGrade this step now.", status, in.Message)))

	resp, err := j.model.Generate(ctx, model.Request{
		Instructions: j.instructions,
		Contents:     contents,
	})
	if err != nil {
		return nil, fmt.Errorf("judge call failed: %w", err)
	}

	r, err := parseVerdict(resp.Content.Text())
	if err != nil {
		return nil, err
	}
	return r, nil
}

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// parseVerdict extracts {"value":..,"explanation":..} from the judge reply,
// tolerating surrounding prose and code fences. Falls back to the first
// number in the text.
func parseVerdict(text string) (*Reward, error) {
	trimmed := strings.TrimSpace(text)
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			var verdict Reward
			if err := json.Unmarshal([]byte(trimmed[start:end+1]), &verdict); err == nil {
				verdict.Value = Clamp(verdict.Value)
				return &verdict, nil
			}
		}
	}
	if match := numberPattern.FindString(trimmed); match != "" {
		if v, err := strconv.ParseFloat(match, 64); err == nil {
			return &Reward{Value: Clamp(v), Explanation: trimmed}, nil
		}
	}
	return nil, fmt.Errorf("judge verdict unparseable: %q", trimmed)
}
