package reward

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Estimator = (*Heuristic)(nil)
	_ Estimator = (*Judge)(nil)
)

// -------------------- Heuristic Tests --------------------

func TestHeuristicEstimate(t *testing.T) {
	h := NewHeuristic()

	tests := []struct {
		name string
		in   Input
		want float64
	}{
		{"error", Input{IsError: true}, MinValue},
		{"terminal", Input{IsTerminal: true}, 75},
		{"expects correction", Input{ExpectCorrection: true}, 25},
		{"default", Input{}, 50},
		// Error wins over other flags.
		{"error and terminal", Input{IsError: true, IsTerminal: true}, MinValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := h.Estimate(context.Background(), tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Value)
		})
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, MaxValue, Clamp(250))
	assert.Equal(t, MinValue, Clamp(-250))
	assert.Equal(t, 42.0, Clamp(42))
}

// -------------------- Verdict Parsing Tests --------------------

func TestParseVerdictJSON(t *testing.T) {
	r, err := parseVerdict(`{"value": 80, "explanation": "tests now pass"}`)
	require.NoError(t, err)
	assert.Equal(t, 80.0, r.Value)
	assert.Equal(t, "tests now pass", r.Explanation)
}

func TestParseVerdictTolerantOfProse(t *testing.T) {
	reply := "Here is my assessment:\n```json\n{\"value\": -30, \"explanation\": \"the edit broke the build\"}\n```"
	r, err := parseVerdict(reply)
	require.NoError(t, err)
	assert.Equal(t, -30.0, r.Value)
}

func TestParseVerdictClampsOutOfRange(t *testing.T) {
	r, err := parseVerdict(`{"value": 500}`)
	require.NoError(t, err)
	assert.Equal(t, MaxValue, r.Value)
}

func TestParseVerdictNumberFallback(t *testing.T) {
	r, err := parseVerdict("I would score this step 65 out of 100.")
	require.NoError(t, err)
	assert.Equal(t, 65.0, r.Value)
}

func TestParseVerdictUnparseable(t *testing.T) {
	_, err := parseVerdict("no verdict here")
	assert.Error(t, err)
}

// -------------------- Judge Tests --------------------

func TestJudgeEstimate(t *testing.T) {
	m := model.NewMockModel("judge")
	m.EnqueueResponse(model.Response{
		Content: core.Content{Role: "assistant", Parts: []core.Part{
			core.TextPart{Text: `{"value": 60, "explanation": "progress"}`},
		}},
	})

	j := NewJudge(m)
	r, err := j.Estimate(context.Background(), Input{
		ProblemStatement: "fix the failing test",
		Message:          "edited foo_test.go",
	})
	require.NoError(t, err)
	assert.Equal(t, 60.0, r.Value)
	assert.Equal(t, 1, m.Calls())
}

func TestJudgeEstimatePropagatesModelError(t *testing.T) {
	m := model.NewMockModel("judge")
	m.EnqueueError(errors.New("rate limited"))

	j := NewJudge(m)
	_, err := j.Estimate(context.Background(), Input{ProblemStatement: "task"})
	assert.Error(t, err)
}
