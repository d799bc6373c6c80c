package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/hupe1980/agenttree/logging"
	"github.com/hupe1980/agenttree/model"
	"github.com/hupe1980/agenttree/reward"
	"github.com/hupe1980/agenttree/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noteTool records an intermediate step without finishing the trajectory.
func noteTool() *tool.FunctionTool {
	return tool.NewFunctionTool("note", "Record a note",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		func(_ context.Context, _ *tool.Context, args map[string]any) (*tool.Output, error) {
			text, _ := args["text"].(string)
			return &tool.Output{Message: text, Summary: "noted"}, nil
		},
	)
}

// boomTool always fails execution.
func boomTool() *tool.FunctionTool {
	return tool.NewFunctionTool("boom", "Always fails", nil,
		func(_ context.Context, _ *tool.Context, _ map[string]any) (*tool.Output, error) {
			return nil, errors.New("kaboom")
		},
	)
}

func newTestConfig(m model.Model, limits Limits) Config {
	return Config{
		Limits:   limits,
		Problem:  Problem{Statement: "fix the failing test"},
		Selector: DefaultSelector(),
		Executor: tool.NewExecutor(nil, tool.NewAttemptCompletion(), noteTool(), boomTool()),
		Model:    m,
	}
}

// -------------------- Construction Tests --------------------

func TestNewValidatesConfig(t *testing.T) {
	m := model.NewMockModel("test")

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero max_expansions", func(c *Config) { c.Limits.MaxExpansions = 0 }, "max_expansions"},
		{"zero max_depth", func(c *Config) { c.Limits.MaxDepth = 0 }, "max_depth"},
		{"zero max_iterations", func(c *Config) { c.Limits.MaxIterations = 0 }, "max_iterations"},
		{"empty statement", func(c *Config) { c.Problem.Statement = "" }, "problem_statement"},
		{"nil executor", func(c *Config) { c.Executor = nil }, "tool_executor"},
		{"nil model", func(c *Config) { c.Model = nil }, "llm_client"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(m, DefaultLimits())
			tt.mutate(&cfg)
			_, err := New(cfg)
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestNewCreatesRoot(t *testing.T) {
	tree, err := New(newTestConfig(model.NewMockModel("test"), DefaultLimits()))
	require.NoError(t, err)

	assert.Equal(t, 1, tree.Len())
	assert.Equal(t, 0, tree.RootIndex())
	assert.True(t, tree.Root().IsRoot())
	assert.Equal(t, 0, tree.Root().Depth())
	assert.True(t, tree.Root().Action().IsZero())
	assert.NotEmpty(t, tree.RunID())
}

// -------------------- Run Tests --------------------

func TestRunFinishesOnRewardThreshold(t *testing.T) {
	m := model.NewMockModel("test")
	m.EnqueueToolCall(tool.AttemptCompletionName, `{"result":"done"}`)

	limits := Limits{
		MaxExpansions:    1,
		MaxDepth:         5,
		MaxIterations:    10,
		RewardThreshold:  floatPtr(70),
		MinFinishedNodes: 1,
		MaxSearchTry:     3,
	}
	tree, err := New(newTestConfig(m, limits))
	require.NoError(t, err)

	best := tree.RunSearch(context.Background())

	assert.Equal(t, TerminationRewardThreshold, tree.TerminationReason())
	assert.Equal(t, 1, tree.Iterations())
	assert.Equal(t, 2, tree.Len())

	require.Len(t, best, 1)
	assert.Equal(t, tool.AttemptCompletionName, best[0].Action.Name)
	assert.Equal(t, "done", best[0].Observation.Message)

	child, ok := tree.Node(1)
	require.True(t, ok)
	assert.True(t, child.IsFinished())
	assert.Equal(t, 75.0, child.Reward().Value)
	assert.Equal(t, 1, tree.Root().Visits())
}

func TestRunExhaustsOnConsecutiveFailures(t *testing.T) {
	m := model.NewMockModel("test")
	m.EnqueueToolCall("boom", `{}`)
	m.EnqueueToolCall("boom", `{}`)

	limits := Limits{MaxExpansions: 1, MaxDepth: 5, MaxIterations: 10, MaxSearchTry: 2}
	tree, err := New(newTestConfig(m, limits))
	require.NoError(t, err)

	best := tree.RunSearch(context.Background())

	assert.Nil(t, best)
	assert.Equal(t, TerminationSearchExhausted, tree.TerminationReason())
	assert.Equal(t, 2, tree.Iterations())
	assert.Equal(t, 3, tree.Len())
	assert.Empty(t, tree.FinishedNodes())

	// Both failures are retained as error branches under the root.
	for _, idx := range tree.Root().Children() {
		n, ok := tree.Node(idx)
		require.True(t, ok)
		assert.True(t, n.IsErrored())
		assert.Equal(t, reward.MinValue, n.Reward().Value)
	}

	second, ok := tree.Node(2)
	require.True(t, ok)
	assert.True(t, second.IsDuplicate())
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	// The mock's fallback text reply becomes a synthesized completion, so each
	// iteration finishes a fresh trajectory under the root.
	m := model.NewMockModel("test")

	limits := Limits{MaxExpansions: 1, MaxDepth: 3, MaxIterations: 2}
	tree, err := New(newTestConfig(m, limits))
	require.NoError(t, err)

	tree.RunSearch(context.Background())

	assert.Equal(t, TerminationMaxIterations, tree.TerminationReason())
	assert.Equal(t, 2, tree.Iterations())
}

func TestRunStopsAtMaxFinishedNodes(t *testing.T) {
	m := model.NewMockModel("test")

	limits := Limits{MaxExpansions: 1, MaxDepth: 3, MaxIterations: 10, MaxFinishedNodes: 1}
	tree, err := New(newTestConfig(m, limits))
	require.NoError(t, err)

	tree.RunSearch(context.Background())

	assert.Equal(t, TerminationMaxFinishedNodes, tree.TerminationReason())
	assert.Len(t, tree.FinishedNodes(), 1)
}

func TestRunHonorsCancellation(t *testing.T) {
	tree, err := New(newTestConfig(model.NewMockModel("test"), DefaultLimits()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	best := tree.RunSearch(ctx)
	assert.Nil(t, best)
	assert.Equal(t, TerminationCancelled, tree.TerminationReason())
	assert.Equal(t, 0, tree.Iterations())
}

func TestPolicyFailureCountsTowardExhaustion(t *testing.T) {
	m := model.NewMockModel("test")
	m.EnqueueError(errors.New("rate limited"))

	limits := Limits{MaxExpansions: 1, MaxDepth: 5, MaxIterations: 10, MaxSearchTry: 1}
	tree, err := New(newTestConfig(m, limits))
	require.NoError(t, err)

	tree.RunSearch(context.Background())

	assert.Equal(t, TerminationSearchExhausted, tree.TerminationReason())
	assert.Equal(t, 1, tree.Len())
}

func TestForbiddenActionExhaustsNode(t *testing.T) {
	m := model.NewMockModel("test")
	m.EnqueueToolCall("boom", `{}`)

	cfg := newTestConfig(m, Limits{MaxExpansions: 1, MaxDepth: 5, MaxIterations: 10})
	cfg.Selector.CheckForBadChildActions = []BadActionPredicate{ForbidTools("boom")}
	tree, err := New(cfg)
	require.NoError(t, err)

	tree.RunSearch(context.Background())

	assert.Equal(t, 1, tree.Len())
	assert.True(t, tree.Root().exhausted)
	assert.Equal(t, TerminationNoExpandableNodes, tree.TerminationReason())
}

func TestRunEmitsDomainLogEvents(t *testing.T) {
	m := model.NewMockModel("test")
	m.EnqueueToolCall(tool.AttemptCompletionName, `{"result":"done"}`)

	var buf bytes.Buffer
	cfg := newTestConfig(m, Limits{MaxExpansions: 1, MaxDepth: 5, MaxIterations: 1})
	cfg.Logger = logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.LogLevelDebug,
		Format: "json",
		Output: &buf,
	})
	tree, err := New(cfg)
	require.NoError(t, err)

	tree.RunSearch(context.Background())

	out := buf.String()
	assert.Contains(t, out, "LLM call completed")
	assert.Contains(t, out, "Expansion completed")
}

// -------------------- Arena Invariant Tests --------------------

func TestArenaInvariantsAfterRun(t *testing.T) {
	m := model.NewMockModel("test")
	for i := 0; i < 4; i++ {
		m.EnqueueToolCall("note", fmt.Sprintf(`{"text":"step %d"}`, i))
	}

	limits := Limits{MaxExpansions: 1, MaxDepth: 3, MaxIterations: 4}
	tree, err := New(newTestConfig(m, limits))
	require.NoError(t, err)

	tree.RunSearch(context.Background())
	require.Equal(t, 5, tree.Len())

	for i := 0; i < tree.Len(); i++ {
		n, ok := tree.Node(i)
		require.True(t, ok)
		assert.Equal(t, i, n.Index())

		if n.IsRoot() {
			assert.Equal(t, 0, n.Depth())
			continue
		}
		parent, ok := tree.Node(n.ParentIndex())
		require.True(t, ok)
		assert.Equal(t, parent.Depth()+1, n.Depth())
		assert.Contains(t, parent.Children(), n.Index())
	}

	// Every expansion backpropagates through the root exactly once.
	assert.Equal(t, 4, tree.Root().Visits())
}

func TestBackpropagationAccumulates(t *testing.T) {
	tree, err := New(newTestConfig(model.NewMockModel("test"), DefaultLimits()))
	require.NoError(t, err)

	a := tree.appendChild(tree.Root(), tool.NewAction("note", []byte(`{"text":"a"}`)), &ActionObservation{Message: "a"})
	b := tree.appendChild(a, tool.NewAction("note", []byte(`{"text":"b"}`)), &ActionObservation{Message: "b"})

	tree.backpropagate(a, 40)
	tree.backpropagate(b, 60)

	assert.Equal(t, 2, tree.Root().Visits())
	assert.Equal(t, 100.0, tree.Root().RewardSum())
	assert.Equal(t, 60.0, tree.Root().MaxReward())

	assert.Equal(t, 2, a.Visits())
	assert.Equal(t, 60.0, a.MaxReward())
	assert.Equal(t, 1, b.Visits())
}

func TestRootScoreInputUsesOwnVisits(t *testing.T) {
	tree, err := New(newTestConfig(model.NewMockModel("test"), DefaultLimits()))
	require.NoError(t, err)

	child := tree.appendChild(tree.Root(), tool.NewAction("note", []byte(`{"text":"a"}`)), &ActionObservation{Message: "a"})
	tree.backpropagate(child, 50)

	// The root has no parent, so its own visit count feeds the exploration
	// ratio and the score stays finite.
	in := tree.scoreInput(tree.Root())
	assert.Equal(t, tree.Root().Visits(), in.ParentVisits)
	assert.False(t, math.IsInf(tree.selector.Score(in), 0))
}

func TestAppendChildDetectsSiblingDuplicates(t *testing.T) {
	tree, err := New(newTestConfig(model.NewMockModel("test"), DefaultLimits()))
	require.NoError(t, err)

	action := tool.NewAction("note", []byte(`{"text":"same"}`))
	first := tree.appendChild(tree.Root(), action, nil)
	second := tree.appendChild(tree.Root(), tool.NewAction("note", []byte(`{ "text": "same" }`)), nil)
	third := tree.appendChild(tree.Root(), tool.NewAction("note", []byte(`{"text":"other"}`)), nil)

	assert.False(t, first.IsDuplicate())
	assert.True(t, second.IsDuplicate())
	assert.False(t, third.IsDuplicate())
}

// -------------------- Best Trajectory Tests --------------------

func finishedChild(tree *SearchTree, parent *ActionNode, name string, value float64) *ActionNode {
	n := tree.appendChild(parent, tool.NewAction(name, nil), &ActionObservation{Message: name, IsTerminal: true})
	n.reward = &reward.Reward{Value: value}
	tree.backpropagate(n, value)
	return n
}

func TestBestFinishedNodeRanksByValue(t *testing.T) {
	tree, err := New(newTestConfig(model.NewMockModel("test"), DefaultLimits()))
	require.NoError(t, err)

	finishedChild(tree, tree.Root(), "low", 40)
	high := finishedChild(tree, tree.Root(), "high", 80)

	best := tree.BestFinishedNode()
	require.NotNil(t, best)
	assert.Equal(t, high.Index(), best.Index())
}

func TestBestFinishedNodeBreaksTiesByDepthThenIndex(t *testing.T) {
	tree, err := New(newTestConfig(model.NewMockModel("test"), DefaultLimits()))
	require.NoError(t, err)

	mid := tree.appendChild(tree.Root(), tool.NewAction("note", nil), &ActionObservation{Message: "note"})
	tree.backpropagate(mid, 50)
	deep := finishedChild(tree, mid, "deep", 75)
	shallowLater := finishedChild(tree, tree.Root(), "shallow", 75)

	best := tree.BestFinishedNode()
	require.NotNil(t, best)
	assert.Equal(t, shallowLater.Index(), best.Index())
	assert.Less(t, best.Depth(), deep.Depth())

	// Same value and depth: the earlier discovery wins.
	later := finishedChild(tree, tree.Root(), "shallow_again", 75)
	best = tree.BestFinishedNode()
	assert.Equal(t, shallowLater.Index(), best.Index())
	assert.Less(t, best.Index(), later.Index())
}

func TestTrajectoryOmitsRoot(t *testing.T) {
	tree, err := New(newTestConfig(model.NewMockModel("test"), DefaultLimits()))
	require.NoError(t, err)

	a := tree.appendChild(tree.Root(), tool.NewAction("note", []byte(`{"text":"a"}`)), &ActionObservation{Message: "a"})
	b := tree.appendChild(a, tool.NewAction("note", []byte(`{"text":"b"}`)), &ActionObservation{Message: "b"})

	steps := tree.Trajectory(b.Index())
	require.Len(t, steps, 2)
	assert.Equal(t, a.Index(), steps[0].Index)
	assert.Equal(t, b.Index(), steps[1].Index)

	assert.Empty(t, tree.Trajectory(tree.RootIndex()))
	assert.Nil(t, tree.Trajectory(99))
}

func TestAccumulatedFileUpdatesMergesAlongPath(t *testing.T) {
	tree, err := New(newTestConfig(model.NewMockModel("test"), DefaultLimits()))
	require.NoError(t, err)

	a := tree.appendChild(tree.Root(), tool.NewAction("edit", []byte(`{"n":1}`)), &ActionObservation{
		FileContentUpdates: map[string]string{"main.go": "v1", "util.go": "u1"},
	})
	b := tree.appendChild(a, tool.NewAction("edit", []byte(`{"n":2}`)), &ActionObservation{
		FileContentUpdates: map[string]string{"main.go": "v2"},
	})
	sibling := tree.appendChild(tree.Root(), tool.NewAction("edit", []byte(`{"n":3}`)), &ActionObservation{
		FileContentUpdates: map[string]string{"other.go": "x"},
	})

	updates := tree.AccumulatedFileUpdates(b.Index())
	assert.Equal(t, map[string]string{"main.go": "v2", "util.go": "u1"}, updates)

	// Sibling branches never leak into each other.
	assert.NotContains(t, updates, "other.go")
	assert.Equal(t, map[string]string{"other.go": "x"}, tree.AccumulatedFileUpdates(sibling.Index()))
}
