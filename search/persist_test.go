package search

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/model"
	"github.com/hupe1980/agenttree/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------- Checkpoint Write Tests --------------------

func TestSaveSerialisedGraphWritesNamedFile(t *testing.T) {
	tree, err := New(newTestConfig(model.NewMockModel("test"), DefaultLimits()))
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, tree.SaveSerialisedGraph(context.Background(), dir, "tag"))

	path := filepath.Join(dir, "mcts-tag.json")
	_, err = os.Stat(path)
	require.NoError(t, err)

	// No temp files survive the rename.
	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	minimal, err := LoadMinimalTree(path)
	require.NoError(t, err)
	require.Len(t, minimal.Nodes, 1)
	assert.Equal(t, tree.RunID(), minimal.RunParameters.RunID)
}

func TestSaveSerialisedGraphCreatesDirectory(t *testing.T) {
	tree, err := New(newTestConfig(model.NewMockModel("test"), DefaultLimits()))
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "nested", "runs")
	require.NoError(t, tree.SaveSerialisedGraph(context.Background(), dir, tree.RunID()))

	_, err = os.Stat(filepath.Join(dir, "mcts-"+tree.RunID()+".json"))
	assert.NoError(t, err)
}

func TestRunWritesCheckpointPerStep(t *testing.T) {
	m := model.NewMockModel("test")
	m.EnqueueResponse(model.Response{
		Content: core.Content{Role: "assistant", Parts: []core.Part{
			core.ThinkingPart{Thinking: "the change is complete, declare success"},
			core.FunctionCallPart{FunctionCall: core.FunctionCall{
				Name:      tool.AttemptCompletionName,
				Arguments: `{"result":"done"}`,
			}},
		}},
		FinishReason: "tool_calls",
	})

	dir := t.TempDir()
	cfg := newTestConfig(m, Limits{
		MaxExpansions:    1,
		MaxDepth:         5,
		MaxIterations:    10,
		RewardThreshold:  floatPtr(70),
		MinFinishedNodes: 1,
	})
	cfg.LogDirectory = dir
	tree, err := New(cfg)
	require.NoError(t, err)

	tree.RunSearch(context.Background())

	minimal, err := LoadMinimalTree(filepath.Join(dir, "mcts-"+tree.RunID()+".json"))
	require.NoError(t, err)

	// The last checkpoint covers the full arena including the new child.
	assert.Equal(t, tree.Minimal().Nodes, minimal.Nodes)

	child, ok := minimal.Node(1)
	require.True(t, ok)
	require.NotNil(t, child.Observation)
	assert.Equal(t, "the change is complete, declare success", child.Observation.Thinking)
}

func TestCheckpointSurvivesMalformedActionArguments(t *testing.T) {
	m := model.NewMockModel("test")
	m.EnqueueToolCall("note", `{not valid json`)

	dir := t.TempDir()
	cfg := newTestConfig(m, Limits{
		MaxExpansions: 1,
		MaxDepth:      5,
		MaxIterations: 10,
		MaxSearchTry:  1,
	})
	cfg.LogDirectory = dir
	tree, err := New(cfg)
	require.NoError(t, err)

	best := tree.RunSearch(context.Background())
	assert.Nil(t, best)
	assert.Equal(t, TerminationSearchExhausted, tree.TerminationReason())

	// The malformed proposal is retained as an error node and must not
	// poison subsequent checkpoint writes.
	minimal, err := LoadMinimalTree(filepath.Join(dir, "mcts-"+tree.RunID()+".json"))
	require.NoError(t, err)
	require.Len(t, minimal.Nodes, 2)

	child, ok := minimal.Node(1)
	require.True(t, ok)
	require.NotNil(t, child.Observation)
	assert.True(t, child.Observation.IsError)

	require.NotNil(t, child.Action)
	var raw string
	require.NoError(t, json.Unmarshal(child.Action.Arguments, &raw))
	assert.Equal(t, `{not valid json`, raw)
}

func TestRunSearchRecordsTerminationInCheckpoint(t *testing.T) {
	m := model.NewMockModel("test")
	m.EnqueueToolCall(tool.AttemptCompletionName, `{"result":"done"}`)

	dir := t.TempDir()
	cfg := newTestConfig(m, Limits{
		MaxExpansions:    1,
		MaxDepth:         5,
		MaxIterations:    10,
		RewardThreshold:  floatPtr(70),
		MinFinishedNodes: 1,
	})
	cfg.LogDirectory = dir
	tree, err := New(cfg)
	require.NoError(t, err)

	tree.RunSearch(context.Background())

	minimal, err := LoadMinimalTree(filepath.Join(dir, "mcts-"+tree.RunID()+".json"))
	require.NoError(t, err)

	// The final write happens after the stop reason is known.
	assert.Equal(t, TerminationRewardThreshold, minimal.RunParameters.Termination)
	assert.Equal(t, tree.Minimal(), minimal)
}

// -------------------- Round-Trip Tests --------------------

func buildSampleTree(t *testing.T) *SearchTree {
	t.Helper()
	tree, err := New(newTestConfig(model.NewMockModel("test"), DefaultLimits()))
	require.NoError(t, err)

	edit := tree.appendChild(tree.Root(),
		tool.NewAction("note", []byte(`{"text":"first"}`)),
		&ActionObservation{
			Message:            "noted",
			Summary:            "noted",
			Thinking:           "start with a note",
			FileContentUpdates: map[string]string{"main.go": "package main"},
		})
	tree.backpropagate(edit, 50)

	done := tree.appendChild(edit,
		tool.NewAction(tool.AttemptCompletionName, []byte(`{"result":"done"}`)),
		&ActionObservation{Message: "done", IsTerminal: true})
	tree.backpropagate(done, 75)

	dup := tree.appendChild(tree.Root(),
		tool.NewAction("note", []byte(`{"text":"first"}`)),
		&ActionObservation{Message: "noted again", IsError: true})
	tree.backpropagate(dup, -100)

	tree.iterations = 3
	tree.termination = TerminationRewardThreshold
	return tree
}

func TestMinimalRoundTripIdentity(t *testing.T) {
	tree := buildSampleTree(t)

	dir := t.TempDir()
	require.NoError(t, tree.SaveSerialisedGraph(context.Background(), dir, tree.RunID()))

	loaded, err := LoadMinimalTree(filepath.Join(dir, "mcts-"+tree.RunID()+".json"))
	require.NoError(t, err)

	rehydrated, err := FromMinimalTree(loaded, Dependencies{
		Selector: DefaultSelector(),
		Model:    model.NewMockModel("test"),
		Executor: tool.NewExecutor(nil, tool.NewAttemptCompletion()),
	})
	require.NoError(t, err)

	assert.Equal(t, tree.Minimal(), rehydrated.Minimal())
	assert.Equal(t, tree.RunID(), rehydrated.RunID())
	assert.Equal(t, tree.Iterations(), rehydrated.Iterations())
	assert.Equal(t, tree.TerminationReason(), rehydrated.TerminationReason())

	// Duplicate flags, rewards and thinking survive the trip.
	dup, ok := rehydrated.Node(3)
	require.True(t, ok)
	assert.True(t, dup.IsDuplicate())
	assert.True(t, dup.IsErrored())

	first, ok := rehydrated.Node(1)
	require.True(t, ok)
	assert.Equal(t, "start with a note", first.Thinking())
	assert.Equal(t, 2, first.Visits())
	assert.Equal(t, 75.0, first.MaxReward())
}

func TestFromMinimalTreeRejectsEmpty(t *testing.T) {
	_, err := FromMinimalTree(&SearchTreeMinimal{}, Dependencies{})
	assert.Error(t, err)
}

func TestFromMinimalTreeValidatesStructure(t *testing.T) {
	tree := buildSampleTree(t)

	t.Run("non positional index", func(t *testing.T) {
		minimal := tree.Minimal()
		minimal.Nodes[2].Index = 7
		_, err := FromMinimalTree(minimal, Dependencies{})
		assert.Error(t, err)
	})

	t.Run("orphaned node", func(t *testing.T) {
		minimal := tree.Minimal()
		minimal.Nodes[1].ParentIndex = nil
		_, err := FromMinimalTree(minimal, Dependencies{})
		assert.Error(t, err)
	})

	t.Run("broken depth", func(t *testing.T) {
		minimal := tree.Minimal()
		minimal.Nodes[2].Depth = 5
		_, err := FromMinimalTree(minimal, Dependencies{})
		assert.Error(t, err)
	})

	t.Run("child not in parent list", func(t *testing.T) {
		minimal := tree.Minimal()
		minimal.Nodes[0].Children = []int{1}
		_, err := FromMinimalTree(minimal, Dependencies{})
		assert.Error(t, err)
	})
}

func TestMinimalNodeAccessor(t *testing.T) {
	minimal := buildSampleTree(t).Minimal()

	_, ok := minimal.Node(-1)
	assert.False(t, ok)
	_, ok = minimal.Node(len(minimal.Nodes))
	assert.False(t, ok)

	n, ok := minimal.Node(0)
	require.True(t, ok)
	assert.Nil(t, n.ParentIndex)
}
