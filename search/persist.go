package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hupe1980/agenttree/internal/util"
	"github.com/hupe1980/agenttree/logging"
	"github.com/hupe1980/agenttree/model"
	"github.com/hupe1980/agenttree/reward"
	"github.com/hupe1980/agenttree/tool"
	"github.com/hupe1980/agenttree/workspace"
)

// MinimalNode is the serializable projection of one ActionNode.
type MinimalNode struct {
	Index       int                `json:"index"`
	ParentIndex *int               `json:"parent_index"`
	Children    []int              `json:"children"`
	Depth       int                `json:"depth"`
	Action      *tool.Action       `json:"action,omitempty"`
	Observation *ActionObservation `json:"observation,omitempty"`
	Reward      *reward.Reward     `json:"reward,omitempty"`
	RewardSum   float64            `json:"reward_sum"`
	MaxReward   float64            `json:"max_reward"`
	Visits      int                `json:"visits"`
	IsDuplicate bool               `json:"is_duplicate,omitempty"`
	Exhausted   bool               `json:"exhausted,omitempty"`
}

// RunParameters carries everything serializable about a run so a checkpoint
// can be resumed with identical behavior.
type RunParameters struct {
	RunID               string            `json:"run_id"`
	Limits              Limits            `json:"limits"`
	Problem             Problem           `json:"problem"`
	Tools               []string          `json:"tools,omitempty"`
	LogDirectory        string            `json:"log_directory,omitempty"`
	Iterations          int               `json:"iterations"`
	ConsecutiveFailures int               `json:"consecutive_failures,omitempty"`
	Termination         TerminationReason `json:"termination,omitempty"`
}

// SearchTreeMinimal is the serializable projection of a SearchTree used for
// checkpointing and for offline query tools. It round-trips losslessly
// through FromMinimalTree: identical indices, links, reward/visit values and
// thinking text.
type SearchTreeMinimal struct {
	Nodes         []MinimalNode `json:"nodes"`
	RootIndex     int           `json:"root_index"`
	RunParameters RunParameters `json:"run_parameters"`
}

// Node returns the minimal node at the given arena index.
func (m *SearchTreeMinimal) Node(index int) (*MinimalNode, bool) {
	if index < 0 || index >= len(m.Nodes) {
		return nil, false
	}
	return &m.Nodes[index], true
}

// Minimal snapshots the arena into its serializable projection. The snapshot
// deep-copies observations so serialization never races with mutation.
func (t *SearchTree) Minimal() *SearchTreeMinimal {
	minimal := &SearchTreeMinimal{
		RootIndex: t.rootIdx,
		RunParameters: RunParameters{
			RunID:               t.runID,
			Limits:              t.limits,
			Problem:             t.problem,
			Tools:               append([]string(nil), t.tools...),
			LogDirectory:        t.logDirectory,
			Iterations:          t.iterations,
			ConsecutiveFailures: t.consecutiveFailures,
			Termination:         t.termination,
		},
	}
	minimal.Nodes = make([]MinimalNode, 0, len(t.nodes))
	for _, n := range t.nodes {
		mn := MinimalNode{
			Index:       n.index,
			Children:    append([]int(nil), n.children...),
			Depth:       n.depth,
			Observation: n.observation.Clone(),
			RewardSum:   n.rewardSum,
			MaxReward:   n.maxReward,
			Visits:      n.visits,
			IsDuplicate: n.isDuplicate,
			Exhausted:   n.exhausted,
		}
		if !n.IsRoot() {
			parent := n.parentIndex
			mn.ParentIndex = &parent
		}
		if !n.action.IsZero() {
			action := n.action
			// Canonical argument bytes keep snapshots byte-stable across
			// save/load cycles.
			if len(action.Arguments) > 0 {
				var buf bytes.Buffer
				if err := json.Compact(&buf, action.Arguments); err == nil {
					action.Arguments = json.RawMessage(buf.String())
				}
			}
			mn.Action = &action
		}
		if n.reward != nil {
			r := *n.reward
			mn.Reward = &r
		}
		minimal.Nodes = append(minimal.Nodes, mn)
	}
	return minimal
}

// SaveSerialisedGraph snapshots the arena to <dir>/mcts-<tag>.json. The write
// goes to a temp file in the same directory and is renamed into place, so
// concurrent readers never observe a partial file. Failures are retried with
// the uniform bounded policy and surfaced as a *PersistenceError.
func (t *SearchTree) SaveSerialisedGraph(ctx context.Context, dir, tag string) error {
	data, err := json.Marshal(t.Minimal())
	if err != nil {
		return &PersistenceError{Path: dir, Attempts: 0, Err: err}
	}

	path := filepath.Join(dir, fmt.Sprintf("mcts-%s.json", tag))
	attempts, err := util.Retry(ctx, util.DefaultRetryAttempts, util.DefaultRetryDelay, func() error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		tmp, err := os.CreateTemp(dir, fmt.Sprintf("mcts-%s-*.tmp", tag))
		if err != nil {
			return err
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return err
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return err
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			os.Remove(tmp.Name())
			return err
		}
		return nil
	})

	if tl, ok := t.logger.(*logging.TreeLogger); ok {
		tl.LogCheckpoint(path, attempts, err)
	}
	if err != nil {
		return &PersistenceError{Path: path, Attempts: attempts, Err: err}
	}
	return nil
}

// Dependencies are the runtime collaborators that cannot be serialized and
// must be supplied again when rehydrating a checkpoint. Model and Executor
// may be nil for read-only analysis of a loaded tree.
type Dependencies struct {
	Selector  Selector
	Model     model.Model
	Executor  *tool.Executor
	Estimator reward.Estimator
	Workspace *workspace.Workspace
	Logger    logging.Logger
}

// FromMinimalTree rehydrates a tree from its serialized form plus runtime
// dependencies; used for resume and for read-only analysis tools. The arena
// structure is validated: positional indices, parent/child symmetry and the
// depth invariant.
func FromMinimalTree(minimal *SearchTreeMinimal, deps Dependencies) (*SearchTree, error) {
	if len(minimal.Nodes) == 0 {
		return nil, fmt.Errorf("minimal tree has no nodes")
	}
	if minimal.RootIndex < 0 || minimal.RootIndex >= len(minimal.Nodes) {
		return nil, fmt.Errorf("root index %d out of range", minimal.RootIndex)
	}
	if deps.Estimator == nil {
		deps.Estimator = reward.NewHeuristic()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NoOpLogger{}
	}

	params := minimal.RunParameters
	t := &SearchTree{
		runID:               params.RunID,
		rootIdx:             minimal.RootIndex,
		selector:            deps.Selector,
		limits:              params.Limits,
		problem:             params.Problem,
		tools:               append([]string(nil), params.Tools...),
		executor:            deps.Executor,
		llm:                 deps.Model,
		estimator:           deps.Estimator,
		ws:                  deps.Workspace,
		logDirectory:        params.LogDirectory,
		logger:              deps.Logger,
		iterations:          params.Iterations,
		consecutiveFailures: params.ConsecutiveFailures,
		termination:         params.Termination,
	}

	t.nodes = make([]*ActionNode, 0, len(minimal.Nodes))
	for i, mn := range minimal.Nodes {
		if mn.Index != i {
			return nil, fmt.Errorf("node at position %d has index %d; arena indices must be positional", i, mn.Index)
		}
		n := &ActionNode{
			index:       mn.Index,
			parentIndex: noParent,
			children:    append([]int(nil), mn.Children...),
			depth:       mn.Depth,
			observation: mn.Observation.Clone(),
			rewardSum:   mn.RewardSum,
			maxReward:   mn.MaxReward,
			visits:      mn.Visits,
			isDuplicate: mn.IsDuplicate,
			exhausted:   mn.Exhausted,
		}
		if mn.ParentIndex != nil {
			n.parentIndex = *mn.ParentIndex
		}
		if mn.Action != nil {
			n.action = *mn.Action
		}
		if mn.Reward != nil {
			r := *mn.Reward
			n.reward = &r
		}
		t.nodes = append(t.nodes, n)
	}

	for _, n := range t.nodes {
		if err := t.validateLinks(n); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// validateLinks enforces the arena invariants on one rehydrated node.
func (t *SearchTree) validateLinks(n *ActionNode) error {
	if n.index == t.rootIdx {
		if !n.IsRoot() || n.depth != 0 {
			return fmt.Errorf("root node %d must have no parent and depth 0", n.index)
		}
	} else {
		if n.parentIndex < 0 || n.parentIndex >= len(t.nodes) {
			return fmt.Errorf("node %d parent %d out of range", n.index, n.parentIndex)
		}
		parent := t.nodes[n.parentIndex]
		if n.depth != parent.depth+1 {
			return fmt.Errorf("node %d depth %d violates depth(parent)+1", n.index, n.depth)
		}
		found := false
		for _, childIdx := range parent.children {
			if childIdx == n.index {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("node %d missing from parent %d children", n.index, n.parentIndex)
		}
	}
	for _, childIdx := range n.children {
		if childIdx < 0 || childIdx >= len(t.nodes) {
			return fmt.Errorf("node %d child %d out of range", n.index, childIdx)
		}
		if t.nodes[childIdx].parentIndex != n.index {
			return fmt.Errorf("node %d child %d does not point back", n.index, childIdx)
		}
	}
	return nil
}

// LoadMinimalTree reads a checkpoint file written by SaveSerialisedGraph.
func LoadMinimalTree(path string) (*SearchTreeMinimal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	var minimal SearchTreeMinimal
	if err := json.Unmarshal(data, &minimal); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return &minimal, nil
}
