// Package search implements the trajectory-search engine: a Monte Carlo tree
// search over alternative sequences of tool invocations an autonomous coding
// agent may take to resolve a task. The tree owns an append-only node arena,
// drives the select -> expand -> backpropagate loop, enforces termination and
// checkpoints itself to JSON for resumable, externally inspectable runs.
//
// The loop is logically single-threaded per tree: one iteration's sequence is
// sequential and exclusively mutates the arena. The LLM policy call and tool
// execution inside expansion are I/O bound and run concurrently per
// candidate, but results are applied to the arena one at a time in
// deterministic order.
package search

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/agenttree/logging"
	"github.com/hupe1980/agenttree/model"
	"github.com/hupe1980/agenttree/reward"
	"github.com/hupe1980/agenttree/tool"
	"github.com/hupe1980/agenttree/workspace"
)

// Limits bound a search run. MaxExpansions, MaxDepth and MaxIterations are
// required; the remaining limits are optional (zero / nil means unset).
type Limits struct {
	// MaxExpansions bounds candidate children requested per node per step.
	MaxExpansions int `json:"max_expansions" yaml:"max_expansions"`
	// MaxDepth bounds trajectory length; nodes at MaxDepth are not expanded.
	MaxDepth int `json:"max_depth" yaml:"max_depth"`
	// MaxIterations bounds selection/expansion cycles.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`
	// MaxFinishedNodes stops the run once this many finished nodes exist.
	MaxFinishedNodes int `json:"max_finished_nodes,omitempty" yaml:"max_finished_nodes"`
	// RewardThreshold stops the run once the best finished reward reaches it
	// and at least MinFinishedNodes trajectories are finished.
	RewardThreshold *float64 `json:"reward_threshold,omitempty" yaml:"reward_threshold"`
	// MinFinishedNodes gates RewardThreshold (treated as 1 when unset).
	MinFinishedNodes int `json:"min_finished_nodes,omitempty" yaml:"min_finished_nodes"`
	// MaxSearchTry stops the run after this many consecutive failed
	// expansions.
	MaxSearchTry int `json:"max_search_try,omitempty" yaml:"max_search_try"`
}

// DefaultLimits returns the limits used by the reference driver.
func DefaultLimits() Limits {
	return Limits{
		MaxExpansions:    1,
		MaxDepth:         15,
		MaxIterations:    400,
		MaxFinishedNodes: 5,
		MinFinishedNodes: 2,
		MaxSearchTry:     3,
	}
}

func (l Limits) validate() error {
	if l.MaxExpansions < 1 {
		return newConfigError("max_expansions", "must be a positive integer")
	}
	if l.MaxDepth < 1 {
		return newConfigError("max_depth", "must be at least 1")
	}
	if l.MaxIterations < 1 {
		return newConfigError("max_iterations", "must be a positive integer")
	}
	if l.MaxFinishedNodes < 0 {
		return newConfigError("max_finished_nodes", "must not be negative")
	}
	if l.MinFinishedNodes < 0 {
		return newConfigError("min_finished_nodes", "must not be negative")
	}
	if l.MaxSearchTry < 0 {
		return newConfigError("max_search_try", "must not be negative")
	}
	return nil
}

// Problem identifies the task a run is solving.
type Problem struct {
	Statement      string `json:"problem_statement" yaml:"problem_statement"`
	RootDirectory  string `json:"root_directory" yaml:"root_directory"`
	RepoName       string `json:"repo_name" yaml:"repo_name"`
	BaseCommitHash string `json:"base_commit_hash" yaml:"base_commit_hash"`
}

// Config gathers everything a SearchTree needs: run limits, the problem, the
// selection policy and the runtime collaborators that cannot be serialized.
type Config struct {
	Limits   Limits
	Problem  Problem
	Selector Selector
	// Tools restricts which registered tools the policy may call; empty
	// means every registered tool.
	Tools        []string
	Executor     *tool.Executor
	Model        model.Model
	Estimator    reward.Estimator
	Workspace    *workspace.Workspace
	LogDirectory string
	Logger       logging.Logger
}

// SearchTree orchestrates one search run. Construct with New, drive with
// Step or RunSearch, inspect with BestTrajectory and the node accessors.
type SearchTree struct {
	runID    string
	nodes    []*ActionNode
	rootIdx  int
	selector Selector
	limits   Limits
	problem  Problem
	tools    []string

	executor  *tool.Executor
	llm       model.Model
	estimator reward.Estimator
	ws        *workspace.Workspace

	logDirectory string
	logger       logging.Logger

	iterations          int
	consecutiveFailures int
	termination         TerminationReason
}

// New validates the configuration and creates a tree with its root node.
// Invalid limits or a missing problem statement fail with a
// *ConfigurationError before any search starts.
func New(cfg Config) (*SearchTree, error) {
	if err := cfg.Limits.validate(); err != nil {
		return nil, err
	}
	if cfg.Problem.Statement == "" {
		return nil, newConfigError("problem_statement", "must not be empty")
	}
	if cfg.Executor == nil {
		return nil, newConfigError("tool_executor", "must be provided")
	}
	if cfg.Model == nil {
		return nil, newConfigError("llm_client", "must be provided")
	}
	if cfg.Estimator == nil {
		cfg.Estimator = reward.NewHeuristic()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}

	t := &SearchTree{
		runID:        uuid.NewString(),
		selector:     cfg.Selector,
		limits:       cfg.Limits,
		problem:      cfg.Problem,
		tools:        cfg.Tools,
		executor:     cfg.Executor,
		llm:          cfg.Model,
		estimator:    cfg.Estimator,
		ws:           cfg.Workspace,
		logDirectory: cfg.LogDirectory,
		logger:       cfg.Logger,
	}
	root := &ActionNode{index: 0, parentIndex: noParent}
	t.nodes = append(t.nodes, root)
	t.rootIdx = root.index
	return t, nil
}

// RunID returns the unique identifier of this run, used as the checkpoint tag.
func (t *SearchTree) RunID() string { return t.runID }

// Root returns the root node.
func (t *SearchTree) Root() *ActionNode { return t.nodes[t.rootIdx] }

// RootIndex returns the arena index of the root.
func (t *SearchTree) RootIndex() int { return t.rootIdx }

// Len returns the arena size.
func (t *SearchTree) Len() int { return len(t.nodes) }

// Node returns the node at the given arena index.
func (t *SearchTree) Node(index int) (*ActionNode, bool) {
	if index < 0 || index >= len(t.nodes) {
		return nil, false
	}
	return t.nodes[index], true
}

// IndexToNode exposes the arena as a map for read-only analysis tools.
func (t *SearchTree) IndexToNode() map[int]*ActionNode {
	m := make(map[int]*ActionNode, len(t.nodes))
	for _, n := range t.nodes {
		m[n.index] = n
	}
	return m
}

// Iterations returns the number of completed selection/expansion cycles.
func (t *SearchTree) Iterations() int { return t.iterations }

// TerminationReason reports why the run stopped, empty while in progress.
func (t *SearchTree) TerminationReason() TerminationReason { return t.termination }

// FinishedNodes returns the indices of finished nodes in discovery order.
func (t *SearchTree) FinishedNodes() []int {
	var finished []int
	for _, n := range t.nodes {
		if n.IsFinished() {
			finished = append(finished, n.index)
		}
	}
	return finished
}

// appendChild creates a node in the arena and links it under parent.
// The arena is append-only: indices are never reused or removed, which
// guarantees checkpoint/resume identity.
func (t *SearchTree) appendChild(parent *ActionNode, action tool.Action, obs *ActionObservation) *ActionNode {
	child := &ActionNode{
		index:       len(t.nodes),
		parentIndex: parent.index,
		depth:       parent.depth + 1,
		action:      action,
		observation: obs,
	}
	for _, siblingIdx := range parent.children {
		if t.nodes[siblingIdx].action.Equal(action) {
			child.isDuplicate = true
			break
		}
	}
	t.nodes = append(t.nodes, child)
	parent.children = append(parent.children, child.index)
	return child
}

// backpropagate folds a new reward into the node and every ancestor up to the
// root: visits increment, the sum accumulates for averaging, and the max
// tracks the best observed value.
func (t *SearchTree) backpropagate(n *ActionNode, value float64) {
	for node := n; ; {
		node.visits++
		node.rewardSum += value
		if node.visits == 1 || value > node.maxReward {
			node.maxReward = value
		}
		if node.IsRoot() {
			return
		}
		node = t.nodes[node.parentIndex]
	}
}

// expandable reports whether a node may still be selected for expansion.
func (t *SearchTree) expandable(n *ActionNode) bool {
	if n.IsFinished() || n.exhausted {
		return false
	}
	return n.depth < t.limits.MaxDepth
}

// selectNode scores every expandable node with the selector and returns the
// maximum; ties break by arena index (discovery order). Nodes scoring -Inf
// are pruned. Returns nil when nothing is expandable.
func (t *SearchTree) selectNode() *ActionNode {
	var best *ActionNode
	bestScore := 0.0
	for _, n := range t.nodes {
		if !t.expandable(n) {
			continue
		}
		score := t.selector.Score(t.scoreInput(n))
		if math.IsInf(score, -1) {
			continue
		}
		if best == nil || score > bestScore {
			best = n
			bestScore = score
		}
	}
	return best
}

// scoreInput gathers the statistics the selector needs for one node.
func (t *SearchTree) scoreInput(n *ActionNode) ScoreInput {
	in := ScoreInput{
		Depth:                 n.depth,
		Visits:                n.visits,
		ChildCount:            len(n.children),
		HasFinishedDescendant: t.subtreeHasFinished(n),
		IsDuplicate:           n.isDuplicate,
		RewardSum:             n.rewardSum,
		MaxReward:             n.maxReward,
	}
	if n.IsRoot() {
		// The root has no parent; its own visit count stands in so the
		// exploration ratio stays finite.
		in.ParentVisits = n.visits
	} else {
		in.ParentVisits = t.nodes[n.parentIndex].visits
	}
	if n.reward != nil {
		v := n.reward.Value
		in.NodeReward = &v
	}
	if n.observation != nil {
		in.ExpectCorrection = n.observation.ExpectCorrection
	}
	for _, childIdx := range n.children {
		if child := t.nodes[childIdx]; child.reward != nil {
			in.ChildRewards = append(in.ChildRewards, child.reward.Value)
		}
	}
	if !n.action.IsZero() {
		key := n.action.Key()
		for ancestor := n; !ancestor.IsRoot(); {
			ancestor = t.nodes[ancestor.parentIndex]
			if !ancestor.action.IsZero() && ancestor.action.Key() == key {
				in.DuplicateActionInTrajectory = true
				break
			}
		}
		for _, other := range t.nodes {
			if other.index < n.index && !other.action.IsZero() && other.action.Key() == key {
				in.PriorActionUses++
			}
		}
	}
	return in
}

func (t *SearchTree) subtreeHasFinished(n *ActionNode) bool {
	if n.IsFinished() {
		return true
	}
	for _, childIdx := range n.children {
		if t.subtreeHasFinished(t.nodes[childIdx]) {
			return true
		}
	}
	return false
}

// Step performs one selection+expansion+backpropagation cycle and reports
// whether the run should continue. All failure modes other than cancellation
// degrade gracefully: failed expansions produce error nodes and count toward
// max_search_try rather than aborting the run.
func (t *SearchTree) Step(ctx context.Context) bool {
	if ctx.Err() != nil {
		t.termination = TerminationCancelled
		return false
	}
	if reason := t.terminationCheck(); reason != TerminationNone {
		t.termination = reason
		return false
	}

	node := t.selectNode()
	if node == nil {
		t.termination = TerminationNoExpandableNodes
		return false
	}

	t.iterations++
	start := time.Now()
	created, err := t.expand(ctx, node)
	if tl, ok := t.logger.(*logging.TreeLogger); ok {
		tl.LogExpansion(node.index, len(created), time.Since(start), err)
	} else if err != nil {
		t.logger.Warn("Expansion failed", "node_index", node.index, "error", err)
	}

	if ctx.Err() != nil {
		t.termination = TerminationCancelled
		return false
	}

	if err == nil && len(created) == 0 {
		// Nothing expandable came back from the policy; never select again.
		node.exhausted = true
	}
	if t.expansionFailed(created, err) {
		t.consecutiveFailures++
	} else {
		t.consecutiveFailures = 0
	}

	t.checkpoint(ctx)

	if reason := t.terminationCheck(); reason != TerminationNone {
		t.termination = reason
		return false
	}
	return true
}

// expansionFailed reports whether a step produced no usable children.
func (t *SearchTree) expansionFailed(created []*ActionNode, err error) bool {
	if err != nil || len(created) == 0 {
		return true
	}
	for _, n := range created {
		if !n.IsErrored() {
			return false
		}
	}
	return true
}

func (t *SearchTree) terminationCheck() TerminationReason {
	if t.limits.MaxSearchTry > 0 && t.consecutiveFailures >= t.limits.MaxSearchTry {
		return TerminationSearchExhausted
	}
	if t.iterations >= t.limits.MaxIterations {
		return TerminationMaxIterations
	}
	finished := t.FinishedNodes()
	if t.limits.MaxFinishedNodes > 0 && len(finished) >= t.limits.MaxFinishedNodes {
		return TerminationMaxFinishedNodes
	}
	if t.limits.RewardThreshold != nil && len(finished) > 0 {
		minFinished := t.limits.MinFinishedNodes
		if minFinished < 1 {
			minFinished = 1
		}
		if len(finished) >= minFinished && t.bestFinishedValue(finished) >= *t.limits.RewardThreshold {
			return TerminationRewardThreshold
		}
	}
	return TerminationNone
}

func (t *SearchTree) bestFinishedValue(finished []int) float64 {
	best := reward.MinValue
	for _, idx := range finished {
		if v := t.nodes[idx].value(t.selector.UseAverageReward); v > best {
			best = v
		}
	}
	return best
}

// RunSearch drives Step until termination or cancellation and returns the
// best finished trajectory found so far (nil when none finished).
// Cancellation stops issuing new expansions; it never aborts mid-mutation.
func (t *SearchTree) RunSearch(ctx context.Context) []TrajectoryStep {
	for t.Step(ctx) {
	}
	// Mid-step checkpoints are written before the stop reason is known; one
	// final write records it, even when the run context was cancelled.
	t.checkpoint(context.WithoutCancel(ctx))
	t.logger.Info("Search finished",
		"iterations", t.iterations,
		"nodes", len(t.nodes),
		"finished", len(t.FinishedNodes()),
		"reason", string(t.termination),
	)
	return t.BestTrajectory()
}

// TrajectoryStep is one action/observation pair along a root-to-node path.
type TrajectoryStep struct {
	Index       int
	Action      tool.Action
	Observation *ActionObservation
}

// BestTrajectory scans finished nodes, ranks by reward (mean if the selector
// averages, else best), breaks ties by shallower depth then earlier
// discovery, and returns the root-to-node action sequence.
func (t *SearchTree) BestTrajectory() []TrajectoryStep {
	best := t.BestFinishedNode()
	if best == nil {
		return nil
	}
	return t.Trajectory(best.index)
}

// BestFinishedNode returns the top-ranked finished node, nil when none exist.
func (t *SearchTree) BestFinishedNode() *ActionNode {
	finished := t.FinishedNodes()
	if len(finished) == 0 {
		return nil
	}
	sort.SliceStable(finished, func(i, j int) bool {
		a, b := t.nodes[finished[i]], t.nodes[finished[j]]
		av, bv := a.value(t.selector.UseAverageReward), b.value(t.selector.UseAverageReward)
		if av != bv {
			return av > bv
		}
		if a.depth != b.depth {
			return a.depth < b.depth
		}
		return a.index < b.index
	})
	return t.nodes[finished[0]]
}

// Trajectory returns the root-to-node action sequence for the given index.
// The root itself carries no action and is omitted.
func (t *SearchTree) Trajectory(index int) []TrajectoryStep {
	n, ok := t.Node(index)
	if !ok {
		return nil
	}
	var reversed []TrajectoryStep
	for ; !n.IsRoot(); n = t.nodes[n.parentIndex] {
		reversed = append(reversed, TrajectoryStep{Index: n.index, Action: n.action, Observation: n.observation})
	}
	steps := make([]TrajectoryStep, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		steps = append(steps, reversed[i])
	}
	return steps
}

// AccumulatedFileUpdates merges the file content updates applied along the
// root path to the given node, later updates overriding earlier ones.
func (t *SearchTree) AccumulatedFileUpdates(index int) map[string]string {
	updates := map[string]string{}
	for _, step := range t.Trajectory(index) {
		if step.Observation == nil {
			continue
		}
		for path, content := range step.Observation.FileContentUpdates {
			updates[path] = content
		}
	}
	return updates
}

// checkpoint snapshots the arena to the log directory. Write failures are
// retried with the bounded policy and then surfaced as a degraded
// resumability warning while the in-memory run continues.
func (t *SearchTree) checkpoint(ctx context.Context) {
	if t.logDirectory == "" {
		return
	}
	if err := t.SaveSerialisedGraph(ctx, t.logDirectory, t.runID); err != nil {
		t.logger.Warn("Checkpoint failed; resumability degraded", "error", err)
	}
}
