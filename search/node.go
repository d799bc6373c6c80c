package search

import (
	"github.com/hupe1980/agenttree/reward"
	"github.com/hupe1980/agenttree/tool"
)

// noParent marks the absence of a parent.
const noParent = -1

// ActionNode is one state in the trajectory graph. Nodes live in the tree's
// append-only arena and reference each other by stable integer index, never
// by pointer, which keeps the graph acyclic, cheap to snapshot and trivial to
// serialize.
//
// Invariants maintained by the tree:
//   - every non-root node has exactly one parent and appears in that parent's
//     ordered children
//   - depth(child) == depth(parent) + 1, root depth is 0
//   - reward/visit counters change only through backpropagation
//   - a node is finished iff its observation is terminal
type ActionNode struct {
	index       int
	parentIndex int
	children    []int
	depth       int
	action      tool.Action
	observation *ActionObservation
	reward      *reward.Reward
	rewardSum   float64
	maxReward   float64
	visits      int
	isDuplicate bool
	// exhausted marks a node whose expansion produced no children (policy
	// refused or every candidate was forbidden); it is excluded from future
	// selection.
	exhausted bool
}

// Index returns the stable arena index.
func (n *ActionNode) Index() int { return n.index }

// ParentIndex returns the parent's arena index, or -1 for the root.
func (n *ActionNode) ParentIndex() int { return n.parentIndex }

// IsRoot reports whether the node has no parent.
func (n *ActionNode) IsRoot() bool { return n.parentIndex == noParent }

// Children returns the ordered child indices.
func (n *ActionNode) Children() []int { return n.children }

// Depth returns the distance from the root.
func (n *ActionNode) Depth() int { return n.depth }

// Action returns the action taken to reach this node (zero at root).
func (n *ActionNode) Action() tool.Action { return n.action }

// Observation returns the structured result of the node's action, nil before
// execution and at the root.
func (n *ActionNode) Observation() *ActionObservation { return n.observation }

// Thinking returns the retained reasoning text attached to the observation.
func (n *ActionNode) Thinking() string {
	if n.observation == nil {
		return ""
	}
	return n.observation.Thinking
}

// Reward returns the node's own estimated reward, nil until estimated.
func (n *ActionNode) Reward() *reward.Reward { return n.reward }

// Visits returns the number of completed descendant expansions folded into
// this node since its creation.
func (n *ActionNode) Visits() int { return n.visits }

// RewardSum returns the accumulated reward used for averaging.
func (n *ActionNode) RewardSum() float64 { return n.rewardSum }

// MaxReward returns the best reward observed in the node's subtree.
func (n *ActionNode) MaxReward() float64 { return n.maxReward }

// IsDuplicate reports whether the node's action duplicates a sibling's.
func (n *ActionNode) IsDuplicate() bool { return n.isDuplicate }

// IsFinished reports whether the node's observation is terminal.
func (n *ActionNode) IsFinished() bool {
	return n.observation != nil && n.observation.IsTerminal
}

// IsErrored reports whether the node's action failed.
func (n *ActionNode) IsErrored() bool {
	return n.observation != nil && n.observation.IsError
}

// value resolves the exploitation value per the averaging mode.
func (n *ActionNode) value(useAverage bool) float64 {
	if n.visits == 0 {
		return 0
	}
	if useAverage {
		return n.rewardSum / float64(n.visits)
	}
	return n.maxReward
}
