package search

import (
	"math"

	"github.com/hupe1980/agenttree/tool"
)

// BadActionPredicate excludes matching candidate actions from ever becoming
// children, rather than merely penalizing them.
type BadActionPredicate func(action tool.Action) bool

// ForbidTools builds a predicate matching any of the given tool names.
func ForbidTools(names ...string) BadActionPredicate {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(a tool.Action) bool {
		_, ok := set[a.Name]
		return ok
	}
}

// Selector is the immutable weight bundle of the selection policy. It is a
// pure scoring function: identical statistics and weights always produce
// identical scores. The terms combine additively:
//
//	score = exploitation + exploration + depth + diversity + categorical
//
// Rewards are on the -100..100 scale, thresholds included.
type Selector struct {
	// ExploitationWeight scales the node's observed value.
	ExploitationWeight float64
	// UseAverageReward selects mean reward as the value; otherwise best.
	UseAverageReward bool
	// ExplorationWeight scales the UCT exploration term
	// sqrt(ln(parent.visits)/visits). Unvisited nodes have infinite
	// exploration priority and are always tried first.
	ExplorationWeight float64
	// DepthWeight penalizes depth with sqrt(depth), favoring breadth.
	DepthWeight float64
	// DepthBonusFactor rewards continuing a line just below the surface,
	// decaying exponentially with depth.
	DepthBonusFactor float64
	// HighValueThreshold marks a node as high value.
	HighValueThreshold float64
	// LowValueThreshold effectively prunes rewarded nodes at or below it.
	LowValueThreshold float64
	// VeryHighValueThreshold marks a node whose good child makes further
	// probing wasteful.
	VeryHighValueThreshold float64
	// HighValueLeafBonusConstant boosts unexpanded high-value leaves.
	HighValueLeafBonusConstant float64
	// HighValueBadChildrenBonusConstant boosts high-value nodes whose
	// children all turned out low quality (retry from the good state).
	HighValueBadChildrenBonusConstant float64
	// HighValueChildPenaltyConstant discourages re-probing a very high
	// value node that already has a high-value child.
	HighValueChildPenaltyConstant float64
	// FinishedTrajectoryPenalty discourages re-selecting inside subtrees
	// that already produced a finished trajectory.
	FinishedTrajectoryPenalty float64
	// ExpectCorrectionBonus raises priority on nodes flagged as needing a
	// follow-up, until they have accumulated children.
	ExpectCorrectionBonus float64
	// CheckForBadChildActions excludes matching candidates at expansion.
	CheckForBadChildActions []BadActionPredicate
	// DiversityWeight scales the penalty for re-using an action key already
	// seen elsewhere in the tree.
	DiversityWeight float64
	// DuplicateChildPenaltyConstant is subtracted when the node's action
	// duplicates a sibling's.
	DuplicateChildPenaltyConstant float64
	// DuplicateActionPenaltyConstant is subtracted when the node's action
	// already occurred earlier in the same trajectory.
	DuplicateActionPenaltyConstant float64
}

// DefaultSelector returns the weight bundle used by the reference driver.
func DefaultSelector() Selector {
	return Selector{
		ExploitationWeight:                1.0,
		UseAverageReward:                  false,
		ExplorationWeight:                 1.0,
		DepthWeight:                       0.8,
		DepthBonusFactor:                  0.0,
		HighValueThreshold:                50.0,
		LowValueThreshold:                 0.0,
		VeryHighValueThreshold:            75.0,
		HighValueLeafBonusConstant:        50.0,
		HighValueBadChildrenBonusConstant: 20.0,
		HighValueChildPenaltyConstant:     5.0,
		FinishedTrajectoryPenalty:         50.0,
		ExpectCorrectionBonus:             50.0,
		DiversityWeight:                   100.0,
		DuplicateChildPenaltyConstant:     25.0,
		DuplicateActionPenaltyConstant:    50.0,
	}
}

// IsBadAction reports whether any forbidden-action predicate matches.
func (s Selector) IsBadAction(a tool.Action) bool {
	for _, pred := range s.CheckForBadChildActions {
		if pred != nil && pred(a) {
			return true
		}
	}
	return false
}

// ScoreInput carries the node statistics the selector scores. The tree builds
// it; keeping the selector free of tree state preserves purity.
type ScoreInput struct {
	Depth        int
	Visits       int
	ParentVisits int
	RewardSum    float64
	MaxReward    float64
	// NodeReward is the node's own estimated reward, nil until estimated.
	NodeReward *float64
	// ChildRewards lists the own-rewards of estimated children.
	ChildRewards []float64
	ChildCount   int
	// HasFinishedDescendant covers the node itself and its subtree.
	HasFinishedDescendant bool
	ExpectCorrection      bool
	IsDuplicate           bool
	// DuplicateActionInTrajectory is true when the same action key occurs
	// earlier on the node's root path.
	DuplicateActionInTrajectory bool
	// PriorActionUses counts earlier tree-wide uses of the node's action key.
	PriorActionUses int
}

// Score computes the selection score for one expandable node. Rewarded nodes
// at or below the low value threshold return -Inf and are effectively pruned;
// unvisited nodes return +Inf and are always tried first.
func (s Selector) Score(in ScoreInput) float64 {
	if in.NodeReward != nil && *in.NodeReward <= s.LowValueThreshold {
		return math.Inf(-1)
	}
	if in.Visits == 0 {
		return math.Inf(1)
	}

	score := s.ExploitationWeight * s.exploitationValue(in)
	score += s.explorationTerm(in)
	score += s.depthTerm(in.Depth)
	score += s.diversityTerm(in)
	score += s.categoricalTerm(in)
	return score
}

func (s Selector) exploitationValue(in ScoreInput) float64 {
	if s.UseAverageReward {
		return in.RewardSum / float64(in.Visits)
	}
	return in.MaxReward
}

func (s Selector) explorationTerm(in ScoreInput) float64 {
	parentVisits := in.ParentVisits
	if parentVisits < 1 {
		parentVisits = 1
	}
	return s.ExplorationWeight * math.Sqrt(math.Log(float64(parentVisits))/float64(in.Visits))
}

// depthTerm shapes the breadth/depth preference: a decaying bonus for
// continuing a promising shallow line minus a sqrt penalty for depth.
func (s Selector) depthTerm(depth int) float64 {
	if depth == 0 {
		return 0
	}
	bonus := s.DepthBonusFactor * math.Exp(-0.5*float64(depth-1))
	penalty := s.DepthWeight * math.Sqrt(float64(depth))
	return bonus - penalty
}

// diversityTerm subtracts the flat duplicate penalties and a reuse penalty
// that grows toward DiversityWeight as the same action key accumulates uses
// across the tree.
func (s Selector) diversityTerm(in ScoreInput) float64 {
	var term float64
	if in.IsDuplicate {
		term -= s.DuplicateChildPenaltyConstant
	}
	if in.DuplicateActionInTrajectory {
		term -= s.DuplicateActionPenaltyConstant
	}
	if in.PriorActionUses > 0 {
		term += s.DiversityWeight * (1.0/float64(1+in.PriorActionUses) - 1.0)
	}
	return term
}

func (s Selector) categoricalTerm(in ScoreInput) float64 {
	var term float64
	if r := in.NodeReward; r != nil {
		if in.ChildCount == 0 && *r >= s.HighValueThreshold {
			term += s.HighValueLeafBonusConstant
		}
		if in.ChildCount > 0 && *r >= s.HighValueThreshold && allBelow(in.ChildRewards, s.LowValueThreshold) {
			term += s.HighValueBadChildrenBonusConstant
		}
		if *r >= s.VeryHighValueThreshold && anyAtOrAbove(in.ChildRewards, s.HighValueThreshold) {
			term -= s.HighValueChildPenaltyConstant
		}
	}
	if in.HasFinishedDescendant {
		term -= s.FinishedTrajectoryPenalty
	}
	if in.ExpectCorrection && in.ChildCount < 2 {
		term += s.ExpectCorrectionBonus
	}
	return term
}

func allBelow(values []float64, threshold float64) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if v > threshold {
			return false
		}
	}
	return true
}

func anyAtOrAbove(values []float64, threshold float64) bool {
	for _, v := range values {
		if v >= threshold {
			return true
		}
	}
	return false
}
