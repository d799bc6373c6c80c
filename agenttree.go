// Package agenttree provides a high-level façade over the search engine and
// its collaborators (tools, models, reward estimation, workspace isolation &
// logging) enabling rapid construction of trajectory-search runs. Most
// applications interact with this package by:
//  1. Creating a run via New() with a problem and a model client
//  2. Optionally overriding limits, selection weights, tools or the estimator
//  3. Driving the run with RunSearch or stepwise with Step
//
// The façade delegates the search loop to search.SearchTree while keeping
// setup ergonomics concise. All defaults are safe for local development and
// testing; production runs typically supply a workspace, an LLM-backed reward
// judge and a structured logger.
package agenttree

import (
	"github.com/hupe1980/agenttree/logging"
	"github.com/hupe1980/agenttree/model"
	"github.com/hupe1980/agenttree/reward"
	"github.com/hupe1980/agenttree/search"
	"github.com/hupe1980/agenttree/tool"
	"github.com/hupe1980/agenttree/workspace"
)

// Options configures a search run.
type Options struct {
	// Limits bound the run (iterations, depth, candidates per step).
	Limits search.Limits

	// Selector holds the selection-policy weights.
	Selector search.Selector

	// Executor resolves tool calls. Defaults to a registry containing only
	// the completion tool; most runs register domain tools on top.
	Executor *tool.Executor

	// Tools restricts which registered tools the policy may call; empty
	// means every registered tool.
	Tools []string

	// Estimator scores new nodes. Defaults to the heuristic estimator;
	// supply reward.NewJudge for model-based evaluation.
	Estimator reward.Estimator

	// Workspace isolates per-trajectory working copies. Nil runs tools
	// directly against the problem root directory.
	Workspace *workspace.Workspace

	// LogDirectory receives mcts-<run_id>.json checkpoints. Empty disables
	// checkpointing.
	LogDirectory string

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// New creates a ready-to-run search tree for the given problem and model with
// optional overrides. Any unset collaborator is initialized with a sensible
// default.
func New(problem search.Problem, llm model.Model, optFns ...func(o *Options)) (*search.SearchTree, error) {
	opts := Options{
		Limits:    search.DefaultLimits(),
		Selector:  search.DefaultSelector(),
		Estimator: reward.NewHeuristic(),
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Executor == nil {
		opts.Executor = tool.NewExecutor(opts.Logger, tool.NewAttemptCompletion())
	}

	return search.New(search.Config{
		Limits:       opts.Limits,
		Problem:      problem,
		Selector:     opts.Selector,
		Tools:        opts.Tools,
		Executor:     opts.Executor,
		Model:        llm,
		Estimator:    opts.Estimator,
		Workspace:    opts.Workspace,
		LogDirectory: opts.LogDirectory,
		Logger:       opts.Logger,
	})
}

// Resume rehydrates a checkpointed run from disk with fresh runtime
// collaborators and returns a tree that continues where the checkpoint left
// off.
func Resume(path string, llm model.Model, optFns ...func(o *Options)) (*search.SearchTree, error) {
	opts := Options{
		Selector:  search.DefaultSelector(),
		Estimator: reward.NewHeuristic(),
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Executor == nil {
		opts.Executor = tool.NewExecutor(opts.Logger, tool.NewAttemptCompletion())
	}

	minimal, err := search.LoadMinimalTree(path)
	if err != nil {
		return nil, err
	}

	return search.FromMinimalTree(minimal, search.Dependencies{
		Selector:  opts.Selector,
		Model:     llm,
		Executor:  opts.Executor,
		Estimator: opts.Estimator,
		Workspace: opts.Workspace,
		Logger:    opts.Logger,
	})
}
