package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/logging"
	"github.com/hupe1980/agenttree/model"
	"github.com/hupe1980/agenttree/reward"
	"github.com/hupe1980/agenttree/tool"
)

// candidateResult is the outcome of one candidate slot within an expansion
// step: the proposed action, the retained reasoning, and either the tool
// output or the failure that occurred.
type candidateResult struct {
	action   tool.Action
	thinking string
	output   *tool.Output
	err      error
	// skipped marks slots that produced no child: the policy proposed
	// nothing usable or the action matched a forbidden-action predicate.
	skipped bool
}

// expand turns the selected node into child nodes: materialize repository
// state, request up to max_expansions candidates from the policy
// concurrently, execute them through the tool layer and append one child per
// candidate in deterministic slot order. A failing action still produces a
// node carrying the error so the search can learn to avoid that branch.
func (t *SearchTree) expand(ctx context.Context, node *ActionNode) ([]*ActionNode, error) {
	workDir, cleanup, err := t.materialize(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("materialize state for node %d: %w", node.index, err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	transcript := t.trajectoryContents(node)
	defs := t.executor.Definitions(t.tools...)

	results := make([]candidateResult, t.limits.MaxExpansions)
	var wg sync.WaitGroup
	for slot := range results {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			results[slot] = t.runCandidate(ctx, transcript, defs, workDir, slot)
		}(slot)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// All awaited results are in; mutate the arena sequentially.
	var created []*ActionNode
	var firstErr error
	for _, res := range results {
		if res.skipped {
			if res.err != nil && firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		var obs *ActionObservation
		if res.err != nil {
			obs = newErrorObservation(res.err, res.thinking)
		} else {
			obs = newObservationFromOutput(res.output, res.thinking)
		}
		child := t.appendChild(node, res.action, obs)
		t.estimateAndBackpropagate(ctx, child)
		created = append(created, child)
	}
	if len(created) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return created, nil
}

// runCandidate performs one policy call and executes the proposed action.
// Later slots raise the sampling temperature to diversify candidates.
func (t *SearchTree) runCandidate(
	ctx context.Context,
	transcript []core.Content,
	defs []model.ToolDefinition,
	workDir string,
	slot int,
) candidateResult {
	req := model.Request{
		Instructions: t.systemInstructions(),
		Contents:     transcript,
		Tools:        defs,
	}
	if slot > 0 {
		temp := 0.7 + 0.2*float64(slot)
		req.Temperature = &temp
	}

	start := time.Now()
	resp, err := t.llm.Generate(ctx, req)
	if tl, ok := t.logger.(*logging.TreeLogger); ok {
		tokens := 0
		if err == nil && resp.Usage != nil {
			tokens = resp.Usage.TotalTokens
		}
		tl.LogLLMCall(t.llm.Info().Name, tokens, time.Since(start), err == nil, err)
	}
	if err != nil {
		// No action to attach the failure to; the slot is skipped and the
		// error counts toward max_search_try through the step outcome.
		return candidateResult{skipped: true, err: fmt.Errorf("policy call: %w", err)}
	}

	thinking := resp.Content.Thinking()

	if calls := resp.Content.FunctionCalls(); len(calls) > 0 {
		action := tool.NewAction(calls[0].Name, []byte(calls[0].Arguments))
		if t.selector.IsBadAction(action) {
			t.logger.Debug("Forbidden action skipped", "action", action.String())
			return candidateResult{skipped: true}
		}
		out, err := t.executor.Invoke(ctx, tool.NewContext(workDir, t.logger), action)
		return candidateResult{action: action, thinking: thinking, output: out, err: err}
	}

	// A plain text reply is the policy's terminal natural-language answer.
	if text := resp.Content.Text(); text != "" {
		args := fmt.Sprintf(`{"result":%q}`, text)
		return candidateResult{
			action:   tool.NewAction(tool.AttemptCompletionName, []byte(args)),
			thinking: thinking,
			output:   &tool.Output{Message: text, Summary: "final answer", IsTerminal: true},
		}
	}

	return candidateResult{skipped: true}
}

// estimateAndBackpropagate scores the new child and updates every ancestor.
// Error observations get a forced minimum reward; estimator failures degrade
// to a neutral value rather than aborting the step.
func (t *SearchTree) estimateAndBackpropagate(ctx context.Context, n *ActionNode) {
	var r *reward.Reward
	if n.observation != nil && n.observation.IsError {
		r = &reward.Reward{Value: reward.MinValue, Explanation: "action failed"}
	} else {
		in := reward.Input{
			ProblemStatement: t.problem.Statement,
			Transcript:       t.trajectoryContents(n),
		}
		if n.observation != nil {
			in.Message = n.observation.Message
			in.Summary = n.observation.Summary
			in.IsError = n.observation.IsError
			in.IsTerminal = n.observation.IsTerminal
			in.ExpectCorrection = n.observation.ExpectCorrection
		}
		est, err := t.estimator.Estimate(ctx, in)
		if err != nil {
			t.logger.Warn("Reward estimation failed", "node_index", n.index, "error", err)
			r = &reward.Reward{Value: 0, Explanation: "estimation unavailable"}
		} else {
			est.Value = reward.Clamp(est.Value)
			r = est
		}
	}
	n.reward = r
	t.backpropagate(n, r.Value)
}

// materialize prepares the working directory for a trajectory: an isolated
// clone of the base checkout with the accumulated file updates applied. With
// no workspace configured the problem root directory is used as-is.
func (t *SearchTree) materialize(ctx context.Context, node *ActionNode) (string, func(), error) {
	if t.ws == nil {
		return t.problem.RootDirectory, nil, nil
	}
	dir, cleanup, err := t.ws.CloneForTrajectory(ctx, fmt.Sprintf("node-%d", node.index))
	if err != nil {
		return "", nil, err
	}
	if err := t.ws.Materialize(ctx, dir, t.AccumulatedFileUpdates(node.index)); err != nil {
		_ = cleanup()
		return "", nil, err
	}
	return dir, func() {
		if err := cleanup(); err != nil {
			t.logger.Warn("Working copy cleanup failed", "dir", dir, "error", err)
		}
	}, nil
}

// systemInstructions renders the policy system prompt from the problem
// identity and the configured tool surface.
func (t *SearchTree) systemInstructions() string {
	return fmt.Sprintf(
		"You are an autonomous software engineer resolving the task below by invoking tools.\n"+
			"Repository: %s (base commit %s), checked out at %s.\n"+
			"Propose exactly one tool call per turn. When the task is verified complete, call %s.\n\n"+
			"Task:\n%s",
		t.problem.RepoName, t.problem.BaseCommitHash, t.problem.RootDirectory,
		tool.AttemptCompletionName, t.problem.Statement,
	)
}

// trajectoryContents renders the root-to-node history as provider messages:
// each step becomes an assistant tool call followed by a tool response.
func (t *SearchTree) trajectoryContents(node *ActionNode) []core.Content {
	steps := t.Trajectory(node.index)
	contents := make([]core.Content, 0, len(steps)*2+1)
	contents = append(contents, core.NewUserContent(t.problem.Statement))

	for _, step := range steps {
		callID := fmt.Sprintf("call_%d", step.Index)
		assistantParts := []core.Part{}
		if step.Observation != nil && step.Observation.Thinking != "" {
			assistantParts = append(assistantParts, core.ThinkingPart{Thinking: step.Observation.Thinking})
		}
		assistantParts = append(assistantParts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID:        callID,
			Name:      step.Action.Name,
			Arguments: string(step.Action.Arguments),
		}})
		contents = append(contents, core.Content{Role: "assistant", Parts: assistantParts})

		response := core.FunctionResponse{ID: callID, Name: step.Action.Name}
		if step.Observation != nil {
			if step.Observation.IsError {
				response.Error = step.Observation.Message
			} else {
				response.Response = step.Observation.Message
			}
		}
		contents = append(contents, core.Content{Role: "tool", Parts: []core.Part{
			core.FunctionResponsePart{FunctionResponse: response},
		}})
	}
	return contents
}
