package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/model"
	"github.com/hupe1980/agenttree/search"
)

func newQueryCmd() *cobra.Command {
	var (
		nodeIndex  int
		trajectory bool
		thinking   bool
		question   string
		provider   string
		modelName  string
	)

	cmd := &cobra.Command{
		Use:   "query <checkpoint.json>",
		Short: "Inspect a search checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			minimal, err := search.LoadMinimalTree(args[0])
			if err != nil {
				return err
			}

			if question != "" {
				return askAboutTree(cmd, minimal, question, provider, modelName)
			}

			if nodeIndex < 0 {
				printTreeSummary(cmd, minimal)
				return nil
			}

			node, ok := minimal.Node(nodeIndex)
			if !ok {
				return fmt.Errorf("node %d not in tree (size %d)", nodeIndex, len(minimal.Nodes))
			}
			if trajectory {
				printMinimalTrajectory(cmd, minimal, node, thinking)
				return nil
			}
			printNode(cmd, node, thinking)
			return nil
		},
	}

	cmd.Flags().IntVar(&nodeIndex, "node", -1, "node index to inspect (default: whole-tree summary)")
	cmd.Flags().BoolVar(&trajectory, "trajectory", false, "print the root-to-node trajectory")
	cmd.Flags().BoolVar(&thinking, "thinking", false, "include retained reasoning text")
	cmd.Flags().StringVar(&question, "question", "", "ask a model a question about the search tree")
	cmd.Flags().StringVar(&provider, "provider", "openai", "model provider for --question")
	cmd.Flags().StringVar(&modelName, "model", "", "model name for --question")
	return cmd
}

// askAboutTree renders the tree and asks a model to answer a question about it.
func askAboutTree(cmd *cobra.Command, minimal *search.SearchTreeMinimal, question, provider, modelName string) error {
	llm, err := buildModel(provider, modelName)
	if err != nil {
		return err
	}

	var rendered strings.Builder
	renderTree(&rendered, minimal, true)

	resp, err := llm.Generate(cmd.Context(), model.Request{
		Instructions: "You are analyzing a recorded tree search over coding-agent trajectories. " +
			"Answer the user's question based only on the provided tree dump.",
		Contents: []core.Content{
			core.NewUserContent(fmt.Sprintf("Tree dump:\n%s\n\nQuestion: %s", rendered.String(), question)),
		},
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), resp.Content.Text())
	return nil
}

func printTreeSummary(cmd *cobra.Command, minimal *search.SearchTreeMinimal) {
	var b strings.Builder
	renderTree(&b, minimal, false)
	fmt.Fprint(cmd.OutOrStdout(), b.String())
}

// renderTree writes a depth-indented view of the arena. With detail set, the
// per-node observation messages are included so a model can reason about the
// run from the dump alone.
func renderTree(b *strings.Builder, minimal *search.SearchTreeMinimal, detail bool) {
	params := minimal.RunParameters
	fmt.Fprintf(b, "run %s: %d nodes, %d iterations", params.RunID, len(minimal.Nodes), params.Iterations)
	if params.Termination != search.TerminationNone {
		fmt.Fprintf(b, ", stopped: %s", params.Termination)
	}
	fmt.Fprintln(b)
	fmt.Fprintf(b, "problem: %s\n", firstLine(params.Problem.Statement))

	for _, n := range minimal.Nodes {
		indent := strings.Repeat("  ", n.Depth)
		label := "(root)"
		if n.Action != nil {
			label = n.Action.Name
		}
		status := ""
		if n.Observation != nil {
			switch {
			case n.Observation.IsError:
				status = " error"
			case n.Observation.IsTerminal:
				status = " finished"
			}
		}
		rewardStr := "-"
		if n.Reward != nil {
			rewardStr = fmt.Sprintf("%.0f", n.Reward.Value)
		}
		fmt.Fprintf(b, "%s[%d] %s reward=%s visits=%d%s\n", indent, n.Index, label, rewardStr, n.Visits, status)
		if detail && n.Observation != nil && n.Observation.Message != "" {
			fmt.Fprintf(b, "%s    %s\n", indent, firstLine(n.Observation.Message))
		}
	}
}

func printNode(cmd *cobra.Command, n *search.MinimalNode, thinking bool) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "node %d depth=%d visits=%d max_reward=%.1f\n", n.Index, n.Depth, n.Visits, n.MaxReward)
	if n.Action != nil {
		fmt.Fprintf(out, "action: %s %s\n", n.Action.Name, string(n.Action.Arguments))
	}
	if n.Reward != nil {
		fmt.Fprintf(out, "reward: %.1f %s\n", n.Reward.Value, n.Reward.Explanation)
	}
	if n.Observation != nil {
		fmt.Fprintf(out, "observation: %s\n", n.Observation.Message)
		if thinking && n.Observation.Thinking != "" {
			fmt.Fprintf(out, "thinking:\n%s\n", n.Observation.Thinking)
		}
	}
}

func printMinimalTrajectory(cmd *cobra.Command, minimal *search.SearchTreeMinimal, target *search.MinimalNode, thinking bool) {
	var path []*search.MinimalNode
	for n := target; n != nil && n.ParentIndex != nil; {
		path = append([]*search.MinimalNode{n}, path...)
		parent, ok := minimal.Node(*n.ParentIndex)
		if !ok {
			break
		}
		n = parent
	}

	out := cmd.OutOrStdout()
	for i, n := range path {
		label := "(root)"
		if n.Action != nil {
			label = n.Action.Name
		}
		fmt.Fprintf(out, "%2d. [%d] %s\n", i+1, n.Index, label)
		if n.Observation != nil {
			if thinking && n.Observation.Thinking != "" {
				fmt.Fprintf(out, "    thinking: %s\n", firstLine(n.Observation.Thinking))
			}
			fmt.Fprintf(out, "    %s\n", firstLine(n.Observation.Message))
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
