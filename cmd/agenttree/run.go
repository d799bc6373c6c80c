package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agenttree"
	"github.com/hupe1980/agenttree/logging"
	"github.com/hupe1980/agenttree/model"
	"github.com/hupe1980/agenttree/model/anthropic"
	"github.com/hupe1980/agenttree/model/openai"
	"github.com/hupe1980/agenttree/reward"
	"github.com/hupe1980/agenttree/search"
	"github.com/hupe1980/agenttree/workspace"
)

// runConfig is the YAML shape of a search run.
type runConfig struct {
	Problem search.Problem `yaml:"problem"`
	Limits  *search.Limits `yaml:"limits"`
	Model   struct {
		Provider string `yaml:"provider"`
		Name     string `yaml:"name"`
	} `yaml:"model"`
	// Judge switches reward estimation from the heuristic to an LLM judge
	// backed by the run model.
	Judge        bool     `yaml:"judge"`
	Tools        []string `yaml:"tools"`
	LogDirectory string   `yaml:"log_directory"`
	// Isolate clones the checkout per trajectory instead of running tools in
	// the root directory.
	Isolate   bool   `yaml:"isolate"`
	CloneRoot string `yaml:"clone_root"`
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		resumePath string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a trajectory search described by a YAML config",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			var cfg runConfig
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return fmt.Errorf("parse config: %w", err)
			}

			level := logging.LogLevelInfo
			if verbose {
				level = logging.LogLevelDebug
			}
			logger := logging.NewLogger(&logging.LoggerConfig{
				Level:     level,
				Format:    "text",
				Output:    os.Stderr,
				Component: "search",
			})

			llm, err := buildModel(cfg.Model.Provider, cfg.Model.Name)
			if err != nil {
				return err
			}

			var ws *workspace.Workspace
			if cfg.Isolate {
				ws, err = workspace.New(cfg.Problem.RootDirectory, cfg.Problem.RepoName, cfg.Problem.BaseCommitHash,
					func(o *workspace.Options) {
						if cfg.CloneRoot != "" {
							o.CloneRoot = cfg.CloneRoot
						}
						o.Logger = logger
					})
				if err != nil {
					return fmt.Errorf("workspace: %w", err)
				}
			}

			configure := func(o *agenttree.Options) {
				if cfg.Limits != nil {
					o.Limits = *cfg.Limits
				}
				o.Tools = cfg.Tools
				o.LogDirectory = cfg.LogDirectory
				o.Workspace = ws
				o.Logger = logger
				if cfg.Judge {
					o.Estimator = reward.NewJudge(llm)
				}
			}

			var tree *search.SearchTree
			if resumePath != "" {
				tree, err = agenttree.Resume(resumePath, llm, configure)
			} else {
				tree, err = agenttree.New(cfg.Problem, llm, configure)
			}
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			best := tree.RunSearch(ctx)
			printRunResult(cmd, tree, best)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "agenttree.yaml", "path to the run config")
	cmd.Flags().StringVar(&resumePath, "resume", "", "resume from a checkpoint file instead of starting fresh")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func buildModel(provider, name string) (model.Model, error) {
	switch provider {
	case "openai", "":
		return openai.NewModel(func(o *openai.Options) {
			if name != "" {
				o.Model = name
			}
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if name != "" {
				o.Model = anthropicsdk.Model(name)
			}
		}), nil
	case "mock":
		return model.NewMockModel("mock"), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", provider)
	}
}

func printRunResult(cmd *cobra.Command, tree *search.SearchTree, best []search.TrajectoryStep) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s stopped: %s (%d iterations, %d nodes, %d finished)\n",
		tree.RunID(), tree.TerminationReason(), tree.Iterations(), tree.Len(), len(tree.FinishedNodes()))

	if len(best) == 0 {
		fmt.Fprintln(out, "no finished trajectory")
		return
	}

	fmt.Fprintln(out, "best trajectory:")
	for i, step := range best {
		summary := ""
		if step.Observation != nil {
			summary = step.Observation.Summary
		}
		fmt.Fprintf(out, "  %2d. [%d] %s %s\n", i+1, step.Index, step.Action.Name, summary)
	}

	last := best[len(best)-1]
	if updates := tree.AccumulatedFileUpdates(last.Index); len(updates) > 0 {
		fmt.Fprintln(out, "file updates:")
		for path := range updates {
			fmt.Fprintf(out, "  %s\n", path)
		}
	}
}
