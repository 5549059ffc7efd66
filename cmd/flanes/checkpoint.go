package main

import (
	"context"
	"fmt"

	"github.com/flanes-dev/flanes/pkg/config"
	"github.com/flanes-dev/flanes/pkg/evaluate"
	"github.com/flanes-dev/flanes/pkg/types"
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [workspace]",
	Short: "Preview the state a checkpoint would produce, without proposing it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws := workspaceArg(args)
		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		descriptor, err := r.Workspace().Get(ws)
		if err != nil {
			return err
		}
		lane, err := r.Ledger().GetLane(descriptor.Lane)
		if err != nil {
			return err
		}
		childState, err := r.Workspace().Snapshot(ws, lane.HeadState)
		if err != nil {
			return err
		}
		if childState == lane.HeadState {
			return printResult(cmd, map[string]any{"no_change": true}, func() {
				fmt.Println("no change")
			})
		}
		diff, err := r.Diff(lane.HeadState, childState)
		if err != nil {
			return err
		}
		return printResult(cmd, map[string]any{"state": childState, "diff": diff}, func() {
			fmt.Printf("would-be state: %s\n", childState)
			printDiff(diff)
		})
	},
}

var proposeCmd = &cobra.Command{
	Use:   "propose [workspace]",
	Short: "Snapshot a workspace and propose a transition without accepting it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheckpoint(cmd, args, false)
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit [workspace]",
	Short: "Snapshot, propose, evaluate, and accept or reject in one step",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheckpoint(cmd, args, true)
	},
}

func runCheckpoint(cmd *cobra.Command, args []string, autoAccept bool) error {
	ws := workspaceArg(args)
	prompt, _ := cmd.Flags().GetString("prompt")
	agentID, _ := cmd.Flags().GetString("agent-id")
	tags, _ := cmd.Flags().GetStringSlice("tag")

	r, err := openRepo(cmd)
	if err != nil {
		return err
	}
	defer r.Close()

	evaluators := evaluatorsFromConfig(r.Config())

	result, err := r.Checkpoint(context.Background(), ws, types.Intent{
		Prompt:  prompt,
		AgentID: agentID,
		Tags:    tags,
	}, autoAccept, evaluators)
	if err != nil {
		return err
	}

	return printResult(cmd, result, func() {
		if result.NoChange {
			fmt.Println("no change")
			return
		}
		fmt.Printf("transition %s: %s (%s -> %s)\n", result.Transition.ID, result.Transition.Status, result.Transition.FromState, result.Transition.ToState)
		for _, w := range result.BudgetWarnings {
			fmt.Printf("budget warning: %s crossed its alert threshold\n", w)
		}
	})
}

var acceptCmd = &cobra.Command{
	Use:   "accept <transition-id>",
	Short: "Accept a proposed transition, advancing its lane head",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		if err := r.Accept(args[0]); err != nil {
			return err
		}
		return printResult(cmd, map[string]any{"accepted": args[0]}, func() {
			fmt.Printf("accepted %s\n", args[0])
		})
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <transition-id>",
	Short: "Reject a proposed transition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		if err := r.Reject(args[0], nil); err != nil {
			return err
		}
		return printResult(cmd, map[string]any{"rejected": args[0]}, func() {
			fmt.Printf("rejected %s\n", args[0])
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <lane> <state>",
	Short: "Repoint a lane's head directly at a historical state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		if err := r.Restore(args[0], types.Hash(args[1])); err != nil {
			return err
		}
		return printResult(cmd, map[string]any{"lane": args[0], "state": args[1]}, func() {
			fmt.Printf("restored %s to %s\n", args[0], args[1])
		})
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [workspace]",
	Short: "Run configured evaluators against a workspace without checkpointing",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws := workspaceArg(args)
		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		evaluators := evaluatorsFromConfig(r.Config())
		summary := evaluate.Run(context.Background(), r.Workspace().Dir(ws), evaluators)
		return printResult(cmd, summary, func() {
			for _, res := range summary.Results {
				fmt.Printf("%s: passed=%v required=%v\n", res.Name, res.Passed, res.Required)
			}
			fmt.Printf("required failed: %v\n", summary.RequiredFailed())
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{proposeCmd, commitCmd} {
		c.Flags().String("prompt", "", "Intent prompt describing the change")
		c.Flags().String("agent-id", "", "Identifier of the agent producing this change")
		c.Flags().StringSlice("tag", nil, "Tag to attach to this transition (repeatable)")
	}
}

func workspaceArg(args []string) string {
	if len(args) == 0 {
		return "main"
	}
	return args[0]
}

func evaluatorsFromConfig(cfg *config.Config) []evaluate.Evaluator {
	evaluators := make([]evaluate.Evaluator, 0, len(cfg.Evaluators))
	for _, spec := range cfg.Evaluators {
		evaluators = append(evaluators, evaluate.NewExecEvaluator(spec))
	}
	return evaluators
}
