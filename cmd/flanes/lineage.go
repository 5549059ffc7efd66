package main

import (
	"fmt"

	"github.com/flanes-dev/flanes/pkg/cas"
	"github.com/flanes-dev/flanes/pkg/types"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history [lane]",
	Short: "List transitions, optionally filtered by lane and status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lane := ""
		if len(args) == 1 {
			lane = args[0]
		}
		limit, _ := cmd.Flags().GetInt("limit")
		statusFlag, _ := cmd.Flags().GetString("status")

		var status *types.TransitionStatus
		if statusFlag != "" {
			s := types.TransitionStatus(statusFlag)
			status = &s
		}

		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		transitions, err := r.History(lane, limit, status)
		if err != nil {
			return err
		}
		return printResult(cmd, transitions, func() {
			for _, t := range transitions {
				fmt.Printf("%s\t%s\t%s\t%s -> %s\n", t.ID, t.Lane, t.Status, t.FromState, t.ToState)
			}
		})
	},
}

var traceCmd = &cobra.Command{
	Use:   "trace <state>",
	Short: "Walk a state's ancestry back to genesis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		entries, err := r.Trace(types.Hash(args[0]))
		if err != nil {
			return err
		}
		return printResult(cmd, entries, func() {
			for _, e := range entries {
				if e.Transition == nil {
					fmt.Printf("%s\t(genesis)\n", e.State)
					continue
				}
				fmt.Printf("%s\t%s\t%q\n", e.State, e.Transition.ID, e.Transition.Intent.Prompt)
			}
		})
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff <state-a> <state-b>",
	Short: "Tree-level diff between two states",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		result, err := r.Diff(types.Hash(args[0]), types.Hash(args[1]))
		if err != nil {
			return err
		}
		return printResult(cmd, result, func() {
			printDiff(result)
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Substring search across transition prompts, tags, and agent identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		matches, err := r.Search(args[0])
		if err != nil {
			return err
		}
		return printResult(cmd, matches, func() {
			for _, t := range matches {
				fmt.Printf("%s\t%s\t%q\n", t.ID, t.Lane, t.Intent.Prompt)
			}
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <state>",
	Short: "Show a state's root tree entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		state, err := r.CAS().GetState(types.Hash(args[0]))
		if err != nil {
			return err
		}
		flat, err := r.CAS().Flatten(state.RootTree)
		if err != nil {
			return err
		}
		return printResult(cmd, map[string]any{"state": state, "entries": flat}, func() {
			fmt.Printf("parent: %s\ncreated_at: %d\n", state.ParentID, state.CreatedAt)
			for path, entry := range flat {
				fmt.Printf("%s\t%s\t%s\n", path, entry.Kind, entry.Hash)
			}
		})
	},
}

func printDiff(result cas.DiffResult) {
	for path := range result.Added {
		fmt.Printf("+ %s\n", path)
	}
	for path := range result.Removed {
		fmt.Printf("- %s\n", path)
	}
	for path := range result.Modified {
		fmt.Printf("~ %s\n", path)
	}
}

func init() {
	historyCmd.Flags().Int("limit", 0, "Maximum number of transitions to return (0 = unlimited)")
	historyCmd.Flags().String("status", "", "Filter by transition status (proposed, evaluating, accepted, rejected)")
}
