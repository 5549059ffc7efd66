package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var promoteCmd = &cobra.Command{
	Use:   "promote <workspace> <target-lane>",
	Short: "Compose a workspace's changes onto a target lane without textual merge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		result, err := r.Promote(args[0], args[1], force)
		if err != nil {
			if len(result.Conflicts) == 0 {
				return err
			}
			_ = printResult(cmd, map[string]any{"conflicts": result.Conflicts}, func() {
				fmt.Println("promote refused: conflicting paths")
				for _, c := range result.Conflicts {
					fmt.Printf("  %s\t%s vs %s\n", c.Path, c.SourceSide, c.TargetSide)
				}
				fmt.Println("re-run with --force to overwrite conflicting paths with the source's content")
			})
			return err
		}

		return printResult(cmd, result, func() {
			fmt.Printf("promoted to %s: transition %s (%s -> %s)\n", args[1], result.Transition.ID, result.Transition.FromState, result.Transition.ToState)
			if len(result.Conflicts) > 0 {
				fmt.Printf("%d conflicting path(s) overwritten by --force\n", len(result.Conflicts))
			}
		})
	},
}

func init() {
	promoteCmd.Flags().Bool("force", false, "Overwrite conflicting paths with the source workspace's content")
}
