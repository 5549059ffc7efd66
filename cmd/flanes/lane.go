package main

import (
	"fmt"

	"github.com/flanes-dev/flanes/pkg/types"
	"github.com/spf13/cobra"
)

var laneCmd = &cobra.Command{
	Use:   "lane",
	Short: "Create or delete lanes",
}

var laneCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new lane, optionally forked from an existing one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		forkFrom, _ := cmd.Flags().GetString("fork-from")

		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		var head types.Hash
		if forkFrom != "" {
			source, err := r.Ledger().GetLane(forkFrom)
			if err != nil {
				return err
			}
			head = source.HeadState
		}
		if err := r.Ledger().CreateLane(args[0], head, head); err != nil {
			return err
		}
		return printResult(cmd, map[string]any{"lane": args[0], "head_state": head}, func() {
			fmt.Printf("created lane %s\n", args[0])
		})
	},
}

var laneDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a lane",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		if err := r.Ledger().DeleteLane(args[0]); err != nil {
			return err
		}
		return printResult(cmd, map[string]any{"deleted": args[0]}, func() {
			fmt.Printf("deleted lane %s\n", args[0])
		})
	},
}

var lanesCmd = &cobra.Command{
	Use:   "lanes",
	Short: "List all lanes",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		lanes, err := r.Ledger().ListLanes()
		if err != nil {
			return err
		}
		return printResult(cmd, lanes, func() {
			for _, lane := range lanes {
				fmt.Printf("%s\thead=%s\n", lane.Name, lane.HeadState)
			}
		})
	},
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show or set a lane's budget limits",
}

var budgetShowCmd = &cobra.Command{
	Use:   "show <lane>",
	Short: "Show a lane's configured budget limits and aggregated spend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		limits, err := r.GetBudget(args[0])
		if err != nil {
			return err
		}
		spent, err := r.AggregateCost(args[0])
		if err != nil {
			return err
		}
		return printResult(cmd, map[string]any{"limits": limits, "spent": spent}, func() {
			fmt.Printf("limits: %+v\nspent:  %+v\n", limits, spent)
		})
	},
}

var budgetSetCmd = &cobra.Command{
	Use:   "set <lane>",
	Short: "Set a lane's budget limits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tokensIn, _ := cmd.Flags().GetInt64("tokens-in")
		tokensOut, _ := cmd.Flags().GetInt64("tokens-out")
		apiCalls, _ := cmd.Flags().GetInt64("api-calls")
		wallTimeMs, _ := cmd.Flags().GetInt64("wall-time-ms")
		alertPercent, _ := cmd.Flags().GetInt("alert-percent")

		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		limits := types.BudgetLimits{
			TokensIn:     tokensIn,
			TokensOut:    tokensOut,
			APICalls:     apiCalls,
			WallTimeMs:   wallTimeMs,
			AlertPercent: alertPercent,
		}
		if err := r.SetBudget(args[0], limits); err != nil {
			return err
		}
		return printResult(cmd, limits, func() {
			fmt.Printf("set budget for %s: %+v\n", args[0], limits)
		})
	},
}

func init() {
	laneCmd.AddCommand(laneCreateCmd)
	laneCmd.AddCommand(laneDeleteCmd)
	laneCreateCmd.Flags().String("fork-from", "", "Lane to fork the new lane's head state from")

	budgetCmd.AddCommand(budgetShowCmd)
	budgetCmd.AddCommand(budgetSetCmd)
	budgetSetCmd.Flags().Int64("tokens-in", 0, "Token-in limit (0 = no limit)")
	budgetSetCmd.Flags().Int64("tokens-out", 0, "Token-out limit (0 = no limit)")
	budgetSetCmd.Flags().Int64("api-calls", 0, "API call limit (0 = no limit)")
	budgetSetCmd.Flags().Int64("wall-time-ms", 0, "Wall-time limit in milliseconds (0 = no limit)")
	budgetSetCmd.Flags().Int("alert-percent", 0, "Percentage of a limit that triggers a warning")
}
