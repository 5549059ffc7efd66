package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "List, create, remove, or update workspaces",
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all workspaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		workspaces, err := r.Workspace().List()
		if err != nil {
			return err
		}
		return printResult(cmd, workspaces, func() {
			for _, ws := range workspaces {
				fmt.Printf("%s\tlane=%s\tstatus=%s\n", ws.Name, ws.Lane, ws.Status)
			}
		})
	},
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create <name> <lane>",
	Short: "Create a workspace tracking lane, materialized at the lane's head",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, _ := cmd.Flags().GetString("agent-id")

		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		lane, err := r.Ledger().GetLane(args[1])
		if err != nil {
			return err
		}
		ws, err := r.Workspace().Create(args[0], args[1], lane.HeadState, agentID)
		if err != nil {
			return err
		}
		if err := r.Workspace().Materialize(args[0], lane.HeadState); err != nil {
			return err
		}
		return printResult(cmd, ws, func() {
			fmt.Printf("created workspace %s on lane %s\n", ws.Name, ws.Lane)
		})
	},
}

var workspaceRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a workspace (the main workspace cannot be removed)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		if err := r.Workspace().Delete(args[0]); err != nil {
			return err
		}
		return printResult(cmd, map[string]any{"removed": args[0]}, func() {
			fmt.Printf("removed workspace %s\n", args[0])
		})
	},
}

var workspaceUpdateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Reconcile a workspace's directory onto its lane's current head",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		ws, err := r.Workspace().Get(args[0])
		if err != nil {
			return err
		}
		lane, err := r.Ledger().GetLane(ws.Lane)
		if err != nil {
			return err
		}
		if err := r.Workspace().Update(args[0], lane.HeadState); err != nil {
			return err
		}
		return printResult(cmd, map[string]any{"workspace": args[0], "state": lane.HeadState}, func() {
			fmt.Printf("updated %s to %s\n", args[0], lane.HeadState)
		})
	},
}

func init() {
	workspaceCmd.AddCommand(workspaceListCmd)
	workspaceCmd.AddCommand(workspaceCreateCmd)
	workspaceCmd.AddCommand(workspaceRemoveCmd)
	workspaceCmd.AddCommand(workspaceUpdateCmd)
	workspaceCreateCmd.Flags().String("agent-id", "", "Identifier of the agent owning this workspace")
}
