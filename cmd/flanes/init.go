package main

import (
	"fmt"

	"github.com/flanes-dev/flanes/pkg/config"
	"github.com/flanes-dev/flanes/pkg/gc"
	"github.com/flanes-dev/flanes/pkg/repo"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, _ := cmd.Flags().GetString("repo")
		defaultLane, _ := cmd.Flags().GetString("default-lane")

		cfg := config.Default()
		if defaultLane != "" {
			cfg.DefaultLane = defaultLane
		}

		r, err := repo.Init(root, cfg)
		if err != nil {
			return err
		}
		defer r.Close()

		return printResult(cmd, map[string]any{"root": root, "default_lane": cfg.DefaultLane}, func() {
			fmt.Printf("Initialized flanes repository in %s (default lane %q)\n", root, cfg.DefaultLane)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the main workspace's lane, head state, and dirty status",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		ws, err := r.Workspace().Get("main")
		if err != nil {
			return err
		}
		lane, err := r.Ledger().GetLane(ws.Lane)
		if err != nil {
			return err
		}
		dirty, _, err := r.Workspace().IsDirty("main")
		if err != nil {
			return err
		}

		status := map[string]any{
			"lane":       lane.Name,
			"head_state": lane.HeadState,
			"base_state": ws.BaseState,
			"dirty":      dirty,
		}
		return printResult(cmd, status, func() {
			fmt.Printf("lane: %s\nhead: %s\nbase: %s\ndirty: %v\n", lane.Name, lane.HeadState, ws.BaseState, dirty)
		})
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show repository configuration and lane summary",
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
		info := map[string]any{
			"root":   r.Root(),
			"config": r.Config(),
			"lanes":  lanes,
		}
		return printResult(cmd, info, func() {
			fmt.Printf("root: %s\nversion: %s\ndefault_lane: %s\nlanes: %d\n", r.Root(), r.Config().Version, r.Config().DefaultLane, len(lanes))
		})
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run a read-only integrity sweep over the repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		report, err := r.Doctor()
		if err != nil {
			return err
		}
		return printResult(cmd, report, func() {
			fmt.Printf("orphaned spill files: %d\n", len(report.OrphanedSpillFiles))
			fmt.Printf("dangling stat-cache rows: %d\n", report.DanglingStatCache)
			fmt.Printf("dirty workspaces: %v\n", report.DirtyWorkspaces)
			fmt.Printf("lanes missing head: %v\n", report.LanesMissingHead)
			fmt.Printf("instance lock healthy: %v\n", report.InstanceLockHealthy)
		})
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Run the garbage collector (mark/sweep); dry-run by default",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer r.Close()

		sweep, _ := cmd.Flags().GetBool("sweep")
		maxAgeDays, _ := cmd.Flags().GetInt("max-age-days")

		report, err := r.RunGC(gc.Options{DryRun: !sweep, MaxAgeDays: maxAgeDays})
		if err != nil {
			return err
		}
		return printResult(cmd, report, func() {
			fmt.Printf("reachable: %d  deleted_objects: %d  deleted_bytes: %d  deleted_states: %d  deleted_transitions: %d  pruned_cache: %d  dry_run: %v\n",
				report.Reachable, report.DeletedObjects, report.DeletedBytes, report.DeletedStates, report.DeletedTransitions, report.PrunedCache, report.DryRun)
		})
	},
}

func init() {
	initCmd.Flags().String("default-lane", "main", "Name of the default lane to create")

	gcCmd.Flags().Bool("sweep", false, "Actually delete unreachable objects (default is dry-run)")
	gcCmd.Flags().Int("max-age-days", gc.DefaultMaxAgeDays, "Age in days before a rejected transition is swept")
}
