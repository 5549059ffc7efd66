package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/flanes-dev/flanes/pkg/flerr"
	"github.com/flanes-dev/flanes/pkg/log"
	"github.com/flanes-dev/flanes/pkg/repo"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "flanes",
	Short: "Flanes - a version-control substrate for autonomous coding agents",
	Long: `Flanes tracks an agent's working tree as content-addressed world
states, proposes changes as reviewable transitions, and promotes work
between lanes without textual merge.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"flanes version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("repo", ".", "Repository root directory")
	rootCmd.PersistentFlags().Bool("json", false, "Emit machine-readable JSON output")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(proposeCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(acceptCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(laneCmd)
	rootCmd.AddCommand(lanesCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(showCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

// openRepo opens the repository rooted at the --repo flag's value.
// Every command but `init` requires an already-initialized repository.
func openRepo(cmd *cobra.Command) (*repo.Repository, error) {
	root, _ := cmd.Flags().GetString("repo")
	return repo.Open(root)
}

func jsonRequested(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

// printResult renders v as pretty JSON when --json is set, otherwise
// delegates to human, which the caller supplies to print a friendlier
// text rendering.
func printResult(cmd *cobra.Command, v any, human func()) error {
	if jsonRequested(cmd) {
		body, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	}
	human()
	return nil
}

// exitCodeFor maps a returned error to spec.md §6's exit code
// convention: 0 success, 1 user error (validation), 2 conflict/stale,
// 3 I/O or integrity failure.
func exitCodeFor(err error) int {
	switch {
	case flerr.Is(err, flerr.Validation):
		return 1
	case flerr.Is(err, flerr.Conflict):
		return 2
	case flerr.Is(err, flerr.Integrity):
		return 3
	case flerr.Is(err, flerr.NotFound):
		return 1
	case flerr.Is(err, flerr.Limit):
		return 2
	case flerr.Is(err, flerr.Resource):
		return 3
	case flerr.Is(err, flerr.Recovery):
		return 2
	default:
		return 3
	}
}
