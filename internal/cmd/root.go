// Package cmd wires the cobra command tree for taskloom, the same
// subcommand-per-file layout as the teacher's internal/cmd (root.go
// plus one file per verb).
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root cobra command for taskloom.
func NewRootCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taskloom",
		Short: "Durable task orchestrator for agent-driven software work",
		Long: `taskloom enqueues a plan of interdependent subtasks, runs a worker
loop that claims runnable subtasks and drives an agent command for each,
classifies failures, applies a retry policy, and tracks pull request and
CI state for work done in git worktrees.

State lives in a single SQLite database; enqueue, reconciliation, and
every worker state change run inside a BEGIN IMMEDIATE transaction so
multiple worker processes can share one store safely. The monitor writes
its branch/PR/CI columns with single autocommit UPDATE statements, not
inside BEGIN IMMEDIATE.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default: none, built-in defaults apply)")
	cmd.PersistentFlags().String("store", "", "Path to the SQLite database (overrides config)")

	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newEnqueueCommand())
	cmd.AddCommand(newWorkerCommand())
	cmd.AddCommand(newMonitorCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newReportCommand())

	return cmd
}
