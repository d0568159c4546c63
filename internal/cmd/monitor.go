package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ellwood/taskloom/internal/monitor"
)

func newMonitorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Discover pull request and CI state for worktree subtasks",
		Long: `monitor runs one discovery pass over subtasks that ran in a git
worktree, resolving each one's branch, pull request, and aggregated CI
check state via the gh CLI and writing the result back to the store.`,
		RunE: runMonitor,
	}

	cmd.Flags().String("task", "", "Only check this subtask id (default: all worktree subtasks)")
	return cmd
}

func runMonitor(cmd *cobra.Command, args []string) error {
	_, s, err := openStore(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	taskID, _ := cmd.Flags().GetString("task")

	updated, err := monitor.New().Once(cmd.Context(), s.DB(), taskID)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "updated %d task(s)\n", updated)
	return nil
}
