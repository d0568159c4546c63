package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ellwood/taskloom/internal/store"
)

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Long:  `list prints tasks from the store, most recently updated first, grounded on the original's orchestratorctl.py list subcommand.`,
		RunE:  runList,
	}

	cmd.Flags().String("status", "", "Only list tasks with this status")
	cmd.Flags().Int("limit", 100, "Maximum rows to print")
	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	_, s, err := openStore(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	tasks, err := store.ListTasks(cmd.Context(), s.DB(), status, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, t := range tasks {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%d/%d\t%d\n",
			t.ID, t.Kind, t.Routing, t.Status, t.Attempt, t.MaxAttempts, t.UpdatedAt)
	}
	return nil
}
