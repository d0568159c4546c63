package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ellwood/taskloom/internal/report"
)

func newReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <plan-id>",
		Short: "Render an HTML status digest for a plan",
		Long:  `report renders a plan's current status, its subtasks, and each subtask's event log as an HTML page.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runReport,
	}

	cmd.Flags().String("out", "", "Write the digest to this file instead of stdout")
	return cmd
}

func runReport(cmd *cobra.Command, args []string) error {
	_, s, err := openStore(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	html, err := report.New().Render(cmd.Context(), s.DB(), args[0])
	if err != nil {
		return err
	}

	outPath, _ := cmd.Flags().GetString("out")
	if outPath == "" {
		fmt.Fprintln(cmd.OutOrStdout(), html)
		return nil
	}
	return os.WriteFile(outPath, []byte(html), 0o644)
}
