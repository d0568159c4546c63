package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ellwood/taskloom/internal/queue"
	"github.com/ellwood/taskloom/internal/validator"
)

func newEnqueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue --plan <file>",
		Short: "Validate and enqueue a plan",
		Long: `enqueue reads a plan.json file, validates its subtask graph, and
inserts the plan and its subtasks into the store. Re-running with the
same --idempotency value returns the existing plan id instead of
inserting a duplicate, grounded on the original's enqueue_plan.`,
		RunE: runEnqueue,
	}

	cmd.Flags().String("plan", "", "Path to a plan JSON file")
	cmd.Flags().String("idempotency", "", "Idempotency key; repeated enqueues with the same key are no-ops")
	cmd.Flags().Int("max-attempts", 3, "Max attempts for every task row of the plan (default: the config's max_attempts)")
	cmd.MarkFlagRequired("plan")

	return cmd
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	planPath, _ := cmd.Flags().GetString("plan")
	idempotencyKey, _ := cmd.Flags().GetString("idempotency")
	maxAttempts, _ := cmd.Flags().GetInt("max-attempts")

	raw, err := os.ReadFile(planPath)
	if err != nil {
		return fmt.Errorf("read plan file: %w", err)
	}

	var plan validator.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return fmt.Errorf("parse plan file: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("max-attempts") {
		maxAttempts = cfg.MaxAttempts
	}

	if err := validator.Validate(plan, validator.Options{MaxPromptChars: cfg.MaxPromptChars}); err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}

	_, s, err := openStore(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	planID, err := queue.Enqueue(cmd.Context(), s, plan, idempotencyKey, maxAttempts)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), planID)
	return nil
}
