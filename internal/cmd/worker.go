package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ellwood/taskloom/internal/runner"
	"github.com/ellwood/taskloom/internal/worker"
)

func newWorkerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the worker loop",
		Long: `worker repeatedly reconciles dependency state, claims the next
runnable subtask, and drives the configured runner command for it until
interrupted (SIGINT/SIGTERM) or its context is canceled.`,
		RunE: runWorker,
	}

	cmd.Flags().String("runner-cmd", "", "Override the runner command template from config")
	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, s, err := openStore(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	runnerCmd := cfg.RunnerCmd
	if override, _ := cmd.Flags().GetString("runner-cmd"); override != "" {
		runnerCmd = override
	}

	w := worker.New(s, worker.Config{
		PollInterval: cfg.PollInterval,
		RunnerCmd:    runner.Template(runnerCmd),
		LogDir:       cfg.LogDir,
	}, newLogger(cfg))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return w.Run(ctx)
}
