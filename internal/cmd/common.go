package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/ellwood/taskloom/internal/config"
	"github.com/ellwood/taskloom/internal/eventlog"
	"github.com/ellwood/taskloom/internal/store"
)

// loadConfig resolves the effective config from --config, then applies
// a --store override, matching the teacher's config-file-then-flags
// precedence in runCommand.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if storePath, _ := cmd.Flags().GetString("store"); storePath != "" {
		cfg.StorePath = storePath
	}
	return cfg, nil
}

// openStore loads config, opens and migrates the store, and returns both.
func openStore(ctx context.Context, cmd *cobra.Command) (*config.Config, *store.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	s, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, nil, err
	}
	return cfg, s, nil
}

func newLogger(cfg *config.Config) *eventlog.Logger {
	return eventlog.New(os.Stdout, cfg.LogLevel)
}
