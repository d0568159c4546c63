package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ellwood/taskloom/internal/store"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store's schema",
		Long:  `migrate opens the configured SQLite database and applies any pending schema migrations, creating the database file if it does not exist.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			s, err := store.Open(cfg.StorePath)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Migrate(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s\n", s.Path())
			return nil
		},
	}
}
