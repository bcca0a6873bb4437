package cmd

import (
	"github.com/spf13/cobra"

	"github.com/atelierhq/atelier/internal/config"
	"github.com/atelierhq/atelier/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := database.Migrate(cfg.Storage.DSN()); err != nil {
			return err
		}
		cmd.Println("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
