package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mlewis7127/licenceledger/internal/shared/infrastructure/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply ledger store migrations",
	Long: `Apply the schema for the configured ledger store.

Migrations are idempotent and also run whenever the application starts;
this command exists for deploy pipelines that migrate ahead of rollout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := RequireApp()
		if err != nil {
			return err
		}

		if err := migrations.Run(cmd.Context(), a.Container.DBConn); err != nil {
			return err
		}

		files, err := migrations.Files(a.Container.DBDriver)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Applied %d migrations (%s)\n", len(files), a.Container.DBDriver)
		for _, file := range files {
			fmt.Fprintf(out, "  %s\n", file)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
