package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mlewis7127/licenceledger/pkg/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the ledger store and cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := RequireApp()
		if err != nil {
			return err
		}

		health := a.Container.Health.GetOverallHealth(cmd.Context())
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "status: %s\n", health.Status)

		names := make([]string, 0, len(health.Checks))
		for name := range health.Checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			check := health.Checks[name]
			if check.Message != "" {
				fmt.Fprintf(out, "  %s: %s (%s)\n", name, check.Status, check.Message)
				continue
			}
			fmt.Fprintf(out, "  %s: %s\n", name, check.Status)
		}

		if health.Status == observability.HealthStatusUnhealthy {
			return fmt.Errorf("unhealthy")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
