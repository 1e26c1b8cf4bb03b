package licence

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mlewis7127/licenceledger/adapter/cli"
	"github.com/mlewis7127/licenceledger/internal/licensing/application/commands"
)

var createCmd = &cobra.Command{
	Use:   "create [email]",
	Short: "Create a licence for an email address",
	Long: `Create a licence for an email address.

Fails if the email already holds a licence.

Examples:
  licenceledger licence create ann@example.com
  licenceledger licence create ann@example.com --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}

		result, err := app.CreateLicenceHandler.Handle(cmd.Context(), commands.CreateLicenceCommand{
			Email:  args[0],
			Source: "cli",
		})
		if err != nil {
			return fmt.Errorf("failed to create licence: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			return writeJSON(out, licenceOutput{LicenceID: result.LicenceID, Email: result.Email})
		}
		fmt.Fprintf(out, "Licence created: %s\n", result.LicenceID)
		fmt.Fprintf(out, "  email: %s\n", result.Email)
		return nil
	},
}
