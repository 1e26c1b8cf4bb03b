package licence

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mlewis7127/licenceledger/adapter/cli"
	"github.com/mlewis7127/licenceledger/internal/licensing/application/queries"
)

var getCmd = &cobra.Command{
	Use:   "get [email]",
	Short: "Show the licence held by an email address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}

		licence, err := app.GetLicenceHandler.Handle(cmd.Context(), queries.GetLicenceQuery{Email: args[0]})
		if err != nil {
			return fmt.Errorf("failed to get licence: %w", err)
		}

		out := cmd.OutOrStdout()
		if outputJSON {
			return writeJSON(out, licenceOutput{LicenceID: licence.LicenceID, Email: licence.Email})
		}
		fmt.Fprintf(out, "Licence: %s\n", licence.LicenceID)
		fmt.Fprintf(out, "  email: %s\n", licence.Email)
		return nil
	},
}
