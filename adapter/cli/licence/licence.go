package licence

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

var outputJSON bool

// Cmd is the licence command group
var Cmd = &cobra.Command{
	Use:   "licence",
	Short: "Issue and look up licences",
	Long: `Issue and look up licences.

Each email address holds at most one licence. Emails are trimmed but
otherwise compared exactly as entered.`,
}

func init() {
	Cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print the licence as JSON")
	Cmd.AddCommand(createCmd)
	Cmd.AddCommand(getCmd)
}

type licenceOutput struct {
	LicenceID string `json:"licenceId"`
	Email     string `json:"email"`
}

func writeJSON(w io.Writer, v licenceOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
