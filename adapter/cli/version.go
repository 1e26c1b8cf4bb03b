package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Overridden with -ldflags "-X .../adapter/cli.Version=..." in release builds.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if versionShort {
			fmt.Fprintln(out, Version)
			return
		}
		commit, built := buildStamp()
		fmt.Fprintf(out, "licenceledger %s\n", Version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", built)
		fmt.Fprintf(out, "  go:     %s\n", runtime.Version())
	},
}

// buildStamp falls back to the VCS settings the toolchain embeds when the
// binary was built without ldflags.
func buildStamp() (commit, built string) {
	commit, built = Commit, BuildDate
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, built
	}
	for _, s := range info.Settings {
		switch {
		case s.Key == "vcs.revision" && commit == "none":
			commit = s.Value
		case s.Key == "vcs.time" && built == "unknown":
			built = s.Value
		}
	}
	return commit, built
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print the version only")
	rootCmd.AddCommand(versionCmd)
}
