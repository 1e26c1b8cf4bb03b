package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mlewis7127/licenceledger/pkg/observability"
)

var (
	verbose bool
	logger  *slog.Logger
)

// startedKey holds the time a command began running.
type startedKey struct{}

var rootCmd = &cobra.Command{
	Use:   "licenceledger",
	Short: "licenceledger - one licence per email, recorded in a ledger",
	Long: `licenceledger issues software licences against an append-only ledger.

Each email address holds at most one licence. The licence id is the
identifier the ledger assigns to the licence document, stamped back onto
the document in the same transaction that created it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		// Every event a command raises shares this correlation id.
		ctx = observability.WithCorrelationID(ctx, uuid.NewString())
		ctx = context.WithValue(ctx, startedKey{}, time.Now())
		cmd.SetContext(ctx)
		logCommand(ctx, "command start", "command", cmd.CommandPath())
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		started, ok := cmd.Context().Value(startedKey{}).(time.Time)
		if !ok {
			return
		}
		logCommand(cmd.Context(), "command end",
			"command", cmd.CommandPath(),
			observability.DurationKey, time.Since(started).Milliseconds(),
		)
	},
}

// logCommand logs lifecycle lines at info with --verbose, debug otherwise.
func logCommand(ctx context.Context, msg string, args ...any) {
	level := slog.LevelDebug
	if verbose {
		level = slog.LevelInfo
	}
	cliLogger().Log(ctx, level, msg, args...)
}

func cliLogger() *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ExecuteContext runs the root command with ctx. Cancelling ctx stops
// long-running commands such as serve.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// SetLogger sets the CLI logger.
func SetLogger(l *slog.Logger) {
	logger = l
}
