package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "epoch",
	Short: "epoch: resumable forecast cycle orchestrator",
	Long: `epoch runs one forecast cycle end to end: input ingest, the two ensemble
pipelines and the combine step, invoking the forecast executables in order.

Progress is persisted after every unit of work to the workspace ledgers and
mirrored into a restart snapshot, so re-running a failed cycle resumes where
it stopped. The scheduler is expected to call "epoch run" once per cycle.`,
	SilenceUsage: true,
}

// Execute runs the command tree. SIGINT and SIGTERM cancel the context, which
// stops a run before its next unit of work.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to epoch config file")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(configCmd)
}
