package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [cycle]",
	Short: "Run or resume one forecast cycle",
	Long: `Runs the cycle YYYYMMDDHH (default $PDY$cyc) through every stage that
applies at its hour:
  - INPUT-INGEST: CMORPH2, GFS and LIR conversion, threshold updates
  - ENSEMBLE-A: CMCE, 00Z and 12Z only
  - ENSEMBLE-B: GEFS
  - COMBINE: combined products and GRIB2 output

A restart snapshot left by a failed run is restored first and completed
stages are skipped. A failed stage exits non-zero and keeps the snapshot.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := cycleArg(args)
		if err != nil {
			return err
		}

		orch, cleanup, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if progress, _ := cmd.Flags().GetBool("progress"); progress {
			orch.SetProgress(cmd.ErrOrStderr())
		}

		result, runErr := orch.Run(cmd.Context(), c)

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			if err := writeJSON(cmd, result); err != nil {
				return err
			}
			return runErr
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STAGE\tACTION\tDURATION\tMESSAGE")
		for _, s := range result.Stages {
			msg := s.Message
			if len(msg) > 60 {
				msg = msg[:57] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%dms\t%s\n", s.Stage, s.Action, s.DurationMs, msg)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if result.Succeeded {
			fmt.Fprintf(cmd.OutOrStdout(), "Cycle %s complete (%d products).\n", result.Cycle, result.Products)
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().Bool("progress", false, "Print stage progress to stderr")
	runCmd.Flags().String("format", "text", "Output format: text or json")
}
