package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/epochctl/internal/ensemble"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill [cycle]",
	Short: "Rerun threshold updates for recently observed hours",
	Long: fmt.Sprintf(`Rescans the %d days before the cycle every six hours. Each hour with both
CMORPH and LIR inputs gets a threshold update for the ensemble runs it
completes. Use after a gap in observations has been filled.`, ensemble.BackfillDays),
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

		hours, err := orch.Backfill(cmd.Context(), c)
		for _, h := range hours {
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", h)
		}
		if err != nil {
			return err
		}
		if len(hours) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No observed hours to backfill.")
		}
		return nil
	},
}
