package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/epochctl/internal/inputs"
)

var statusCmd = &cobra.Command{
	Use:   "status [cycle]",
	Short: "Show stage progress and ledger sizes for a cycle",
	Args:  cobra.MaximumNArgs(1),
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

		st, err := orch.Inspect(c)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, st)
		}

		w := cmd.OutOrStdout()
		current := st.CurrentCycle
		if current == "" {
			current = "(idle)"
		}
		fmt.Fprintf(w, "Cycle:          %s\n", st.Cycle)
		fmt.Fprintf(w, "Partial cycle:  %s\n", current)
		fmt.Fprintf(w, "Last completed: %s\n", orNone(st.LastCompleted))
		fmt.Fprintf(w, "In progress:    %s\n", orNone(st.InProgress))
		fmt.Fprintf(w, "Crash pending:  %t\n", st.CrashPending)
		if r := st.LastRun; r != nil {
			outcome := "succeeded"
			if !r.Succeeded {
				outcome = "failed: " + r.Error
			}
			fmt.Fprintf(w, "Last run:       %s %s\n", r.FinishedAt.Format("2006-01-02 15:04:05"), outcome)
		}
		if st.GFSPartial != "" {
			fmt.Fprintf(w, "GFS:            %s after %s\n", st.GFSPartial, orNone(st.GFSLastDone))
		}
		fmt.Fprintln(w)

		fmt.Fprintf(w, "%-6s %-12s %-22s %-9s %s\n", "MODEL", "PARTIAL", "LAST DONE", "FINISHED", "THRESHOLDED")
		fmt.Fprintf(w, "%-6s %-12s %-22s %-9s %s\n",
			strings.Repeat("-", 6),
			strings.Repeat("-", 12),
			strings.Repeat("-", 22),
			strings.Repeat("-", 9),
			strings.Repeat("-", 11))
		for _, e := range st.Ensembles {
			fmt.Fprintf(w, "%-6s %-12s %-22s %-9d %d\n",
				e.Model, orNone(e.Partial), orNone(e.LastDone), len(e.Finished), len(e.Thresholded))
		}
		fmt.Fprintln(w)

		for _, s := range inputs.Streams {
			fmt.Fprintf(w, "%-12s %d entries\n", s, st.Inputs[s])
		}
		return nil
	},
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	statusCmd.Flags().String("format", "text", "Output format: text or json")
}
