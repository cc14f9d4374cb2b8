package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events [cycle]",
	Short: "Show recent run journal events, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Journal.DSN == "" {
			return errors.New("journal.dsn is not configured")
		}
		jr, err := openJournal(cmd.Context(), cfg.Journal)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer jr.Close()

		var cycle string
		if len(args) > 0 {
			cycle = args[0]
		}
		limit, _ := cmd.Flags().GetInt("limit")
		events, err := jr.Recent(cmd.Context(), cycle, limit)
		if err != nil {
			return fmt.Errorf("query journal: %w", err)
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, events)
		}
		if len(events) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No events found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tCYCLE\tSTAGE\tEVENT\tDETAIL")
		for _, e := range events {
			detail := e.Detail
			if len(detail) > 60 {
				detail = detail[:57] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				e.At.Format("2006-01-02 15:04:05"), e.Cycle, orNone(e.Stage), e.Event, detail)
		}
		return w.Flush()
	},
}

func init() {
	eventsCmd.Flags().Int("limit", 50, "Maximum number of events")
	eventsCmd.Flags().String("format", "text", "Output format: text or json")
}
