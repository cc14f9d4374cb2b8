package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/epochctl/internal/config"
	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/journal"
	"github.com/lucasnoah/epochctl/internal/notify"
	"github.com/lucasnoah/epochctl/internal/observability"
	"github.com/lucasnoah/epochctl/internal/orchestrator"
)

// newOrchestrator loads and validates the config and wires the run
// collaborators. The returned cleanup closes the journal and notifier.
func newOrchestrator(cmd *cobra.Command) (*orchestrator.Orchestrator, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := config.Check(cfg); err != nil {
		return nil, nil, err
	}

	logger := observability.NewLogger(cfg.Log, cmd.ErrOrStderr())
	jr, err := openJournal(cmd.Context(), cfg.Journal)
	if err != nil {
		logger.Warn("run journal unavailable, continuing without it", "error", err)
		jr = journal.Nop{}
	}
	notifier := notify.New(cfg.Notify, logger)

	orch := orchestrator.New(orchestrator.Options{
		Config:   cfg,
		Journal:  jr,
		Notifier: notifier,
		Metrics:  observability.NewMetrics(),
		Logger:   logger,
	})
	cleanup := func() {
		if err := notifier.Close(); err != nil {
			logger.Warn("closing notifier", "error", err)
		}
		jr.Close()
	}
	return orch, cleanup, nil
}

// openJournal connects to the configured journal, or returns a no-op one
// when no DSN is set.
func openJournal(ctx context.Context, cfg config.Journal) (journal.Journal, error) {
	if cfg.DSN == "" {
		return journal.Nop{}, nil
	}
	return journal.Open(ctx, cfg.DSN)
}

// cycleArg returns the cycle named on the command line, falling back to
// $PDY$cyc as set by the operational scheduler.
func cycleArg(args []string) (cycle.ID, error) {
	if len(args) > 0 {
		return cycle.Parse(args[0])
	}
	pdy, cyc := os.Getenv("PDY"), os.Getenv("cyc")
	if pdy == "" || cyc == "" {
		return "", fmt.Errorf("no cycle given and PDY/cyc not set")
	}
	return cycle.Parse(pdy + cyc)
}

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

