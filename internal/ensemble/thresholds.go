package ensemble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucasnoah/epochctl/internal/config"
	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/retention"
	"github.com/lucasnoah/epochctl/internal/runner"
	"github.com/lucasnoah/epochctl/internal/state"
)

// BackfillDays is how far back Backfill rescans for threshold updates.
const BackfillDays = 4

// ObservationChecker reports whether an hour has both observation inputs.
type ObservationChecker interface {
	Observed(hour cycle.ID) bool
}

// Thresholds runs threshold updates for finished ensemble runs whose whole
// forecast horizon has been observed.
type Thresholds struct {
	cfg     *config.Config
	maxLead time.Duration
	state   *state.Tracker
	exec    runner.Executor
	logger  *slog.Logger
}

// NewThresholds creates the updater.
func NewThresholds(d Deps) *Thresholds {
	d.defaults()
	return &Thresholds{
		cfg:     d.Config,
		maxLead: retention.NewPolicy(d.Config.Retention).MaxEnsembleLead(),
		state:   d.State,
		exec:    d.Exec,
		logger:  d.Logger.With("component", "thresholds"),
	}
}

// Update runs the threshold commands for every finished run, of both
// ensembles, that is eligible at hour. Each run is marked thresholded as
// soon as its commands succeed; the processed runs then leave the finished
// set.
func (t *Thresholds) Update(ctx context.Context, hour cycle.ID) error {
	for _, e := range state.Ensembles {
		eligible := t.state.Machine().EligibleForThresholds(e, hour, t.maxLead)
		var done []cycle.ID
		for _, run := range eligible {
			if err := ctx.Err(); err != nil {
				return err
			}
			t.logger.Info("computing thresholds", "model", e.Name(), "run", run, "hour", hour)
			err := runner.RunAll(ctx, t.exec, Settings(t.cfg, e).Thresholds, runner.Target{Time: run.Time(), Tag: string(run)})
			if err != nil {
				return fmt.Errorf("thresholds %s %s: %w", e.Name(), run, err)
			}
			ens, r := e, run
			if err := t.state.Update(func(m *state.Machine) error {
				m.MarkThresholded(ens, r)
				return nil
			}); err != nil {
				return err
			}
			done = append(done, run)
		}
		if len(done) == 0 {
			continue
		}
		ens := e
		if err := t.state.Update(func(m *state.Machine) error {
			m.RemoveFinished(ens, done...)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// Backfill rescans the BackfillDays before c every six hours and runs
// Update for each hour the checker reports as observed. It returns the
// hours updated.
func (t *Thresholds) Backfill(ctx context.Context, c cycle.ID, obs ObservationChecker) ([]cycle.ID, error) {
	var updated []cycle.ID
	from := c.Time().AddDate(0, 0, -BackfillDays)
	for _, hour := range cycle.Range(from.Add(-cycle.Step), c.Time(), cycle.Step) {
		if !obs.Observed(hour) {
			continue
		}
		if err := t.Update(ctx, hour); err != nil {
			return updated, err
		}
		updated = append(updated, hour)
	}
	return updated, nil
}
