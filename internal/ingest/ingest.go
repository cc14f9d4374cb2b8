// Package ingest implements the INPUT-INGEST stage: registering and
// converting the observation and deterministic-model inputs that the
// ensemble stages and threshold updates depend on.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/lucasnoah/epochctl/internal/config"
	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/discover"
	"github.com/lucasnoah/epochctl/internal/inputs"
	"github.com/lucasnoah/epochctl/internal/observability"
	"github.com/lucasnoah/epochctl/internal/retention"
	"github.com/lucasnoah/epochctl/internal/runner"
	"github.com/lucasnoah/epochctl/internal/state"
)

// Thresholder updates the threshold statistics once an hour has both
// observation inputs.
type Thresholder interface {
	Update(ctx context.Context, hour cycle.ID) error
}

// Preserver copies intermediate trees into the restart snapshot.
type Preserver interface {
	Preserve(patterns []string, c cycle.ID) (int, error)
}

// Deps are the collaborators of an Ingester.
type Deps struct {
	Config     *config.Config
	Inputs     *inputs.Tracker
	State      *state.Tracker
	Finder     discover.Finder
	Exec       runner.Executor
	Snapshot   Preserver
	Thresholds Thresholder
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

// Ingester runs the INPUT-INGEST stage for one cycle.
type Ingester struct {
	cfg    *config.Config
	policy retention.Policy
	inputs *inputs.Tracker
	state  *state.Tracker
	finder discover.Finder
	exec   runner.Executor
	snap   Preserver
	thresh Thresholder
	clock  clockwork.Clock
	logger *slog.Logger
}

// New creates an Ingester.
func New(d Deps) *Ingester {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = observability.Discard()
	}
	return &Ingester{
		cfg:    d.Config,
		policy: retention.NewPolicy(d.Config.Retention),
		inputs: d.Inputs,
		state:  d.State,
		finder: d.Finder,
		exec:   d.Exec,
		snap:   d.Snapshot,
		thresh: d.Thresholds,
		clock:  d.Clock,
		logger: d.Logger.With("stage", state.StageIngest.String()),
	}
}

// Run ingests CMORPH, GFS and LIR in that order for the ingest window of
// c. The first failing unit stops the stage; everything recorded before it
// stays recorded.
func (g *Ingester) Run(ctx context.Context, c cycle.ID) error {
	w := g.policy.IngestWindow(c)
	log := g.logger.With("cycle", c)
	log.Info("ingest window", "oldest", w.Oldest, "newest", w.Newest)
	start := g.clock.Now()

	steps := []struct {
		name string
		fn   func(context.Context, cycle.ID, retention.Window) error
	}{
		{"CMORPH2", g.ingestCMORPH},
		{"GFS", g.ingestGFS},
		{"LIR", g.ingestLIR},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.fn(ctx, c, w); err != nil {
			return fmt.Errorf("ingest %s: %w", s.name, err)
		}
	}
	log.Info("ingest complete", "elapsed", g.clock.Since(start))
	return nil
}

// windowCycles lists the cycles whose source directories can hold files
// inside w.
func windowCycles(w retention.Window) []cycle.ID {
	return cycle.Range(w.Oldest.Add(-cycle.Step), w.Newest, cycle.Step)
}

// find discovers src over w. A source with no files is logged and yields
// an empty result.
func (g *Ingester) find(src config.Source, w retention.Window, stream string) ([]discover.File, error) {
	files, err := g.finder.Find(src, windowCycles(w))
	if errors.Is(err, discover.ErrNoInputs) {
		g.logger.Warn("no input files", "stream", stream, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return discover.Filter(files, func(f discover.File) bool { return w.Contains(f.Time) }), nil
}

func (g *Ingester) updateThresholds(ctx context.Context, hour cycle.ID) error {
	if g.thresh == nil {
		return nil
	}
	g.logger.Info("both observations present, updating thresholds", "hour", hour)
	return g.thresh.Update(ctx, hour)
}
