// Package ensemble runs the ENSEMBLE-A and ENSEMBLE-B stages: per-cycle
// sub-step pipelines that resume at the first sub-step not yet recorded,
// and the threshold updates that consume finished runs.
package ensemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jonboulle/clockwork"

	"github.com/lucasnoah/epochctl/internal/config"
	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/discover"
	"github.com/lucasnoah/epochctl/internal/observability"
	"github.com/lucasnoah/epochctl/internal/runner"
	"github.com/lucasnoah/epochctl/internal/state"
)

// Snapshotter copies a run's intermediate trees into the restart
// snapshot and its outputs to the cycle's published tree.
type Snapshotter interface {
	Preserve(patterns []string, c cycle.ID) (int, error)
	PublishTrees(patterns []string, c cycle.ID) (int, error)
}

// Deps are the collaborators shared by Pipeline and Thresholds.
type Deps struct {
	Config   *config.Config
	State    *state.Tracker
	Finder   discover.Finder
	Exec     runner.Executor
	Snapshot Snapshotter
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

func (d *Deps) defaults() {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = observability.Discard()
	}
}

// Settings returns the configuration block of e.
func Settings(cfg *config.Config, e state.Ensemble) config.Ensemble {
	if e == state.EnsembleB {
		return cfg.Ensembles.B
	}
	return cfg.Ensembles.A
}

// Pipeline runs the sub-steps of one ensemble stream.
type Pipeline struct {
	ens    state.Ensemble
	cfg    config.Ensemble
	state  *state.Tracker
	finder discover.Finder
	exec   runner.Executor
	snap   Snapshotter
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewPipeline creates the pipeline for e.
func NewPipeline(e state.Ensemble, d Deps) *Pipeline {
	d.defaults()
	return &Pipeline{
		ens:    e,
		cfg:    Settings(d.Config, e),
		state:  d.State,
		finder: d.Finder,
		exec:   d.Exec,
		snap:   d.Snapshot,
		clock:  d.Clock,
		logger: d.Logger.With("stage", e.String(), "model", e.Name()),
	}
}

// Run brings the ensemble run for c to its terminal sub-step, starting
// after the last sub-step already recorded. Each sub-step is persisted as
// soon as it succeeds; a failure leaves it unrecorded.
func (p *Pipeline) Run(ctx context.Context, c cycle.ID) error {
	log := p.logger.With("cycle", c)
	m := p.state.Machine()
	if m.HasFinished(p.ens, c) || m.IsThresholded(p.ens, c) {
		log.Info("SKIP ensemble run, already completed")
		return nil
	}

	var last state.SubStep
	if err := p.state.Update(func(m *state.Machine) error {
		last = m.BeginEnsemble(p.ens, c)
		return nil
	}); err != nil {
		return err
	}
	if last != state.SubStepNone {
		log.Info("resuming partial ensemble run", "last_done", last)
	} else {
		log.Info("BEGIN ensemble run")
	}

	for s := last.Next(); s != state.SubStepNone; s = s.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := p.clock.Now()
		if err := p.runSubStep(ctx, c, s); err != nil {
			return fmt.Errorf("%s %s: %w", p.ens, s, err)
		}
		if patterns := p.cfg.Preserve[s.String()]; len(patterns) > 0 && p.snap != nil {
			n, err := p.snap.Preserve(patterns, c)
			if err != nil {
				return fmt.Errorf("%s %s: %w", p.ens, s, err)
			}
			log.Debug("preserved intermediate files", "sub_step", s, "files", n)
		}
		if patterns := p.cfg.Publish[s.String()]; len(patterns) > 0 && p.snap != nil {
			n, err := p.snap.PublishTrees(patterns, c)
			if err != nil {
				return fmt.Errorf("%s %s: %w", p.ens, s, err)
			}
			log.Info("published sub-step output", "sub_step", s, "files", n)
		}
		step := s
		if err := p.state.Update(func(m *state.Machine) error {
			return m.AdvanceSubStep(p.ens, c, step)
		}); err != nil {
			return err
		}
		log.Info("sub-step complete", "sub_step", s, "duration", p.clock.Since(start))
	}
	log.Info("END ensemble run")
	return nil
}

func (p *Pipeline) runSubStep(ctx context.Context, c cycle.ID, s state.SubStep) error {
	tg := runner.Target{Time: c.Time(), Tag: string(c)}
	switch s {
	case state.SubStepConvert:
		return p.convert(ctx, c)
	case state.SubStepAccumulate:
		return runner.RunAll(ctx, p.exec, p.cfg.Accumulate, tg)
	case state.SubStepLookupPrimary:
		return runner.RunAll(ctx, p.exec, p.cfg.LookupPrimary, tg)
	case state.SubStepLookupSecondary:
		return runner.RunAll(ctx, p.exec, p.cfg.LookupSecondary, tg)
	case state.SubStepProbability:
		return runner.RunAll(ctx, p.exec, p.cfg.Probability, tg)
	}
	return fmt.Errorf("unexpected sub-step %s", s)
}

// convert runs the converter over every member file of c within the
// configured lead range. A missing model run is logged and converts
// nothing.
func (p *Pipeline) convert(ctx context.Context, c cycle.ID) error {
	files, err := p.finder.Find(p.cfg.Source, []cycle.ID{c})
	if errors.Is(err, discover.ErrNoInputs) {
		p.logger.Warn("missing ensemble model data", "cycle", c, "error", err)
		return nil
	}
	if err != nil {
		return err
	}

	files = discover.Filter(files, func(f discover.File) bool {
		if f.Cycle() != c {
			return false
		}
		return f.Lead < 0 || (f.Lead >= p.cfg.MinLead && f.Lead <= p.cfg.MaxLead)
	})
	p.logger.Info("converting ensemble files", "cycle", c, "files", len(files))

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		tg := runner.Target{
			Time: c.Time(),
			File: f.Path,
			Tag:  string(c),
			Env:  runner.EnsembleEnv(memberNumber(f.Num), f.Member),
		}
		inv, err := runner.For(p.cfg.Convert, tg)
		if err != nil {
			return err
		}
		if err := p.exec.Run(ctx, inv); err != nil {
			return err
		}
	}
	return nil
}

// memberNumber strips leading zeros from a member number ("01" -> "1").
func memberNumber(num string) string {
	n, err := strconv.Atoi(num)
	if err != nil {
		return num
	}
	return strconv.Itoa(n)
}
