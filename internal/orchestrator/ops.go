package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/ensemble"
	"github.com/lucasnoah/epochctl/internal/fsutil"
	"github.com/lucasnoah/epochctl/internal/inputs"
	"github.com/lucasnoah/epochctl/internal/runner"
	"github.com/lucasnoah/epochctl/internal/snapshot"
	"github.com/lucasnoah/epochctl/internal/state"
)

// EnsembleStatus summarizes one ensemble stream.
type EnsembleStatus struct {
	Model       string     `json:"model"`
	Partial     string     `json:"partial,omitempty"`
	LastDone    string     `json:"last_done,omitempty"`
	Finished    []cycle.ID `json:"finished"`
	Thresholded []cycle.ID `json:"thresholded"`
}

// Status is a read-only view of the working ledgers for a cycle.
type Status struct {
	Cycle         string                `json:"cycle"`
	CurrentCycle  string                `json:"current_cycle,omitempty"`
	InProgress    string                `json:"in_progress,omitempty"`
	LastCompleted string                `json:"last_completed,omitempty"`
	CrashPending  bool                  `json:"crash_pending"`
	Ensembles     []EnsembleStatus      `json:"ensembles"`
	GFSPartial    string                `json:"gfs_partial,omitempty"`
	GFSLastDone   string                `json:"gfs_last_done,omitempty"`
	LIRPartial    string                `json:"lir_partial,omitempty"`
	Inputs        map[inputs.Stream]int `json:"inputs"`
	LastRun       *Result               `json:"last_run,omitempty"`
}

// Inspect loads the working ledgers for c without changing anything.
func (o *Orchestrator) Inspect(c cycle.ID) (*Status, error) {
	mgr := snapshot.New(o.cfg.Paths, c, o.logger)
	in, st, err := o.load(mgr.Layout(), false)
	if err != nil {
		return nil, err
	}
	m := st.Machine()
	s := &Status{
		Cycle:         string(c),
		CurrentCycle:  string(m.CurrentCycle),
		InProgress:    m.InProgress.String(),
		LastCompleted: m.LastCompleted.String(),
		CrashPending:  mgr.CrashDetected(),
		GFSPartial:    string(m.GFS.Partial),
		LIRPartial:    string(m.LIR.Partial),
		Inputs:        in.Ledger().Counts(),
	}
	if report := filepath.Join(mgr.Layout().Output, ReportFile); fsutil.Exists(report) {
		var last Result
		if err := fsutil.ReadJSON(report, &last); err != nil {
			o.logger.Warn("reading run report", "path", report, "error", err)
		} else {
			s.LastRun = &last
		}
	}
	if m.GFS.LastDone != state.GFSStepNone {
		s.GFSLastDone = m.GFS.LastDone.String()
	}
	for _, e := range state.Ensembles {
		p := m.Progress(e)
		es := EnsembleStatus{
			Model:       e.Name(),
			Partial:     string(p.Partial),
			Finished:    m.Finished(e),
			Thresholded: m.Thresholded(e),
		}
		if p.LastDone != state.SubStepNone {
			es.LastDone = p.LastDone.String()
		}
		s.Ensembles = append(s.Ensembles, es)
	}
	return s, nil
}

// Ledgers returns the working input ledger and state machine for c.
func (o *Orchestrator) Ledgers(c cycle.ID) (*inputs.Ledger, *state.Machine, error) {
	in, st, err := o.load(snapshot.NewLayout(o.cfg.Paths, c), false)
	if err != nil {
		return nil, nil, err
	}
	return in.Ledger(), st.Machine(), nil
}

// PruneResult reports retention removals.
type PruneResult struct {
	Inputs int `json:"inputs"`
	State  int `json:"state"`
}

// Prune applies retention to the working ledgers of c and saves them.
func (o *Orchestrator) Prune(c cycle.ID) (*PruneResult, error) {
	in, st, err := o.load(snapshot.NewLayout(o.cfg.Paths, c), true)
	if err != nil {
		return nil, err
	}
	res := &PruneResult{Inputs: o.policy.PruneInputs(in.Ledger(), c)}
	if err := in.Save(); err != nil {
		return nil, err
	}
	if err := st.Update(func(m *state.Machine) error {
		res.State = o.policy.PruneState(m, c)
		return nil
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Backfill reruns threshold updates for every 6-hourly hour of the last
// four days before c that has both CMORPH and LIR inputs.
func (o *Orchestrator) Backfill(ctx context.Context, c cycle.ID) ([]cycle.ID, error) {
	layout := snapshot.NewLayout(o.cfg.Paths, c)
	in, st, err := o.load(layout, true)
	if err != nil {
		return nil, err
	}
	exec := runner.New(o.cmd, runner.Options{
		ExecDir:  o.cfg.Paths.Exec,
		ParmsDir: o.cfg.Paths.Parms,
		LogDir:   o.cfg.Paths.Logs,
		Env:      o.cfg.Commands.Env,
		Logger:   o.logger,
		Metrics:  o.metrics,
		Clock:    o.clock,
	})
	th := ensemble.NewThresholds(ensemble.Deps{
		Config: o.cfg,
		State:  st,
		Exec:   exec,
		Clock:  o.clock,
		Logger: o.logger.With("cycle", c),
	})
	hours, err := th.Backfill(ctx, c, in)
	if err != nil {
		return hours, fmt.Errorf("backfill thresholds: %w", err)
	}
	return hours, nil
}

// load opens the working ledgers of layout. When write is set and a
// restart snapshot exists, saves go to it as well.
func (o *Orchestrator) load(l snapshot.Layout, write bool) (*inputs.Tracker, *state.Tracker, error) {
	inMirror, stMirror := l.InputsMirror(), l.StateMirror()
	if !write || !fsutil.Exists(l.Restart) {
		inMirror.Secondary, stMirror.Secondary = "", ""
	}
	in, err := inputs.Open(inMirror, o.logger)
	if err != nil {
		return nil, nil, err
	}
	st, err := state.Open(stMirror, o.logger)
	if err != nil {
		return nil, nil, err
	}
	return in, st, nil
}
