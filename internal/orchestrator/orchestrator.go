// Package orchestrator runs one forecast cycle end to end: crash detection,
// ledger seeding or restore, stage gating and resume, retention, publishing
// and cleanup.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lucasnoah/epochctl/internal/config"
	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/discover"
	"github.com/lucasnoah/epochctl/internal/ensemble"
	"github.com/lucasnoah/epochctl/internal/fsutil"
	"github.com/lucasnoah/epochctl/internal/ingest"
	"github.com/lucasnoah/epochctl/internal/inputs"
	"github.com/lucasnoah/epochctl/internal/journal"
	"github.com/lucasnoah/epochctl/internal/ledger"
	"github.com/lucasnoah/epochctl/internal/notify"
	"github.com/lucasnoah/epochctl/internal/observability"
	"github.com/lucasnoah/epochctl/internal/retention"
	"github.com/lucasnoah/epochctl/internal/runner"
	"github.com/lucasnoah/epochctl/internal/snapshot"
	"github.com/lucasnoah/epochctl/internal/state"
)

// ErrInvalidHour is returned for a cycle whose hour is not 00, 06, 12 or 18.
var ErrInvalidHour = errors.New("cycle hour must be 00, 06, 12 or 18")

// ReportFile is the run report written to the cycle's output directory.
const ReportFile = "epoch-run.json"

// Stage actions reported in StageResult.
const (
	ActionCompleted     = "completed"
	ActionSkipped       = "skipped"
	ActionNotApplicable = "not_applicable"
	ActionFailed        = "failed"
)

// Options configures an Orchestrator. Nil collaborators get production
// defaults.
type Options struct {
	Config   *config.Config
	Cmd      runner.CommandRunner
	Finder   discover.Finder
	Journal  journal.Journal
	Notifier notify.Notifier
	Metrics  *observability.Metrics
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Orchestrator runs cycles. It holds no per-cycle state between calls.
type Orchestrator struct {
	cfg      *config.Config
	policy   retention.Policy
	cmd      runner.CommandRunner
	finder   discover.Finder
	journal  journal.Journal
	notifier notify.Notifier
	metrics  *observability.Metrics
	clock    clockwork.Clock
	logger   *slog.Logger
	progress io.Writer
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = observability.Discard()
	}
	if opts.Cmd == nil {
		opts.Cmd = &runner.ExecRunner{}
	}
	if opts.Finder == nil {
		opts.Finder = discover.NewScanner(opts.Logger)
	}
	if opts.Journal == nil {
		opts.Journal = journal.Nop{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		cfg:      opts.Config,
		policy:   retention.NewPolicy(opts.Config.Retention),
		cmd:      opts.Cmd,
		finder:   opts.Finder,
		journal:  opts.Journal,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (o *Orchestrator) SetProgress(w io.Writer) {
	o.progress = w
}

// logf prints a progress line if a progress writer is configured.
func (o *Orchestrator) logf(format string, args ...any) {
	if o.progress != nil {
		fmt.Fprintf(o.progress, "  → "+format+"\n", args...)
	}
}

// StageResult describes what happened to one stage.
type StageResult struct {
	Stage      string `json:"stage"`
	Action     string `json:"action"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Result describes a run.
type Result struct {
	RunID        string        `json:"run_id"`
	Cycle        string        `json:"cycle"`
	CrashPath    bool          `json:"crash_path"`
	SeededFrom   string        `json:"seeded_from,omitempty"`
	StaleCycle   string        `json:"stale_cycle,omitempty"`
	Resumed      bool          `json:"resumed"`
	Repopulated  int           `json:"repopulated_files"`
	Stages       []StageResult `json:"stages"`
	PrunedInputs int           `json:"pruned_inputs"`
	PrunedState  int           `json:"pruned_state"`
	Products     int           `json:"products"`
	Succeeded    bool          `json:"succeeded"`
	Error        string        `json:"error,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
}

// run is the per-invocation wiring.
type run struct {
	id     string
	c      cycle.ID
	snap   *snapshot.Manager
	inputs *inputs.Tracker
	state  *state.Tracker
	exec   *runner.Runner
	log    *slog.Logger
	res    *Result
}

// Run processes cycle c. It returns the result together with the first
// error that stopped the run; the result is never nil.
func (o *Orchestrator) Run(ctx context.Context, c cycle.ID) (*Result, error) {
	r := &run{
		id:   uuid.NewString(),
		c:    c,
		snap: snapshot.New(o.cfg.Paths, c, o.logger),
	}
	r.log = o.logger.With("run_id", r.id, "cycle", c)
	r.res = &Result{RunID: r.id, Cycle: string(c), StartedAt: o.clock.Now().UTC()}
	o.record(ctx, r, "", journal.EventRunStarted, "")
	o.logf("cycle %s: run %s", c, r.id)

	err := o.execute(ctx, r)
	o.finish(ctx, r, err)
	return r.res, err
}

func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	if r.c.Hour()%6 != 0 {
		return o.reject(r)
	}
	if err := o.prepare(ctx, r); err != nil {
		return err
	}
	if err := o.resolvePartial(ctx, r); err != nil {
		return err
	}
	n, err := r.snap.Repopulate(o.cfg.Repopulate)
	r.res.Repopulated = n
	if err != nil {
		return err
	}

	r.res.PrunedInputs = o.policy.PruneInputs(r.inputs.Ledger(), r.c)
	o.metrics.AddPruned("inputs", r.res.PrunedInputs)
	if err := r.inputs.Save(); err != nil {
		return err
	}

	for _, s := range state.Stages() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.runStage(ctx, r, s); err != nil {
			return err
		}
	}

	m := r.state.Machine()
	if err := m.CheckComplete(r.c); err != nil {
		r.log.Warn("cycle finished without COMBINE", "error", err)
	}
	return r.state.Update(func(m *state.Machine) error {
		m.ClearPartial()
		r.res.PrunedState = o.policy.PruneState(m, r.c)
		o.metrics.AddPruned("state", r.res.PrunedState)
		return nil
	})
}

// reject refuses a cycle that is not at a synoptic hour. Only the working
// state is touched: its partial marker is cleared so the next valid cycle
// starts clean. No snapshot is seeded or restored.
func (o *Orchestrator) reject(r *run) error {
	path := r.snap.Layout().StateMirror().Primary
	if fsutil.Exists(path) {
		tr, err := state.Open(ledger.Mirror{Primary: path}, r.log)
		if err != nil {
			return err
		}
		if err := tr.Update(func(m *state.Machine) error {
			m.ClearPartial()
			return nil
		}); err != nil {
			return err
		}
	}
	return fmt.Errorf("cycle %s: %w", r.c, ErrInvalidHour)
}

// prepare takes the crash or fresh path and opens both ledgers.
func (o *Orchestrator) prepare(ctx context.Context, r *run) error {
	if r.snap.CrashDetected() {
		r.res.CrashPath = true
		r.log.Warn("restart snapshot found, recovering from crash", "snapshot_age", r.snap.SnapshotAge(o.clock.Now()))
		o.logf("restart snapshot found, restoring")
		o.metrics.RecordCrashRecovery()
		o.record(ctx, r, "", journal.EventCrashRecovered, r.snap.Layout().Restart)
		if err := r.snap.Restore(); err != nil {
			return err
		}
	} else {
		from, err := r.snap.Seed()
		if err != nil {
			return err
		}
		r.res.SeededFrom = string(from)
	}

	layout := r.snap.Layout()
	var err error
	if r.inputs, err = inputs.Open(layout.InputsMirror(), r.log); err != nil {
		return err
	}
	if r.state, err = state.Open(layout.StateMirror(), r.log); err != nil {
		return err
	}

	timeout, _ := time.ParseDuration(o.cfg.Commands.Timeout)
	r.exec = runner.New(o.cmd, runner.Options{
		ExecDir:  o.cfg.Paths.Exec,
		ParmsDir: o.cfg.Paths.Parms,
		LogDir:   o.cfg.Paths.Logs,
		Env:      o.cfg.Commands.Env,
		Timeout:  timeout,
		Logger:   r.log,
		Metrics:  o.metrics,
		Clock:    o.clock,
	})
	return nil
}

// resolvePartial decides between resuming, discarding a stale cycle and
// starting fresh.
func (o *Orchestrator) resolvePartial(ctx context.Context, r *run) error {
	m := r.state.Machine()
	switch {
	case m.Idle():
		r.log.Info("starting cycle")
	case m.CurrentCycle == r.c && !fsutil.Exists(r.snap.Layout().Workspace):
		r.log.Warn("workspace missing for partial cycle, restarting from scratch", "workspace", r.snap.Layout().Workspace)
		return r.state.Update(func(m *state.Machine) error {
			m.ClearPartial()
			m.Start(r.c)
			return nil
		})
	case m.CurrentCycle == r.c:
		r.res.Resumed = true
		r.log.Info("resuming partial cycle", "last_completed", m.LastCompleted.String(), "in_progress", m.InProgress.String())
		o.logf("resuming after %s", displayStage(m.LastCompleted))
		return nil
	default:
		stale := m.CurrentCycle
		r.res.StaleCycle = string(stale)
		r.log.Warn("stale partial state from another cycle, discarding",
			"event", "stale_state", "stale_cycle", stale, "last_completed", m.LastCompleted.String())
		o.record(ctx, r, "", journal.EventStaleState, string(stale))
	}
	return r.state.Update(func(m *state.Machine) error {
		m.ClearPartial()
		m.Start(r.c)
		return nil
	})
}

// Applies reports whether stage s runs for a cycle at hour.
func Applies(s state.Stage, hour int) bool {
	switch s {
	case state.StageEnsembleA:
		return state.EnsembleA.RunsAt(hour)
	case state.StageEnsembleB:
		return state.EnsembleB.RunsAt(hour)
	}
	return true
}

func (o *Orchestrator) runStage(ctx context.Context, r *run, s state.Stage) error {
	log := r.log.With("stage", s.String())
	name := s.String()

	if !Applies(s, r.c.Hour()) {
		log.Info("SKIP stage, not run at this hour")
		r.res.Stages = append(r.res.Stages, StageResult{Stage: name, Action: ActionNotApplicable})
		return nil
	}
	if r.state.Machine().HasCompleted(s, r.c) {
		log.Info("SKIP stage, already completed")
		o.logf("%s: already completed", name)
		r.res.Stages = append(r.res.Stages, StageResult{Stage: name, Action: ActionSkipped})
		o.metrics.ObserveStage(name, ActionSkipped, 0)
		o.record(ctx, r, name, journal.EventStageSkipped, "")
		return nil
	}

	if err := r.state.Update(func(m *state.Machine) error {
		m.SetInProgress(s)
		return nil
	}); err != nil {
		return err
	}
	log.Info("BEGIN stage")
	o.logf("%s: running", name)
	o.record(ctx, r, name, journal.EventStageStarted, "")

	start := o.clock.Now()
	err := o.stageFunc(r, s)(ctx)
	elapsed := o.clock.Since(start)

	if err != nil {
		log.Error("stage failed", "error", err, "duration", elapsed)
		o.logf("%s: failed: %v", name, err)
		r.res.Stages = append(r.res.Stages, StageResult{Stage: name, Action: ActionFailed, DurationMs: elapsed.Milliseconds(), Message: err.Error()})
		o.metrics.ObserveStage(name, ActionFailed, elapsed)
		o.record(ctx, r, name, journal.EventStageFailed, err.Error())
		return err
	}

	if err := r.state.Update(func(m *state.Machine) error {
		m.SetCompleted(s)
		return nil
	}); err != nil {
		return err
	}
	log.Info("END stage", "duration", elapsed)
	o.logf("%s: completed (%s)", name, elapsed.Round(time.Second))
	r.res.Stages = append(r.res.Stages, StageResult{Stage: name, Action: ActionCompleted, DurationMs: elapsed.Milliseconds()})
	o.metrics.ObserveStage(name, ActionCompleted, elapsed)
	o.record(ctx, r, name, journal.EventStageCompleted, "")
	return nil
}

func (o *Orchestrator) stageFunc(r *run, s state.Stage) func(context.Context) error {
	deps := ensemble.Deps{
		Config:   o.cfg,
		State:    r.state,
		Finder:   o.finder,
		Exec:     r.exec,
		Snapshot: r.snap,
		Clock:    o.clock,
		Logger:   r.log,
	}
	switch s {
	case state.StageIngest:
		return func(ctx context.Context) error {
			return ingest.New(ingest.Deps{
				Config:     o.cfg,
				Inputs:     r.inputs,
				State:      r.state,
				Finder:     o.finder,
				Exec:       r.exec,
				Snapshot:   r.snap,
				Thresholds: ensemble.NewThresholds(deps),
				Clock:      o.clock,
				Logger:     r.log,
			}).Run(ctx, r.c)
		}
	case state.StageEnsembleA:
		return func(ctx context.Context) error {
			return ensemble.NewPipeline(state.EnsembleA, deps).Run(ctx, r.c)
		}
	case state.StageEnsembleB:
		return func(ctx context.Context) error {
			return ensemble.NewPipeline(state.EnsembleB, deps).Run(ctx, r.c)
		}
	case state.StageCombine:
		return func(ctx context.Context) error {
			return o.combine(ctx, r)
		}
	}
	return func(context.Context) error { return fmt.Errorf("unknown stage %s", s) }
}

// combine runs the product commands and announces the products found.
// Announcement failures are logged, not fatal.
func (o *Orchestrator) combine(ctx context.Context, r *run) error {
	tg := runner.Target{Time: r.c.Time(), Tag: string(r.c)}
	if err := runner.RunAll(ctx, r.exec, o.cfg.Combine.Commands, tg); err != nil {
		return err
	}
	products, err := notify.Collect(r.snap.Layout().Output, o.cfg.Combine.Products, r.c, r.id)
	if err != nil {
		r.log.Warn("collecting products", "error", err)
		return nil
	}
	r.res.Products = len(products)
	if err := o.notifier.Notify(ctx, products); err != nil {
		r.log.Warn("announcing products", "error", err)
	}
	return nil
}

// finish runs the steps every run ends with, whatever its outcome.
func (o *Orchestrator) finish(ctx context.Context, r *run, runErr error) {
	r.res.Succeeded = runErr == nil
	if runErr != nil {
		r.res.Error = runErr.Error()
	}

	rejected := errors.Is(runErr, ErrInvalidHour)
	if !rejected {
		if err := r.snap.Publish(); err != nil {
			r.log.Warn("publishing ledgers", "error", err)
		}
		_ = r.snap.Cleanup(o.cfg.Cleanup)

		if runErr == nil {
			if err := r.snap.Discard(); err != nil {
				r.log.Warn("removing restart snapshot", "error", err)
			}
		} else {
			r.log.Warn("keeping restart snapshot for the next invocation", "restart", r.snap.Layout().Restart)
		}
	}

	if r.inputs != nil {
		for s, n := range r.inputs.Ledger().Counts() {
			o.metrics.SetLedgerEntries(string(s), n)
		}
	}

	r.res.FinishedAt = o.clock.Now().UTC()
	o.metrics.RecordRun(r.res.Succeeded, r.res.FinishedAt)
	if err := o.metrics.WriteTextfile(o.cfg.Metrics.Textfile); err != nil {
		r.log.Warn("writing metrics textfile", "error", err)
	}
	if !rejected {
		if err := fsutil.WriteJSON(filepath.Join(r.snap.Layout().Output, ReportFile), r.res); err != nil {
			r.log.Warn("writing run report", "error", err)
		}
	}

	if r.res.Succeeded {
		r.log.Info("cycle complete")
		o.logf("cycle %s complete", r.c)
		o.record(ctx, r, "", journal.EventRunSucceeded, "")
	} else {
		r.log.Error("cycle failed", "error", runErr)
		o.record(context.WithoutCancel(ctx), r, "", journal.EventRunFailed, r.res.Error)
	}
}

// record journals an event. Journal failures never affect the run.
func (o *Orchestrator) record(ctx context.Context, r *run, stage, event, detail string) {
	err := o.journal.Record(ctx, journal.Event{
		RunID:  r.id,
		Cycle:  string(r.c),
		Stage:  stage,
		Event:  event,
		Detail: detail,
		At:     o.clock.Now().UTC(),
	})
	if err != nil {
		r.log.Warn("journal write failed", "event", event, "error", err)
	}
}

func displayStage(s state.Stage) string {
	if s == state.StageNone {
		return "nothing"
	}
	return s.String()
}
