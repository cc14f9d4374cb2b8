// Package state is the checkpoint/resume state machine for one forecast
// cycle: which stage is running, which completed last, how far each
// ensemble has got, and which ensemble runs await threshold updates.
package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/ledger"
)

// ErrSubStepOrder is returned when a sub-step is recorded out of order.
var ErrSubStepOrder = errors.New("sub-step out of order")

// Progress is a per-ensemble sub-step tracker.
type Progress struct {
	Partial  cycle.ID
	LastDone SubStep
}

// GFSProgress tracks the deterministic GFS conversion of one cycle.
type GFSProgress struct {
	Partial  cycle.ID
	LastDone GFSStep
	LastFile [2]string
}

// LIRProgress tracks the LIR hours converted during one cycle.
type LIRProgress struct {
	Partial  cycle.ID
	LastDone string
}

// Machine is the in-memory state. The zero value is not usable; call New.
type Machine struct {
	CurrentCycle  cycle.ID
	InProgress    Stage
	LastCompleted Stage

	finished    [2]*ledger.KeySet
	thresholded [2]*ledger.KeySet
	progress    [2]Progress

	GFS GFSProgress
	LIR LIRProgress
}

// New returns an idle machine with empty sets.
func New() *Machine {
	m := &Machine{}
	for _, e := range Ensembles {
		m.finished[e] = ledger.NewKeySet()
		m.thresholded[e] = ledger.NewKeySet()
	}
	return m
}

// Idle reports whether no cycle is in progress.
func (m *Machine) Idle() bool {
	return m.CurrentCycle.IsZero()
}

// Start marks c as the cycle in progress with nothing completed.
func (m *Machine) Start(c cycle.ID) {
	m.CurrentCycle = c
	m.InProgress = StageNone
	m.LastCompleted = StageNone
}

// SetInProgress records the stage being run.
func (m *Machine) SetInProgress(s Stage) {
	m.InProgress = s
}

// SetCompleted records s as the last completed stage.
func (m *Machine) SetCompleted(s Stage) {
	m.LastCompleted = s
	m.InProgress = StageNone
}

// HasCompleted reports whether s is done for c. A different cycle in
// progress means nothing is done.
func (m *Machine) HasCompleted(s Stage, c cycle.ID) bool {
	if m.CurrentCycle != c || !s.Valid() {
		return false
	}
	return m.LastCompleted >= s
}

// ClearPartial returns the machine to idle and forgets every partial
// tracker. Finished and thresholded sets are kept.
func (m *Machine) ClearPartial() {
	m.CurrentCycle = ""
	m.InProgress = StageNone
	m.LastCompleted = StageNone
	m.progress = [2]Progress{}
	m.GFS = GFSProgress{}
	m.LIR = LIRProgress{}
}

// CheckComplete reports whether the last completed stage is COMBINE.
func (m *Machine) CheckComplete(c cycle.ID) error {
	if m.CurrentCycle != c || m.LastCompleted != StageCombine {
		return fmt.Errorf("cycle %s not complete: last completed stage is %q", c, m.LastCompleted)
	}
	return nil
}

// --- Ensemble sub-steps ---

// BeginEnsemble prepares the tracker for e at cycle c and returns the last
// sub-step already done. Progress recorded for a different cycle is
// discarded.
func (m *Machine) BeginEnsemble(e Ensemble, c cycle.ID) SubStep {
	p := &m.progress[e]
	if p.Partial != c {
		*p = Progress{Partial: c}
	}
	return p.LastDone
}

// ResumePoint returns the last sub-step done for e at c, or SubStepNone
// when the tracker belongs to another cycle.
func (m *Machine) ResumePoint(e Ensemble, c cycle.ID) SubStep {
	p := m.progress[e]
	if p.Partial != c {
		return SubStepNone
	}
	return p.LastDone
}

// Progress returns the raw tracker for e.
func (m *Machine) Progress(e Ensemble) Progress {
	return m.progress[e]
}

// AdvanceSubStep records s as done for e at c. Recording an already-done
// sub-step is a no-op; skipping ahead is an error. The terminal sub-step
// moves c into the finished set and clears the tracker.
func (m *Machine) AdvanceSubStep(e Ensemble, c cycle.ID, s SubStep) error {
	p := &m.progress[e]
	if p.Partial != c {
		*p = Progress{Partial: c}
	}
	if s <= p.LastDone {
		return nil
	}
	if s != p.LastDone.Next() {
		return fmt.Errorf("%w: %s %s after %q", ErrSubStepOrder, e, s, p.LastDone)
	}
	p.LastDone = s
	if s.Terminal() {
		m.finished[e].Add(string(c))
		*p = Progress{}
	}
	return nil
}

// --- Finished and thresholded sets ---

// HasFinished reports whether e completed every sub-step for c.
func (m *Machine) HasFinished(e Ensemble, c cycle.ID) bool {
	return m.finished[e].Has(string(c))
}

// MarkFinished adds c to the finished set of e.
func (m *Machine) MarkFinished(e Ensemble, c cycle.ID) {
	m.finished[e].Add(string(c))
}

// Finished returns the finished runs of e in ascending order.
func (m *Machine) Finished(e Ensemble) []cycle.ID {
	return toIDs(m.finished[e].Sorted())
}

// IsThresholded reports whether c of e already fed a threshold update.
func (m *Machine) IsThresholded(e Ensemble, c cycle.ID) bool {
	return m.thresholded[e].Has(string(c))
}

// Thresholded returns the thresholded runs of e in ascending order.
func (m *Machine) Thresholded(e Ensemble) []cycle.ID {
	return toIDs(m.thresholded[e].Sorted())
}

// EligibleForThresholds returns the finished runs of e whose forecast
// horizon has been fully observed by now and that are not yet thresholded.
func (m *Machine) EligibleForThresholds(e Ensemble, now cycle.ID, maxLead time.Duration) []cycle.ID {
	nowT := now.Time()
	var out []cycle.ID
	for _, c := range m.Finished(e) {
		if m.IsThresholded(e, c) {
			continue
		}
		if !c.Time().Add(maxLead).After(nowT) {
			out = append(out, c)
		}
	}
	return out
}

// MarkThresholded records that c of e fed a threshold update.
func (m *Machine) MarkThresholded(e Ensemble, c cycle.ID) {
	m.thresholded[e].Add(string(c))
}

// RemoveFinished drops cs from the finished set of e.
func (m *Machine) RemoveFinished(e Ensemble, cs ...cycle.ID) {
	for _, c := range cs {
		m.finished[e].Remove(string(c))
	}
}

// Prune removes finished runs strictly before ensembleBefore and
// thresholded runs strictly before thresholdBefore. It returns the number
// of entries removed.
func (m *Machine) Prune(ensembleBefore, thresholdBefore time.Time) int {
	n := 0
	for _, e := range Ensembles {
		n += len(m.finished[e].RemoveFunc(olderThan(ensembleBefore)))
		n += len(m.thresholded[e].RemoveFunc(olderThan(thresholdBefore)))
	}
	return n
}

// --- GFS and LIR ingest trackers ---

// BeginGFS prepares the GFS tracker for c and returns the progress to
// resume from. Progress recorded for a different cycle is discarded.
func (m *Machine) BeginGFS(c cycle.ID) GFSProgress {
	if m.GFS.Partial != c {
		m.GFS = GFSProgress{Partial: c}
	}
	return m.GFS
}

// SetGFSFile records the last converted file of member.
func (m *Machine) SetGFSFile(member Member, name string) {
	m.GFS.LastFile[member] = name
}

// AdvanceGFS records s as done for the GFS cycle in progress.
func (m *Machine) AdvanceGFS(s GFSStep) {
	if s > m.GFS.LastDone {
		m.GFS.LastDone = s
	}
}

// ClearGFS forgets GFS progress.
func (m *Machine) ClearGFS() {
	m.GFS = GFSProgress{}
}

// BeginLIR prepares the LIR tracker for c.
func (m *Machine) BeginLIR(c cycle.ID) {
	if m.LIR.Partial != c {
		m.LIR = LIRProgress{Partial: c}
	}
}

// SetLIRDone records the last LIR hour converted.
func (m *Machine) SetLIRDone(key string) {
	m.LIR.LastDone = key
}

func olderThan(t time.Time) func(string) bool {
	return func(key string) bool {
		kt, err := cycle.DecodeKey(key, cycle.Hourly)
		return err == nil && kt.Before(t)
	}
}

func toIDs(keys []string) []cycle.ID {
	out := make([]cycle.ID, len(keys))
	for i, k := range keys {
		out[i] = cycle.ID(k)
	}
	return out
}
