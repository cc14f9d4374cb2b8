// Package retention computes the aging horizons for the input ledger and
// the stage state machine.
package retention

import (
	"time"

	"github.com/lucasnoah/epochctl/internal/config"
	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/inputs"
	"github.com/lucasnoah/epochctl/internal/state"
)

const day = 24 * time.Hour

// Policy holds the retention settings.
type Policy struct {
	MaxLookbackDays      int
	MaxModelLookbackDays int
	MaxLookaheadDays     int
	MaxEnsembleLeadHours int
}

// NewPolicy builds a policy from configuration.
func NewPolicy(r config.Retention) Policy {
	return Policy{
		MaxLookbackDays:      r.MaxLookbackDays,
		MaxModelLookbackDays: r.MaxModelLookbackDays,
		MaxLookaheadDays:     r.MaxLookaheadDays,
		MaxEnsembleLeadHours: r.MaxEnsembleLeadHours,
	}
}

// MaxEnsembleLead is the longest forecast lead of an ensemble run.
func (p Policy) MaxEnsembleLead() time.Duration {
	return time.Duration(p.MaxEnsembleLeadHours) * time.Hour
}

// InputHorizon is the oldest instant kept in the input ledger.
func (p Policy) InputHorizon(c cycle.ID) time.Time {
	return c.Time().Add(-time.Duration(p.MaxLookbackDays) * day)
}

// Window is the ingest window: inputs stamped after Oldest and at or
// before Newest are candidates.
type Window struct {
	Oldest time.Time
	Newest time.Time
}

// Contains reports whether t lies in (Oldest, Newest].
func (w Window) Contains(t time.Time) bool {
	return t.After(w.Oldest) && !t.After(w.Newest)
}

// IngestWindow returns the candidate window for cycle c.
func (p Policy) IngestWindow(c cycle.ID) Window {
	t := c.Time()
	return Window{
		Oldest: t.Add(-time.Duration(p.MaxLookbackDays) * day),
		Newest: t.Add(time.Duration(p.MaxLookaheadDays) * day),
	}
}

// EnsembleHorizon is the oldest finished ensemble run kept.
func (p Policy) EnsembleHorizon(c cycle.ID) time.Time {
	return c.Time().Add(-time.Duration(p.MaxModelLookbackDays) * day)
}

// ThresholdHorizon is the oldest thresholded run kept. It lies at least
// one day beyond the longest ensemble lead.
func (p Policy) ThresholdHorizon(c cycle.ID) time.Time {
	days := p.MaxModelLookbackDays
	if lead := p.MaxEnsembleLeadHours/24 + 1; lead > days {
		days = lead
	}
	return c.Time().Add(-time.Duration(days) * day)
}

// PruneInputs ages out the input ledger and returns the number removed.
func (p Policy) PruneInputs(l *inputs.Ledger, c cycle.ID) int {
	return l.PruneAllOlderThan(p.InputHorizon(c))
}

// PruneState ages out the machine's finished and thresholded sets and
// returns the number removed.
func (p Policy) PruneState(m *state.Machine, c cycle.ID) int {
	return m.Prune(p.EnsembleHorizon(c), p.ThresholdHorizon(c))
}
