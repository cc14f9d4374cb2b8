package inputs

import (
	"log/slog"

	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/ledger"
)

// Tracker owns the ledger for one run and writes it through to its mirror
// after every mutation.
type Tracker struct {
	l      *Ledger
	mirror ledger.Mirror
	logger *slog.Logger
}

// Open loads the ledger from the mirror's working copy.
func Open(mirror ledger.Mirror, logger *slog.Logger) (*Tracker, error) {
	doc, err := mirror.Load()
	if err != nil {
		return nil, err
	}
	return &Tracker{l: Decode(doc, logger), mirror: mirror, logger: logger}, nil
}

// Ledger returns the in-memory ledger for reads.
func (t *Tracker) Ledger() *Ledger {
	return t.l
}

// Save persists the ledger to both locators.
func (t *Tracker) Save() error {
	return t.mirror.Save(t.l.Encode())
}

// Mark records key in stream and persists when the ledger changed.
func (t *Tracker) Mark(s Stream, key string) error {
	changed, err := t.l.MarkEntry(s, key)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	t.logger.Debug("input recorded", "stream", s, "key", key)
	return t.Save()
}

// Has reports exact membership.
func (t *Tracker) Has(s Stream, key string) bool {
	return t.l.HasEntry(s, key)
}

// Observed reports whether hour has both a processed CMORPH average and an
// LIR composite, the inputs a threshold update needs.
func (t *Tracker) Observed(hour cycle.ID) bool {
	return t.Has(CMORPH, hour.MinuteKey()) && t.Has(LIR, string(hour))
}
