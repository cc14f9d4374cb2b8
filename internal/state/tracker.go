package state

import (
	"log/slog"

	"github.com/lucasnoah/epochctl/internal/ledger"
)

// Tracker owns the machine for one run and writes it through to its mirror
// after every mutation.
type Tracker struct {
	m      *Machine
	mirror ledger.Mirror
	logger *slog.Logger
}

// Open loads the machine from the mirror's working copy.
func Open(mirror ledger.Mirror, logger *slog.Logger) (*Tracker, error) {
	doc, err := mirror.Load()
	if err != nil {
		return nil, err
	}
	return &Tracker{m: Decode(doc, logger), mirror: mirror, logger: logger}, nil
}

// Machine returns the in-memory machine for reads.
func (t *Tracker) Machine() *Machine {
	return t.m
}

// Update applies fn and persists the result to both locators. If fn
// returns an error nothing is written.
func (t *Tracker) Update(fn func(m *Machine) error) error {
	if err := fn(t.m); err != nil {
		return err
	}
	return t.Save()
}

// Save persists the machine to both locators.
func (t *Tracker) Save() error {
	return t.mirror.Save(t.m.Encode())
}
