// Package inputs tracks which raw and processed observation/model inputs
// have already been ingested, so no input is processed twice.
package inputs

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/ledger"
)

// Section is the ledger section holding the input sets.
const Section = "inputs"

// Stream names one input set.
type Stream string

const (
	GFS       Stream = "GFS"
	LIR       Stream = "LIR"
	CMORPH    Stream = "CMORPH"
	RawCMORPH Stream = "RAW_CMORPH"
)

// Streams lists every stream in persisted order.
var Streams = []Stream{GFS, LIR, CMORPH, RawCMORPH}

// ErrUnknownStream is returned for a stream outside Streams.
var ErrUnknownStream = errors.New("unknown input stream")

// Granularity returns the key resolution of the stream.
func (s Stream) Granularity() cycle.Granularity {
	switch s {
	case CMORPH, RawCMORPH:
		return cycle.Minutely
	default:
		return cycle.Hourly
	}
}

// Ledger holds one sorted key set per stream.
type Ledger struct {
	sets map[Stream]*ledger.KeySet
}

// New returns an empty ledger.
func New() *Ledger {
	l := &Ledger{sets: make(map[Stream]*ledger.KeySet, len(Streams))}
	for _, s := range Streams {
		l.sets[s] = ledger.NewKeySet()
	}
	return l
}

// Decode builds a ledger from doc. Malformed keys are logged and skipped.
func Decode(doc *ledger.Document, logger *slog.Logger) *Ledger {
	l := New()
	sec, ok := doc.Lookup(Section)
	if !ok {
		return l
	}
	for _, s := range Streams {
		for _, key := range sec.List(string(s)) {
			if _, err := cycle.DecodeKey(key, s.Granularity()); err != nil {
				logger.Warn("skipping malformed ledger key", "stream", s, "key", key, "error", err)
				continue
			}
			l.sets[s].Add(key)
		}
	}
	return l
}

// Encode renders the ledger as a document.
func (l *Ledger) Encode() *ledger.Document {
	doc := ledger.NewDocument()
	sec := doc.Section(Section)
	for _, s := range Streams {
		sec.SetList(string(s), l.sets[s].Sorted())
	}
	return doc
}

func (l *Ledger) set(s Stream) (*ledger.KeySet, error) {
	ks, ok := l.sets[s]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStream, s)
	}
	return ks, nil
}

// HasEntry reports exact membership of key in stream.
func (l *Ledger) HasEntry(s Stream, key string) bool {
	ks, err := l.set(s)
	if err != nil {
		return false
	}
	return ks.Has(key)
}

// MarkEntry records key in stream. It reports whether the ledger changed;
// marking an existing key is a no-op.
func (l *Ledger) MarkEntry(s Stream, key string) (bool, error) {
	ks, err := l.set(s)
	if err != nil {
		return false, err
	}
	if _, err := cycle.DecodeKey(key, s.Granularity()); err != nil {
		return false, fmt.Errorf("mark %s: %w", s, err)
	}
	return ks.Add(key), nil
}

// Entries returns the keys of stream in ascending order.
func (l *Ledger) Entries(s Stream) []string {
	ks, err := l.set(s)
	if err != nil {
		return nil
	}
	return ks.Sorted()
}

// PruneOlderThan removes keys of stream strictly before t and returns them.
func (l *Ledger) PruneOlderThan(s Stream, t time.Time) []string {
	ks, err := l.set(s)
	if err != nil {
		return nil
	}
	g := s.Granularity()
	return ks.RemoveFunc(func(key string) bool {
		kt, err := cycle.DecodeKey(key, g)
		return err == nil && kt.Before(t)
	})
}

// PruneAllOlderThan prunes every stream and returns the number of keys removed.
func (l *Ledger) PruneAllOlderThan(t time.Time) int {
	n := 0
	for _, s := range Streams {
		n += len(l.PruneOlderThan(s, t))
	}
	return n
}

// Counts returns the number of keys per stream.
func (l *Ledger) Counts() map[Stream]int {
	out := make(map[Stream]int, len(Streams))
	for _, s := range Streams {
		out[s] = l.sets[s].Len()
	}
	return out
}
