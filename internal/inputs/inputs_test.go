package inputs

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/ledger"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMarkEntryIdempotent(t *testing.T) {
	l := New()
	changed, err := l.MarkEntry(GFS, "2023060100")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = l.MarkEntry(GFS, "2023060100")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, []string{"2023060100"}, l.Entries(GFS))
}

func TestMarkEntryRejectsWrongGranularity(t *testing.T) {
	l := New()
	_, err := l.MarkEntry(CMORPH, "2023060100")
	assert.True(t, errors.Is(err, cycle.ErrMalformedKey))

	_, err = l.MarkEntry(LIR, "202306010000")
	assert.True(t, errors.Is(err, cycle.ErrMalformedKey))

	_, err = l.MarkEntry(Stream("SAT"), "2023060100")
	assert.True(t, errors.Is(err, ErrUnknownStream))
}

func TestHasEntryIsExactMatch(t *testing.T) {
	l := New()
	_, err := l.MarkEntry(RawCMORPH, "202306010030")
	require.NoError(t, err)

	assert.True(t, l.HasEntry(RawCMORPH, "202306010030"))
	assert.False(t, l.HasEntry(RawCMORPH, "2023060100"))
	assert.False(t, l.HasEntry(RawCMORPH, "0030"))
	assert.False(t, l.HasEntry(CMORPH, "202306010030"))
}

func TestPruneOlderThanBoundary(t *testing.T) {
	l := New()
	for _, k := range []string{"2023052900", "2023053000", "2023053100"} {
		_, err := l.MarkEntry(GFS, k)
		require.NoError(t, err)
	}
	threshold := time.Date(2023, 5, 30, 0, 0, 0, 0, time.UTC)

	removed := l.PruneOlderThan(GFS, threshold)
	assert.Equal(t, []string{"2023052900"}, removed)
	assert.Equal(t, []string{"2023053000", "2023053100"}, l.Entries(GFS))
}

func TestPruneAllOlderThan(t *testing.T) {
	l := New()
	mark := func(s Stream, k string) {
		_, err := l.MarkEntry(s, k)
		require.NoError(t, err)
	}
	mark(GFS, "2023052818")
	mark(LIR, "2023060103")
	mark(CMORPH, "202305281500")
	mark(RawCMORPH, "202306010030")

	n := l.PruneAllOlderThan(time.Date(2023, 5, 29, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 2, n)
	assert.Equal(t, map[Stream]int{GFS: 0, LIR: 1, CMORPH: 0, RawCMORPH: 1}, l.Counts())
}

func TestDecodeSkipsMalformedKeys(t *testing.T) {
	doc := ledger.NewDocument()
	sec := doc.Section(Section)
	sec.Set("GFS", "2023060100 garbage 20230601")
	sec.Set("CMORPH", "202306010000 2023060103")

	l := Decode(doc, discard())
	assert.Equal(t, []string{"2023060100"}, l.Entries(GFS))
	assert.Equal(t, []string{"202306010000"}, l.Entries(CMORPH))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	l := New()
	_, _ = l.MarkEntry(LIR, "2023060106")
	_, _ = l.MarkEntry(LIR, "2023060103")
	_, _ = l.MarkEntry(RawCMORPH, "202306010130")

	got := Decode(l.Encode(), discard())
	for _, s := range Streams {
		assert.Equal(t, l.Entries(s), got.Entries(s), s)
	}
}

func TestTrackerPersistsOnChange(t *testing.T) {
	dir := t.TempDir()
	m := ledger.Mirror{
		Primary:   filepath.Join(dir, "work", "EpochInputs.state"),
		Secondary: filepath.Join(dir, "restart", "EpochInputs.state"),
	}
	tr, err := Open(m, discard())
	require.NoError(t, err)
	require.NoError(t, tr.Mark(LIR, "2023060103"))
	assert.True(t, tr.Has(LIR, "2023060103"))

	for _, path := range []string{m.Primary, m.Secondary} {
		doc, err := ledger.Load(path)
		require.NoError(t, err)
		got := Decode(doc, discard())
		assert.Equal(t, []string{"2023060103"}, got.Entries(LIR), path)
	}
}

func TestTrackerObserved(t *testing.T) {
	tr, err := Open(ledger.Mirror{Primary: filepath.Join(t.TempDir(), "EpochInputs.state")}, discard())
	require.NoError(t, err)

	require.NoError(t, tr.Mark(LIR, "2023060103"))
	assert.False(t, tr.Observed("2023060103"))

	require.NoError(t, tr.Mark(CMORPH, "202306010300"))
	assert.True(t, tr.Observed("2023060103"))
	assert.False(t, tr.Observed("2023060106"))
}
