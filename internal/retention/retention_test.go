package retention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/epochctl/internal/config"
	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/inputs"
	"github.com/lucasnoah/epochctl/internal/state"
)

func policy() Policy {
	return NewPolicy(config.Retention{
		MaxLookbackDays:      2,
		MaxModelLookbackDays: 3,
		MaxLookaheadDays:     1,
		MaxEnsembleLeadHours: 96,
	})
}

func TestHorizons(t *testing.T) {
	c := cycle.MustParse("2023060112")
	p := policy()

	assert.Equal(t, time.Date(2023, 5, 30, 12, 0, 0, 0, time.UTC), p.InputHorizon(c))
	assert.Equal(t, time.Date(2023, 5, 29, 12, 0, 0, 0, time.UTC), p.EnsembleHorizon(c))
	// 96h lead => 5 days beats the 3-day model lookback
	assert.Equal(t, time.Date(2023, 5, 27, 12, 0, 0, 0, time.UTC), p.ThresholdHorizon(c))
	assert.Equal(t, 96*time.Hour, p.MaxEnsembleLead())
}

func TestThresholdHorizonUsesModelLookbackWhenLonger(t *testing.T) {
	p := Policy{MaxModelLookbackDays: 10, MaxEnsembleLeadHours: 36}
	c := cycle.MustParse("2023061000")
	assert.Equal(t, time.Date(2023, 5, 31, 0, 0, 0, 0, time.UTC), p.ThresholdHorizon(c))
}

func TestIngestWindowBounds(t *testing.T) {
	c := cycle.MustParse("2023060112")
	w := policy().IngestWindow(c)

	assert.False(t, w.Contains(w.Oldest), "oldest bound is exclusive")
	assert.True(t, w.Contains(w.Oldest.Add(time.Minute)))
	assert.True(t, w.Contains(w.Newest), "newest bound is inclusive")
	assert.False(t, w.Contains(w.Newest.Add(time.Minute)))
	assert.True(t, w.Contains(c.Time()))
}

func TestPruneInputs(t *testing.T) {
	l := inputs.New()
	for _, k := range []string{"2023053006", "2023053012", "2023060100"} {
		_, err := l.MarkEntry(inputs.LIR, k)
		require.NoError(t, err)
	}
	n := policy().PruneInputs(l, cycle.MustParse("2023060112"))
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"2023053012", "2023060100"}, l.Entries(inputs.LIR))
}

func TestPruneState(t *testing.T) {
	m := state.New()
	m.MarkFinished(state.EnsembleB, cycle.MustParse("2023052906"))
	m.MarkFinished(state.EnsembleB, cycle.MustParse("2023052912"))
	m.MarkThresholded(state.EnsembleB, cycle.MustParse("2023052706"))
	m.MarkThresholded(state.EnsembleB, cycle.MustParse("2023052906"))

	n := policy().PruneState(m, cycle.MustParse("2023060112"))
	assert.Equal(t, 2, n)
	assert.Equal(t, []cycle.ID{"2023052912"}, m.Finished(state.EnsembleB))
	assert.Equal(t, []cycle.ID{"2023052906"}, m.Thresholded(state.EnsembleB))
}
