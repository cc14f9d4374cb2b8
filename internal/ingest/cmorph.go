package ingest

import (
	"context"
	"time"

	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/discover"
	"github.com/lucasnoah/epochctl/internal/inputs"
	"github.com/lucasnoah/epochctl/internal/retention"
	"github.com/lucasnoah/epochctl/internal/runner"
)

// averageHours is the spacing of processed CMORPH averages.
const averageHours = 3

// ingestCMORPH registers raw half-hourly files and produces a 3-hourly
// average at each synoptic hour whose inputs are complete, or whose
// latency has run out. Delay and latency are measured from c, so a
// re-run of the same cycle makes the same decisions.
func (g *Ingester) ingestCMORPH(ctx context.Context, c cycle.ID, w retention.Window) error {
	cfg := g.cfg.CMORPH
	files, err := g.find(cfg.Source, w, "CMORPH2")
	if err != nil {
		return err
	}

	byKey := make(map[string]discover.File, len(files))
	for _, f := range files {
		key := f.Key(cycle.Minutely)
		byKey[key] = f
		if err := g.inputs.Mark(inputs.RawCMORPH, key); err != nil {
			return err
		}
	}

	freq := time.Duration(cfg.FrequencyMinutes) * time.Minute
	delay := time.Duration(cfg.DelayHours) * time.Hour
	maxLatency := time.Duration(cfg.MaxLatencyHours) * time.Hour
	now := c.Time()

	for _, key := range g.inputs.Ledger().Entries(inputs.RawCMORPH) {
		t, err := cycle.DecodeKey(key, cycle.Minutely)
		if err != nil || !w.Contains(t) || t.Minute() != 0 || t.Hour()%averageHours != 0 {
			continue
		}
		if g.inputs.Has(inputs.CMORPH, key) {
			continue
		}
		log := g.logger.With("cycle", c, "stream", "CMORPH2", "key", key)

		if now.Before(t.Add(delay)) {
			log.Info("average not due yet", "due", t.Add(delay))
			continue
		}

		window := previousKeys(t, freq)
		var missing []string
		for _, k := range window {
			if !g.inputs.Has(inputs.RawCMORPH, k) {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			if latency := now.Sub(t); latency < maxLatency {
				log.Info("waiting for raw inputs", "missing", missing, "latency", latency)
				continue
			}
			log.Warn("latency exceeded, averaging with missing inputs", "missing", missing)
		}

		for _, k := range append(window, key) {
			f, ok := byKey[k]
			if !ok {
				continue
			}
			inv, err := runner.For(cfg.Convert, runner.Target{Time: f.Time, File: f.Path, Tag: k})
			if err != nil {
				return err
			}
			if err := g.exec.Run(ctx, inv); err != nil {
				return err
			}
		}
		if err := runner.RunAll(ctx, g.exec, cfg.Average, runner.Target{Time: t, Tag: key}); err != nil {
			return err
		}
		if err := g.inputs.Mark(inputs.CMORPH, key); err != nil {
			return err
		}
		log.Info("average complete")

		hour := cycle.FromTime(t)
		if g.inputs.Has(inputs.LIR, string(hour)) {
			if err := g.updateThresholds(ctx, hour); err != nil {
				return err
			}
		}
	}
	return nil
}

// previousKeys returns the raw keys averaged together with t, oldest
// first, excluding t itself.
func previousKeys(t time.Time, freq time.Duration) []string {
	if freq <= 0 {
		return nil
	}
	n := int(runner.WindowSpan / freq)
	keys := make([]string, 0, n)
	for i := n; i >= 1; i-- {
		keys = append(keys, cycle.Minutely.Format(t.Add(-time.Duration(i)*freq)))
	}
	return keys
}
