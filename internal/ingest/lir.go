package ingest

import (
	"context"
	"sort"
	"time"

	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/discover"
	"github.com/lucasnoah/epochctl/internal/inputs"
	"github.com/lucasnoah/epochctl/internal/retention"
	"github.com/lucasnoah/epochctl/internal/runner"
	"github.com/lucasnoah/epochctl/internal/state"
)

// ingestLIR converts the 3-hourly LIR composites in the window. Each one
// also converts the two hourly images before it when they are present.
func (g *Ingester) ingestLIR(ctx context.Context, c cycle.ID, w retention.Window) error {
	cfg := g.cfg.LIR
	files, err := g.find(cfg.Source, w, "LIR")
	if err != nil {
		return err
	}

	sort.SliceStable(files, func(i, j int) bool { return files[i].Time.Before(files[j].Time) })
	byHour := make(map[cycle.ID]discover.File, len(files))
	for _, f := range files {
		byHour[f.Cycle()] = f
	}

	var lastDone string
	if err := g.state.Update(func(m *state.Machine) error {
		m.BeginLIR(c)
		lastDone = m.LIR.LastDone
		return nil
	}); err != nil {
		return err
	}

	for _, f := range files {
		hour := f.Cycle()
		if hour.Hour()%averageHours != 0 || g.inputs.Has(inputs.LIR, string(hour)) {
			continue
		}
		log := g.logger.With("cycle", c, "stream", "LIR", "hour", hour)

		for _, h := range []cycle.ID{hour.Add(-2 * time.Hour), hour.Add(-time.Hour), hour} {
			img, ok := byHour[h]
			if !ok || string(h) <= lastDone {
				continue
			}
			if err := runner.RunAll(ctx, g.exec, cfg.PerHour, runner.Target{Time: img.Time, File: img.Path, Tag: string(h)}); err != nil {
				return err
			}
			done := string(h)
			if err := g.state.Update(func(m *state.Machine) error {
				m.SetLIRDone(done)
				return nil
			}); err != nil {
				return err
			}
			lastDone = done
		}

		if err := runner.RunAll(ctx, g.exec, cfg.Final, runner.Target{Time: hour.Time(), Tag: string(hour)}); err != nil {
			return err
		}
		if err := g.inputs.Mark(inputs.LIR, string(hour)); err != nil {
			return err
		}
		log.Info("LIR hour ingested")

		if g.inputs.Has(inputs.CMORPH, hour.MinuteKey()) {
			if err := g.updateThresholds(ctx, hour); err != nil {
				return err
			}
		}
	}
	return nil
}
