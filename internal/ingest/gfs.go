package ingest

import (
	"context"
	"sort"

	"github.com/lucasnoah/epochctl/internal/config"
	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/discover"
	"github.com/lucasnoah/epochctl/internal/inputs"
	"github.com/lucasnoah/epochctl/internal/retention"
	"github.com/lucasnoah/epochctl/internal/runner"
	"github.com/lucasnoah/epochctl/internal/state"
)

// gfsCycle holds the files of one GFS cycle, per member, sorted by name.
type gfsCycle struct {
	id    cycle.ID
	files [2][]discover.File
}

// ingestGFS converts every GFS cycle in the window whose two members carry
// the full lead set. Conversion resumes per file and per step.
func (g *Ingester) ingestGFS(ctx context.Context, c cycle.ID, w retention.Window) error {
	cfg := g.cfg.GFS
	var members [2][]discover.File
	for i, src := range []config.Source{cfg.MemberA, cfg.MemberB} {
		files, err := g.find(src, w, "GFS-"+state.Member(i).String())
		if err != nil {
			return err
		}
		members[i] = files
	}

	for _, gc := range completeGFSCycles(members, cfg.LeadHours) {
		if g.inputs.Has(inputs.GFS, string(gc.id)) {
			continue
		}
		if err := g.convertGFS(ctx, gc); err != nil {
			return err
		}
	}
	return nil
}

func (g *Ingester) convertGFS(ctx context.Context, gc gfsCycle) error {
	cfg := g.cfg.GFS
	log := g.logger.With("stream", "GFS", "gfs_cycle", gc.id)

	var progress state.GFSProgress
	if err := g.state.Update(func(m *state.Machine) error {
		progress = m.BeginGFS(gc.id)
		return nil
	}); err != nil {
		return err
	}
	if progress.LastDone > state.GFSStepNone {
		log.Info("resuming GFS conversion", "last_done", progress.LastDone, "last_file_a", progress.LastFile[state.MemberA], "last_file_b", progress.LastFile[state.MemberB])
	}

	steps := []struct {
		step   state.GFSStep
		member state.Member
		cmd    config.Command
	}{
		{state.GFSStepConvertA, state.MemberA, cfg.ConvertA},
		{state.GFSStepConvertB, state.MemberB, cfg.ConvertB},
	}
	for _, s := range steps {
		if progress.LastDone >= s.step {
			continue
		}
		for _, f := range gc.files[s.member] {
			if f.Name <= progress.LastFile[s.member] {
				continue
			}
			inv, err := runner.For(s.cmd, runner.Target{Time: f.Time, File: f.Path, Tag: string(gc.id)})
			if err != nil {
				return err
			}
			if err := g.exec.Run(ctx, inv); err != nil {
				return err
			}
			member, name := s.member, f.Name
			if err := g.state.Update(func(m *state.Machine) error {
				m.SetGFSFile(member, name)
				return nil
			}); err != nil {
				return err
			}
		}
		if s.step == state.GFSStepConvertB && g.snap != nil {
			if _, err := g.snap.Preserve(cfg.Preserve, gc.id); err != nil {
				return err
			}
		}
		step := s.step
		if err := g.state.Update(func(m *state.Machine) error {
			m.AdvanceGFS(step)
			return nil
		}); err != nil {
			return err
		}
		log.Info("GFS step complete", "step", step)
	}

	if progress.LastDone < state.GFSStepMerge {
		if err := runner.RunAll(ctx, g.exec, cfg.Merge, runner.Target{Time: gc.id.Time()}); err != nil {
			return err
		}
		if err := g.state.Update(func(m *state.Machine) error {
			m.AdvanceGFS(state.GFSStepMerge)
			return nil
		}); err != nil {
			return err
		}
		log.Info("GFS step complete", "step", state.GFSStepMerge)
	}
	if err := g.inputs.Mark(inputs.GFS, string(gc.id)); err != nil {
		return err
	}
	if err := g.state.Update(func(m *state.Machine) error {
		m.ClearGFS()
		return nil
	}); err != nil {
		return err
	}
	log.Info("GFS cycle ingested")
	return nil
}

// completeGFSCycles groups member files by cycle and keeps the cycles in
// which both members have every lead in leads, oldest first. Only files at
// those leads are kept.
func completeGFSCycles(members [2][]discover.File, leads []int) []gfsCycle {
	want := map[int]bool{}
	for _, l := range leads {
		want[l] = true
	}

	byCycle := map[cycle.ID]*gfsCycle{}
	for i, files := range members {
		for _, f := range files {
			if !want[f.Lead] {
				continue
			}
			id := f.Cycle()
			gc, ok := byCycle[id]
			if !ok {
				gc = &gfsCycle{id: id}
				byCycle[id] = gc
			}
			gc.files[i] = append(gc.files[i], f)
		}
	}

	var out []gfsCycle
	for _, gc := range byCycle {
		if hasLeads(gc.files[0], want) && hasLeads(gc.files[1], want) {
			for i := range gc.files {
				sort.Slice(gc.files[i], func(a, b int) bool { return gc.files[i][a].Name < gc.files[i][b].Name })
			}
			out = append(out, *gc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func hasLeads(files []discover.File, want map[int]bool) bool {
	seen := map[int]bool{}
	for _, f := range files {
		seen[f.Lead] = true
	}
	for l := range want {
		if !seen[l] {
			return false
		}
	}
	return len(want) > 0
}
