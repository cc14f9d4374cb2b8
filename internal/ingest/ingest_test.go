package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/epochctl/internal/config"
	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/discover"
	"github.com/lucasnoah/epochctl/internal/inputs"
	"github.com/lucasnoah/epochctl/internal/ledger"
	"github.com/lucasnoah/epochctl/internal/observability"
	"github.com/lucasnoah/epochctl/internal/runner"
	"github.com/lucasnoah/epochctl/internal/state"
)

type fakeFinder struct {
	files map[string][]discover.File
}

func (f *fakeFinder) Find(src config.Source, _ []cycle.ID) ([]discover.File, error) {
	if files := f.files[src.Pattern]; len(files) > 0 {
		return append([]discover.File(nil), files...), nil
	}
	return nil, &discover.PathError{Dirs: src.Dirs, Pattern: src.Pattern}
}

type fakeExec struct {
	calls  []runner.Invocation
	failOn func(runner.Invocation) bool
}

func (e *fakeExec) Run(_ context.Context, inv runner.Invocation) error {
	e.calls = append(e.calls, inv)
	if e.failOn != nil && e.failOn(inv) {
		return &runner.StageFailure{App: inv.App, Instance: inv.Instance, ExitCode: 1}
	}
	return nil
}

func (e *fakeExec) count(app string) int {
	n := 0
	for _, c := range e.calls {
		if c.App == app {
			n++
		}
	}
	return n
}

type fakeThresholds struct {
	hours []cycle.ID
}

func (f *fakeThresholds) Update(_ context.Context, hour cycle.ID) error {
	f.hours = append(f.hours, hour)
	return nil
}

type fakeSnapshot struct {
	preserved [][]string
}

func (f *fakeSnapshot) Preserve(patterns []string, c cycle.ID) (int, error) {
	f.preserved = append(f.preserved, patterns)
	return len(patterns), nil
}

type harness struct {
	cfg    *config.Config
	dir    string
	in     *inputs.Tracker
	st     *state.Tracker
	finder *fakeFinder
	exec   *fakeExec
	snap   *fakeSnapshot
	thresh *fakeThresholds
	clock  *clockwork.FakeClock
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.CMORPH.Source.Pattern = "cmorph"
	cfg.GFS.MemberA.Pattern = "gfs-a"
	cfg.GFS.MemberB.Pattern = "gfs-b"
	cfg.LIR.Source.Pattern = "lir"

	dir := t.TempDir()
	h := &harness{
		cfg:    cfg,
		dir:    dir,
		finder: &fakeFinder{files: map[string][]discover.File{}},
		exec:   &fakeExec{},
		snap:   &fakeSnapshot{},
		thresh: &fakeThresholds{},
		clock:  clockwork.NewFakeClockAt(now),
	}
	h.reopen(t)
	return h
}

func (h *harness) reopen(t *testing.T) {
	t.Helper()
	var err error
	h.in, err = inputs.Open(ledger.Mirror{Primary: filepath.Join(h.dir, "EpochInputs.state")}, observability.Discard())
	require.NoError(t, err)
	h.st, err = state.Open(ledger.Mirror{Primary: filepath.Join(h.dir, "Epoch.state")}, observability.Discard())
	require.NoError(t, err)
}

func (h *harness) ingester() *Ingester {
	return New(Deps{
		Config:     h.cfg,
		Inputs:     h.in,
		State:      h.st,
		Finder:     h.finder,
		Exec:       h.exec,
		Snapshot:   h.snap,
		Thresholds: h.thresh,
		Clock:      h.clock,
	})
}

func at(s string) time.Time {
	g := cycle.Hourly
	if len(s) == 12 {
		g = cycle.Minutely
	}
	t, err := cycle.DecodeKey(s, g)
	if err != nil {
		panic(err)
	}
	return t
}

func cmorphFiles(keys ...string) []discover.File {
	var out []discover.File
	for _, k := range keys {
		out = append(out, discover.File{Path: "/in/cmorph/" + k + ".nc", Name: k + ".nc", Time: at(k), Lead: -1})
	}
	return out
}

func gfsFiles(member, c string, leads ...int) []discover.File {
	var out []discover.File
	for _, l := range leads {
		name := fmt.Sprintf("gfs.t%sz.pgrb2%s.0p25.f%03d", c[8:], member, l)
		out = append(out, discover.File{Path: "/in/gfs/" + c + "/" + name, Name: name, Time: at(c), Lead: l})
	}
	return out
}

func lirFiles(keys ...string) []discover.File {
	var out []discover.File
	for _, k := range keys {
		out = append(out, discover.File{Path: "/in/lir/GLOBCOMPLIR_nc." + k, Name: "GLOBCOMPLIR_nc." + k, Time: at(k), Lead: -1})
	}
	return out
}

var fullHalfHours = []string{"202306010000", "202306010030", "202306010100", "202306010130", "202306010200", "202306010230", "202306010300"}

func TestCMORPHAveragesCompleteHour(t *testing.T) {
	h := newHarness(t, at("202306010630"))
	h.finder.files["cmorph"] = cmorphFiles(fullHalfHours...)

	require.NoError(t, h.ingester().Run(context.Background(), "2023060106"))

	assert.Equal(t, fullHalfHours, h.in.Ledger().Entries(inputs.RawCMORPH))
	assert.True(t, h.in.Has(inputs.CMORPH, "202306010300"))
	assert.False(t, h.in.Has(inputs.CMORPH, "202306010000"), "00Z still waiting for the previous day")
	assert.Equal(t, 6, h.exec.count("NetCDF2Mdv"))
	assert.Equal(t, 1, h.exec.count("CmorphAverager"))
	assert.Equal(t, 1, h.exec.count("ObarCompute"))

	for _, c := range h.exec.calls {
		if c.App == "CmorphAverager" {
			assert.Equal(t, []string{"-interval", "20230601003000", "20230601030000"}, c.Args)
			assert.Equal(t, "202306010300", c.LogTag)
		}
	}
}

func TestCMORPHGivesUpAfterMaxLatency(t *testing.T) {
	h := newHarness(t, at("202306010630"))
	h.cfg.CMORPH.MaxLatencyHours = 6
	h.finder.files["cmorph"] = cmorphFiles(fullHalfHours...)

	require.NoError(t, h.ingester().Run(context.Background(), "2023060106"))
	assert.True(t, h.in.Has(inputs.CMORPH, "202306010000"), "00Z is 6h behind the cycle")
	assert.True(t, h.in.Has(inputs.CMORPH, "202306010300"))
}

func TestCMORPHLatencyIsRelativeToCycle(t *testing.T) {
	// A late re-run of 06Z must not give up on 00Z: it is 6h behind the
	// cycle, well inside the 24h limit, however late the wall clock is.
	h := newHarness(t, at("202306020630"))
	h.finder.files["cmorph"] = cmorphFiles(fullHalfHours...)

	require.NoError(t, h.ingester().Run(context.Background(), "2023060106"))
	assert.False(t, h.in.Has(inputs.CMORPH, "202306010000"))
	assert.True(t, h.in.Has(inputs.CMORPH, "202306010300"))
	assert.Equal(t, 1, h.exec.count("CmorphAverager"))
}

func TestCMORPHHonoursDelay(t *testing.T) {
	h := newHarness(t, at("202306030000"))
	h.cfg.CMORPH.DelayHours = 4
	h.finder.files["cmorph"] = cmorphFiles(fullHalfHours...)

	require.NoError(t, h.ingester().Run(context.Background(), "2023060106"))
	assert.False(t, h.in.Has(inputs.CMORPH, "202306010300"), "03Z is due at 07Z, after the cycle")
	assert.Zero(t, h.exec.count("CmorphAverager"))
}

func TestCMORPHFailureLeavesAverageUnrecorded(t *testing.T) {
	h := newHarness(t, at("202306010630"))
	h.finder.files["cmorph"] = cmorphFiles(fullHalfHours...)
	h.exec.failOn = func(inv runner.Invocation) bool { return inv.App == "CmorphAverager" }

	err := h.ingester().Run(context.Background(), "2023060106")
	require.ErrorIs(t, err, runner.ErrStageFailed)
	assert.Contains(t, err.Error(), "ingest CMORPH2")
	assert.False(t, h.in.Has(inputs.CMORPH, "202306010300"))
	assert.Len(t, h.in.Ledger().Entries(inputs.RawCMORPH), len(fullHalfHours))
}

func TestCMORPHTriggersThresholdsWhenLIRPresent(t *testing.T) {
	h := newHarness(t, at("202306010630"))
	h.finder.files["cmorph"] = cmorphFiles(fullHalfHours...)
	require.NoError(t, h.in.Mark(inputs.LIR, "2023060103"))

	require.NoError(t, h.ingester().Run(context.Background(), "2023060106"))
	assert.Equal(t, []cycle.ID{"2023060103"}, h.thresh.hours)
}

func TestGFSRequiresBothMembersWithAllLeads(t *testing.T) {
	h := newHarness(t, at("2023060106"))
	h.finder.files["gfs-a"] = append(gfsFiles("", "2023060100", 0, 3, 6, 9, 12), gfsFiles("", "2023060106", 0, 3, 6, 9, 12)...)
	h.finder.files["gfs-b"] = append(gfsFiles("b", "2023060100", 0, 3, 6, 9, 12, 15), gfsFiles("b", "2023060106", 0, 3, 6, 9)...)

	require.NoError(t, h.ingester().Run(context.Background(), "2023060106"))

	assert.Equal(t, []string{"2023060100"}, h.in.Ledger().Entries(inputs.GFS))
	assert.Equal(t, 10, h.exec.count("Grib2toMdv"), "lead 15 is not configured")
	assert.Equal(t, 1, h.exec.count("MdvMerge2"))
	assert.Len(t, h.snap.preserved, 1)
	assert.Equal(t, state.GFSProgress{}, h.st.Machine().GFS)
}

func TestGFSResumesAfterLastConvertedFile(t *testing.T) {
	h := newHarness(t, at("2023060106"))
	h.finder.files["gfs-a"] = gfsFiles("", "2023060100", 0, 3, 6, 9, 12)
	h.finder.files["gfs-b"] = gfsFiles("b", "2023060100", 0, 3, 6, 9, 12)

	h.exec.failOn = func(inv runner.Invocation) bool {
		return strings.HasSuffix(inv.Args[len(inv.Args)-1], "pgrb2.0p25.f009")
	}
	err := h.ingester().Run(context.Background(), "2023060106")
	require.ErrorIs(t, err, runner.ErrStageFailed)

	h.reopen(t)
	gfs := h.st.Machine().GFS
	assert.Equal(t, cycle.ID("2023060100"), gfs.Partial)
	assert.Equal(t, "gfs.t00z.pgrb2.0p25.f006", gfs.LastFile[state.MemberA])
	assert.False(t, h.in.Has(inputs.GFS, "2023060100"))

	h.exec = &fakeExec{}
	require.NoError(t, h.ingester().Run(context.Background(), "2023060106"))
	assert.Equal(t, 2+5, h.exec.count("Grib2toMdv"), "A resumes at f009, B runs in full")
	assert.True(t, h.in.Has(inputs.GFS, "2023060100"))
}

func TestGFSResumeSkipsCompletedSteps(t *testing.T) {
	h := newHarness(t, at("2023060106"))
	h.finder.files["gfs-a"] = gfsFiles("", "2023060100", 0, 3, 6, 9, 12)
	h.finder.files["gfs-b"] = gfsFiles("b", "2023060100", 0, 3, 6, 9, 12)
	require.NoError(t, h.st.Update(func(m *state.Machine) error {
		m.BeginGFS("2023060100")
		m.AdvanceGFS(state.GFSStepConvertB)
		return nil
	}))

	require.NoError(t, h.ingester().Run(context.Background(), "2023060106"))
	assert.Zero(t, h.exec.count("Grib2toMdv"))
	assert.Equal(t, 1, h.exec.count("MdvMerge2"))
}

func TestGFSRecordsMergeStep(t *testing.T) {
	h := newHarness(t, at("2023060106"))
	h.finder.files["gfs-a"] = gfsFiles("", "2023060100", 0, 3, 6, 9, 12)
	h.finder.files["gfs-b"] = gfsFiles("b", "2023060100", 0, 3, 6, 9, 12)
	require.NoError(t, h.st.Update(func(m *state.Machine) error {
		m.BeginGFS("2023060100")
		m.AdvanceGFS(state.GFSStepMerge)
		return nil
	}))

	require.NoError(t, h.ingester().Run(context.Background(), "2023060106"))
	assert.Zero(t, h.exec.count("Grib2toMdv"))
	assert.Zero(t, h.exec.count("MdvMerge2"), "merge already recorded")
	assert.True(t, h.in.Has(inputs.GFS, "2023060100"))
}

func TestGFSMergeFailureResumesAtMerge(t *testing.T) {
	h := newHarness(t, at("2023060106"))
	h.finder.files["gfs-a"] = gfsFiles("", "2023060100", 0, 3, 6, 9, 12)
	h.finder.files["gfs-b"] = gfsFiles("b", "2023060100", 0, 3, 6, 9, 12)
	h.exec.failOn = func(inv runner.Invocation) bool { return inv.App == "MdvMerge2" }

	require.ErrorIs(t, h.ingester().Run(context.Background(), "2023060106"), runner.ErrStageFailed)
	h.reopen(t)
	assert.Equal(t, state.GFSStepConvertB, h.st.Machine().GFS.LastDone)

	h.exec = &fakeExec{}
	require.NoError(t, h.ingester().Run(context.Background(), "2023060106"))
	assert.Zero(t, h.exec.count("Grib2toMdv"))
	assert.Equal(t, 1, h.exec.count("MdvMerge2"))
	assert.Equal(t, state.GFSProgress{}, h.st.Machine().GFS)
}

func TestLIRConvertsSynopticHoursWithPrecedingImages(t *testing.T) {
	h := newHarness(t, at("2023060106"))
	h.finder.files["lir"] = lirFiles("2023060106", "2023060101", "2023060102", "2023060103", "2023060104", "2023060105")
	require.NoError(t, h.in.Mark(inputs.CMORPH, "202306010300"))

	require.NoError(t, h.ingester().Run(context.Background(), "2023060106"))

	assert.Equal(t, []string{"2023060103", "2023060106"}, h.in.Ledger().Entries(inputs.LIR))
	assert.Equal(t, 6, h.exec.count("GmgsiNcf2Mdv"))
	assert.Equal(t, 2, h.exec.count("MdvTComp"))
	assert.Equal(t, []cycle.ID{"2023060103"}, h.thresh.hours)
	assert.Equal(t, "2023060106", h.st.Machine().LIR.LastDone)
}

func TestLIRResumeSkipsConvertedImages(t *testing.T) {
	h := newHarness(t, at("2023060106"))
	h.finder.files["lir"] = lirFiles("2023060101", "2023060102", "2023060103")
	require.NoError(t, h.st.Update(func(m *state.Machine) error {
		m.BeginLIR("2023060106")
		m.SetLIRDone("2023060102")
		return nil
	}))

	require.NoError(t, h.ingester().Run(context.Background(), "2023060106"))
	assert.Equal(t, 1, h.exec.count("GmgsiNcf2Mdv"))
	assert.True(t, h.in.Has(inputs.LIR, "2023060103"))
}

func TestNoInputsIsNotAnError(t *testing.T) {
	h := newHarness(t, at("2023060106"))
	require.NoError(t, h.ingester().Run(context.Background(), "2023060106"))
	assert.Empty(t, h.exec.calls)
}

func TestPreviousKeys(t *testing.T) {
	got := previousKeys(at("202306010300"), 30*time.Minute)
	assert.Equal(t, []string{"202306010030", "202306010100", "202306010130", "202306010200", "202306010230"}, got)
}
