package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lucasnoah/epochctl/internal/config"
)

// mockCmd records calls and returns configured results.
type mockCmd struct {
	calls   []Command
	results []mockResult
	callIdx int
	// block makes Run wait for ctx like a hung process.
	block bool
}

type mockResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (m *mockCmd) Run(ctx context.Context, c Command) (string, string, int, error) {
	m.calls = append(m.calls, c)
	if m.block {
		<-ctx.Done()
		return "", "", -1, ctx.Err()
	}
	if m.callIdx >= len(m.results) {
		return "", "", 0, nil
	}
	r := m.results[m.callIdx]
	m.callIdx++
	return r.Stdout, r.Stderr, r.ExitCode, r.Err
}

func newTestRunner(t *testing.T, mock *mockCmd) (*Runner, string) {
	t.Helper()
	logs := t.TempDir()
	return New(mock, Options{
		ExecDir:  "/opt/epoch/exec",
		ParmsDir: "/opt/epoch/parms",
		LogDir:   logs,
		Env:      map[string]string{"EPOCH_HOME": "/opt/epoch"},
		Clock:    clockwork.NewFakeClockAt(time.Date(2023, 6, 1, 12, 5, 0, 0, time.UTC)),
	}), logs
}

func hasEnv(env []string, kv string) bool {
	for _, e := range env {
		if e == kv {
			return true
		}
	}
	return false
}

func TestRunner_Run_HappyPath(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Stdout: "converted 3 fields\n", ExitCode: 0}}}
	r, logs := newTestRunner(t, mock)

	err := r.Run(context.Background(), Invocation{
		App:      "Grib2toMdv",
		Instance: "gefs",
		Args:     []string{"-f", "/data/gefs/ge01.t00z.f006"},
		Env:      map[string]string{"ENSEMBLE_MEMBER": "gep01"},
		LogTag:   "2023060100",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(mock.calls))
	}
	c := mock.calls[0]
	if c.Path != "/opt/epoch/exec/Grib2toMdv" {
		t.Errorf("path = %q", c.Path)
	}
	if got := strings.Join(c.Args, " "); got != "-params Grib2toMdv.gefs -f /data/gefs/ge01.t00z.f006" {
		t.Errorf("args = %q", got)
	}
	if c.Dir != "/opt/epoch/parms" {
		t.Errorf("dir = %q, want parms dir", c.Dir)
	}
	if !hasEnv(c.Env, "EPOCH_HOME=/opt/epoch") || !hasEnv(c.Env, "ENSEMBLE_MEMBER=gep01") {
		t.Errorf("env missing configured or per-call values")
	}

	out, err := os.ReadFile(filepath.Join(logs, "20230601", "Grib2toMdv.gefs.2023060100.out"))
	if err != nil {
		t.Fatalf("read stdout log: %v", err)
	}
	if string(out) != "converted 3 fields\n" {
		t.Errorf("stdout log = %q", out)
	}
	if _, err := os.Stat(filepath.Join(logs, "20230601", "Grib2toMdv.gefs.2023060100.err")); err != nil {
		t.Errorf("stderr log missing: %v", err)
	}
}

func TestRunner_Run_NonZeroExit(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Stderr: "reading params\nmissing input file\n", ExitCode: 3}}}
	r, _ := newTestRunner(t, mock)

	err := r.Run(context.Background(), Invocation{App: "PbarCompute", Instance: "cmce", LogTag: "2023060100"})
	if !errors.Is(err, ErrStageFailed) {
		t.Fatalf("expected ErrStageFailed, got %v", err)
	}
	var sf *StageFailure
	if !errors.As(err, &sf) {
		t.Fatalf("expected *StageFailure, got %T", err)
	}
	if sf.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", sf.ExitCode)
	}
	if !strings.Contains(err.Error(), "missing input file") {
		t.Errorf("error should carry last stderr line: %v", err)
	}
}

func TestRunner_Run_StartError(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{ExitCode: -1, Err: errors.New("exec: no such file")}}}
	r, _ := newTestRunner(t, mock)

	err := r.Run(context.Background(), Invocation{App: "Missing", Instance: "x"})
	if !errors.Is(err, ErrStageFailed) {
		t.Fatalf("expected ErrStageFailed, got %v", err)
	}
}

func TestRunner_Run_CancelledContext(t *testing.T) {
	mock := &mockCmd{}
	r, _ := newTestRunner(t, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Run(ctx, Invocation{App: "Grib2toMdv", Instance: "gfs"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(mock.calls) != 0 {
		t.Errorf("cancelled run should not start a process")
	}
}

func TestRunner_Run_TimeoutIsStageFailure(t *testing.T) {
	mock := &mockCmd{block: true}
	r := New(mock, Options{Timeout: 10 * time.Millisecond})

	err := r.Run(context.Background(), Invocation{App: "EnsLookupGen", Instance: "cmce"})
	if !errors.Is(err, ErrStageFailed) {
		t.Fatalf("expected ErrStageFailed, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the deadline to be wrapped, got %v", err)
	}
	var sf *StageFailure
	if !errors.As(err, &sf) || sf.App != "EnsLookupGen" {
		t.Errorf("expected *StageFailure for EnsLookupGen, got %#v", err)
	}
}

func TestRunner_Run_ParentDeadlineIsNotStageFailure(t *testing.T) {
	mock := &mockCmd{block: true}
	r := New(mock, Options{Timeout: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := r.Run(ctx, Invocation{App: "EnsLookupGen", Instance: "cmce"})
	if errors.Is(err, ErrStageFailed) {
		t.Fatalf("parent deadline should not be a stage failure: %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestRunner_Run_DirOverride(t *testing.T) {
	mock := &mockCmd{}
	r, _ := newTestRunner(t, mock)

	if err := r.Run(context.Background(), Invocation{App: "a", Instance: "b", Dir: "/scratch"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.calls[0].Dir != "/scratch" {
		t.Errorf("dir = %q", mock.calls[0].Dir)
	}
}

func TestLogPaths_UntaggedUsesClockDay(t *testing.T) {
	r := New(&mockCmd{}, Options{LogDir: "/logs"})
	out, errPath := r.LogPaths(Invocation{App: "Combine", Instance: "epoch"}, time.Date(2023, 6, 2, 1, 0, 0, 0, time.UTC))
	if out != "/logs/20230602/Combine.epoch.out" || errPath != "/logs/20230602/Combine.epoch.err" {
		t.Errorf("paths = %q, %q", out, errPath)
	}
}

func TestArgs(t *testing.T) {
	at := time.Date(2023, 6, 1, 3, 0, 0, 0, time.UTC)
	tests := []struct {
		style string
		tg    Target
		want  string
	}{
		{config.ArgsInterval, Target{Time: at}, "-interval 20230601030000 20230601030000"},
		{"", Target{Time: at}, "-interval 20230601030000 20230601030000"},
		{config.ArgsStartEnd, Target{Time: at}, "-start 2023 06 01 03 00 00 -end 2023 06 01 03 00 00"},
		{config.ArgsFile, Target{Time: at, File: "/in/x.grb"}, "-f /in/x.grb"},
		{config.ArgsWindow, Target{Time: at}, "-interval 20230601003000 20230601030000"},
	}
	for _, tt := range tests {
		t.Run(tt.style, func(t *testing.T) {
			got, err := Args(tt.style, tt.tg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.Join(got, " ") != tt.want {
				t.Errorf("got %q, want %q", strings.Join(got, " "), tt.want)
			}
		})
	}

	if _, err := Args(config.ArgsFile, Target{Time: at}); err == nil {
		t.Error("file style without a file should fail")
	}
	if _, err := Args("bogus", Target{Time: at}); err == nil {
		t.Error("unknown style should fail")
	}
}

func TestForDefaultsTag(t *testing.T) {
	inv, err := For(config.Command{App: "CmorphAvg", Instance: "3hr"}, Target{Time: time.Date(2023, 6, 1, 3, 30, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.LogTag != "202306010330" {
		t.Errorf("tag = %q", inv.LogTag)
	}
}

type recordingExec struct {
	ran    []string
	failOn string
}

func (e *recordingExec) Run(ctx context.Context, inv Invocation) error {
	e.ran = append(e.ran, inv.Name())
	if inv.Name() == e.failOn {
		return &StageFailure{App: inv.App, Instance: inv.Instance, ExitCode: 1}
	}
	return nil
}

func TestRunAllStopsAtFirstFailure(t *testing.T) {
	ex := &recordingExec{failOn: "b.2"}
	cmds := []config.Command{{App: "a", Instance: "1"}, {App: "b", Instance: "2"}, {App: "c", Instance: "3"}}

	err := RunAll(context.Background(), ex, cmds, Target{Time: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)})
	if !errors.Is(err, ErrStageFailed) {
		t.Fatalf("expected failure, got %v", err)
	}
	if strings.Join(ex.ran, ",") != "a.1,b.2" {
		t.Errorf("ran %v", ex.ran)
	}
}
