// Package runner invokes the forecast executables. Each invocation is
// `<exec>/<app> -params <app>.<instance> [args...]` run from the parameter
// directory, with stdout and stderr captured to per-day log files.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lucasnoah/epochctl/internal/fsutil"
	"github.com/lucasnoah/epochctl/internal/observability"
)

// ErrStageFailed is matched by every StageFailure.
var ErrStageFailed = errors.New("stage command failed")

// StageFailure reports an executable that exited non-zero or could not be
// started. The unit it belonged to must not be recorded as done.
type StageFailure struct {
	App      string
	Instance string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *StageFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %v", e.App, e.Instance, e.Err)
	}
	msg := fmt.Sprintf("%s.%s exited with status %d", e.App, e.Instance, e.ExitCode)
	if last := lastLine(e.Stderr); last != "" {
		msg += ": " + last
	}
	return msg
}

func (e *StageFailure) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrStageFailed, e.Err}
	}
	return []error{ErrStageFailed}
}

// Command is a fully resolved process to start.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// CommandRunner abstracts process execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, c Command) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner with os/exec. No shell is involved.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, c Command) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Invocation is one executable run.
type Invocation struct {
	App      string
	Instance string
	Args     []string
	// Dir overrides the working directory; empty means the parms directory.
	Dir string
	// Env is added on top of the configured environment.
	Env map[string]string
	// LogTag names the log files, normally the timestamp key being processed.
	LogTag string
}

// Name is the parameter file name, <app>.<instance>.
func (inv Invocation) Name() string {
	return inv.App + "." + inv.Instance
}

// Options configures a Runner.
type Options struct {
	ExecDir  string
	ParmsDir string
	LogDir   string
	Env      map[string]string
	Timeout  time.Duration
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Clock    clockwork.Clock
}

// Runner runs invocations synchronously.
type Runner struct {
	cmd  CommandRunner
	opts Options
}

// New creates a Runner. A nil cmd uses ExecRunner.
func New(cmd CommandRunner, opts Options) *Runner {
	if cmd == nil {
		cmd = &ExecRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = observability.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Runner{cmd: cmd, opts: opts}
}

// Run executes inv and blocks until it exits. A non-zero exit or a
// command timeout returns a *StageFailure; a cancelled ctx returns the
// context error.
func (r *Runner) Run(ctx context.Context, inv Invocation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	c := Command{
		Path: filepath.Join(r.opts.ExecDir, inv.App),
		Args: append([]string{"-params", inv.Name()}, inv.Args...),
		Dir:  inv.Dir,
		Env:  r.environ(inv.Env),
	}
	if c.Dir == "" {
		c.Dir = r.opts.ParmsDir
	}

	log := r.opts.Logger.With("app", inv.App, "instance", inv.Instance, "tag", inv.LogTag)
	log.Debug("running command", "args", strings.Join(c.Args, " "))

	start := r.opts.Clock.Now()
	stdout, stderr, code, err := r.cmd.Run(runCtx, c)
	elapsed := r.opts.Clock.Since(start)

	if werr := r.writeLogs(inv, start, stdout, stderr); werr != nil {
		log.Warn("writing command logs", "error", werr)
	}

	switch {
	case err != nil:
		r.opts.Metrics.ObserveCommand(inv.App, "error", elapsed)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", inv.Name(), ctxErr)
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			log.Error("command timed out", "timeout", r.opts.Timeout)
			err = fmt.Errorf("timed out after %s: %w", r.opts.Timeout, context.DeadlineExceeded)
		}
		return &StageFailure{App: inv.App, Instance: inv.Instance, ExitCode: code, Stderr: stderr, Err: err}
	case code != 0:
		r.opts.Metrics.ObserveCommand(inv.App, "failure", elapsed)
		log.Error("command failed", "exit_code", code, "duration", elapsed)
		return &StageFailure{App: inv.App, Instance: inv.Instance, ExitCode: code, Stderr: stderr}
	}
	r.opts.Metrics.ObserveCommand(inv.App, "success", elapsed)
	log.Info("command finished", "duration", elapsed)
	return nil
}

// LogPaths returns the stdout and stderr files for inv run at t.
func (r *Runner) LogPaths(inv Invocation, t time.Time) (string, string) {
	day := t.UTC().Format("20060102")
	if len(inv.LogTag) >= 8 {
		day = inv.LogTag[:8]
	}
	base := filepath.Join(r.opts.LogDir, day, inv.Name())
	if inv.LogTag != "" {
		base += "." + inv.LogTag
	}
	return base + ".out", base + ".err"
}

func (r *Runner) writeLogs(inv Invocation, t time.Time, stdout, stderr string) error {
	if r.opts.LogDir == "" {
		return nil
	}
	outPath, errPath := r.LogPaths(inv, t)
	return errors.Join(
		fsutil.WriteAtomic(outPath, []byte(stdout)),
		fsutil.WriteAtomic(errPath, []byte(stderr)),
	)
}

// environ merges the process environment, the configured map and extra.
// Later sources win.
func (r *Runner) environ(extra map[string]string) []string {
	env := os.Environ()
	for _, m := range []map[string]string{r.opts.Env, extra} {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, k+"="+m[k])
		}
	}
	return env
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
