package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/lucasnoah/epochctl/internal/config"
	"github.com/lucasnoah/epochctl/internal/cycle"
)

// WindowSpan is how far back a window-style command looks from its target.
const WindowSpan = 150 * time.Minute

const (
	intervalLayout = "20060102150405"
	startEndLayout = "2006 01 02 15 04 05"
)

// Target is what a configured command is pointed at.
type Target struct {
	Time time.Time
	File string
	Env  map[string]string
	Tag  string
}

// IntervalArgs returns `-interval <start> <end>`.
func IntervalArgs(start, end time.Time) []string {
	return []string{"-interval", start.UTC().Format(intervalLayout), end.UTC().Format(intervalLayout)}
}

// StartEndArgs returns `-start "<t>" -end "<t>"` for a single instant.
func StartEndArgs(t time.Time) []string {
	s := t.UTC().Format(startEndLayout)
	return []string{"-start", s, "-end", s}
}

// FileArgs returns `-f <path>`.
func FileArgs(path string) []string {
	return []string{"-f", path}
}

// Args builds the argument list for a configured style.
func Args(style string, tg Target) ([]string, error) {
	switch style {
	case config.ArgsInterval, "":
		return IntervalArgs(tg.Time, tg.Time), nil
	case config.ArgsStartEnd:
		return StartEndArgs(tg.Time), nil
	case config.ArgsFile:
		if tg.File == "" {
			return nil, fmt.Errorf("args style %q needs a file", style)
		}
		return FileArgs(tg.File), nil
	case config.ArgsWindow:
		return IntervalArgs(tg.Time.Add(-WindowSpan), tg.Time), nil
	default:
		return nil, fmt.Errorf("unknown args style %q", style)
	}
}

// For resolves a configured command against tg.
func For(c config.Command, tg Target) (Invocation, error) {
	args, err := Args(c.Args, tg)
	if err != nil {
		return Invocation{}, fmt.Errorf("%s.%s: %w", c.App, c.Instance, err)
	}
	tag := tg.Tag
	if tag == "" {
		tag = Tag(tg.Time)
	}
	return Invocation{
		App:      c.App,
		Instance: c.Instance,
		Args:     args,
		Env:      tg.Env,
		LogTag:   tag,
	}, nil
}

// Tag formats t as an hour key, or a minute key when t is off the hour.
func Tag(t time.Time) string {
	if t.Minute() != 0 {
		return cycle.Minutely.Format(t)
	}
	return cycle.Hourly.Format(t)
}

// EnsembleEnv returns the environment identifying an ensemble member.
func EnsembleEnv(number, member string) map[string]string {
	env := map[string]string{}
	if number != "" {
		env["ENSEMBLE_NUMBER"] = number
	}
	if member != "" {
		env["ENSEMBLE_MEMBER"] = member
	}
	return env
}

// Executor runs one invocation. *Runner implements it.
type Executor interface {
	Run(ctx context.Context, inv Invocation) error
}

// RunAll runs cmds in order against tg, stopping at the first failure.
func RunAll(ctx context.Context, ex Executor, cmds []config.Command, tg Target) error {
	for _, c := range cmds {
		inv, err := For(c, tg)
		if err != nil {
			return err
		}
		if err := ex.Run(ctx, inv); err != nil {
			return err
		}
	}
	return nil
}
