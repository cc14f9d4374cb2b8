// Package snapshot manages the per-cycle directories: the restart snapshot
// whose existence marks an unfinished run, the working copies of the
// ledgers, and the published copies the next cycle seeds from.
package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lucasnoah/epochctl/internal/config"
	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/fsutil"
	"github.com/lucasnoah/epochctl/internal/ledger"
	"github.com/lucasnoah/epochctl/internal/observability"
)

// Ledger file names, identical in the workspace, restart and output trees.
const (
	StateFile  = "Epoch.state"
	InputsFile = "EpochInputs.state"
)

// Ledgers lists the ledger file names.
var Ledgers = []string{StateFile, InputsFile}

const dataDir = "data"

// Layout is the set of directories for one cycle.
type Layout struct {
	Workspace string
	Data      string
	Output    string
	Restart   string
}

// NewLayout expands the configured paths for c.
func NewLayout(p config.Paths, c cycle.ID) Layout {
	l := Layout{
		Workspace: c.Expand(p.Workspace),
		Data:      c.Expand(p.Data),
		Output:    c.Expand(p.Output),
		Restart:   c.Expand(p.Restart),
	}
	if l.Restart == "" {
		l.Restart = filepath.Join(l.Output, "restart")
	}
	return l
}

// StateMirror is the state machine's working and restart locators.
func (l Layout) StateMirror() ledger.Mirror {
	return ledger.Mirror{Primary: filepath.Join(l.Workspace, StateFile), Secondary: filepath.Join(l.Restart, StateFile)}
}

// InputsMirror is the input ledger's working and restart locators.
func (l Layout) InputsMirror() ledger.Mirror {
	return ledger.Mirror{Primary: filepath.Join(l.Workspace, InputsFile), Secondary: filepath.Join(l.Restart, InputsFile)}
}

// Manager moves ledgers and intermediate trees between a cycle's
// directories.
type Manager struct {
	paths  config.Paths
	cycle  cycle.ID
	layout Layout
	logger *slog.Logger
}

// New creates a Manager for cycle c.
func New(p config.Paths, c cycle.ID, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Manager{paths: p, cycle: c, layout: NewLayout(p, c), logger: logger}
}

// Layout returns the cycle's directories.
func (m *Manager) Layout() Layout {
	return m.layout
}

// CrashDetected reports whether a previous run of this cycle left its
// restart snapshot behind.
func (m *Manager) CrashDetected() bool {
	info, err := os.Stat(m.layout.Restart)
	return err == nil && info.IsDir()
}

// Restore copies the snapshot's ledgers into the workspace and its
// preserved intermediate trees back under the data directory.
func (m *Manager) Restore() error {
	if err := os.MkdirAll(m.layout.Workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	for _, name := range Ledgers {
		src := filepath.Join(m.layout.Restart, name)
		if !fsutil.Exists(src) {
			continue
		}
		if err := fsutil.CopyFile(src, filepath.Join(m.layout.Workspace, name)); err != nil {
			return fmt.Errorf("restore %s: %w", name, err)
		}
	}

	src := filepath.Join(m.layout.Restart, dataDir)
	if !fsutil.Exists(src) {
		return nil
	}
	n, err := fsutil.CopyTree(src, m.layout.Data)
	if err != nil {
		return fmt.Errorf("restore data: %w", err)
	}
	m.logger.Info("restored restart snapshot", "cycle", m.cycle, "files", n)
	return nil
}

// Seed creates the restart snapshot directory and copies the published
// ledgers of the most recent earlier cycle into the workspace and the
// snapshot. It returns the cycle seeded from, or "" when none was found
// and the run starts from empty ledgers.
func (m *Manager) Seed() (cycle.ID, error) {
	for _, dir := range []string{m.layout.Restart, m.layout.Workspace} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create %s: %w", dir, err)
		}
	}

	oldest := m.cycle.Time().AddDate(0, 0, -m.paths.SeedLookbackDays)
	for prev := m.cycle.Add(-cycle.Step); !prev.Time().Before(oldest); prev = prev.Add(-cycle.Step) {
		out := NewLayout(m.paths, prev).Output
		if !m.hasLedgers(out) {
			continue
		}
		for _, name := range Ledgers {
			if err := m.seedOne(filepath.Join(out, name), name); err != nil {
				return "", err
			}
		}
		m.logger.Info("seeded ledgers", "cycle", m.cycle, "from", prev)
		return prev, nil
	}

	for _, name := range Ledgers {
		if err := os.Remove(filepath.Join(m.layout.Workspace, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("reset %s: %w", name, err)
		}
	}
	m.logger.Info("no published ledgers found, starting empty", "cycle", m.cycle, "lookback_days", m.paths.SeedLookbackDays)
	return "", nil
}

func (m *Manager) hasLedgers(dir string) bool {
	for _, name := range Ledgers {
		if fsutil.Exists(filepath.Join(dir, name)) {
			return true
		}
	}
	return false
}

func (m *Manager) seedOne(src, name string) error {
	ws := filepath.Join(m.layout.Workspace, name)
	if !fsutil.Exists(src) {
		if err := os.Remove(ws); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reset %s: %w", name, err)
		}
		return nil
	}
	for _, dst := range []string{ws, filepath.Join(m.layout.Restart, name)} {
		if err := fsutil.CopyFile(src, dst); err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
	}
	return nil
}

// Preserve copies the data-directory paths matching patterns (expanded for
// c) into the snapshot so a crashed run can resume without redoing them.
func (m *Manager) Preserve(patterns []string, c cycle.ID) (int, error) {
	total := 0
	var errs []error
	for _, p := range patterns {
		n, err := fsutil.CopyMatches(m.layout.Data, filepath.Join(m.layout.Restart, dataDir), c.Expand(p))
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return total, fmt.Errorf("preserve: %w", err)
	}
	return total, nil
}

// PublishTrees copies the workspace paths matching patterns (expanded for
// c) to the same relative location under the cycle's output directory.
func (m *Manager) PublishTrees(patterns []string, c cycle.ID) (int, error) {
	total := 0
	var errs []error
	for _, p := range patterns {
		n, err := fsutil.CopyMatches(m.layout.Workspace, m.layout.Output, c.Expand(p))
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return total, fmt.Errorf("publish trees: %w", err)
	}
	return total, nil
}

// Repopulate merges the trees published by earlier days into the
// workspace, oldest day first so newer files win. Days with nothing
// published are skipped.
func (m *Manager) Repopulate(r config.Repopulate) (int, error) {
	if !r.Enabled {
		return 0, nil
	}
	total := 0
	for _, tree := range r.Trees {
		dst := filepath.Join(m.layout.Workspace, tree.To)
		for d := tree.Days; d >= 0; d-- {
			day := m.cycle.Add(-time.Duration(d) * 24 * time.Hour)
			pattern := day.Expand(tree.From)
			matches, err := filepath.Glob(pattern)
			if err != nil {
				return total, fmt.Errorf("repopulate %s: bad pattern %q: %w", tree.To, pattern, err)
			}
			for _, src := range matches {
				n, err := fsutil.CopyTree(src, dst)
				total += n
				if err != nil {
					return total, fmt.Errorf("repopulate %s from %s: %w", tree.To, src, err)
				}
			}
		}
	}
	m.logger.Info("repopulated workspace", "cycle", m.cycle, "files", total)
	return total, nil
}

// Publish copies the working ledgers to the cycle's output directory.
func (m *Manager) Publish() error {
	var errs []error
	for _, name := range Ledgers {
		src := filepath.Join(m.layout.Workspace, name)
		if !fsutil.Exists(src) {
			continue
		}
		if err := fsutil.CopyFile(src, filepath.Join(m.layout.Output, name)); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Discard removes the restart snapshot, marking the cycle finished.
func (m *Manager) Discard() error {
	if err := os.RemoveAll(m.layout.Restart); err != nil {
		return fmt.Errorf("remove restart snapshot: %w", err)
	}
	return nil
}

// Cleanup removes the transient trees selected by the toggles. Failures
// are logged and returned joined; callers treat them as warnings.
func (m *Manager) Cleanup(c config.Cleanup) error {
	var errs []error
	if c.DeleteData && m.layout.Data != "" {
		if err := os.RemoveAll(m.layout.Data); err != nil {
			errs = append(errs, err)
		}
	}
	if c.DeleteWorkspace && m.layout.Workspace != "" {
		if err := os.RemoveAll(m.layout.Workspace); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		m.logger.Warn("cleanup failed", "cycle", m.cycle, "error", err)
	}
	return err
}

// SnapshotAge returns how long ago the restart snapshot was created, or 0
// when there is none.
func (m *Manager) SnapshotAge(now time.Time) time.Duration {
	info, err := os.Stat(m.layout.Restart)
	if err != nil {
		return 0
	}
	return now.Sub(info.ModTime())
}
