// Package discover finds forecast input files in data-drop directories and
// extracts their timestamps from the file path.
package discover

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lucasnoah/epochctl/internal/config"
	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/observability"
)

// ErrNoInputs is matched by every PathError.
var ErrNoInputs = errors.New("no input files found")

// PathError reports a source that yielded no files. Callers log it and
// carry on; there is simply nothing to do.
type PathError struct {
	Dirs    []string
	Pattern string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("no files matching %q under %s", e.Pattern, strings.Join(e.Dirs, ", "))
}

func (e *PathError) Unwrap() error {
	return ErrNoInputs
}

// File is a discovered input.
type File struct {
	Path string
	Name string
	// Time is the analysis or observation time encoded in the path.
	Time time.Time
	// Lead is the forecast lead in hours, or -1 when the pattern has none.
	Lead   int
	Member string
	Num    string
}

// Key renders the file's time at granularity g.
func (f File) Key(g cycle.Granularity) string {
	return g.Format(f.Time)
}

// Cycle is the hour the file belongs to.
func (f File) Cycle() cycle.ID {
	return cycle.FromTime(f.Time)
}

// Finder locates the files of a source for a set of cycles.
type Finder interface {
	Find(src config.Source, cycles []cycle.ID) ([]File, error)
}

// Scanner is the filesystem Finder.
type Scanner struct {
	logger *slog.Logger
}

// NewScanner creates a Scanner.
func NewScanner(logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Scanner{logger: logger}
}

// Find expands src.Dirs for each cycle, lists the directories and returns
// the files whose path matches src.Pattern, sorted by path. Missing
// directories are skipped; if nothing matches a *PathError is returned.
func (s *Scanner) Find(src config.Source, cycles []cycle.ID) ([]File, error) {
	re, err := regexp.Compile(src.Pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}

	dirs := ExpandDirs(src.Dirs, cycles)
	seen := map[string]bool{}
	var files []File
	for _, dir := range dirs {
		paths, err := list(dir, src.Recursive)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				s.logger.Debug("source directory missing", "dir", dir)
				continue
			}
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}
		for _, p := range paths {
			if seen[p] || excluded(p, src.Exclude) {
				continue
			}
			seen[p] = true
			f, ok, err := Match(re, p)
			if err != nil {
				s.logger.Warn("skipping file with bad timestamp", "path", p, "error", err)
				continue
			}
			if ok {
				files = append(files, f)
			}
		}
	}

	if len(files) == 0 {
		return nil, &PathError{Dirs: dirs, Pattern: src.Pattern}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// ExpandDirs applies each cycle to each template, dropping duplicates and
// keeping first-seen order.
func ExpandDirs(tmpls []string, cycles []cycle.ID) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range cycles {
		for _, t := range tmpls {
			d := filepath.Clean(c.Expand(t))
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	return out
}

// Match applies re to path. ok is false when the path does not match; err
// is set when it matches but the timestamp groups do not decode.
func Match(re *regexp.Regexp, path string) (File, bool, error) {
	m := re.FindStringSubmatch(path)
	if m == nil {
		return File{}, false, nil
	}
	groups := map[string]string{}
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(m) {
			groups[name] = m[i]
		}
	}

	stamp := groups["ymd"] + groups["hour"]
	g := cycle.Hourly
	if groups["minute"] != "" {
		stamp += groups["minute"]
		g = cycle.Minutely
	}
	t, err := cycle.DecodeKey(stamp, g)
	if err != nil {
		return File{}, true, err
	}

	f := File{
		Path:   path,
		Name:   filepath.Base(path),
		Time:   t,
		Lead:   -1,
		Member: groups["member"],
		Num:    groups["num"],
	}
	if l := groups["lead"]; l != "" {
		f.Lead, err = strconv.Atoi(l)
		if err != nil {
			return File{}, true, fmt.Errorf("lead %q: %w", l, err)
		}
	}
	return f, true, nil
}

func list(dir string, recursive bool) ([]string, error) {
	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		var out []string
		for _, e := range entries {
			if !e.IsDir() {
				out = append(out, filepath.Join(dir, e.Name()))
			}
		}
		return out, nil
	}

	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	var out []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

func excluded(path string, subs []string) bool {
	for _, s := range subs {
		if s != "" && strings.Contains(path, s) {
			return true
		}
	}
	return false
}

// Filter returns the files for which keep is true.
func Filter(files []File, keep func(File) bool) []File {
	var out []File
	for _, f := range files {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}
