// Package ledger persists small sectioned key/value documents: the input
// availability ledger and the stage state machine both live in one.
//
// The on-disk format is INI-style. Each set is written on a single line as
// whitespace-separated tokens; legacy files that spread a set over indented
// continuation lines are still accepted on load.
package ledger

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/ini.v1"
)

// Document is an ordered collection of sections.
type Document struct {
	sections []*Section
}

// Section is an ordered set of keys. Lookups ignore case; writes keep the
// case the key was first set with.
type Section struct {
	name   string
	keys   []string
	values map[string]string
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{}
}

// Section returns the named section, creating it if absent.
func (d *Document) Section(name string) *Section {
	if s, ok := d.Lookup(name); ok {
		return s
	}
	s := &Section{name: name, values: make(map[string]string)}
	d.sections = append(d.sections, s)
	return s
}

// Lookup returns the named section if present.
func (d *Document) Lookup(name string) (*Section, bool) {
	for _, s := range d.sections {
		if strings.EqualFold(s.name, name) {
			return s, true
		}
	}
	return nil, false
}

// Sections returns the section names in order.
func (d *Document) Sections() []string {
	names := make([]string, 0, len(d.sections))
	for _, s := range d.sections {
		names = append(names, s.name)
	}
	return names
}

// Name returns the section name.
func (s *Section) Name() string { return s.name }

// Keys returns the key names in insertion order.
func (s *Section) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Set assigns a scalar value.
func (s *Section) Set(key, value string) {
	lk := strings.ToLower(key)
	if _, ok := s.values[lk]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[lk] = value
}

// SetList assigns a set of tokens, written sorted on one line.
func (s *Section) SetList(key string, items []string) {
	sorted := append([]string(nil), items...)
	sort.Strings(sorted)
	s.Set(key, strings.Join(sorted, " "))
}

// Get returns the value for key, or "" when absent.
func (s *Section) Get(key string) string {
	return strings.TrimSpace(s.values[strings.ToLower(key)])
}

// Has reports whether key is present.
func (s *Section) Has(key string) bool {
	_, ok := s.values[strings.ToLower(key)]
	return ok
}

// List splits the value for key into whitespace-separated tokens.
func (s *Section) List(key string) []string {
	return strings.Fields(s.values[strings.ToLower(key)])
}

func loadOptions() ini.LoadOptions {
	return ini.LoadOptions{
		AllowPythonMultilineValues: true,
		SkipUnrecognizableLines:    true,
		ReaderBufferSize:           1 << 20,
	}
}

// Parse decodes a document.
func Parse(data []byte) (*Document, error) {
	f, err := ini.LoadSources(loadOptions(), data)
	if err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}

	doc := NewDocument()
	for _, is := range f.Sections() {
		if is.Name() == ini.DefaultSection && len(is.Keys()) == 0 {
			continue
		}
		s := doc.Section(is.Name())
		for _, k := range is.Keys() {
			s.Set(k.Name(), k.Value())
		}
	}
	return doc, nil
}

// Encode renders the document in deterministic order: sections and keys as
// they were added.
func Encode(doc *Document) ([]byte, error) {
	f := ini.Empty()
	for _, s := range doc.sections {
		is, err := f.NewSection(s.name)
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", s.name, err)
		}
		for _, k := range s.keys {
			if _, err := is.NewKey(k, s.values[strings.ToLower(k)]); err != nil {
				return nil, fmt.Errorf("key %s.%s: %w", s.name, k, err)
			}
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode ledger: %w", err)
	}
	return buf.Bytes(), nil
}
