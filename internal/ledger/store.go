package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/lucasnoah/epochctl/internal/fsutil"
)

// Load reads the document at path. A missing file yields an empty document.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Save writes doc to path through a temp file and rename.
func Save(doc *Document, path string) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	if err := fsutil.WriteAtomic(path, data); err != nil {
		return fmt.Errorf("save ledger %s: %w", path, err)
	}
	return nil
}

// Mirror persists a document to a working locator and, when set, to a
// restart-snapshot locator. Both copies are written on every save.
type Mirror struct {
	Primary   string
	Secondary string
}

// Load reads the working copy.
func (m Mirror) Load() (*Document, error) {
	return Load(m.Primary)
}

// Save writes the working copy, then the snapshot copy.
func (m Mirror) Save(doc *Document) error {
	if err := Save(doc, m.Primary); err != nil {
		return err
	}
	if m.Secondary == "" {
		return nil
	}
	return Save(doc, m.Secondary)
}
