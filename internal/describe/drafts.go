package describe

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Draft is the last generated description, kept so it survives a lost edit.
type Draft struct {
	Product string    `json:"product"`
	Content string    `json:"content"`
	SavedAt time.Time `json:"savedAt"`
}

// Drafts stores a single draft as a JSON file.
type Drafts struct {
	path string
	now  func() time.Time
}

// NewDrafts returns a store backed by path.
func NewDrafts(path string) *Drafts {
	return &Drafts{path: path, now: time.Now}
}

// Path returns the backing file.
func (d *Drafts) Path() string { return d.path }

// Save replaces the stored draft.
func (d *Drafts) Save(draft Draft) error {
	if draft.SavedAt.IsZero() {
		draft.SavedAt = d.now()
	}
	data, err := json.MarshalIndent(draft, "", "  ")
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("create draft dir: %w", err)
	}

	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write draft: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		return fmt.Errorf("write draft: %w", err)
	}
	return nil
}

// Load returns the stored draft. ok is false when there is none.
func (d *Drafts) Load() (draft Draft, ok bool, err error) {
	data, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Draft{}, false, nil
	}
	if err != nil {
		return Draft{}, false, fmt.Errorf("read draft: %w", err)
	}
	if err := json.Unmarshal(data, &draft); err != nil {
		return Draft{}, false, fmt.Errorf("decode draft: %w", err)
	}
	return draft, true, nil
}

// Clear removes the stored draft, typically after the product was saved.
func (d *Drafts) Clear() error {
	if err := os.Remove(d.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}
