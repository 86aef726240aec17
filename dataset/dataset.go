// Package dataset reads and writes the picto JSON file: an array of record objects.
package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/SergeiSkv/pictofix/models"
)

// DefaultPath is where the frontend expects the dataset
const DefaultPath = "public/pictofr_new.json"

const indent = "  "

var (
	ErrNotArray       = errors.New("dataset is not a JSON array")
	ErrNullRecord     = errors.New("dataset contains a null record")
	ErrMissingField   = errors.New("record is missing a required field")
	ErrBonusNotString = errors.New("bonus is not a string")
)

// Dataset is the loaded file
type Dataset struct {
	Records []*models.Record
}

// Len returns the number of records
func (d *Dataset) Len() int {
	return len(d.Records)
}

// Load reads and parses the file at path
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return Parse(data)
}

// Parse decodes a JSON array of objects
func Parse(data []byte) (*Dataset, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotArray
	}

	var records []*models.Record
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}
	for i, rec := range records {
		if rec == nil {
			return nil, fmt.Errorf("%w at index %d", ErrNullRecord, i)
		}
	}
	return &Dataset{Records: records}, nil
}

// Encode writes the dataset with a two-space indent, keeping non-ASCII text as is
func Encode(w io.Writer, ds *Dataset) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)

	records := ds.Records
	if records == nil {
		records = []*models.Record{}
	}
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}
	return nil
}

// Marshal returns the encoded dataset
func Marshal(ds *Dataset) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, ds); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save encodes ds and atomically replaces the file at path
func Save(path string, ds *Dataset) error {
	data, err := Marshal(ds)
	if err != nil {
		return err
	}
	return WriteAtomic(path, data)
}

// WriteAtomic writes data next to path and renames it over path.
// The existing file mode is kept.
func WriteAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close dataset: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return fmt.Errorf("failed to set dataset mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to save dataset: %w", err)
	}
	return nil
}

// Find returns the first record whose id matches
func (d *Dataset) Find(id string) (*models.Record, bool) {
	for _, rec := range d.Records {
		if rec.IDString() == id {
			return rec, true
		}
	}
	return nil, false
}

// DuplicateIDs returns ids used by more than one record, in first-seen order
func (d *Dataset) DuplicateIDs() []string {
	seen := make(map[string]int, len(d.Records))
	var dups []string
	for _, rec := range d.Records {
		id := rec.IDString()
		if id == "" {
			continue
		}
		seen[id]++
		if seen[id] == 2 {
			dups = append(dups, id)
		}
	}
	return dups
}

// Clone returns a deep copy
func (d *Dataset) Clone() *Dataset {
	records := make([]*models.Record, len(d.Records))
	for i, rec := range d.Records {
		records[i] = rec.Clone()
	}
	return &Dataset{Records: records}
}

func recordLabel(i int, rec *models.Record) string {
	if id := rec.IDString(); id != "" {
		return "id " + id
	}
	return "index " + strconv.Itoa(i)
}
