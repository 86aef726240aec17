// Package history keeps a journal of dataset rewrites and a snapshot of the
// file before each one, so any run can be restored.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const (
	Dir           = ".pictofix"
	DBFile        = "history.db"
	SchemaVersion = 1

	DefaultTimeout = time.Second
)

var (
	bucketMeta      = []byte("meta")
	bucketRuns      = []byte("runs")
	bucketSnapshots = []byte("snapshots")
	bucketFiles     = []byte("files")

	keySchema = []byte("schema")
)

var (
	ErrRunNotFound      = errors.New("run not found")
	ErrSnapshotNotFound = errors.New("run has no snapshot")
	ErrLocked           = errors.New("history is locked by another pictofix process")
)

// Run is one recorded rewrite of a dataset file
type Run struct {
	ID         string    `msgpack:"id" json:"id"`
	Command    string    `msgpack:"command" json:"command"`
	Profile    string    `msgpack:"profile,omitempty" json:"profile,omitempty"`
	Path       string    `msgpack:"path" json:"path"`
	HashBefore string    `msgpack:"hash_before" json:"hash_before"`
	HashAfter  string    `msgpack:"hash_after" json:"hash_after"`
	Records    int       `msgpack:"records" json:"records"`
	Changed    int       `msgpack:"changed" json:"changed"`
	Snapshot   bool      `msgpack:"snapshot" json:"snapshot"`
	StartedAt  time.Time `msgpack:"started_at" json:"started_at"`

	// RestoredFrom is the run whose snapshot a restore wrote back
	RestoredFrom string `msgpack:"restored_from,omitempty" json:"restored_from,omitempty"`
	// Fingerprint identifies the normalizer rule set. Only runs that carry one
	// mark the file as normalized.
	Fingerprint string `msgpack:"fingerprint,omitempty" json:"fingerprint,omitempty"`
}

// fileState is what the files bucket remembers about a normalized dataset
type fileState struct {
	Hash        string `msgpack:"hash"`
	Fingerprint string `msgpack:"fingerprint"`
}

// Stats summarizes the store
type Stats struct {
	Runs          int       `json:"runs"`
	Snapshots     int       `json:"snapshots"`
	SnapshotBytes int64     `json:"snapshot_bytes"`
	Changed       int       `json:"changed"`
	Files         int       `json:"files"`
	LastRun       time.Time `json:"last_run,omitempty"`
}

// Store is a bbolt database. bbolt holds an exclusive lock on the file, so
// two processes cannot rewrite the same dataset directory at once.
type Store struct {
	db  *bolt.DB
	dir string
}

// Open opens or creates the store under baseDir/.pictofix
func Open(baseDir string, timeout time.Duration) (*Store, error) {
	if baseDir == "" {
		var err error
		baseDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	dir := filepath.Join(baseDir, Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dir, DBFile), 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	s := &Store{db: db, dir: dir}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketRuns, bucketSnapshots, bucketFiles} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keySchema); v != nil {
			var version int
			if err := msgpack.Unmarshal(v, &version); err != nil {
				return fmt.Errorf("failed to read history schema: %w", err)
			}
			if version != SchemaVersion {
				return fmt.Errorf("history schema mismatch: expected %d, got %d", SchemaVersion, version)
			}
			return nil
		}
		v, err := msgpack.Marshal(SchemaVersion)
		if err != nil {
			return err
		}
		return meta.Put(keySchema, v)
	})
}

// Dir returns the directory holding the database
func (s *Store) Dir() string {
	return s.dir
}

// Close releases the database and its lock
func (s *Store) Close() error {
	return s.db.Close()
}

// Record saves run, and snapshot when it is not nil. ID and StartedAt are filled
// in when empty. A run with a Fingerprint also marks its dataset as normalized
// at HashAfter.
func (s *Store) Record(run *Run, snapshot []byte) error {
	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate run id: %w", err)
		}
		run.ID = id.String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Snapshot = snapshot != nil

	data, err := msgpack.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketRuns).Put([]byte(run.ID), data); err != nil {
			return err
		}
		if snapshot != nil {
			if err := tx.Bucket(bucketSnapshots).Put([]byte(run.ID), snapshot); err != nil {
				return err
			}
		}
		if run.Fingerprint != "" {
			return putFile(tx, run.Path, run.HashAfter, run.Fingerprint)
		}
		return nil
	})
}

// MarkFile remembers that the file at path with content hash was normalized
// by the rule set fingerprint. It is used when a run found nothing to write.
func (s *Store) MarkFile(path, hash, fingerprint string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putFile(tx, path, hash, fingerprint)
	})
}

func putFile(tx *bolt.Tx, path, hash, fingerprint string) error {
	if path == "" || hash == "" || fingerprint == "" {
		return nil
	}
	data, err := msgpack.Marshal(fileState{Hash: hash, Fingerprint: fingerprint})
	if err != nil {
		return fmt.Errorf("failed to encode file state: %w", err)
	}
	return tx.Bucket(bucketFiles).Put([]byte(path), data)
}

// Run returns a run by id
func (s *Store) Run(id string) (*Run, error) {
	var run *Run
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRuns).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		var err error
		run, err = decodeRun(v)
		return err
	})
	return run, err
}

// Runs returns up to limit runs, newest first. limit <= 0 returns all of them.
func (s *Store) Runs(limit int) ([]*Run, error) {
	var runs []*Run
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			run, err := decodeRun(v)
			if err != nil {
				return err
			}
			runs = append(runs, run)
		}
		return nil
	})
	return runs, err
}

// Snapshot returns the dataset bytes saved before run id
func (s *Store) Snapshot(id string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketRuns).Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		v := tx.Bucket(bucketSnapshots).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
		}
		// bbolt values are only valid inside the transaction
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

// IsFileChanged reports whether the file needs normalizing again with the rule
// set fingerprint. Files never normalized, edited since, or last normalized
// with other rules count as changed.
func (s *Store) IsFileChanged(path, fingerprint string) (bool, error) {
	currentHash, err := CalculateFileHash(path)
	if err != nil {
		return true, err
	}

	var known []byte
	err = s.db.View(func(tx *bolt.Tx) error {
		known = append([]byte(nil), tx.Bucket(bucketFiles).Get([]byte(path))...)
		return nil
	})
	if err != nil {
		return true, err
	}
	if len(known) == 0 {
		return true, nil
	}
	var state fileState
	if err := msgpack.Unmarshal(known, &state); err != nil {
		return true, nil
	}
	return state.Hash != currentHash || state.Fingerprint != fingerprint, nil
}

// Prune keeps the newest keep runs and deletes the rest with their snapshots
func (s *Store) Prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		snapshots := tx.Bucket(bucketSnapshots)

		var stale [][]byte
		seen := 0
		c := runs.Cursor()
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			seen++
			if seen > keep {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := runs.Delete(k); err != nil {
				return err
			}
			if err := snapshots.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Stats scans the store
func (s *Store) Stats() (Stats, error) {
	var stats Stats
	err := s.db.View(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			run, err := decodeRun(v)
			if err != nil {
				return err
			}
			stats.Runs++
			stats.Changed += run.Changed
			if run.StartedAt.After(stats.LastRun) {
				stats.LastRun = run.StartedAt
			}
			return nil
		})
		if err != nil {
			return err
		}
		err = tx.Bucket(bucketSnapshots).ForEach(func(_, v []byte) error {
			stats.Snapshots++
			stats.SnapshotBytes += int64(len(v))
			return nil
		})
		if err != nil {
			return err
		}
		stats.Files = tx.Bucket(bucketFiles).Stats().KeyN
		return nil
	})
	return stats, err
}

// Clear removes every run, snapshot and known file hash
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRuns, bucketSnapshots, bucketFiles} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func decodeRun(v []byte) (*Run, error) {
	var run Run
	if err := msgpack.Unmarshal(v, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}
	return &run, nil
}

// CalculateFileHash returns the hex SHA-256 of a file
func CalculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer func() { _ = file.Close() }()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// HashBytes returns the hex SHA-256 of data
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
