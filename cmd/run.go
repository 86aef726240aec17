package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/SergeiSkv/pictofix/dataset"
	"github.com/SergeiSkv/pictofix/history"
	"github.com/SergeiSkv/pictofix/models"
	"github.com/SergeiSkv/pictofix/normalizer"
	"github.com/SergeiSkv/pictofix/version"
)

const (
	commandNormalize = "normalize"
	commandReorder   = "reorder"
	commandRestore   = "restore"
)

var errInterrupted = errors.New("interrupted, dataset left unchanged")

// Report is the outcome of one command run on a dataset
type Report struct {
	Command    string          `json:"command"`
	File       string          `json:"file"`
	Profile    string          `json:"profile,omitempty"`
	Records    int             `json:"records"`
	Changed    int             `json:"changed"`
	DryRun     bool            `json:"dry_run"`
	Skipped    bool            `json:"skipped,omitempty"`
	Written    bool            `json:"written"`
	RunID      string          `json:"run_id,omitempty"`
	Duplicates []string        `json:"duplicate_ids,omitempty"`
	Changes    []models.Change `json:"changes"`
}

// runOptions are the per-invocation switches of the dataset commands
type runOptions struct {
	path          string
	profile       string
	dryRun        bool
	skipUnchanged bool
	keepExtra     bool
}

// datasetPath picks the positional argument, then --file, then the config
func datasetPath(cfg *Config, args []string) string {
	switch {
	case len(args) > 0 && args[0] != "":
		return args[0]
	case filePath != "":
		return filePath
	case cfg.Paths.Dataset != "":
		return cfg.Paths.Dataset
	default:
		return dataset.DefaultPath
	}
}

// openHistory opens the store next to the dataset. It returns nil when history is off.
func openHistory(cfg *Config, path string) (*history.Store, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	dir := cfg.Paths.HistoryDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	store, err := history.Open(dir, cfg.HistoryTimeout())
	if err != nil {
		return nil, err
	}
	return store, nil
}

// historyKey is the path under which the store remembers a dataset
func historyKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// normalizeFile rewrites the bonus of every record in the dataset
func normalizeFile(cfg *Config, opts runOptions) (*Report, error) {
	n, err := normalizer.New(cfg.NormalizerOptions(opts.profile))
	if err != nil {
		return nil, err
	}
	report := &Report{
		Command: commandNormalize,
		File:    opts.path,
		Profile: string(n.Profile()),
		DryRun:  opts.dryRun,
	}

	var store *history.Store
	if !opts.dryRun || opts.skipUnchanged {
		store, err = openHistory(cfg, opts.path)
		if err != nil {
			return nil, err
		}
		defer closeHistory(store)
	}

	if opts.skipUnchanged && store != nil {
		changed, err := store.IsFileChanged(historyKey(opts.path), n.Fingerprint())
		if err == nil && !changed {
			slog.Debug("Dataset unchanged since last run, skipping", "file", opts.path)
			report.Skipped = true
			return report, nil
		}
	}

	before, err := os.ReadFile(opts.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	ds, err := dataset.Parse(before)
	if err != nil {
		return nil, err
	}
	report.Records = ds.Len()
	report.Duplicates = warnDuplicates(ds)

	changes, err := dataset.NormalizeBonuses(ds, n)
	if err != nil {
		return nil, err
	}
	report.Changes = changes
	report.Changed = len(changes)
	if opts.dryRun {
		return report, nil
	}

	after, err := dataset.Marshal(ds)
	if err != nil {
		return nil, err
	}
	run := &history.Run{
		Command:     commandNormalize,
		Profile:     report.Profile,
		Changed:     report.Changed,
		Fingerprint: n.Fingerprint(),
	}
	if err := commit(store, opts.path, before, after, ds.Len(), run); err != nil {
		return nil, err
	}
	report.Written = run.HashBefore != run.HashAfter
	report.RunID = run.ID
	if !report.Written && store != nil {
		if err := store.MarkFile(run.Path, run.HashAfter, run.Fingerprint); err != nil {
			slog.Warn("Failed to remember clean dataset", "file", opts.path, "error", err)
		}
	}
	pruneHistory(cfg, store)
	return report, nil
}

// reorderFile rewrites every record with the canonical key order
func reorderFile(cfg *Config, opts runOptions) (*Report, error) {
	report := &Report{Command: commandReorder, File: opts.path, DryRun: opts.dryRun}

	before, err := os.ReadFile(opts.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	ds, err := dataset.Parse(before)
	if err != nil {
		return nil, err
	}
	report.Records = ds.Len()
	report.Duplicates = warnDuplicates(ds)

	reordered, err := dataset.Reorder(ds, opts.keepExtra)
	if err != nil {
		return nil, err
	}
	for i, rec := range ds.Records {
		if !sameKeys(rec, reordered.Records[i]) {
			report.Changed++
		}
	}
	if opts.dryRun {
		return report, nil
	}

	store, err := openHistory(cfg, opts.path)
	if err != nil {
		return nil, err
	}
	defer closeHistory(store)

	after, err := dataset.Marshal(reordered)
	if err != nil {
		return nil, err
	}
	run := &history.Run{Command: commandReorder, Changed: report.Changed}
	if err := commit(store, opts.path, before, after, reordered.Len(), run); err != nil {
		return nil, err
	}
	pruneHistory(cfg, store)
	report.Written = run.HashBefore != run.HashAfter
	report.RunID = run.ID
	return report, nil
}

// restoreRun writes the snapshot taken before run id back to the dataset.
// The current file is snapshotted first, so a restore can itself be undone.
func restoreRun(cfg *Config, id, path string) (*history.Run, error) {
	store, err := openHistory(cfg, path)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("history is disabled")
	}
	defer closeHistory(store)

	target, err := store.Run(id)
	if err != nil {
		return nil, err
	}
	snapshot, err := store.Snapshot(id)
	if err != nil {
		return nil, err
	}
	ds, err := dataset.Parse(snapshot)
	if err != nil {
		return nil, fmt.Errorf("snapshot of run %s is corrupt: %w", id, err)
	}

	current, err := os.ReadFile(target.Path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	run := &history.Run{Command: commandRestore, RestoredFrom: id}
	if err := commitTo(store, target.Path, current, snapshot, ds.Len(), run); err != nil {
		return nil, err
	}
	return run, nil
}

// commit writes after over path unless nothing changed, then records the run
func commit(store *history.Store, path string, before, after []byte, records int, run *history.Run) error {
	return commitTo(store, historyKey(path), before, after, records, run)
}

func commitTo(store *history.Store, path string, before, after []byte, records int, run *history.Run) error {
	run.Path = path
	run.Records = records
	run.HashBefore = history.HashBytes(before)
	run.HashAfter = history.HashBytes(after)

	if bytes.Equal(before, after) {
		slog.Debug("Dataset already clean, nothing written", "file", path)
		return nil
	}
	if version.ClosingStatus.Load() {
		return errInterrupted
	}
	if err := dataset.WriteAtomic(path, after); err != nil {
		return err
	}
	if store == nil {
		return nil
	}

	if err := store.Record(run, before); err != nil {
		return fmt.Errorf("dataset written but failed to record history: %w", err)
	}
	slog.Debug("Recorded run", "id", run.ID, "command", run.Command)
	return nil
}

func closeHistory(store *history.Store) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		slog.Warn("Failed to close history", "error", err)
	}
}

// pruneHistory trims the store to the configured size
func pruneHistory(cfg *Config, store *history.Store) {
	if store == nil || cfg.History.Keep <= 0 {
		return
	}
	removed, err := store.Prune(cfg.History.Keep)
	if err != nil {
		slog.Warn("Failed to prune history", "error", err)
		return
	}
	if removed > 0 {
		slog.Debug("Pruned history", "removed", removed, "keep", cfg.History.Keep)
	}
}

func warnDuplicates(ds *dataset.Dataset) []string {
	dups := ds.DuplicateIDs()
	if len(dups) > 0 {
		slog.Warn("Dataset has duplicate ids", "ids", dups)
	}
	return dups
}

func sameKeys(a, b *models.Record) bool {
	return slices.Equal(a.Keys(), b.Keys())
}
