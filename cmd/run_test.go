package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergeiSkv/pictofix/dataset"
	"github.com/SergeiSkv/pictofix/history"
	"github.com/SergeiSkv/pictofix/models"
	"github.com/SergeiSkv/pictofix/version"
)

const sampleDataset = `[
  {"name": "Bouclier", "id": 1, "zone": "Lumière", "niveau": 4, "bonus": "Défense 50100%", "emplacement": "Picto", "note": "x"},
  {"id": 2, "name": "Élan", "zone": "Côte", "niveau": 12, "bonus": "Vitesse 12 %", "emplacement": "Lumina"}
]
`

func writeDataset(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pictofr_new.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func bonusOf(t *testing.T, path string, id string) string {
	t.Helper()
	ds, err := dataset.Load(path)
	require.NoError(t, err)
	rec, ok := ds.Find(id)
	require.True(t, ok)
	bonus, ok := rec.GetString(models.FieldBonus)
	require.True(t, ok)
	return bonus
}

func historyDir(path string) string {
	return filepath.Join(filepath.Dir(path), history.Dir)
}

func TestNormalizeFileWritesAndRecords(t *testing.T) {
	path := writeDataset(t, sampleDataset)
	cfg := DefaultConfig()

	report, err := normalizeFile(cfg, runOptions{path: path})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Records)
	assert.Equal(t, 1, report.Changed)
	assert.True(t, report.Written)
	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Changes, 1)
	assert.Equal(t, "1", report.Changes[0].RecordID)
	assert.Equal(t, "Défense 50\n100 %", report.Changes[0].After)

	assert.Equal(t, "Défense 50\n100 %", bonusOf(t, path, "1"))
	assert.Equal(t, "Vitesse 12 %", bonusOf(t, path, "2"))
	assert.FileExists(t, filepath.Join(historyDir(path), history.DBFile))

	// Second run finds nothing to do
	report, err = normalizeFile(cfg, runOptions{path: path})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Changed)
	assert.False(t, report.Written)
	assert.Empty(t, report.RunID)
}

func TestNormalizeFileKeepsKeyOrder(t *testing.T) {
	path := writeDataset(t, sampleDataset)

	_, err := normalizeFile(DefaultConfig(), runOptions{path: path})
	require.NoError(t, err)

	ds, err := dataset.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "id", "zone", "niveau", "bonus", "emplacement", "note"}, ds.Records[0].Keys())
}

func TestNormalizeFileDryRun(t *testing.T) {
	path := writeDataset(t, sampleDataset)

	report, err := normalizeFile(DefaultConfig(), runOptions{path: path, dryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Changed)
	assert.False(t, report.Written)
	assert.Equal(t, sampleDataset, readFile(t, path))
	assert.NoDirExists(t, historyDir(path))
}

func TestNormalizeFileWithoutHistory(t *testing.T) {
	path := writeDataset(t, sampleDataset)
	cfg := DefaultConfig()
	cfg.History.Enabled = false

	report, err := normalizeFile(cfg, runOptions{path: path})
	require.NoError(t, err)
	assert.True(t, report.Written)
	assert.Empty(t, report.RunID)
	assert.NoDirExists(t, historyDir(path))
}

func TestNormalizeFileSkipUnchanged(t *testing.T) {
	path := writeDataset(t, sampleDataset)
	cfg := DefaultConfig()

	report, err := normalizeFile(cfg, runOptions{path: path, skipUnchanged: true})
	require.NoError(t, err)
	assert.False(t, report.Skipped, "never written by pictofix")
	assert.True(t, report.Written)

	report, err = normalizeFile(cfg, runOptions{path: path, skipUnchanged: true})
	require.NoError(t, err)
	assert.True(t, report.Skipped)

	// A hand edit makes the file eligible again
	require.NoError(t, os.WriteFile(path, []byte(sampleDataset), 0o644))
	report, err = normalizeFile(cfg, runOptions{path: path, skipUnchanged: true})
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.Changed)
}

func TestNormalizeFileSkipUnchangedAfterReorder(t *testing.T) {
	path := writeDataset(t, sampleDataset)
	cfg := DefaultConfig()

	_, err := reorderFile(cfg, runOptions{path: path})
	require.NoError(t, err)
	require.Equal(t, "Défense 50100%", bonusOf(t, path, "1"))

	report, err := normalizeFile(cfg, runOptions{path: path, skipUnchanged: true})
	require.NoError(t, err)
	assert.False(t, report.Skipped, "a reordered file was never normalized")
	assert.True(t, report.Written)
	assert.Equal(t, "Défense 50\n100 %", bonusOf(t, path, "1"))
}

func TestNormalizeFileSkipUnchangedAfterRestore(t *testing.T) {
	path := writeDataset(t, sampleDataset)
	cfg := DefaultConfig()

	report, err := normalizeFile(cfg, runOptions{path: path, skipUnchanged: true})
	require.NoError(t, err)
	require.True(t, report.Written)

	_, err = restoreRun(cfg, report.RunID, path)
	require.NoError(t, err)
	require.Equal(t, sampleDataset, readFile(t, path))

	report, err = normalizeFile(cfg, runOptions{path: path, skipUnchanged: true})
	require.NoError(t, err)
	assert.False(t, report.Skipped, "a restored file holds the raw bonuses again")
	assert.Equal(t, 1, report.Changed)
}

func TestNormalizeFileSkipUnchangedRulesChanged(t *testing.T) {
	path := writeDataset(t, sampleDataset)
	cfg := DefaultConfig()

	_, err := normalizeFile(cfg, runOptions{path: path, skipUnchanged: true})
	require.NoError(t, err)

	report, err := normalizeFile(cfg, runOptions{path: path, skipUnchanged: true, profile: "glued"})
	require.NoError(t, err)
	assert.False(t, report.Skipped, "another profile must run again")

	cfg.Normalizer.Rules[models.RuleDecimalSpacing.String()] = RuleConfig{Enabled: false}
	report, err = normalizeFile(cfg, runOptions{path: path, skipUnchanged: true})
	require.NoError(t, err)
	assert.False(t, report.Skipped, "a disabled rule must run again")

	// Nothing was left to fix, but the clean file is still remembered
	report, err = normalizeFile(cfg, runOptions{path: path, skipUnchanged: true})
	require.NoError(t, err)
	assert.True(t, report.Skipped)
}

func TestNormalizeFileRejectsNonStringBonus(t *testing.T) {
	content := `[{"id": 1, "bonus": "Défense 50100%"}, {"id": 2, "bonus": 12}]`
	path := writeDataset(t, content)

	_, err := normalizeFile(DefaultConfig(), runOptions{path: path})
	require.ErrorIs(t, err, dataset.ErrBonusNotString)
	assert.Equal(t, content, readFile(t, path))
}

func TestNormalizeFileUnknownProfile(t *testing.T) {
	path := writeDataset(t, sampleDataset)

	_, err := normalizeFile(DefaultConfig(), runOptions{path: path, profile: "fancy"})
	require.Error(t, err)
	assert.Equal(t, sampleDataset, readFile(t, path))
}

func TestNormalizeFileInterrupted(t *testing.T) {
	path := writeDataset(t, sampleDataset)
	version.ClosingStatus.Store(true)
	defer version.ClosingStatus.Store(false)

	_, err := normalizeFile(DefaultConfig(), runOptions{path: path})
	require.ErrorIs(t, err, errInterrupted)
	assert.Equal(t, sampleDataset, readFile(t, path))
}

func TestNormalizeFileHistoryLocked(t *testing.T) {
	path := writeDataset(t, sampleDataset)
	store, err := history.Open(filepath.Dir(path), 0)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	cfg := DefaultConfig()
	cfg.History.LockTimeout = "50ms"

	_, err = normalizeFile(cfg, runOptions{path: path})
	require.ErrorIs(t, err, history.ErrLocked)
	assert.Equal(t, sampleDataset, readFile(t, path))
}

func TestRestoreRun(t *testing.T) {
	path := writeDataset(t, sampleDataset)
	cfg := DefaultConfig()

	report, err := normalizeFile(cfg, runOptions{path: path})
	require.NoError(t, err)
	normalized := readFile(t, path)

	run, err := restoreRun(cfg, report.RunID, path)
	require.NoError(t, err)
	assert.Equal(t, sampleDataset, readFile(t, path))
	assert.Equal(t, report.RunID, run.RestoredFrom)
	require.NotEmpty(t, run.ID)

	// The restore is itself undoable
	_, err = restoreRun(cfg, run.ID, path)
	require.NoError(t, err)
	assert.Equal(t, normalized, readFile(t, path))

	_, err = restoreRun(cfg, "no-such-run", path)
	require.ErrorIs(t, err, history.ErrRunNotFound)
}

func TestRestoreRunWithHistoryDisabled(t *testing.T) {
	path := writeDataset(t, sampleDataset)
	cfg := DefaultConfig()
	cfg.History.Enabled = false

	_, err := restoreRun(cfg, "any", path)
	require.Error(t, err)
}

func TestRestoreTakesDatasetArgument(t *testing.T) {
	require.NoError(t, restoreCmd.Args(restoreCmd, []string{"run-id"}))
	require.NoError(t, restoreCmd.Args(restoreCmd, []string{"run-id", "pictos.json"}))
	require.Error(t, restoreCmd.Args(restoreCmd, []string{"run-id", "a.json", "b.json"}))
	require.Error(t, restoreCmd.Args(restoreCmd, nil))

	// The dataset named after the run id locates the history, not the config
	path := writeDataset(t, sampleDataset)
	cfg := DefaultConfig()
	report, err := normalizeFile(cfg, runOptions{path: path})
	require.NoError(t, err)

	args := []string{report.RunID, path}
	run, err := restoreRun(cfg, args[0], datasetPath(cfg, args[1:]))
	require.NoError(t, err)
	assert.Equal(t, report.RunID, run.RestoredFrom)
	assert.Equal(t, sampleDataset, readFile(t, path))
}

func TestReorderFile(t *testing.T) {
	path := writeDataset(t, sampleDataset)
	cfg := DefaultConfig()

	report, err := reorderFile(cfg, runOptions{path: path, dryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Changed)
	assert.Equal(t, sampleDataset, readFile(t, path))

	report, err = reorderFile(cfg, runOptions{path: path})
	require.NoError(t, err)
	assert.True(t, report.Written)

	ds, err := dataset.Load(path)
	require.NoError(t, err)
	for _, rec := range ds.Records {
		assert.Equal(t, models.FieldOrder, rec.Keys())
	}
	assert.Equal(t, "Défense 50100%", bonusOf(t, path, "1"), "reorder leaves values alone")

	report, err = reorderFile(cfg, runOptions{path: path})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Changed)
	assert.False(t, report.Written)
}

func TestReorderFileKeepExtra(t *testing.T) {
	path := writeDataset(t, sampleDataset)

	_, err := reorderFile(DefaultConfig(), runOptions{path: path, keepExtra: true})
	require.NoError(t, err)

	ds, err := dataset.Load(path)
	require.NoError(t, err)
	assert.Equal(t, append(append([]string{}, models.FieldOrder...), "note"), ds.Records[0].Keys())
}

func TestReorderFileMissingField(t *testing.T) {
	content := `[{"id": 1, "name": "Bouclier"}]`
	path := writeDataset(t, content)

	_, err := reorderFile(DefaultConfig(), runOptions{path: path})
	require.ErrorIs(t, err, dataset.ErrMissingField)
	assert.Equal(t, content, readFile(t, path))
}

func TestDatasetPathPrecedence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Paths.Dataset = "from-config.json"

	assert.Equal(t, "from-config.json", datasetPath(cfg, nil))

	filePath = "from-flag.json"
	defer func() { filePath = "" }()
	assert.Equal(t, "from-flag.json", datasetPath(cfg, nil))
	assert.Equal(t, "from-arg.json", datasetPath(cfg, []string{"from-arg.json"}))

	cfg.Paths.Dataset = ""
	filePath = ""
	assert.Equal(t, dataset.DefaultPath, datasetPath(cfg, nil))
}

func TestFormatReport(t *testing.T) {
	report := &Report{
		Command: commandNormalize,
		File:    "pictos.json",
		Profile: "composed",
		Records: 3,
		Changed: 2,
		RunID:   "run-1",
		Written: true,
		Changes: []models.Change{
			{Index: 0, RecordID: "1", Before: "Défense 50100%", After: "Défense 50\n100 %",
				Rules: []models.RuleID{models.RuleSplitGlued, models.RulePercentSpacing}},
			{Index: 2, RecordID: "3", Before: "Vitesse  12", After: "Vitesse 12"},
		},
		Duplicates: []string{"3"},
	}

	out := formatReport(report, 0)
	assert.Contains(t, out, "2 of 3 bonuses corrected")
	assert.Contains(t, out, "id 1 (split-glued, percent-spacing)")
	assert.Contains(t, out, `+ "Défense 50\n100 %"`)
	assert.Contains(t, out, "duplicate ids 3")
	assert.Contains(t, out, "pictofix restore run-1")

	out = formatReport(report, 1)
	assert.Contains(t, out, "... and 1 more")
	assert.NotContains(t, out, "Vitesse")

	report.DryRun, report.Written = true, false
	assert.Contains(t, formatReport(report, 0), "Dry run, nothing written")

	assert.Contains(t, formatReport(&Report{File: "pictos.json", Skipped: true}, 0), "skipped")
}

func TestFormatRules(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Normalizer.Rules[models.RuleDecimalSpacing.String()] = RuleConfig{Enabled: false}

	out := formatRules(cfg)
	for _, id := range models.AllRules() {
		assert.Contains(t, out, id.String())
	}
	assert.Contains(t, out, "○ decimal-spacing")
	assert.True(t, strings.Contains(out, "composed"))

	for _, r := range listRules(cfg) {
		assert.Equal(t, r.Name != "decimal-spacing", r.Enabled, r.Name)
	}
}
