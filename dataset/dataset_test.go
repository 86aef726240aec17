package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergeiSkv/pictofix/models"
)

const sample = `[
  {
    "name": "Bouclier Augmenté",
    "id": 2,
    "zone": "Lumière",
    "niveau": 4,
    "bonus": "Défense 50100%",
    "emplacement": "Picto"
  },
  {
    "id": 1,
    "name": "Soin <critique>",
    "zone": "Prairie",
    "niveau": 12,
    "bonus": "Vitesse    12",
    "emplacement": "Lumina",
    "source": "wiki"
  }
]
`

func writeSample(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pictofr_new.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	ds, err := Load(writeSample(t, sample))
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())
	assert.Equal(t, []string{"name", "id", "zone", "niveau", "bonus", "emplacement"}, ds.Records[0].Keys())

	rec, ok := ds.Find("1")
	require.True(t, ok)
	name, _ := rec.GetString(models.FieldName)
	assert.Equal(t, "Soin <critique>", name)

	_, ok = ds.Find("42")
	assert.False(t, ok)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = Parse([]byte(`{"id": 1}`))
	require.ErrorIs(t, err, ErrNotArray)

	_, err = Parse([]byte(`   `))
	require.ErrorIs(t, err, ErrNotArray)

	_, err = Parse([]byte(`[{"id": 1}, null]`))
	require.ErrorIs(t, err, ErrNullRecord)

	_, err = Parse([]byte(`[{"id": 1}, 3]`))
	require.ErrorIs(t, err, models.ErrNotObject)

	_, err = Parse([]byte(`[{"id": 1`))
	require.Error(t, err)
}

func TestSaveKeepsUntouchedBytes(t *testing.T) {
	path := writeSample(t, sample)
	ds, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Save(path, ds))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sample, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestEncodeEmpty(t *testing.T) {
	data, err := Marshal(&Dataset{})
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestDuplicateIDs(t *testing.T) {
	ds, err := Parse([]byte(`[{"id":1},{"id":2},{"id":1},{"id":1},{"name":"x"},{"id":2}]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ds.DuplicateIDs())
}

func TestClone(t *testing.T) {
	ds, err := Parse([]byte(sample))
	require.NoError(t, err)

	clone := ds.Clone()
	require.NoError(t, clone.Records[0].SetString(models.FieldBonus, "changed"))

	bonus, _ := ds.Records[0].GetString(models.FieldBonus)
	assert.Equal(t, "Défense 50100%", bonus)
}
