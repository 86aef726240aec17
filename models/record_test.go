package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordKeepsKeyOrderAndRawValues(t *testing.T) {
	input := `{"name":"Bouclier","id":3,"niveau":12.0,"bonus":"Défense 50","extra":{"a": [1, 2]}}`

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(input), &rec))
	require.Equal(t, []string{"name", "id", "niveau", "bonus", "extra"}, rec.Keys())

	niveau, ok := rec.Get(FieldNiveau)
	require.True(t, ok)
	assert.Equal(t, "12.0", string(niveau))

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Bouclier","id":3,"niveau":12.0,"bonus":"Défense 50","extra":{"a":[1,2]}}`, string(out))
}

func TestRecordRejectsNonObject(t *testing.T) {
	var rec Record
	err := json.Unmarshal([]byte(`[1,2]`), &rec)
	require.ErrorIs(t, err, ErrNotObject)
}

func TestRecordDuplicateKeyKeepsLastValue(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"name":"a","id":2}`), &rec))
	require.Equal(t, []string{"id", "name"}, rec.Keys())
	assert.Equal(t, "2", rec.IDString())
}

func TestRecordSetString(t *testing.T) {
	rec := NewRecord(Field{Key: FieldID, Value: json.RawMessage(`7`)})
	require.NoError(t, rec.SetString(FieldBonus, "Santé <max> & 5 %"))

	raw, ok := rec.Get(FieldBonus)
	require.True(t, ok)
	assert.Equal(t, `"Santé <max> & 5 %"`, string(raw))

	require.NoError(t, rec.SetString(FieldBonus, "Vitesse 12"))
	assert.Equal(t, []string{FieldID, FieldBonus}, rec.Keys())
	got, ok := rec.GetString(FieldBonus)
	require.True(t, ok)
	assert.Equal(t, "Vitesse 12", got)
}

func TestRecordAccessors(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"id":"12","niveau":"7","zone":null,"bonus":5}`), &rec))

	assert.Equal(t, "12", rec.IDString())

	n, ok := rec.GetInt(FieldNiveau)
	require.True(t, ok)
	assert.Equal(t, 7, n)

	_, ok = rec.GetString(FieldZone)
	assert.False(t, ok)
	_, ok = rec.GetString(FieldBonus)
	assert.False(t, ok)
	_, ok = rec.GetInt(FieldName)
	assert.False(t, ok)
}

func TestRecordClone(t *testing.T) {
	rec := NewRecord(Field{Key: FieldName, Value: json.RawMessage(`"X"`)})
	clone := rec.Clone()
	require.NoError(t, clone.SetString(FieldName, "Y"))

	name, _ := rec.GetString(FieldName)
	assert.Equal(t, "X", name)
}
