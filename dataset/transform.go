package dataset

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/SergeiSkv/pictofix/models"
)

// BonusNormalizer rewrites bonus text and reports which rules changed it
type BonusNormalizer interface {
	Trace(text string) (string, []models.RuleID)
}

// NormalizeBonuses rewrites the bonus of every record that has one. Records are
// changed in place only after every bonus was checked, so an error leaves ds untouched.
func NormalizeBonuses(ds *Dataset, n BonusNormalizer) ([]models.Change, error) {
	type update struct {
		rec  *models.Record
		text string
	}
	var (
		changes []models.Change
		updates []update
	)

	for i, rec := range ds.Records {
		raw, ok := rec.Get(models.FieldBonus)
		if !ok {
			continue
		}
		if len(raw) == 0 || raw[0] != '"' {
			return nil, fmt.Errorf("%w: record %s", ErrBonusNotString, recordLabel(i, rec))
		}
		var before string
		if err := json.Unmarshal(raw, &before); err != nil {
			return nil, fmt.Errorf("%w: record %s: %v", ErrBonusNotString, recordLabel(i, rec), err)
		}

		after, rules := n.Trace(before)
		if after == before {
			continue
		}
		updates = append(updates, update{rec: rec, text: after})
		changes = append(changes, models.Change{
			Index:    i,
			RecordID: rec.IDString(),
			Field:    models.FieldBonus,
			Before:   before,
			After:    after,
			Rules:    rules,
		})
	}

	for _, u := range updates {
		if err := u.rec.SetString(models.FieldBonus, u.text); err != nil {
			return nil, fmt.Errorf("failed to store bonus: %w", err)
		}
	}
	return changes, nil
}

// Reorder returns a new dataset whose records carry exactly the keys of
// models.FieldOrder, in that order. With keepExtra, other keys follow in
// their original order instead of being dropped.
func Reorder(ds *Dataset, keepExtra bool) (*Dataset, error) {
	out := &Dataset{Records: make([]*models.Record, 0, len(ds.Records))}

	for i, rec := range ds.Records {
		fields := make([]models.Field, 0, len(rec.Fields))
		for _, key := range models.FieldOrder {
			value, ok := rec.Get(key)
			if !ok {
				return nil, fmt.Errorf("%w: %q in record %s", ErrMissingField, key, recordLabel(i, rec))
			}
			fields = append(fields, models.Field{Key: key, Value: value})
		}
		if keepExtra {
			for _, f := range rec.Fields {
				if !slices.Contains(models.FieldOrder, f.Key) {
					fields = append(fields, f)
				}
			}
		}
		out.Records = append(out.Records, models.NewRecord(fields...))
	}
	return out, nil
}

// IsOrdered reports whether every record already has the reorder key layout
func IsOrdered(ds *Dataset) bool {
	for _, rec := range ds.Records {
		if !slices.Equal(rec.Keys(), models.FieldOrder) {
			return false
		}
	}
	return true
}
