package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Record field names, in the canonical order used by reorder
const (
	FieldID          = "id"
	FieldName        = "name"
	FieldZone        = "zone"
	FieldNiveau      = "niveau"
	FieldBonus       = "bonus"
	FieldEmplacement = "emplacement"
)

// FieldOrder is the key order of a reordered record
var FieldOrder = []string{FieldID, FieldName, FieldZone, FieldNiveau, FieldBonus, FieldEmplacement}

var ErrNotObject = errors.New("record is not a JSON object")

// Field is a single key of a record with its value kept as raw JSON
type Field struct {
	Key   string
	Value json.RawMessage
}

// Record is one picto entry. Keys keep their file order and values keep
// their original JSON text, so untouched fields are written back byte for byte.
type Record struct {
	Fields []Field
}

// NewRecord builds a record with the given fields
func NewRecord(fields ...Field) *Record {
	return &Record{Fields: fields}
}

func (r *Record) index(key string) int {
	for i := range r.Fields {
		if r.Fields[i].Key == key {
			return i
		}
	}
	return -1
}

// Has reports whether the key is present
func (r *Record) Has(key string) bool {
	return r.index(key) >= 0
}

// Get returns the raw JSON value of a key
func (r *Record) Get(key string) (json.RawMessage, bool) {
	i := r.index(key)
	if i < 0 {
		return nil, false
	}
	return r.Fields[i].Value, true
}

// Set replaces the value of an existing key in place, or appends the key
func (r *Record) Set(key string, value json.RawMessage) {
	if i := r.index(key); i >= 0 {
		r.Fields[i].Value = value
		return
	}
	r.Fields = append(r.Fields, Field{Key: key, Value: value})
}

// SetString stores s as a JSON string without HTML escaping
func (r *Record) SetString(key, s string) error {
	raw, err := MarshalString(s)
	if err != nil {
		return err
	}
	r.Set(key, raw)
	return nil
}

// Keys returns the keys in order
func (r *Record) Keys() []string {
	keys := make([]string, len(r.Fields))
	for i := range r.Fields {
		keys[i] = r.Fields[i].Key
	}
	return keys
}

// GetString returns a string field. ok is false when the key is missing or not a string.
func (r *Record) GetString(key string) (string, bool) {
	raw, found := r.Get(key)
	if !found || len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// GetInt returns an integer field, accepting numeric strings the way the frontend's parseInt does
func (r *Record) GetInt(key string) (int, bool) {
	raw, found := r.Get(key)
	if !found {
		return 0, false
	}
	if s, ok := r.GetString(key); ok {
		n, err := strconv.Atoi(s)
		return n, err == nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return int(i), true
	}
	if f, err := n.Float64(); err == nil {
		return int(f), true
	}
	return 0, false
}

// IDString returns the id as it appears in the file, without quotes for string ids
func (r *Record) IDString() string {
	if s, ok := r.GetString(FieldID); ok {
		return s
	}
	raw, ok := r.Get(FieldID)
	if !ok {
		return ""
	}
	return string(bytes.TrimSpace(raw))
}

// Clone returns a deep copy
func (r *Record) Clone() *Record {
	fields := make([]Field, len(r.Fields))
	for i, f := range r.Fields {
		fields[i] = Field{Key: f.Key, Value: append(json.RawMessage(nil), f.Value...)}
	}
	return &Record{Fields: fields}
}

func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return ErrNotObject
	}

	fields := make([]Field, 0, len(FieldOrder))
	seen := make(map[string]int, len(FieldOrder))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in record", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("failed to decode field %q: %w", key, err)
		}
		// Duplicate keys keep their first position and the last value
		if i, dup := seen[key]; dup {
			fields[i].Value = value
			continue
		}
		seen[key] = len(fields)
		fields = append(fields, Field{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	r.Fields = fields
	return nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := MarshalString(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(f.Value) == 0 {
			buf.WriteString("null")
			continue
		}
		buf.Write(f.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalString encodes s as a JSON string, leaving <, > and & unescaped
func MarshalString(s string) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
