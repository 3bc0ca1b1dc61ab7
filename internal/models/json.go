package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONDocument stores an arbitrary JSON document in a JSONB column and
// serialises it verbatim in API responses.
type JSONDocument []byte

// Value implements driver.Valuer.
func (d JSONDocument) Value() (driver.Value, error) {
	if len(d) == 0 {
		return []byte("{}"), nil
	}
	return []byte(d), nil
}

// Scan implements sql.Scanner.
func (d *JSONDocument) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = nil
	case []byte:
		*d = append((*d)[:0], v...)
	case string:
		*d = JSONDocument(v)
	default:
		return fmt.Errorf("scan json document: unsupported type %T", src)
	}
	return nil
}

// MarshalJSON emits the raw document.
func (d JSONDocument) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

// UnmarshalJSON keeps a copy of the raw document.
func (d *JSONDocument) UnmarshalJSON(data []byte) error {
	*d = append((*d)[:0], data...)
	return nil
}

// ProposedChanges maps trip field keys to the raw values a requester proposed.
type ProposedChanges map[string]json.RawMessage

// Value implements driver.Valuer.
func (p ProposedChanges) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner.
func (p *ProposedChanges) Scan(src interface{}) error {
	return scanJSON(src, p)
}

// FieldChange records one field transition.
type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// FieldChanges maps trip field keys to their old/new canonical values.
type FieldChanges map[string]FieldChange

// Value implements driver.Valuer.
func (c FieldChanges) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

// MarshalJSON renders a nil diff as an empty object.
func (c FieldChanges) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]FieldChange(c))
}

// Scan implements sql.Scanner.
func (c *FieldChanges) Scan(src interface{}) error {
	return scanJSON(src, c)
}

func scanJSON(src interface{}, dest interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan json column: unsupported type %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
