package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
)

// JSON is a raw JSON document stored in a text column.
type JSON []byte

// Scan implements sql.Scanner.
func (j *JSON) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		*j = append((*j)[0:0], v...)
		return nil
	case string:
		*j = JSON(v)
		return nil
	default:
		return fmt.Errorf("JSON: cannot scan %T", value)
	}
}

// Value implements driver.Valuer.
func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	if !json.Valid(j) {
		return nil, fmt.Errorf("JSON: invalid document")
	}
	return string(j), nil
}

// GormDataType implements gorm's schema.GormDataTypeInterface.
func (JSON) GormDataType() string { return "text" }

// MarshalJSON implements the json.Marshaler interface
func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (j *JSON) UnmarshalJSON(data []byte) error {
	if j == nil {
		return fmt.Errorf("JSON: UnmarshalJSON on nil pointer")
	}
	*j = append((*j)[0:0], data...)
	return nil
}

// Breakdown maps a dimension label (device type, region, hour...) to a count.
// Stored values that fail to decode read back as an empty breakdown.
type Breakdown map[string]int

// Scan implements sql.Scanner. Malformed content yields an empty breakdown.
func (b *Breakdown) Scan(value interface{}) error {
	*b = Breakdown{}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return nil
	}
	decoded := map[string]int{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	*b = decoded
	return nil
}

// Value implements driver.Valuer.
func (b Breakdown) Value() (driver.Value, error) {
	if b == nil {
		return "{}", nil
	}
	out, err := json.Marshal(map[string]int(b))
	if err != nil {
		return nil, err
	}
	return string(out), nil
}

// GormDataType implements gorm's schema.GormDataTypeInterface.
func (Breakdown) GormDataType() string { return "text" }

// Inc adds n to label.
func (b Breakdown) Inc(label string, n int) {
	if label == "" {
		label = "unknown"
	}
	b[label] += n
}

// Merge adds every count of other into b.
func (b Breakdown) Merge(other Breakdown) {
	for k, v := range other {
		b[k] += v
	}
}

// Entry is one label/count pair of a sorted breakdown.
type Entry struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Sorted returns entries by count desc, label asc.
func (b Breakdown) Sorted() []Entry {
	entries := make([]Entry, 0, len(b))
	for k, v := range b {
		entries = append(entries, Entry{Label: k, Count: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Label < entries[j].Label
	})
	return entries
}

// JSONList stores a slice of values as a JSON array. Malformed content reads back empty.
type JSONList[T any] []T

// Scan implements sql.Scanner.
func (l *JSONList[T]) Scan(value interface{}) error {
	*l = JSONList[T]{}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return nil
	}
	var decoded []T
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	*l = decoded
	return nil
}

// Value implements driver.Valuer.
func (l JSONList[T]) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	out, err := json.Marshal([]T(l))
	if err != nil {
		return nil, err
	}
	return string(out), nil
}

// GormDataType implements gorm's schema.GormDataTypeInterface.
func (JSONList[T]) GormDataType() string { return "text" }
