package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Int64Slice is a []int64 stored as a jsonb array. It implements
// sql.Scanner and driver.Valuer so sqlx can read and write it directly.
type Int64Slice []int64

// Scan implements sql.Scanner
func (s *Int64Slice) Scan(src interface{}) error {
	if s == nil {
		return fmt.Errorf("dbtypes: Scan on nil *Int64Slice")
	}
	if src == nil {
		*s = []int64{}
		return nil
	}
	b, err := jsonBytes(src, "Int64Slice")
	if err != nil {
		return err
	}
	var out []int64
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	if out == nil {
		out = []int64{}
	}
	*s = out
	return nil
}

// Value implements driver.Valuer
func (s Int64Slice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]int64(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Counts is a string -> count map stored as a jsonb object, e.g. the
// per-type breakdown returned by jsonb_object_agg.
type Counts map[string]int

// Scan implements sql.Scanner
func (c *Counts) Scan(src interface{}) error {
	if c == nil {
		return fmt.Errorf("dbtypes: Scan on nil *Counts")
	}
	if src == nil {
		*c = Counts{}
		return nil
	}
	b, err := jsonBytes(src, "Counts")
	if err != nil {
		return err
	}
	out := Counts{}
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	if out == nil {
		out = Counts{}
	}
	*c = out
	return nil
}

// Value implements driver.Valuer
func (c Counts) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]int(c))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonBytes(src interface{}, into string) ([]byte, error) {
	switch v := src.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("dbtypes: cannot scan type %T into %s", src, into)
	}
}
