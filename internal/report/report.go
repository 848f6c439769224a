// Package report renders flat rows as downloadable tables.
package report

import (
	"errors"
	"fmt"
	"time"
)

// ErrWriteFailure is returned when the output sink rejects a write.
var ErrWriteFailure = errors.New("report write failed")

type field struct {
	key   string
	value any
}

// Row is an ordered set of column values. The zero value is empty and usable.
type Row struct {
	fields []field
	index  map[string]int
}

// NewRow returns an empty row.
func NewRow() Row { return Row{} }

// Set assigns a column value, keeping the column's original position when it
// already exists.
func (r Row) Set(key string, value any) Row {
	if r.index == nil {
		r.index = map[string]int{}
	}
	if i, ok := r.index[key]; ok {
		r.fields[i].value = value
		return r
	}
	r.index[key] = len(r.fields)
	r.fields = append(r.fields, field{key: key, value: value})
	return r
}

// Keys returns column names in insertion order.
func (r Row) Keys() []string {
	keys := make([]string, 0, len(r.fields))
	for _, f := range r.fields {
		keys = append(keys, f.key)
	}
	return keys
}

// Get returns the value stored for key.
func (r Row) Get(key string) (any, bool) {
	i, ok := r.index[key]
	if !ok {
		return nil, false
	}
	return r.fields[i].value, true
}

// columns derives the table header from the first row.
func columns(rows []Row) []string {
	if len(rows) == 0 {
		return nil
	}
	return rows[0].Keys()
}

// cell renders a value as text. Missing and nil values are empty.
func cell(r Row, key string) string {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case *string:
		if val == nil {
			return ""
		}
		return *val
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case *time.Time:
		if val == nil {
			return ""
		}
		return val.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
