package xmap

import (
	"bytes"
	"encoding/json"
	"iter"
	"strings"
)

// rowTable is the column layout shared by every Row read from one shape.
type rowTable struct {
	names []string
	index map[string]int // exact name -> first position
}

func newRowTable(names []string) *rowTable {
	t := &rowTable{names: names, index: make(map[string]int, len(names))}
	for i, n := range names {
		if _, ok := t.index[n]; !ok {
			t.index[n] = i
		}
	}
	return t
}

func (t *rowTable) find(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	for i, n := range t.names {
		if strings.EqualFold(n, name) {
			return i
		}
	}
	return -1
}

// Row is a dynamic result row: an ordered name/value mapping that keeps the
// cursor's column order and supports both positional and by-name access.
// Names are looked up exactly first, then case-insensitively; with duplicate
// column names the first one wins.
//
// Rows read from the same result shape share their column table; Set and
// Delete copy it on first mutation so other rows are unaffected.
type Row struct {
	table  *rowTable
	values []any
	owned  bool
}

// NewRow builds a Row from parallel name and value slices.
func NewRow(names []string, values []any) *Row {
	return &Row{table: newRowTable(append([]string(nil), names...)), values: append([]any(nil), values...), owned: true}
}

// Len returns the number of columns.
func (r *Row) Len() int { return len(r.values) }

// Names returns the column names in order.
func (r *Row) Names() []string { return append([]string(nil), r.table.names...) }

// Values returns the values in column order.
func (r *Row) Values() []any { return append([]any(nil), r.values...) }

// Index returns the i-th value.
func (r *Row) Index(i int) any { return r.values[i] }

// Get returns the value of the named column.
func (r *Row) Get(name string) (any, bool) {
	i := r.table.find(name)
	if i < 0 {
		return nil, false
	}
	return r.values[i], true
}

// Value returns the named value or nil.
func (r *Row) Value(name string) any {
	v, _ := r.Get(name)
	return v
}

// Set replaces the named value, appending a new column when it is absent.
func (r *Row) Set(name string, v any) {
	if i := r.table.find(name); i >= 0 {
		r.values[i] = v
		return
	}
	r.own()
	r.table.names = append(r.table.names, name)
	if _, ok := r.table.index[name]; !ok {
		r.table.index[name] = len(r.table.names) - 1
	}
	r.values = append(r.values, v)
}

// Delete removes the named column and reports whether it existed.
func (r *Row) Delete(name string) bool {
	i := r.table.find(name)
	if i < 0 {
		return false
	}
	r.own()
	names := append(r.table.names[:i:i], r.table.names[i+1:]...)
	r.table = newRowTable(names)
	r.values = append(r.values[:i:i], r.values[i+1:]...)
	return true
}

func (r *Row) own() {
	if r.owned {
		return
	}
	names := append([]string(nil), r.table.names...)
	r.table = newRowTable(names)
	r.owned = true
}

// All iterates name/value pairs in column order.
func (r *Row) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for i, n := range r.table.names {
			if !yield(n, r.values[i]) {
				return
			}
		}
	}
}

// Map copies the row into a map. Later duplicate names do not overwrite
// earlier ones.
func (r *Row) Map() map[string]any {
	m := make(map[string]any, len(r.values))
	for i, n := range r.table.names {
		if _, ok := m[n]; !ok {
			m[n] = r.values[i]
		}
	}
	return m
}

// MarshalJSON encodes the row as a JSON object in column order.
func (r *Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range r.table.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(n)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
