package xmap

import (
	"database/sql"
	"errors"
)

// Column describes one result column: its name as reported by the driver and
// its declared database type.
type Column struct {
	Name string
	Type string
}

// Cursor is the row source the engine drives. It is deliberately small so any
// result producer can feed the materializers; NewRowsCursor adapts *sql.Rows.
//
// Columns must be available before the first Next and must describe the
// current result set. Values copies the raw values of the current row into
// dst, which has one slot per column.
type Cursor interface {
	Columns() ([]Column, error)
	Next() bool
	Values(dst []any) error
	NextResultSet() bool
	Err() error
	Close() error
}

// rowsCursor adapts *sql.Rows. Raw values are whatever database/sql stores
// into an *any destination: driver values, with []byte cloned.
type rowsCursor struct {
	rows  *sql.Rows
	cols  []Column
	ptrs  []any
	slots []any
}

// NewRowsCursor wraps rows as a Cursor. Closing the cursor closes rows.
func NewRowsCursor(rows *sql.Rows) Cursor { return &rowsCursor{rows: rows} }

func (c *rowsCursor) Columns() ([]Column, error) {
	if c.cols != nil {
		return c.cols, nil
	}
	cts, err := c.rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([]Column, len(cts))
	for i, ct := range cts {
		cols[i] = Column{Name: ct.Name(), Type: declaredType(ct)}
	}
	c.cols = cols
	c.slots = make([]any, len(cols))
	c.ptrs = make([]any, len(cols))
	for i := range c.slots {
		c.ptrs[i] = &c.slots[i]
	}
	return cols, nil
}

func declaredType(ct *sql.ColumnType) string {
	if name := ct.DatabaseTypeName(); name != "" {
		return name
	}
	if st := ct.ScanType(); st != nil {
		return st.String()
	}
	return ""
}

func (c *rowsCursor) Next() bool { return c.rows.Next() }

func (c *rowsCursor) Values(dst []any) error {
	if c.cols == nil {
		if _, err := c.Columns(); err != nil {
			return err
		}
	}
	if len(dst) != len(c.slots) {
		return errors.New("xmap: cursor: destination length does not match column count")
	}
	if err := c.rows.Scan(c.ptrs...); err != nil {
		return err
	}
	copy(dst, c.slots)
	clear(c.slots)
	return nil
}

func (c *rowsCursor) NextResultSet() bool {
	c.cols = nil
	return c.rows.NextResultSet()
}

func (c *rowsCursor) Err() error   { return c.rows.Err() }
func (c *rowsCursor) Close() error { return c.rows.Close() }
