package xmap

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"reflect"
	"testing"
)

// resultSet is one result set served by the test driver. types holds the
// declared column types and may be shorter than cols.
type resultSet struct {
	cols  []string
	types []string
	rows  [][]driver.Value
}

func set(cols []string, rows ...[]driver.Value) resultSet {
	return resultSet{cols: cols, rows: rows}
}

type DBHandler func(query string, args []driver.NamedValue) ([]resultSet, error)

type execHandler func(query string, args []driver.NamedValue) (driver.Result, error)

type testConnector struct {
	q DBHandler
	x execHandler
}

func (c *testConnector) Connect(context.Context) (driver.Conn, error) {
	return &testConn{q: c.q, x: c.x}, nil
}
func (c *testConnector) Driver() driver.Driver { return testDriver{} }

type testDriver struct{}

func (testDriver) Open(name string) (driver.Conn, error) {
	return nil, errors.New("testDriver.Open should not be called; use sql.OpenDB with connector")
}

type testConn struct {
	q DBHandler
	x execHandler
}

func (c *testConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (c *testConn) Close() error                        { return nil }
func (c *testConn) Begin() (driver.Tx, error)           { return nil, driver.ErrSkip }

// CheckNamedValue lets sql.Out through for output parameters.
func (c *testConn) CheckNamedValue(nv *driver.NamedValue) error {
	if _, ok := nv.Value.(sql.Out); ok {
		return nil
	}
	v, err := driver.DefaultParameterConverter.ConvertValue(nv.Value)
	if err != nil {
		return err
	}
	nv.Value = v
	return nil
}

func (c *testConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if c.q == nil {
		return nil, errors.New("test driver: no query handler")
	}
	sets, err := c.q(query, args)
	if err != nil {
		return nil, err
	}
	return &testRows{sets: sets}, nil
}

func (c *testConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if c.x == nil {
		return nil, errors.New("test driver: no exec handler")
	}
	return c.x(query, args)
}

type testRows struct {
	sets []resultSet
	set  int
	i    int
}

func (r *testRows) cur() resultSet {
	if r.set < len(r.sets) {
		return r.sets[r.set]
	}
	return resultSet{}
}

func (r *testRows) Columns() []string { return append([]string(nil), r.cur().cols...) }
func (r *testRows) Close() error      { return nil }

func (r *testRows) ColumnTypeDatabaseTypeName(i int) string {
	if t := r.cur().types; i < len(t) {
		return t[i]
	}
	return ""
}

func (r *testRows) Next(dest []driver.Value) error {
	data := r.cur().rows
	if r.i >= len(data) {
		return io.EOF
	}
	row := data[r.i]
	for i := range dest {
		if i < len(row) {
			dest[i] = row[i]
		} else {
			dest[i] = nil
		}
	}
	r.i++
	return nil
}

func (r *testRows) HasNextResultSet() bool { return r.set+1 < len(r.sets) }

func (r *testRows) NextResultSet() error {
	if !r.HasNextResultSet() {
		return io.EOF
	}
	r.set++
	r.i = 0
	return nil
}

// Result implementation for tests.
type testResult struct {
	lastID int64
	rows   int64
	liErr  error
	raErr  error
}

func (r testResult) LastInsertId() (int64, error) { return r.lastID, r.liErr }
func (r testResult) RowsAffected() (int64, error) { return r.rows, r.raErr }

// newTestDB creates a *sql.DB backed by the in-memory test driver.
func newTestDB(t *testing.T, h DBHandler) *sql.DB {
	t.Helper()
	db := sql.OpenDB(&testConnector{q: h})
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newExecDB(t *testing.T, h execHandler) *sql.DB {
	t.Helper()
	db := sql.OpenDB(&testConnector{x: h})
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// staticDB serves the same result sets for every query.
func staticDB(t *testing.T, sets ...resultSet) *sql.DB {
	t.Helper()
	return newTestDB(t, func(string, []driver.NamedValue) ([]resultSet, error) { return sets, nil })
}

// setOut writes v into the sql.Out destination of the named argument.
func setOut(t *testing.T, args []driver.NamedValue, name string, v any) {
	t.Helper()
	for _, a := range args {
		if a.Name != name {
			continue
		}
		out, ok := a.Value.(sql.Out)
		if !ok {
			t.Fatalf("arg %s is %T, want sql.Out", name, a.Value)
		}
		*out.Dest.(*any) = v
		return
	}
	t.Fatalf("no arg named %s in %#v", name, args)
}

func eq[T comparable](t *testing.T, got, want T, msg string) {
	t.Helper()
	if got != want {
		t.Fatalf("%s: got=%v want=%v", msg, got, want)
	}
}

func eqSlice(t *testing.T, got, want []any, msg string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: len got=%d want=%d\n got=%v\nwant=%v", msg, len(got), len(want), got, want)
	}
	for i := range got {
		if !reflect.DeepEqual(got[i], want[i]) {
			t.Fatalf("%s: idx %d got=%#v want=%#v\n got=%v\nwant=%v", msg, i, got[i], want[i], got, want)
		}
	}
}

func TestSession_UsesItsEngine(t *testing.T) {
	db := staticDB(t, set([]string{"n"}, []driver.Value{int64(1)}))
	eng := New(Config{})
	s := eng.Session(db)
	if s.Engine() != eng {
		t.Fatal("Session.Engine mismatch")
	}
	if engineFor(s) != eng {
		t.Fatal("engineFor(session) should return the session engine")
	}
	if engineFor(db) != Default() {
		t.Fatal("engineFor(*sql.DB) should return the default engine")
	}
	if _, err := Query[int](context.Background(), s, `SELECT n`, nil); err != nil {
		t.Fatal(err)
	}
	eq(t, eng.Stats().Entries, int64(1), "entries on session engine")
}

func TestDefault_Lazy(t *testing.T) {
	a, b := Default(), Default()
	if a == nil || a != b {
		t.Fatal("Default should return one engine")
	}
	eq(t, a.Placeholder(), PlaceholderNamed, "default placeholder")
	eq(t, a.splitOn, "Id", "default split")
}
