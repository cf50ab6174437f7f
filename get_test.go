package xmap

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
)

func TestGet_SuccessStruct(t *testing.T) {
	type Row struct {
		ID   int64  `db:"id"`
		Name string `db:"name"`
	}
	db := staticDB(t, set([]string{`"ID"`, "`NAME`"}, []driver.Value{int64(7), []byte("alice")}))

	got, err := Get[Row](context.Background(), db, "ok", nil)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.ID != 7 || got.Name != "alice" {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestGet_FirstRowOnly(t *testing.T) {
	db := staticDB(t, set([]string{"n"}, []driver.Value{int64(1)}, []driver.Value{int64(2)}))
	got, err := Get[int](context.Background(), db, "many", nil)
	if err != nil {
		t.Fatal(err)
	}
	eq(t, got, 1, "first row")
}

func TestGet_QueryError(t *testing.T) {
	wantErr := errors.New("boom")
	db := newTestDB(t, func(string, []driver.NamedValue) ([]resultSet, error) {
		return nil, wantErr
	})

	_, err := Get[int64](context.Background(), db, "any", nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestGet_NoRows_ReturnsErrNoRows(t *testing.T) {
	db := staticDB(t, set([]string{"id"}))

	_, err := Get[int64](context.Background(), db, "empty", nil)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestGet_NextError_SurfacedViaRowsErr(t *testing.T) {
	db := sql.OpenDB(&errNextConnector{})
	defer func() { _ = db.Close() }()

	_, err := Get[struct {
		A int `db:"a"`
	}](context.Background(), db, "ignored", nil)
	if err == nil || err.Error() != "driver next error" {
		t.Fatalf("expected driver next error, got %v", err)
	}
}

func TestGet_PrimitiveTooManyColumns(t *testing.T) {
	db := staticDB(t, set([]string{"a", "b"}, []driver.Value{1, 2}))

	_, err := Get[int64](context.Background(), db, "multi", nil)
	if !errors.Is(err, ErrScalarColumns) {
		t.Fatalf("expected ErrScalarColumns, got %v", err)
	}
}

func TestGet_ReadsOutputParameters(t *testing.T) {
	db := newTestDB(t, func(q string, args []driver.NamedValue) ([]resultSet, error) {
		setOut(t, args, "total", int64(41))
		return []resultSet{set([]string{"id"}, []driver.Value{int64(1)})}, nil
	})
	p := NewParams().Add("total", nil, WithDirection(DirOutput))
	if _, err := Get[int](context.Background(), db, `SELECT id FROM t`, p); err != nil {
		t.Fatal(err)
	}
	total, err := ParamValue[int](p, "total")
	if err != nil {
		t.Fatal(err)
	}
	eq(t, total, 41, "output read back after close")
}
