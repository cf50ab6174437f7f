package xmap

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
)

func TestExec_RowsAffected(t *testing.T) {
	db := newExecDB(t, func(query string, args []driver.NamedValue) (driver.Result, error) {
		if query != `UPDATE users SET email = ? WHERE id > ?` {
			t.Fatalf("unexpected query: %q", query)
		}
		// ints are normalized to int64 by database/sql
		if len(args) != 2 || args[0].Value != "x@ex.com" || args[1].Value != int64(10) {
			t.Fatalf("unexpected args: %#v", args)
		}
		return testResult{rows: 3}, nil
	})

	res, err := Exec(context.Background(), db, `UPDATE users SET email = ? WHERE id > ?`, Args{"x@ex.com", 10})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		t.Fatalf("RowsAffected err: %v", err)
	}
	eq(t, n, int64(3), "RowsAffected")
}

func TestExec_LastInsertID(t *testing.T) {
	db := newExecDB(t, func(query string, args []driver.NamedValue) (driver.Result, error) {
		if query != `INSERT INTO users (email) VALUES (@email)` {
			t.Fatalf("unexpected query: %q", query)
		}
		if len(args) != 1 || args[0].Name != "email" || args[0].Value != "ada@lovelace.dev" {
			t.Fatalf("unexpected args: %#v", args)
		}
		return testResult{lastID: 99, rows: 1}, nil
	})

	res, err := Exec(context.Background(), db, `INSERT INTO users (email) VALUES (@email)`,
		map[string]any{"email": "ada@lovelace.dev"})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("LastInsertId err: %v", err)
	}
	eq(t, id, int64(99), "LastInsertId")
}

func TestExec_Error(t *testing.T) {
	sentinel := errors.New("boom")
	db := newExecDB(t, func(query string, args []driver.NamedValue) (driver.Result, error) {
		return nil, sentinel
	})

	_, err := Exec(context.Background(), db, `DELETE FROM users WHERE id = @id`, map[string]any{"id": 7})
	if !errors.Is(err, sentinel) {
		t.Fatalf("want %v, got %v", sentinel, err)
	}
}

type newUser struct {
	Email string `db:"email"`
	Age   int    `db:"age"`
}

func TestExec_OncePerElement(t *testing.T) {
	var got [][]driver.NamedValue
	db := newExecDB(t, func(query string, args []driver.NamedValue) (driver.Result, error) {
		got = append(got, args)
		return testResult{rows: 1, lastID: int64(len(got))}, nil
	})

	users := []newUser{{"a@x", 1}, {"b@x", 2}, {"c@x", 3}}
	res, err := Exec(context.Background(), db, `INSERT INTO users (email, age) VALUES (@email, @age)`, users)
	if err != nil {
		t.Fatal(err)
	}
	eq(t, len(got), 3, "executions")
	eq(t, got[2][0].Value, driver.Value("c@x"), "third email")
	eq(t, got[2][1].Value, driver.Value(int64(3)), "third age")

	n, _ := res.RowsAffected()
	eq(t, n, int64(3), "summed rows")
	id, _ := res.LastInsertId()
	eq(t, id, int64(3), "last insert id of final statement")
}

func TestExec_OncePerElement_StopsOnError(t *testing.T) {
	sentinel := errors.New("dup")
	calls := 0
	db := newExecDB(t, func(query string, args []driver.NamedValue) (driver.Result, error) {
		calls++
		if calls == 2 {
			return nil, sentinel
		}
		return testResult{rows: 1}, nil
	})
	items := []any{map[string]any{"v": 1}, map[string]any{"v": 2}, map[string]any{"v": 3}}
	if _, err := Exec(context.Background(), db, `INSERT INTO t VALUES (@v)`, items); !errors.Is(err, sentinel) {
		t.Fatalf("got %v", err)
	}
	eq(t, calls, 2, "stopped after failure")
}

func TestExec_EmptyParamList(t *testing.T) {
	db := newExecDB(t, func(string, []driver.NamedValue) (driver.Result, error) {
		t.Fatal("no statement should run")
		return nil, nil
	})
	res, err := Exec(context.Background(), db, `INSERT INTO t VALUES (@v)`, []newUser{})
	if err != nil {
		t.Fatal(err)
	}
	n, _ := res.RowsAffected()
	eq(t, n, int64(0), "rows")
	if _, err := res.LastInsertId(); !errors.Is(err, errNoResult) {
		t.Fatalf("got %v", err)
	}
}

func TestParamList(t *testing.T) {
	cases := []struct {
		in   any
		list bool
	}{
		{nil, false},
		{Args{1, 2}, false},
		{[]int{1, 2}, false},
		{[]newUser{{}}, true},
		{[]*newUser{{}}, true},
		{[]map[string]any{{}}, true},
		{[]*Params{NewParams()}, true},
		{[]any{map[string]any{}, newUser{}}, true},
		{[]any{1, 2}, false},
		{[]map[int]any{{}}, false},
	}
	for i, c := range cases {
		_, ok := paramList(c.in)
		if ok != c.list {
			t.Fatalf("case %d (%T): got %v want %v", i, c.in, ok, c.list)
		}
	}
}
