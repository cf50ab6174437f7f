package xmap

import (
	"context"
	"database/sql/driver"
	"errors"
	"reflect"
	"testing"
)

type post struct {
	ID    int64  `db:"Id"`
	Title string `db:"Title"`
	Owner *user
}

type user struct {
	ID   int64  `db:"Id"`
	Name string `db:"Name"`
}

func TestQueryMap2_SplitsOnRepeatedId(t *testing.T) {
	db := staticDB(t, set([]string{"Id", "Title", "Id", "Name"},
		[]driver.Value{int64(1), "hello", int64(7), "ann"},
		[]driver.Value{int64(2), "orphan", nil, nil},
	))
	posts, err := QueryMap2(context.Background(), db,
		`SELECT p.Id, p.Title, u.Id, u.Name FROM posts p LEFT JOIN users u ON u.Id = p.OwnerId`, nil,
		func(p post, u *user) post {
			if u.ID != 0 {
				p.Owner = u
			}
			return p
		})
	if err != nil {
		t.Fatal(err)
	}
	eq(t, len(posts), 2, "rows")
	eq(t, posts[0].Owner.Name, "ann", "owner")
	eq(t, posts[0].Owner.ID, int64(7), "owner id from second Id column")
	eq(t, posts[0].ID, int64(1), "post id from first Id column")
	if posts[1].Owner != nil {
		t.Fatal("all-NULL segment should leave the owner unset")
	}
}

func TestSplitSegments(t *testing.T) {
	c := cols("id", "a", "ID", "b", "key", "c")
	cases := []struct {
		n       int
		splitOn string
		want    []int
	}{
		{1, "", []int{0}},
		{2, "id", []int{0, 2}},
		{3, "id,key", []int{0, 2, 4}},
		{3, " id , key ", []int{0, 2, 4}},
		{2, "b", []int{0, 3}},
		{3, "*", []int{0, 4, 5}},
		{2, "*", []int{0, 5}},
	}
	for _, tc := range cases {
		got, err := splitSegments(c, tc.n, tc.splitOn)
		if err != nil {
			t.Fatalf("%d/%q: %v", tc.n, tc.splitOn, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%d/%q: got %v want %v", tc.n, tc.splitOn, got, tc.want)
		}
	}
}

func TestSplitSegments_SearchesFromTheRight(t *testing.T) {
	got, err := splitSegments(cols("id", "a", "id", "b", "id", "c"), 2, "id")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []int{0, 4}) {
		t.Fatalf("got %v want [0 4]", got)
	}
	got, err = splitSegments(cols("id", "a", "id", "b", "id", "c"), 3, "id")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []int{0, 2, 4}) {
		t.Fatalf("got %v want [0 2 4]", got)
	}
}

type foo struct {
	ID    int `db:"Id"`
	BarID int `db:"BarId"`
}

type bar struct {
	BarID int    `db:"BarId"`
	Name  string `db:"Name"`
}

func TestQueryMap2_ForeignKeyNamedLikeNextKey(t *testing.T) {
	db := staticDB(t, set([]string{"Id", "BarId", "BarId", "Name"},
		[]driver.Value{int64(1), int64(2), int64(3), "a"},
	))
	type pair struct {
		foo foo
		bar bar
	}
	got, err := QueryMap2(context.Background(), db,
		`SELECT 1 AS Id, 2 AS BarId, 3 AS BarId, 'a' AS Name`, nil,
		func(f foo, b bar) pair { return pair{f, b} }, WithSplitOn("BarId"))
	if err != nil {
		t.Fatal(err)
	}
	eq(t, got[0].foo.ID, 1, "foo.Id")
	eq(t, got[0].foo.BarID, 2, "foo.BarId")
	eq(t, got[0].bar.BarID, 3, "bar.BarId")
	eq(t, got[0].bar.Name, "a", "bar.Name")
}

func TestSplitSegments_Errors(t *testing.T) {
	c := cols("id", "a", "id", "b")
	cases := []struct {
		n        int
		splitOn  string
		wantName string
	}{
		{3, "id", "id"}, // no id left of column 2 for the first boundary
		{2, "missing", "missing"},
		{3, "id,a,b", ""},
		{2, " ", ""},
		{5, "id", ""},
	}
	for _, tc := range cases {
		_, err := splitSegments(c, tc.n, tc.splitOn)
		var se *SplitError
		if !errors.As(err, &se) || !errors.Is(err, ErrSplitOn) {
			t.Fatalf("%d/%q: expected *SplitError, got %v", tc.n, tc.splitOn, err)
		}
		eq(t, se.Name, tc.wantName, "split name")
		eq(t, len(se.Columns), 4, "columns listed")
	}
}

func TestQueryMap3_AndN(t *testing.T) {
	type a struct{ ID int }
	type b struct {
		ID   int
		Code string
	}
	db := staticDB(t, set([]string{"id", "id", "code", "n"},
		[]driver.Value{int64(1), int64(2), "x", int64(9)},
	))
	ctx := context.Background()

	got, err := QueryMap3(ctx, db, `SELECT ...`, nil, func(x a, y b, n int) string {
		return y.Code
	}, WithSplitOn("id,n"))
	if err != nil {
		t.Fatal(err)
	}
	eq(t, got[0], "x", "three segments")

	ns, err := QueryMapN(ctx, db, `SELECT ...`, nil,
		[]reflect.Type{reflect.TypeFor[a](), reflect.TypeFor[b](), reflect.TypeFor[int]()},
		func(v []any) int { return v[0].(a).ID + v[1].(b).ID + v[2].(int) },
		WithSplitOn("id,n"))
	if err != nil {
		t.Fatal(err)
	}
	eq(t, ns[0], 12, "QueryMapN")

	if _, err := QueryMapN(ctx, db, `SELECT ...`, nil, nil, func([]any) int { return 0 }); !errors.Is(err, ErrSplitOn) {
		t.Fatalf("no types: %v", err)
	}
	withNil := []reflect.Type{reflect.TypeFor[a](), nil}
	if _, err := QueryMapN(ctx, db, `SELECT ...`, nil, withNil, func([]any) int { return 0 }); !errors.Is(err, ErrSplitOn) {
		t.Fatalf("nil type: %v", err)
	}
	tooMany := make([]reflect.Type, 8)
	for i := range tooMany {
		tooMany[i] = reflect.TypeFor[int]()
	}
	if _, err := QueryMapN(ctx, db, `SELECT ...`, nil, tooMany, func([]any) int { return 0 }); !errors.Is(err, ErrTooManyTypes) {
		t.Fatalf("too many types: %v", err)
	}
}

func TestQueryMap_SplitIsPartOfIdentity(t *testing.T) {
	db := staticDB(t, set([]string{"a", "b", "c"}, []driver.Value{int64(1), int64(2), int64(3)}))
	s := New(Config{}).Session(db)
	ctx := context.Background()
	sum := func(x *Row, y *Row) int { return x.Len()*10 + y.Len() }

	r1, err := QueryMap2(ctx, s, `SELECT a, b, c`, nil, sum, WithSplitOn("b"))
	if err != nil {
		t.Fatal(err)
	}
	r2, err := QueryMap2(ctx, s, `SELECT a, b, c`, nil, sum, WithSplitOn("c"))
	if err != nil {
		t.Fatal(err)
	}
	eq(t, r1[0], 12, "split on b")
	eq(t, r2[0], 21, "split on c")
	eq(t, s.Engine().Stats().Entries, int64(2), "distinct splits, distinct entries")
}

func TestQueryMapSeq(t *testing.T) {
	db := staticDB(t, set([]string{"Id", "Title", "Id", "Name"},
		[]driver.Value{int64(1), "a", int64(7), "ann"},
		[]driver.Value{int64(2), "b", int64(8), "bob"},
	))
	var names []string
	for name, err := range QueryMapSeq(context.Background(), db, `SELECT ...`, nil, func(p post, u user) string { return u.Name }) {
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, name)
	}
	eqSlice(t, toAny(names), []any{"ann", "bob"}, "streamed")
}
