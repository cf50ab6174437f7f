package xmap

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"strings"
)

// buildReadPlan splits cols for types and builds one materializer per
// segment.
func buildReadPlan(types []reflect.Type, cols []Column, splitOn string) (*readPlan, error) {
	starts, err := splitSegments(cols, len(types), splitOn)
	if err != nil {
		return nil, err
	}
	rp := &readPlan{starts: starts, mats: make([]materializer, len(types))}
	for i, t := range types {
		end := len(cols)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		m, err := buildMaterializer(Describe(t), cols, starts[i], end-starts[i])
		if err != nil {
			return nil, err
		}
		rp.mats[i] = m
	}
	return rp, nil
}

// splitSegments returns the first column of each of n segments. Segment i
// spans [starts[i], starts[i+1]) and the last runs to the final column, so
// the segments always partition the row.
//
// splitOn names the first column of every segment after the first: a single
// name is reused for each boundary, a comma-separated list gives one name per
// boundary, and "*" gives each of the last n-1 columns its own segment.
// Boundaries are located from the right: the last name is searched
// case-insensitively backwards from the final column, and each earlier name
// backwards from the boundary after it. A foreign key sharing its name with
// the next segment's key therefore stays in the left segment.
func splitSegments(cols []Column, n int, splitOn string) ([]int, error) {
	starts := make([]int, 1, n)
	if n <= 1 {
		return starts, nil
	}
	colNames := func() []string {
		names := make([]string, len(cols))
		for i, c := range cols {
			names[i] = c.Name
		}
		return names
	}
	if n > len(cols) {
		return nil, &SplitError{Columns: colNames(), Reason: fmt.Sprintf("%d types need at least %d columns", n, n)}
	}
	starts = starts[:n]
	if strings.TrimSpace(splitOn) == "*" {
		for k := 1; k < n; k++ {
			starts[k] = len(cols) - n + k
		}
		return starts, nil
	}

	names := strings.Split(splitOn, ",")
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}
	switch {
	case len(names) == 1:
		for len(names) < n-1 {
			names = append(names, names[0])
		}
	case len(names) != n-1:
		return nil, &SplitError{Columns: colNames(), Reason: fmt.Sprintf("%d types need %d split names, got %d", n, n-1, len(names))}
	}

	for _, name := range names {
		if name == "" {
			return nil, &SplitError{Columns: colNames(), Reason: "empty split name"}
		}
	}
	// Boundary k must leave at least one column for each segment before it.
	right := len(cols)
	for k := n - 1; k >= 1; k-- {
		name := names[k-1]
		at := -1
		for j := right - 1; j >= k; j-- {
			if strings.EqualFold(cols[j].Name, name) {
				at = j
				break
			}
		}
		if at < 0 {
			return nil, &SplitError{Name: name, Columns: colNames(), Reason: fmt.Sprintf("was not found between column %d and column %d", k, right-1)}
		}
		starts[k] = at
		right = at
	}
	return starts, nil
}

// QueryMap2 executes a multi-map query: each row is split into two segments,
// materialized as A and B, and passed to fn. The split column defaults to the
// engine's DefaultSplitOn ("Id"); see WithSplitOn.
//
// A segment whose columns are all NULL is still materialized, as a zero value
// (or a zero struct behind a pointer). fn decides whether that means "no
// related row", typically by checking the key member.
//
//	type Post struct{ ID int; Title string; Owner *User }
//	posts, err := xmap.QueryMap2(ctx, db,
//	    `SELECT p.id, p.title, u.id, u.name FROM posts p LEFT JOIN users u ON u.id = p.owner_id`,
//	    nil,
//	    func(p Post, u *User) Post {
//	        if u.ID != 0 {
//	            p.Owner = u
//	        }
//	        return p
//	    },
//	    xmap.WithSplitOn("id"))
func QueryMap2[A, B, R any](ctx context.Context, q Querier, query string, params any, fn func(A, B) R, opts ...Option) ([]R, error) {
	return queryMap(ctx, q, query, params, opts, typesOf2[A, B](), func(v []reflect.Value) R {
		return fn(as[A](v[0]), as[B](v[1]))
	})
}

// QueryMap3 is QueryMap2 with three segments.
func QueryMap3[A, B, C, R any](ctx context.Context, q Querier, query string, params any, fn func(A, B, C) R, opts ...Option) ([]R, error) {
	types := []reflect.Type{reflect.TypeFor[A](), reflect.TypeFor[B](), reflect.TypeFor[C]()}
	return queryMap(ctx, q, query, params, opts, types, func(v []reflect.Value) R {
		return fn(as[A](v[0]), as[B](v[1]), as[C](v[2]))
	})
}

// QueryMap4 is QueryMap2 with four segments.
func QueryMap4[A, B, C, D, R any](ctx context.Context, q Querier, query string, params any, fn func(A, B, C, D) R, opts ...Option) ([]R, error) {
	types := []reflect.Type{reflect.TypeFor[A](), reflect.TypeFor[B](), reflect.TypeFor[C](), reflect.TypeFor[D]()}
	return queryMap(ctx, q, query, params, opts, types, func(v []reflect.Value) R {
		return fn(as[A](v[0]), as[B](v[1]), as[C](v[2]), as[D](v[3]))
	})
}

// QueryMap5 is QueryMap2 with five segments.
func QueryMap5[A, B, C, D, E, R any](ctx context.Context, q Querier, query string, params any, fn func(A, B, C, D, E) R, opts ...Option) ([]R, error) {
	types := []reflect.Type{reflect.TypeFor[A](), reflect.TypeFor[B](), reflect.TypeFor[C](), reflect.TypeFor[D](), reflect.TypeFor[E]()}
	return queryMap(ctx, q, query, params, opts, types, func(v []reflect.Value) R {
		return fn(as[A](v[0]), as[B](v[1]), as[C](v[2]), as[D](v[3]), as[E](v[4]))
	})
}

// QueryMapN maps each row into len(types) segments (at most seven) and passes
// the materialized values to fn in order.
func QueryMapN[R any](ctx context.Context, q Querier, query string, params any, types []reflect.Type, fn func([]any) R, opts ...Option) ([]R, error) {
	if err := checkTypes(types); err != nil {
		return nil, err
	}
	return queryMap(ctx, q, query, params, opts, types, func(v []reflect.Value) R {
		return fn(interfaces(v))
	})
}

// checkTypes validates the target types passed to the N-way multi-maps.
func checkTypes(types []reflect.Type) error {
	if len(types) == 0 {
		return fmt.Errorf("%w: no types given", ErrSplitOn)
	}
	for i, t := range types {
		if t == nil {
			return fmt.Errorf("%w: type %d is nil", ErrSplitOn, i)
		}
	}
	return nil
}

// QueryMapSeq is the unbuffered form of QueryMap2.
func QueryMapSeq[A, B, R any](ctx context.Context, q Querier, query string, params any, fn func(A, B) R, opts ...Option) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		stopped := false
		err := run(ctx, q, query, params, opts, typesOf2[A, B](), func(v []reflect.Value) bool {
			if !yield(fn(as[A](v[0]), as[B](v[1])), nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			var zero R
			yield(zero, err)
		}
	}
}

func queryMap[R any](ctx context.Context, q Querier, query string, params any, opts []Option, types []reflect.Type, combine func([]reflect.Value) R) ([]R, error) {
	var out []R
	err := run(ctx, q, query, params, opts, types, func(v []reflect.Value) bool {
		out = append(out, combine(v))
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func typesOf2[A, B any]() []reflect.Type {
	return []reflect.Type{reflect.TypeFor[A](), reflect.TypeFor[B]()}
}

func interfaces(v []reflect.Value) []any {
	out := make([]any, len(v))
	for i := range v {
		out[i] = v[i].Interface()
	}
	return out
}
