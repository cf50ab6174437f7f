package xmap

import (
	"context"
	"errors"
	"iter"
	"reflect"
)

// Query executes the SQL query and materializes every row of the first result
// set into a slice of T.
//
// T may be a struct or pointer to struct (columns match `db` tags, then field
// names, case-insensitively; extra columns are ignored and unmatched members
// keep their zero value), a scalar (exactly one column: numbers, strings,
// time.Time, registered enums, sql.Scanner implementations, pointers to
// these), or a dynamic row (*Row, map[string]any, any).
//
// params is nil, a struct, a map[string]any, a *Params bag or Args. Members
// are bound as @name parameters; slice members expand into lists.
//
// The materializer for (query, params type, T) is built once per column
// shape and cached on the Engine; a changed shape rebuilds it once.
//
// Example:
//
//	type User struct {
//	    ID    int64  `db:"id"`
//	    Email string `db:"email"`
//	}
//
//	users, err := xmap.Query[User](ctx, db,
//	    `SELECT id, email FROM users WHERE id IN @ids ORDER BY id`,
//	    map[string]any{"ids": []int64{1, 2, 3}})
//	if err != nil {
//	    log.Fatal(err)
//	}
func Query[T any](ctx context.Context, q Querier, query string, params any, opts ...Option) ([]T, error) {
	var out []T
	err := run(ctx, q, query, params, opts, []reflect.Type{reflect.TypeFor[T]()}, func(vals []reflect.Value) bool {
		out = append(out, as[T](vals[0]))
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// QuerySeq is the unbuffered form of Query. The query runs when iteration
// starts; rows are materialized one at a time and the cursor is closed when
// the loop ends, including on break. A failure is yielded once as the final
// element.
//
//	for u, err := range xmap.QuerySeq[User](ctx, db, `SELECT id, email FROM users`, nil) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(u.Email)
//	}
func QuerySeq[T any](ctx context.Context, q Querier, query string, params any, opts ...Option) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		stopped := false
		err := run(ctx, q, query, params, opts, []reflect.Type{reflect.TypeFor[T]()}, func(vals []reflect.Value) bool {
			if !yield(as[T](vals[0]), nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			var zero T
			yield(zero, err)
		}
	}
}

// run executes query and streams the first result set through each, closing
// the cursor and reading output parameters back afterwards.
func run(ctx context.Context, q Querier, query string, params any, opts []Option, types []reflect.Type, each func([]reflect.Value) bool) (err error) {
	e := engineFor(q)
	o := e.options(opts)
	ctx, cancel := o.context(ctx)
	defer cancel()

	id, err := newIdentity(e, query, o, params, types)
	if err != nil {
		return err
	}
	cur, cmd, err := e.open(ctx, q, id, query, params, o)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cur.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		readBack(cmd, params)
	}()
	_, err = e.readSet(id, cur, types, o.splitOn, each)
	return err
}

// command binds params into a new Command using the cached binder for id.
func (e *Engine) command(id identity, query string, params any, o *callOptions) (*Command, error) {
	b, err := e.cache.binderFor(id, func() (*binder, error) {
		return buildBinder(query, o.kind, reflect.TypeOf(params), e.expansions)
	})
	if err != nil {
		return nil, err
	}
	cmd := NewCommand(query)
	if err := b.bind(cmd, params); err != nil {
		return nil, err
	}
	return cmd, nil
}

func (e *Engine) open(ctx context.Context, q Querier, id identity, query string, params any, o *callOptions) (Cursor, *Command, error) {
	cmd, err := e.command(id, query, params, o)
	if err != nil {
		return nil, nil, err
	}
	text, args, err := cmd.Render(e.placeholder)
	if err != nil {
		return nil, nil, err
	}
	rows, err := q.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, nil, err
	}
	return NewRowsCursor(rows), cmd, nil
}

// readSet materializes the current result set of cur. each receives the
// segment values of one row and returns false to stop early. readSet reports
// whether the set was read to its end.
func (e *Engine) readSet(id identity, cur Cursor, types []reflect.Type, splitOn string, each func([]reflect.Value) bool) (bool, error) {
	cols, err := cur.Columns()
	if err != nil {
		return false, err
	}
	if len(cols) == 0 {
		return false, ErrNoColumns
	}
	plan, err := e.cache.readPlanFor(id, cols, func(cols []Column) (*readPlan, error) {
		return buildReadPlan(types, cols, splitOn)
	})
	if err != nil {
		return false, err
	}

	raw := make([]any, len(cols))
	vals := make([]reflect.Value, len(plan.mats))
	for cur.Next() {
		if err := cur.Values(raw); err != nil {
			return false, err
		}
		for i, m := range plan.mats {
			v, err := m(raw)
			if err != nil {
				return false, err
			}
			vals[i] = v
		}
		if !each(vals) {
			return false, nil
		}
	}
	return true, cur.Err()
}

func as[T any](v reflect.Value) T {
	out, _ := v.Interface().(T)
	return out
}
