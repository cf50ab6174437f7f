package xmap

import (
	"context"
	"database/sql"
	"reflect"
)

// Get executes the SQL query and materializes the first row into a value of
// type T.
//
// It returns [sql.ErrNoRows] if the query yields no rows and does not enforce
// "exactly one row" beyond the first; if more rows exist, they are ignored.
// Use LIMIT 1 (or an equivalent WHERE clause) when you require at-most-one
// row.
//
// T and params follow the same rules as [Query].
//
// Example:
//
//	u, err := xmap.Get[User](ctx, db, `SELECT id, email FROM users WHERE id = @id`,
//	    map[string]any{"id": 42})
//	if err != nil {
//	    if errors.Is(err, sql.ErrNoRows) {
//	        // handle not found
//	    } else {
//	        // handle other errors
//	    }
//	}
func Get[T any](ctx context.Context, q Querier, query string, params any, opts ...Option) (T, error) {
	var (
		out   T
		found bool
	)
	err := run(ctx, q, query, params, opts, []reflect.Type{reflect.TypeFor[T]()}, func(vals []reflect.Value) bool {
		out, found = as[T](vals[0]), true
		return false
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if !found {
		return out, sql.ErrNoRows
	}
	return out, nil
}
