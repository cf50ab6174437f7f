package xmap

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
)

// Exec executes a statement that does not return rows (INSERT, UPDATE, DELETE,
// DDL, procedure calls).
//
// params follows the same rules as [Query]. When params is a slice of
// parameter objects (structs, maps or *Params), the statement is executed once
// per element and the returned result sums the rows affected.
//
// Output, input-output and return-value parameters of a *Params bag are
// read back into the bag after execution.
//
// Example:
//
//	res, err := xmap.Exec(ctx, db, `INSERT INTO users (email) VALUES (@email)`,
//	    []User{{Email: "a@example.com"}, {Email: "b@example.com"}})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	n, _ := res.RowsAffected()
//	fmt.Println("rows:", n) // rows: 2
//
// Notes:
//   - Use a transaction around multiple Exec/Query calls when you need atomicity.
//   - Not all drivers support LastInsertId; prefer RETURNING with Query/Get where available.
func Exec(ctx context.Context, x Execer, query string, params any, opts ...Option) (sql.Result, error) {
	e := engineFor(x)
	o := e.options(opts)
	ctx, cancel := o.context(ctx)
	defer cancel()

	if items, ok := paramList(params); ok {
		var total multiResult
		for _, item := range items {
			res, err := e.exec(ctx, x, query, item, o)
			if err != nil {
				return nil, err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return nil, err
			}
			total.rows += n
			total.last = res
		}
		return total, nil
	}
	return e.exec(ctx, x, query, params, o)
}

func (e *Engine) exec(ctx context.Context, x Execer, query string, params any, o *callOptions) (sql.Result, error) {
	id, err := newIdentity(e, query, o, params, nil)
	if err != nil {
		return nil, err
	}
	cmd, err := e.command(id, query, params, o)
	if err != nil {
		return nil, err
	}
	text, args, err := cmd.Render(e.placeholder)
	if err != nil {
		return nil, err
	}
	res, err := x.ExecContext(ctx, text, args...)
	if err != nil {
		return nil, err
	}
	readBack(cmd, params)
	return res, nil
}

var errNoResult = errors.New("xmap: no statement was executed")

// multiResult is the result of executing one statement per parameter object.
type multiResult struct {
	rows int64
	last sql.Result
}

func (r multiResult) LastInsertId() (int64, error) {
	if r.last == nil {
		return 0, errNoResult
	}
	return r.last.LastInsertId()
}

func (r multiResult) RowsAffected() (int64, error) { return r.rows, nil }

// paramList reports whether params is a sequence of parameter objects.
func paramList(params any) ([]any, bool) {
	if params == nil {
		return nil, false
	}
	if _, ok := params.(Args); ok {
		return nil, false
	}
	rv := reflect.ValueOf(params)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	et := rv.Type().Elem()
	if et.Kind() != reflect.Interface && !isParamObject(et) {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
		if et.Kind() == reflect.Interface && (items[i] == nil || !isParamObject(reflect.TypeOf(items[i]))) {
			return nil, false
		}
	}
	return items, true
}

func isParamObject(t reflect.Type) bool {
	if t == paramsPtrType {
		return true
	}
	t = derefPtr(t)
	switch t.Kind() {
	case reflect.Struct:
		return classifyType(t) == valueUnsupported
	case reflect.Map:
		return t.Key().Kind() == reflect.String
	}
	return false
}
