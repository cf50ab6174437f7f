package xmap

import (
	"errors"
	"fmt"
	"reflect"
)

// materializer produces one target value from the raw values of a row.
// It is built once per (type, shape, column range) and is safe for
// concurrent use.
type materializer func(row []any) (reflect.Value, error)

// buildMaterializer resolves members, constructor and coercions for the
// columns [start, start+count) and returns the per-row function.
func buildMaterializer(desc *TypeDescriptor, cols []Column, start, count int) (materializer, error) {
	if count <= 0 || start+count > len(cols) {
		return nil, ErrNoColumns
	}
	switch desc.kind {
	case targetDynamic:
		return dynamicMaterializer(desc.Type, cols[start:start+count], start), nil
	case targetScalar:
		if count != 1 {
			return nil, fmt.Errorf("%w: cannot map %d columns into %s; use a struct", ErrScalarColumns, count, desc.Type)
		}
		return scalarMaterializer(desc.Type, cols[start], start), nil
	}
	return structMaterializer(desc, cols, start, count)
}

func scalarMaterializer(t reflect.Type, col Column, at int) materializer {
	conv := converterFor(t)
	return func(row []any) (reflect.Value, error) {
		v, err := conv(row[at])
		if err != nil {
			return v, annotate(err, "", col.Name)
		}
		return v, nil
	}
}

func dynamicMaterializer(t reflect.Type, cols []Column, start int) materializer {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	n := len(cols)
	if t == mapAnyType {
		return func(row []any) (reflect.Value, error) {
			m := make(map[string]any, n)
			for i, name := range names {
				if _, dup := m[name]; !dup {
					m[name] = row[start+i]
				}
			}
			return reflect.ValueOf(m), nil
		}
	}
	table := newRowTable(names)
	return func(row []any) (reflect.Value, error) {
		r := &Row{table: table, values: append([]any(nil), row[start:start+n]...)}
		return reflect.ValueOf(r), nil
	}
}

type fieldSetter struct {
	col    int
	path   []int
	conv   converter
	member string
	column string
}

func structMaterializer(desc *TypeDescriptor, cols []Column, start, count int) (materializer, error) {
	seg := cols[start : start+count]
	ctor, ctorCols, err := selectConstructor(desc, seg, start)
	if err != nil {
		return nil, err
	}
	used := make([]bool, count)
	var ctorConvs []converter
	if ctor != nil {
		for i, ci := range ctorCols {
			used[ci-start] = true
			ctorConvs = append(ctorConvs, converterFor(ctor.types[i]))
		}
	}

	// First column wins for duplicate names; unmatched columns are dropped.
	bound := make(map[int]bool)
	var setters []fieldSetter
	for i, c := range seg {
		if used[i] {
			continue
		}
		mi, ok := desc.byName[normalizeColAscii(c.Name)]
		if !ok || bound[mi] {
			continue
		}
		bound[mi] = true
		m := desc.members[mi]
		setters = append(setters, fieldSetter{
			col:    start + i,
			path:   m.Path,
			conv:   converterFor(m.Type),
			member: m.Name,
			column: c.Name,
		})
	}

	base, ptr := desc.base, desc.ptr
	return func(row []any) (reflect.Value, error) {
		root := reflect.New(base)
		if ctor != nil {
			args := make([]reflect.Value, len(ctorCols))
			for i, ci := range ctorCols {
				v, err := ctorConvs[i](row[ci])
				if err != nil {
					return reflect.Value{}, annotate(err, ctor.names[i], cols[ci].Name)
				}
				args[i] = v
			}
			out := ctor.fn.Call(args)
			if ctor.retErr && !out[1].IsNil() {
				return reflect.Value{}, out[1].Interface().(error)
			}
			switch {
			case !ctor.retPtr:
				root.Elem().Set(out[0])
			case out[0].IsNil():
				return reflect.Value{}, fmt.Errorf("xmap: constructor for %s returned nil", base)
			default:
				root = out[0]
			}
		}
		obj := root.Elem()
		for _, s := range setters {
			v, err := s.conv(row[s.col])
			if err != nil {
				return reflect.Value{}, annotate(err, s.member, s.column)
			}
			fieldByPathAlloc(obj, s.path).Set(v)
		}
		if ptr {
			return root, nil
		}
		return obj, nil
	}, nil
}

// selectConstructor picks the registered constructor for one shape. A
// parameterless constructor always wins; otherwise every parameter must match
// a column and the constructor with the most parameters is chosen.
func selectConstructor(desc *TypeDescriptor, seg []Column, start int) (*constructor, []int, error) {
	if len(desc.ctors) == 0 {
		return nil, nil, nil
	}
	for _, c := range desc.ctors {
		if len(c.params) == 0 {
			return c, nil, nil
		}
	}
	pos := make(map[string]int, len(seg))
	for i, c := range seg {
		n := normalizeColAscii(c.Name)
		if _, ok := pos[n]; !ok {
			pos[n] = start + i
		}
	}

	var (
		best     *constructor
		bestCols []int
		tie      bool
	)
	for _, c := range desc.ctors {
		idx := make([]int, len(c.params))
		ok := true
		for i, p := range c.params {
			j, found := pos[p]
			if !found {
				ok = false
				break
			}
			idx[i] = j
		}
		if !ok {
			continue
		}
		switch {
		case best == nil || len(c.params) > len(best.params):
			best, bestCols, tie = c, idx, false
		case len(c.params) == len(best.params):
			tie = true
		}
	}
	names := make([]string, len(seg))
	for i, c := range seg {
		names[i] = c.Name
	}
	if best == nil {
		return nil, nil, fmt.Errorf("%w: %s, columns %v", ErrNoConstructor, desc.base, names)
	}
	if tie {
		return nil, nil, fmt.Errorf("%w: %s has several %d-parameter constructors matching columns %v",
			ErrAmbiguousConstructor, desc.base, len(best.params), names)
	}
	return best, bestCols, nil
}

// annotate fills in member and column on coercion errors.
func annotate(err error, member, column string) error {
	var ce *CoercionError
	if errors.As(err, &ce) {
		if ce.Member == "" {
			ce.Member = member
		}
		if ce.Column == "" {
			ce.Column = column
		}
		return err
	}
	return fmt.Errorf("xmap: member %s (column %q): %w", member, column, err)
}

// fieldByPathAlloc walks fpath, allocating nil pointers to inline structs on
// the way so the final field is addressable.
func fieldByPathAlloc(root reflect.Value, fpath []int) reflect.Value {
	v := root
	for _, i := range fpath {
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v
}
