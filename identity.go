package xmap

import (
	"reflect"
	"strings"
)

// maxTypes bounds the number of target types in one multi-map identity.
const maxTypes = 7

// identity keys a cached plan. It is comparable, so it can be used directly as
// a sync.Map key, and two identities are equal only when every field matches.
type identity struct {
	sql       string
	kind      CommandKind
	target    string
	paramType reflect.Type
	types     [maxTypes]reflect.Type
	ntypes    int
	splitOn   string
	grid      int
}

// newIdentity normalizes the query text (surrounding whitespace only) and
// records the target type signature.
func newIdentity(e *Engine, query string, o *callOptions, params any, types []reflect.Type) (identity, error) {
	if len(types) > maxTypes {
		return identity{}, ErrTooManyTypes
	}
	id := identity{
		sql:       strings.TrimSpace(query),
		kind:      o.kind,
		target:    e.target,
		paramType: reflect.TypeOf(params),
		ntypes:    len(types),
	}
	copy(id.types[:], types)
	if len(types) > 1 {
		id.splitOn = o.splitOn
	}
	return id, nil
}

// forGrid derives the identity of the i-th result set of a grid.
func (id identity) forGrid(i int, types []reflect.Type, splitOn string) (identity, error) {
	if len(types) > maxTypes {
		return identity{}, ErrTooManyTypes
	}
	id.grid = i + 1
	id.types = [maxTypes]reflect.Type{}
	copy(id.types[:], types)
	id.ntypes = len(types)
	id.splitOn = ""
	if len(types) > 1 {
		id.splitOn = splitOn
	}
	return id, nil
}
