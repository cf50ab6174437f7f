/*
Package xmap is a data-mapping layer over database/sql. You write plain SQL;
xmap binds parameter objects into arguments and materializes result rows into
structs, scalars or dynamic rows, caching the generated mapping per query and
result shape.

# Overview

	users, err := xmap.Query[User](ctx, db,
	    `SELECT id, name FROM users WHERE status = @status AND id IN @ids`,
	    map[string]any{"status": "active", "ids": []int{1, 2, 3}})

Query, QuerySeq and Get read one result set; QueryMap2..QueryMap5 and
QueryMapN split each row across several types; QueryMultiple returns a
GridReader over several result sets; Exec runs statements, once per element
when given a slice of parameter objects.

Calls made on a plain *sql.DB, *sql.Tx, *sql.Conn or *sqlx.DB use the
process-wide Default engine. Engine.Session binds a connection to an Engine
with its own Config (placeholder style, split default, logger).

# Mapping rules

  - Members bind by `db:"name"` first; otherwise case-insensitive field ←→ column name.
  - Nested structs can be flattened with `db:",inline"`; anonymous embedded structs flatten too.
  - Extra columns are ignored; members without a column keep their zero value.
  - With duplicate column names the first occurrence wins.
  - Scalar targets (numbers, strings, time.Time, []byte, enums, sql.Scanner
    types and pointers to them) read exactly one column.
  - *Row, map[string]any and any produce dynamic rows in column order.
  - RegisterConstructor lets a type be built from columns instead of assigned
    member by member; RegisterEnum lets text columns map to integer enums by name.

# Coercion

Identical types pass through. Numbers, bools and numeric text convert to any
numeric destination with Go truncation semantics. Strings accept only text and
[]byte accepts only byte slices. SQL NULL becomes nil for pointers, interfaces
and sql.Null* types and the zero value otherwise. Anything else is a
*CoercionError naming the member, the column and both types.

# Parameters

Parameter objects are structs, map[string]any, *Params bags or Args. For text
commands only members referenced as @name or :name in the query are bound.
Slice members expand: @ids with three elements becomes (@ids1,@ids2,@ids3), and
with none becomes (SELECT @ids WHERE 1 = 0), which matches nothing. An element
name that clashes with another parameter, such as @ids1 next to @ids, is
reported as ErrParamCollision. DbString
carries explicit size and encoding hints. Output and return-value parameters in
a *Params bag are read back after execution.

# Caching

Each Engine keeps a plan cache keyed by query identity: the trimmed query
text, command kind, engine target, parameter type, target types and split-on
columns. A plan records the fingerprint of the column shape it was built for;
a different shape rebuilds it once and stores a new snapshot, while readers
holding the old one finish with it. The cache is never evicted, so one entry
is kept for every distinct query text; bind values as parameters rather than
formatting them into the query.

# Error handling

  - Get returns sql.ErrNoRows when no row matches.
  - Configuration problems (bad split-on columns, ambiguous constructors, unbindable
    member types) are reported before rows are read.
  - GridReader misuse returns ErrGridOrder, ErrGridExhausted or ErrGridDisposed.
  - Driver errors propagate unchanged.
*/
package xmap
