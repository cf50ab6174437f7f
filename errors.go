package xmap

import (
	"errors"
	"fmt"
	"reflect"
)

// Configuration errors. They are reported as soon as the offending shape or
// parameter type is seen and are never retried.
var (
	// ErrScalarColumns is returned when a scalar target (int, string, a
	// sql.Scanner, ...) is asked to consume more than one column.
	ErrScalarColumns = errors.New("xmap: scalar target needs exactly one column")

	// ErrNoColumns is returned when a cursor reports zero columns.
	ErrNoColumns = errors.New("xmap: query returned zero columns")

	// ErrSplitOn is returned (wrapped in *SplitError) when the multi-map
	// split-on columns do not fit the cursor's columns, or a type is nil.
	ErrSplitOn = errors.New("xmap: invalid split-on columns")

	// ErrParamCollision is returned when a list expansion would name an
	// element like another parameter, for example @ids with @ids1.
	ErrParamCollision = errors.New("xmap: expanded list parameter collides with another parameter")

	// ErrTooManyTypes is returned when a multi-map asks for more types than
	// an identity can hold.
	ErrTooManyTypes = errors.New("xmap: too many multi-map types")

	// ErrNoConstructor is returned when constructors are registered for a
	// type but none of them can be satisfied by the result columns.
	ErrNoConstructor = errors.New("xmap: no registered constructor matches the columns")

	// ErrAmbiguousConstructor is returned when two equally good constructors
	// match the result columns.
	ErrAmbiguousConstructor = errors.New("xmap: ambiguous constructor selection")

	// ErrNilParams is returned when a nil pointer is passed as the parameter
	// object.
	ErrNilParams = errors.New("xmap: bind: nil params")

	// ErrUnsupportedArg is returned when the parameter object is not a
	// struct, a map with string keys, *Params or Args.
	ErrUnsupportedArg = errors.New("xmap: bind: params must be struct, map[string]any, *Params or Args")

	// ErrDuplicateKeyTag is returned when two struct fields resolve to the
	// same parameter name (case-insensitive).
	ErrDuplicateKeyTag = errors.New("xmap: bind: duplicate key from struct tags/fields")
)

// Lifecycle errors raised by GridReader.
var (
	// ErrGridOrder is returned when the next result set is requested while
	// an unbuffered read of the current one is unfinished.
	ErrGridOrder = errors.New("xmap: GridReader: previous result set has not been fully consumed")

	// ErrGridExhausted is returned when every result set has been read.
	ErrGridExhausted = errors.New("xmap: GridReader: no more result sets")

	// ErrGridDisposed is returned by any read after Close.
	ErrGridDisposed = errors.New("xmap: GridReader: the reader has been disposed")
)

// CoercionError reports a raw column value that could not be converted to
// the destination member type.
type CoercionError struct {
	Member string       // destination field or constructor parameter, if any
	Column string       // source column name, if known
	Source string       // concrete Go type of the raw value
	Dest   reflect.Type // destination type
	Err    error        // underlying parse/scan error, may be nil
}

func (e *CoercionError) Error() string {
	msg := "xmap: cannot coerce " + e.Source + " into " + typeName(e.Dest)
	if e.Member != "" {
		msg += " for member " + e.Member
	}
	if e.Column != "" {
		msg += fmt.Sprintf(" (column %q)", e.Column)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CoercionError) Unwrap() error { return e.Err }

// ParamError reports a parameter member whose Go type cannot be bound.
type ParamError struct {
	Member string
	Type   reflect.Type
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("xmap: the member %s of type %s cannot be used as a parameter value", e.Member, typeName(e.Type))
}

// SplitError reports a split column that could not be located.
type SplitError struct {
	Name    string   // split name that failed, "" when the count is wrong
	Columns []string // cursor column names
	Reason  string
}

func (e *SplitError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: %s (columns %v)", ErrSplitOn.Error(), e.Reason, e.Columns)
	}
	return fmt.Sprintf("%s: split column %q %s (columns %v); set the split-on option if your key columns are not named Id",
		ErrSplitOn.Error(), e.Name, e.Reason, e.Columns)
}

func (e *SplitError) Unwrap() error { return ErrSplitOn }

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
