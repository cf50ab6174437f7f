package xmap

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"
)

type gridState uint8

const (
	gridPositioned gridState = iota // a result set is ready to be read
	gridReading                     // an unbuffered read of the current set is in progress
	gridExhausted                   // every set has been read; cursor released
	gridDisposed                    // closed by the caller or by an error
)

// GridReader reads the result sets of one command in order. Each set is read
// exactly once, with ReadGrid (buffered), ReadGridSeq (unbuffered) or one of
// the multi-map readers. The cursor is released when the last set has been
// read or on Close, whichever comes first; output parameters are read back at
// that point.
//
// A GridReader is not safe for concurrent use.
type GridReader struct {
	e       *Engine
	id      identity
	cur     Cursor
	cmd     *Command
	params  any
	splitOn string
	cancel  context.CancelFunc

	index int
	state gridState
}

// QueryMultiple executes a command that returns several result sets.
//
//	g, err := xmap.QueryMultiple(ctx, db, `
//	    SELECT * FROM customers WHERE id = @id;
//	    SELECT * FROM orders WHERE customer_id = @id;`,
//	    map[string]any{"id": 7})
//	if err != nil {
//	    return err
//	}
//	defer g.Close()
//	customer, err := xmap.ReadGrid[Customer](g)
//	orders, err := xmap.ReadGrid[Order](g)
func QueryMultiple(ctx context.Context, q Querier, query string, params any, opts ...Option) (*GridReader, error) {
	e := engineFor(q)
	o := e.options(opts)
	ctx, cancel := o.context(ctx)

	id, err := newIdentity(e, query, o, params, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	cur, cmd, err := e.open(ctx, q, id, query, params, o)
	if err != nil {
		cancel()
		return nil, err
	}
	return &GridReader{
		e:       e,
		id:      id,
		cur:     cur,
		cmd:     cmd,
		params:  params,
		splitOn: o.splitOn,
		cancel:  cancel,
	}, nil
}

// Index returns the zero-based index of the next result set to read.
func (g *GridReader) Index() int { return g.index }

// Close releases the cursor. Reads after Close return ErrGridDisposed.
func (g *GridReader) Close() error {
	switch g.state {
	case gridDisposed:
		return nil
	case gridExhausted:
		g.state = gridDisposed
		return nil
	}
	g.state = gridDisposed
	return g.release()
}

func (g *GridReader) release() error {
	err := g.cur.Err()
	if cerr := g.cur.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	readBack(g.cmd, g.params)
	g.cancel()
	return err
}

// begin claims the current set for reading.
func (g *GridReader) begin() error {
	switch g.state {
	case gridDisposed:
		return ErrGridDisposed
	case gridExhausted:
		return ErrGridExhausted
	case gridReading:
		return ErrGridOrder
	}
	g.state = gridReading
	return nil
}

// finish advances past a fully read set.
func (g *GridReader) finish() error {
	g.index++
	if g.cur.NextResultSet() {
		g.state = gridPositioned
		return nil
	}
	g.state = gridExhausted
	return g.release()
}

// fail disposes the reader after a read error.
func (g *GridReader) fail(err error) error {
	if g.state == gridDisposed {
		return err
	}
	g.state = gridDisposed
	return errors.Join(err, g.release())
}

// consume reads the claimed set. Stopping early drains the remaining rows.
func (g *GridReader) consume(types []reflect.Type, splitOn string, each func([]reflect.Value) bool) error {
	id, err := g.id.forGrid(g.index, types, splitOn)
	if err != nil {
		return g.fail(err)
	}
	done, err := g.e.readSet(id, g.cur, types, splitOn, each)
	if err != nil {
		return g.fail(err)
	}
	if g.state == gridDisposed {
		return ErrGridDisposed
	}
	if !done {
		for g.cur.Next() {
		}
		if err := g.cur.Err(); err != nil {
			return g.fail(err)
		}
	}
	return g.finish()
}

func (g *GridReader) read(types []reflect.Type, splitOn string, each func([]reflect.Value) bool) error {
	if err := g.begin(); err != nil {
		return err
	}
	return g.consume(types, splitOn, each)
}

func (g *GridReader) splitFor(opts []Option) string {
	o := &callOptions{splitOn: g.splitOn}
	for _, opt := range opts {
		opt(o)
	}
	return o.splitOn
}

// ReadGrid reads the current result set into a slice and moves to the next.
func ReadGrid[T any](g *GridReader) ([]T, error) {
	var out []T
	err := g.read([]reflect.Type{reflect.TypeFor[T]()}, "", func(v []reflect.Value) bool {
		out = append(out, as[T](v[0]))
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadGridSeq claims the current result set and returns a one-pass sequence
// over it. Until the sequence has been iterated to the end (or the loop
// breaks, which discards the rest of the set), further reads return
// ErrGridOrder.
func ReadGridSeq[T any](g *GridReader) (iter.Seq2[T, error], error) {
	if err := g.begin(); err != nil {
		return nil, err
	}
	used := false
	return func(yield func(T, error) bool) {
		var zero T
		if used {
			yield(zero, fmt.Errorf("%w: sequence for set %d was already iterated", ErrGridOrder, g.index))
			return
		}
		used = true
		stopped := false
		err := g.consume([]reflect.Type{reflect.TypeFor[T]()}, "", func(v []reflect.Value) bool {
			if !yield(as[T](v[0]), nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(zero, err)
		}
	}, nil
}

// ReadGridMap2 reads the current result set as a two-way multi-map.
func ReadGridMap2[A, B, R any](g *GridReader, fn func(A, B) R, opts ...Option) ([]R, error) {
	var out []R
	err := g.read(typesOf2[A, B](), g.splitFor(opts), func(v []reflect.Value) bool {
		out = append(out, fn(as[A](v[0]), as[B](v[1])))
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadGridMapN reads the current result set as a multi-map over types.
func ReadGridMapN[R any](g *GridReader, types []reflect.Type, fn func([]any) R, opts ...Option) ([]R, error) {
	if err := checkTypes(types); err != nil {
		return nil, err
	}
	var out []R
	err := g.read(types, g.splitFor(opts), func(v []reflect.Value) bool {
		out = append(out, fn(interfaces(v)))
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
