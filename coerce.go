package xmap

import (
	"database/sql"
	"encoding"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/constraints"
)

// converter turns one raw column value into a value of a fixed destination
// type. Converters are built once per destination type and cached; the raw
// value's dynamic type is inspected per call because drivers are free to
// hand back different representations row by row.
type converter func(raw any) (reflect.Value, error)

var converters sync.Map // reflect.Type -> converter

func converterFor(dst reflect.Type) converter {
	if v, ok := converters.Load(dst); ok {
		return v.(converter)
	}
	v, _ := converters.LoadOrStore(dst, buildConverter(dst))
	return v.(converter)
}

// Coerce converts a raw column value into T using the same rules the
// materializers apply:
//   - identical types pass through unchanged;
//   - numeric and bool sources convert between each other with truncation,
//     and textual sources are parsed;
//   - registered enums accept their names case-insensitively, or a number;
//   - SQL NULL (nil) becomes nil for pointers, interfaces and sql.Null*
//     types and the zero value for everything else;
//   - string destinations accept text only, []byte destinations []byte only;
//   - anything else is a *CoercionError naming the source type.
func Coerce[T any](raw any) (T, error) {
	var zero T
	v, err := converterFor(reflect.TypeFor[T]())(raw)
	if err != nil {
		return zero, err
	}
	out, _ := v.Interface().(T)
	return out, nil
}

func buildConverter(dst reflect.Type) converter {
	switch {
	case implementsScanner(dst):
		return scannerConverter(dst)
	case dst.Kind() == reflect.Pointer:
		return pointerConverter(dst, converterFor(dst.Elem()))
	case dst.Kind() == reflect.Interface:
		return interfaceConverter(dst)
	case dst.Kind() == reflect.Slice && dst.Elem().Kind() == reflect.Uint8:
		return bytesConverter(dst)
	}
	if info := lookupEnum(dst); info != nil {
		return guard(dst, enumConverter(dst, info))
	}
	if dst == timeType {
		return guard(dst, timeConverter)
	}
	switch dst.Kind() {
	case reflect.Bool:
		return guard(dst, boolConverter(dst))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return guard(dst, intConverter(dst))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return guard(dst, uintConverter(dst))
	case reflect.Float32, reflect.Float64:
		return guard(dst, floatConverter(dst))
	case reflect.String:
		return guard(dst, stringConverter(dst))
	}
	if implementsTextUnmarshaler(dst) {
		return guard(dst, textConverter(dst))
	}
	return guard(dst, assignConverter(dst))
}

// guard handles the two rules shared by every non-nullable destination:
// NULL yields the zero value and an identical type passes through.
func guard(dst reflect.Type, c converter) converter {
	return func(raw any) (reflect.Value, error) {
		if raw == nil {
			return reflect.Zero(dst), nil
		}
		if reflect.TypeOf(raw) == dst {
			return reflect.ValueOf(raw), nil
		}
		return c(raw)
	}
}

func coerceErr(raw any, dst reflect.Type, err error) (reflect.Value, error) {
	return reflect.Value{}, &CoercionError{Source: fmt.Sprintf("%T", raw), Dest: dst, Err: err}
}

// ---------------- nullable wrappers ----------------

func scannerConverter(dst reflect.Type) converter {
	return func(raw any) (reflect.Value, error) {
		p := reflect.New(dst)
		if err := p.Interface().(sql.Scanner).Scan(raw); err != nil {
			return coerceErr(raw, dst, err)
		}
		return p.Elem(), nil
	}
}

func pointerConverter(dst reflect.Type, elem converter) converter {
	return func(raw any) (reflect.Value, error) {
		if raw == nil {
			return reflect.Zero(dst), nil
		}
		if reflect.TypeOf(raw) == dst {
			return reflect.ValueOf(raw), nil
		}
		v, err := elem(raw)
		if err != nil {
			return v, err
		}
		p := reflect.New(dst.Elem())
		p.Elem().Set(v)
		return p, nil
	}
}

func interfaceConverter(dst reflect.Type) converter {
	return func(raw any) (reflect.Value, error) {
		out := reflect.New(dst).Elem()
		if raw == nil {
			return out, nil
		}
		if !reflect.TypeOf(raw).Implements(dst) {
			return coerceErr(raw, dst, nil)
		}
		out.Set(reflect.ValueOf(raw))
		return out, nil
	}
}

// bytesConverter accepts byte sequences only and always copies.
func bytesConverter(dst reflect.Type) converter {
	return func(raw any) (reflect.Value, error) {
		if raw == nil {
			return reflect.Zero(dst), nil
		}
		rv := reflect.ValueOf(raw)
		if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() != reflect.Uint8 {
			return coerceErr(raw, dst, nil)
		}
		cp := append([]byte(nil), rv.Bytes()...)
		return reflect.ValueOf(cp).Convert(dst), nil
	}
}

// ---------------- scalar kinds ----------------

func intConverter(dst reflect.Type) converter {
	return func(raw any) (reflect.Value, error) {
		out := reflect.New(dst).Elem()
		if n, ok := numeric[int64](raw); ok {
			out.SetInt(n)
			return out, nil
		}
		s, ok := text(raw)
		if !ok {
			return coerceErr(raw, dst, nil)
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			out.SetInt(n)
			return out, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return coerceErr(raw, dst, err)
		}
		out.SetInt(int64(f))
		return out, nil
	}
}

func uintConverter(dst reflect.Type) converter {
	return func(raw any) (reflect.Value, error) {
		out := reflect.New(dst).Elem()
		if n, ok := numeric[uint64](raw); ok {
			out.SetUint(n)
			return out, nil
		}
		s, ok := text(raw)
		if !ok {
			return coerceErr(raw, dst, nil)
		}
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			out.SetUint(n)
			return out, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return coerceErr(raw, dst, err)
		}
		out.SetUint(uint64(f))
		return out, nil
	}
}

func floatConverter(dst reflect.Type) converter {
	return func(raw any) (reflect.Value, error) {
		out := reflect.New(dst).Elem()
		if f, ok := numeric[float64](raw); ok {
			out.SetFloat(f)
			return out, nil
		}
		s, ok := text(raw)
		if !ok {
			return coerceErr(raw, dst, nil)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return coerceErr(raw, dst, err)
		}
		out.SetFloat(f)
		return out, nil
	}
}

func boolConverter(dst reflect.Type) converter {
	return func(raw any) (reflect.Value, error) {
		out := reflect.New(dst).Elem()
		if f, ok := numeric[float64](raw); ok {
			out.SetBool(f != 0)
			return out, nil
		}
		s, ok := text(raw)
		if !ok {
			return coerceErr(raw, dst, nil)
		}
		if b, err := strconv.ParseBool(s); err == nil {
			out.SetBool(b)
			return out, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return coerceErr(raw, dst, err)
		}
		out.SetBool(f != 0)
		return out, nil
	}
}

// stringConverter refuses non-text sources rather than formatting them.
func stringConverter(dst reflect.Type) converter {
	return func(raw any) (reflect.Value, error) {
		out := reflect.New(dst).Elem()
		switch v := raw.(type) {
		case string:
			out.SetString(v)
			return out, nil
		case []byte:
			out.SetString(string(v))
			return out, nil
		}
		if rv := reflect.ValueOf(raw); rv.Kind() == reflect.String {
			out.SetString(rv.String())
			return out, nil
		}
		return coerceErr(raw, dst, nil)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

func timeConverter(raw any) (reflect.Value, error) {
	s, ok := text(raw)
	if !ok {
		return coerceErr(raw, timeType, nil)
	}
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return reflect.ValueOf(t), nil
		}
		lastErr = err
	}
	return coerceErr(raw, timeType, lastErr)
}

func enumConverter(dst reflect.Type, info *enumInfo) converter {
	isUnsigned := dst.Kind() >= reflect.Uint && dst.Kind() <= reflect.Uintptr
	set := func(out reflect.Value, n int64) {
		if isUnsigned {
			out.SetUint(uint64(n))
		} else {
			out.SetInt(n)
		}
	}
	return func(raw any) (reflect.Value, error) {
		out := reflect.New(dst).Elem()
		if n, ok := numeric[int64](raw); ok {
			set(out, n)
			return out, nil
		}
		s, ok := text(raw)
		if !ok {
			return coerceErr(raw, dst, nil)
		}
		if v, ok := info.byName[strings.ToLower(s)]; ok {
			out.Set(v)
			return out, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return coerceErr(raw, dst, fmt.Errorf("%q is not a declared name", s))
		}
		set(out, n)
		return out, nil
	}
}

func textConverter(dst reflect.Type) converter {
	return func(raw any) (reflect.Value, error) {
		s, ok := text(raw)
		if !ok {
			return coerceErr(raw, dst, nil)
		}
		p := reflect.New(dst)
		if err := p.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return coerceErr(raw, dst, err)
		}
		return p.Elem(), nil
	}
}

func assignConverter(dst reflect.Type) converter {
	return func(raw any) (reflect.Value, error) {
		rv := reflect.ValueOf(raw)
		rt := rv.Type()
		switch {
		case rt.AssignableTo(dst):
			out := reflect.New(dst).Elem()
			out.Set(rv)
			return out, nil
		case rt.Kind() == dst.Kind() && rt.ConvertibleTo(dst):
			return rv.Convert(dst), nil
		}
		return coerceErr(raw, dst, nil)
	}
}

// ---------------- raw value helpers ----------------

// numeric converts any Go numeric or bool raw value to T with Go conversion
// semantics (truncating). It reports false for every other source.
func numeric[T constraints.Integer | constraints.Float](raw any) (T, bool) {
	switch v := raw.(type) {
	case int64:
		return T(v), true
	case float64:
		return T(v), true
	case int:
		return T(v), true
	case int32:
		return T(v), true
	case int16:
		return T(v), true
	case int8:
		return T(v), true
	case uint64:
		return T(v), true
	case uint:
		return T(v), true
	case uint32:
		return T(v), true
	case uint16:
		return T(v), true
	case uint8:
		return T(v), true
	case float32:
		return T(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return T(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return T(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return T(rv.Float()), true
	}
	return 0, false
}

func text(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v), true
	case []byte:
		return strings.TrimSpace(string(v)), true
	}
	return "", false
}
