package xmap

import (
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"reflect"
	"testing"
	"time"
)

type level int

const (
	levelOne   level = 1
	levelTwo   level = 2
	levelThree level = 3
)

func init() {
	RegisterEnum(map[string]level{"One": levelOne, "Two": levelTwo, "Three": levelThree})
}

func mustCoerce[T any](t *testing.T, raw any) T {
	t.Helper()
	v, err := Coerce[T](raw)
	if err != nil {
		t.Fatalf("Coerce[%T](%#v): %v", v, raw, err)
	}
	return v
}

func TestCoerce_Numeric(t *testing.T) {
	eq(t, mustCoerce[int32](t, int64(7)), int32(7), "int64 -> int32")
	eq(t, mustCoerce[int8](t, float64(3.9)), int8(3), "float64 -> int8 truncates")
	eq(t, mustCoerce[float64](t, int64(2)), 2.0, "int64 -> float64")
	eq(t, mustCoerce[float32](t, float64(1.5)), float32(1.5), "float64 -> float32")
	eq(t, mustCoerce[uint16](t, []byte(" 12 ")), uint16(12), "bytes -> uint16")
	eq(t, mustCoerce[int](t, "42"), 42, "text -> int")
	eq(t, mustCoerce[int64](t, "2.75"), int64(2), "decimal text -> int64")
	eq(t, mustCoerce[int](t, true), 1, "bool -> int")
	eq(t, mustCoerce[bool](t, int64(1)), true, "1 -> bool")
	eq(t, mustCoerce[bool](t, int64(0)), false, "0 -> bool")
	eq(t, mustCoerce[bool](t, "true"), true, "text -> bool")
	eq(t, mustCoerce[bool](t, "0"), false, "numeric text -> bool")

	if _, err := Coerce[int]("abc"); err == nil {
		t.Fatal("expected error for non-numeric text")
	}
}

func TestCoerce_IdenticalPassThrough(t *testing.T) {
	type code string
	eq(t, mustCoerce[code](t, code("x")), code("x"), "named string")
	now := time.Now()
	if got := mustCoerce[time.Time](t, now); !got.Equal(now) {
		t.Fatalf("time pass-through: got %v want %v", got, now)
	}
}

func TestCoerce_NullIntoNullableAndNot(t *testing.T) {
	eq(t, mustCoerce[int](t, nil), 0, "nil -> int")
	eq(t, mustCoerce[string](t, nil), "", "nil -> string")
	if p := mustCoerce[*int](t, nil); p != nil {
		t.Fatalf("nil -> *int: got %v", *p)
	}
	if v := mustCoerce[any](t, nil); v != nil {
		t.Fatalf("nil -> any: got %v", v)
	}
	if ns := mustCoerce[sql.NullInt64](t, nil); ns.Valid {
		t.Fatal("nil -> sql.NullInt64 should be invalid")
	}
	if n := mustCoerce[sql.Null[string]](t, nil); n.Valid {
		t.Fatal("nil -> sql.Null[string] should be invalid")
	}
}

func TestCoerce_PointersAndScanners(t *testing.T) {
	p := mustCoerce[*int64](t, int64(5))
	if p == nil || *p != 5 {
		t.Fatalf("*int64: got %v", p)
	}
	ns := mustCoerce[sql.NullString](t, "x")
	if !ns.Valid || ns.String != "x" {
		t.Fatalf("NullString: %+v", ns)
	}
	pp := mustCoerce[*string](t, []byte("hi"))
	if pp == nil || *pp != "hi" {
		t.Fatalf("*string from bytes: %v", pp)
	}
}

func TestCoerce_StringRejectsNonText(t *testing.T) {
	_, err := Coerce[string](int64(1))
	var ce *CoercionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CoercionError, got %v", err)
	}
	eq(t, ce.Source, "int64", "source type")
	eq(t, ce.Dest, reflect.TypeFor[string](), "dest type")
}

func TestCoerce_BytesOnlyFromBytes(t *testing.T) {
	if _, err := Coerce[[]byte]("x"); err == nil {
		t.Fatal("string -> []byte should fail")
	}
	src := []byte("abc")
	got := mustCoerce[[]byte](t, src)
	src[0] = 'z'
	eq(t, string(got), "abc", "bytes are copied")
	if b := mustCoerce[[]byte](t, nil); b != nil {
		t.Fatalf("nil -> []byte: %v", b)
	}
}

func TestCoerce_Enum(t *testing.T) {
	eq(t, mustCoerce[level](t, "Two"), levelTwo, "name")
	eq(t, mustCoerce[level](t, "two"), levelTwo, "name, case-insensitive")
	eq(t, mustCoerce[level](t, int64(2)), levelTwo, "numeric value")
	eq(t, mustCoerce[level](t, "3"), levelThree, "numeric text")
	eq(t, mustCoerce[level](t, nil), level(0), "null")
	if _, err := Coerce[level]("Four"); err == nil {
		t.Fatal("undeclared name should fail")
	}
}

func TestCoerce_Time(t *testing.T) {
	want := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	for _, in := range []any{"2024-05-01 10:30:00", "2024-05-01T10:30:00Z", []byte("2024-05-01T10:30:00")} {
		got := mustCoerce[time.Time](t, in)
		if !got.Equal(want) {
			t.Fatalf("%v: got %v want %v", in, got, want)
		}
	}
	if _, err := Coerce[time.Time](int64(1)); err == nil {
		t.Fatal("int -> time should fail")
	}
}

func TestCoerce_TextUnmarshaler(t *testing.T) {
	got := mustCoerce[netip.Addr](t, "127.0.0.1")
	eq(t, got, netip.MustParseAddr("127.0.0.1"), "netip.Addr")
	if _, err := Coerce[netip.Addr]("not-an-ip"); err == nil {
		t.Fatal("bad address should fail")
	}
}

func TestCoerce_Interfaces(t *testing.T) {
	eq(t, mustCoerce[any](t, "x"), any("x"), "any")
	if _, err := Coerce[fmt.Stringer](int64(1)); err == nil {
		t.Fatal("int64 does not implement fmt.Stringer")
	}
}

func TestCoerce_ConverterCached(t *testing.T) {
	a := converterFor(reflect.TypeFor[int32]())
	b := converterFor(reflect.TypeFor[int32]())
	if reflect.ValueOf(a).Pointer() != reflect.ValueOf(b).Pointer() {
		t.Fatal("converter should be built once per type")
	}
}
