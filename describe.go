package xmap

import (
	"database/sql"
	"encoding"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/constraints"
)

type targetKind uint8

const (
	targetScalar  targetKind = iota // one column, coerced directly
	targetStruct                    // struct or *struct, members by name
	targetDynamic                   // *Row, any, map[string]any
)

// Member is a writable struct field reachable from a target type.
type Member struct {
	Name string       // tag name or field name, as declared
	Path []int        // field index path from the root struct
	Type reflect.Type // field type
}

// TypeDescriptor is the cached shape of a destination type: its writable
// members in declaration order and the constructors registered for it.
// Descriptors are immutable once published.
type TypeDescriptor struct {
	Type reflect.Type

	kind    targetKind
	base    reflect.Type // struct type for struct targets
	ptr     bool         // Type is *base
	members []Member
	byName  map[string]int // normalized name -> index in members (first wins)
	ctors   []*constructor
}

// Scalar reports whether values of the type are read from a single column.
func (d *TypeDescriptor) Scalar() bool { return d.kind == targetScalar }

// Dynamic reports whether rows are produced as *Row / map values.
func (d *TypeDescriptor) Dynamic() bool { return d.kind == targetDynamic }

// Members returns the writable members in declaration order.
func (d *TypeDescriptor) Members() []Member { return append([]Member(nil), d.members...) }

// Member looks a member up by column name, case-insensitively.
func (d *TypeDescriptor) Member(name string) (Member, bool) {
	i, ok := d.byName[normalizeColAscii(name)]
	if !ok {
		return Member{}, false
	}
	return d.members[i], true
}

// ---------------- process-wide descriptor cache ----------------

var (
	descriptors sync.Map // reflect.Type -> *TypeDescriptor

	registryMu sync.RWMutex
	enums      = map[reflect.Type]*enumInfo{}
	ctors      = map[reflect.Type][]*constructor{}
)

// Describe returns the descriptor for t, building it on first use. The cache
// is process-wide and never evicted; descriptors are safe to retain.
func Describe(t reflect.Type) *TypeDescriptor {
	if v, ok := descriptors.Load(t); ok {
		return v.(*TypeDescriptor)
	}
	v, _ := descriptors.LoadOrStore(t, buildDescriptor(t))
	return v.(*TypeDescriptor)
}

// forgetType drops cached descriptors and converters for t and *t after a
// registration changes how t is handled.
func forgetType(t reflect.Type) {
	for _, tt := range []reflect.Type{t, reflect.PointerTo(t)} {
		descriptors.Delete(tt)
		converters.Delete(tt)
	}
}

func buildDescriptor(t reflect.Type) *TypeDescriptor {
	d := &TypeDescriptor{Type: t, kind: classify(t)}
	if d.kind != targetStruct {
		return d
	}
	d.base = t
	if t.Kind() == reflect.Pointer {
		d.base, d.ptr = t.Elem(), true
	}
	d.members, d.byName = buildStructIndex(d.base)

	registryMu.RLock()
	d.ctors = ctors[d.base]
	registryMu.RUnlock()
	return d
}

var (
	rowPtrType  = reflect.TypeFor[*Row]()
	mapAnyType  = reflect.TypeFor[map[string]any]()
	anyType     = reflect.TypeFor[any]()
	timeType    = reflect.TypeFor[time.Time]()
	bytesType   = reflect.TypeFor[[]byte]()
	scannerType = reflect.TypeFor[sql.Scanner]()
	textUnmType = reflect.TypeFor[encoding.TextUnmarshaler]()
)

func classify(t reflect.Type) targetKind {
	switch t {
	case rowPtrType, mapAnyType, anyType:
		return targetDynamic
	}
	if isScalarType(t) {
		return targetScalar
	}
	return targetStruct
}

func isScalarType(t reflect.Type) bool {
	if implementsScanner(t) || implementsTextUnmarshaler(t) || t == timeType || lookupEnum(t) != nil {
		return true
	}
	switch t.Kind() {
	case reflect.Struct:
		return false
	case reflect.Pointer:
		return isScalarType(t.Elem())
	}
	return true
}

// ---------------- Struct indexing & tags ----------------

func buildStructIndex(rt reflect.Type) ([]Member, map[string]int) {
	var members []Member
	byName := make(map[string]int)

	var walk func(t reflect.Type, base []int, forceInline bool)
	walk = func(t reflect.Type, base []int, forceInline bool) {
		t = derefPtr(t)
		if t.Kind() != reflect.Struct {
			return
		}
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if sf.PkgPath != "" && !sf.Anonymous { // unexported, non-anonymous
				continue
			}
			tag := sf.Tag.Get("db")
			name, inline, omit := parseTag(tag)
			if omit {
				continue
			}
			ft := sf.Type
			path := append(append([]int(nil), base...), i)

			if inline || (sf.Anonymous && (forceInline || tag == "")) {
				if !isScalarType(ft) && (isStruct(ft) || (ft.Kind() == reflect.Pointer && isStruct(ft.Elem()))) {
					walk(ft, path, inline)
					continue
				}
			}
			if sf.PkgPath != "" { // unexported embedded non-struct
				continue
			}
			if name == "" {
				name = sf.Name
			}
			lc := toLowerAscii(name)
			if _, ok := byName[lc]; !ok {
				byName[lc] = len(members)
			}
			members = append(members, Member{Name: name, Path: path, Type: ft})
		}
	}
	walk(rt, nil, false)
	return members, byName
}

// parseTag supports: "-", "col", ",inline", "col,inline", "inline,col".
func parseTag(tag string) (name string, inline bool, omit bool) {
	if tag == "-" {
		return "", false, true
	}
	if tag == "" {
		return "", false, false
	}
	start := 0
	for i := 0; i <= len(tag); i++ {
		if i == len(tag) || tag[i] == ',' {
			part := tag[start:i]
			if part == "inline" {
				inline = true
			} else if part != "" && name == "" {
				name = part
			}
			start = i + 1
		}
	}
	return name, inline, false
}

// ---------------- Enums ----------------

type enumInfo struct {
	byName map[string]reflect.Value // lower-case name -> value
}

// RegisterEnum declares the named values of an integer type so that text
// columns can be coerced into it by case-insensitive name. Numeric columns
// map by value whether or not the type is registered.
//
//	type Status int
//	const (Active Status = 1; Suspended Status = 2)
//	xmap.RegisterEnum(map[string]Status{"Active": Active, "Suspended": Suspended})
func RegisterEnum[E constraints.Integer](names map[string]E) {
	t := reflect.TypeFor[E]()
	info := &enumInfo{byName: make(map[string]reflect.Value, len(names))}
	for n, v := range names {
		info.byName[strings.ToLower(n)] = reflect.ValueOf(v)
	}
	registryMu.Lock()
	enums[t] = info
	registryMu.Unlock()
	forgetType(t)
}

func lookupEnum(t reflect.Type) *enumInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return enums[t]
}

// ---------------- Constructors ----------------

type constructor struct {
	fn     reflect.Value
	names  []string       // as registered
	params []string       // normalized
	types  []reflect.Type // parameter types
	retPtr bool           // returns *T
	retErr bool           // second result is error
}

var errorType = reflect.TypeFor[error]()

// RegisterConstructor registers fn as a way to build T from result columns.
// fn must be a non-variadic function returning T or *T, optionally followed
// by an error; params names its parameters in order and is matched against
// column names case-insensitively.
//
// A constructor with no parameters replaces the zero value as the starting
// point for member assignment. Otherwise, for each result shape, the
// constructor whose parameters all match columns and which has the most
// parameters is chosen; columns it does not consume are assigned to members.
//
// Register constructors during program initialization.
func RegisterConstructor[T any](fn any, params ...string) error {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("xmap: RegisterConstructor: %s is not a struct type", t)
	}
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		return fmt.Errorf("xmap: RegisterConstructor: %T is not a function", fn)
	}
	ft := fv.Type()
	if ft.IsVariadic() || ft.NumIn() != len(params) {
		return fmt.Errorf("xmap: RegisterConstructor: %s takes %d parameters, %d names given", ft, ft.NumIn(), len(params))
	}
	c := &constructor{fn: fv, names: append([]string(nil), params...)}
	switch {
	case ft.NumOut() == 1:
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
		c.retErr = true
	default:
		return fmt.Errorf("xmap: RegisterConstructor: %s must return %s or (%s, error)", ft, t, t)
	}
	switch ft.Out(0) {
	case t:
	case reflect.PointerTo(t):
		c.retPtr = true
	default:
		return fmt.Errorf("xmap: RegisterConstructor: %s does not return %s", ft, t)
	}
	for i, p := range params {
		c.params = append(c.params, normalizeColAscii(p))
		c.types = append(c.types, ft.In(i))
	}

	registryMu.Lock()
	ctors[t] = append(append([]*constructor(nil), ctors[t]...), c)
	registryMu.Unlock()
	forgetType(t)
	return nil
}

// ---------------- Type helpers ----------------

func isStruct(t reflect.Type) bool { return derefPtr(t).Kind() == reflect.Struct }

func derefPtr(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func implementsScanner(t reflect.Type) bool {
	return reflect.PointerTo(t).Implements(scannerType)
}

func implementsTextUnmarshaler(t reflect.Type) bool {
	return t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(textUnmType)
}

// ---------------- Column normalization (ASCII fast-path) ----------------

func normalizeColAscii(s string) string {
	if l := len(s); l >= 2 {
		switch s[0] {
		case '"':
			if s[l-1] == '"' {
				s = s[1 : l-1]
			}
		case '`':
			if s[l-1] == '`' {
				s = s[1 : l-1]
			}
		case '[':
			if s[l-1] == ']' {
				s = s[1 : l-1]
			}
		}
	}
	return toLowerAscii(s)
}

func toLowerAscii(s string) string {
	var need bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			need = true
			break
		}
	}
	if !need {
		return s
	}
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			c = c + ('a' - 'A')
		}
		b[i] = c
	}
	return string(b)
}
