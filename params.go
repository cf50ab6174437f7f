package xmap

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ---------------- DbString ----------------

// DefaultStringLength is the size given to DbString parameters without an
// explicit Length whose value fits in it.
const DefaultStringLength = 4000

// DbString is a string parameter with explicit size and encoding hints. The
// hints are recorded on the bound Parameter instead of being inferred from
// the value, so an empty or NULL string still binds with the declared size.
type DbString struct {
	Text          string
	Null          bool // bind SQL NULL
	Length        int  // 0 means unspecified
	IsFixedLength bool // char/nchar rather than varchar/nvarchar
	IsAnsi        bool // varchar rather than nvarchar
}

// Size returns Length when set, otherwise DefaultStringLength, or -1 (max)
// for values longer than that.
func (s DbString) Size() int {
	switch {
	case s.Length > 0:
		return s.Length
	case utf8.RuneCountInString(s.Text) > DefaultStringLength:
		return -1
	default:
		return DefaultStringLength
	}
}

var errFixedLength = errors.New("xmap: DbString: IsFixedLength requires a Length")

// Value implements driver.Valuer. Fixed-length values are space padded to
// Length.
func (s DbString) Value() (driver.Value, error) {
	if s.IsFixedLength && s.Length <= 0 {
		return nil, errFixedLength
	}
	if s.Null {
		return nil, nil
	}
	if n := utf8.RuneCountInString(s.Text); s.IsFixedLength && n < s.Length {
		return s.Text + strings.Repeat(" ", s.Length-n), nil
	}
	return s.Text, nil
}

// ---------------- Args ----------------

// Args passes positional arguments through unchanged. Only placeholder
// rewriting applies.
//
//	xmap.Query[int](ctx, db, `SELECT id FROM t WHERE a = ? AND b = ?`, xmap.Args{1, 2})
type Args []any

// ---------------- Params bag ----------------

// Params is a dynamic parameter bag. Names are matched case-insensitively
// and may carry a leading @, : or ?.
//
//	p := xmap.NewParams(user)
//	p.Add("total", nil, xmap.WithDirection(xmap.DirOutput))
//	_, err := xmap.Exec(ctx, db, "sp_user_total", p, xmap.AsProcedure())
//	total, err := xmap.ParamValue[int](p, "total")
type Params struct {
	templates []any
	order     []string
	items     map[string]*paramItem
}

type paramItem struct {
	name    string
	value   any
	dir     Direction
	size    int
	hasSize bool
	output  bool // value was written back after execution
}

// ParamOption adjusts a parameter added with Params.Add.
type ParamOption func(*paramItem)

// WithDirection sets the parameter direction.
func WithDirection(d Direction) ParamOption {
	return func(p *paramItem) { p.dir = d }
}

// WithSize sets the declared parameter size.
func WithSize(n int) ParamOption {
	return func(p *paramItem) { p.size, p.hasSize = n, true }
}

// NewParams returns a bag seeded with template objects. Templates are
// flattened when the bag is bound; members added with Add take precedence.
func NewParams(templates ...any) *Params {
	p := &Params{items: make(map[string]*paramItem)}
	for _, t := range templates {
		if t != nil {
			p.templates = append(p.templates, t)
		}
	}
	return p
}

// Add sets a named parameter, replacing an earlier one with the same name.
func (p *Params) Add(name string, value any, opts ...ParamOption) *Params {
	if p.items == nil {
		p.items = make(map[string]*paramItem)
	}
	it := &paramItem{name: cleanName(name), value: value}
	for _, opt := range opts {
		opt(it)
	}
	key := strings.ToLower(it.name)
	if _, ok := p.items[key]; !ok {
		p.order = append(p.order, key)
	}
	p.items[key] = it
	return p
}

// AddDynamic copies the members of obj into the bag: struct fields (by db
// tag or name), map entries or another bag's parameters. Later names
// overwrite earlier ones.
func (p *Params) AddDynamic(obj any) error {
	if other, ok := obj.(*Params); ok {
		if other == nil {
			return nil
		}
		entries, err := other.entries()
		if err != nil {
			return err
		}
		for _, e := range entries {
			cp := *e
			cp.output = false
			p.Add(cp.name, cp.value)
			*p.items[strings.ToLower(cp.name)] = cp
		}
		return nil
	}
	pairs, err := flatten(obj)
	if err != nil {
		return err
	}
	for _, kv := range pairs {
		p.Add(kv.name, kv.value)
	}
	return nil
}

// Get returns a parameter value. After execution, output parameters hold the
// value written by the database.
func (p *Params) Get(name string) (any, bool) {
	it, ok := p.items[strings.ToLower(cleanName(name))]
	if !ok {
		return nil, false
	}
	return it.value, true
}

// ParamValue returns a parameter value coerced to T.
func ParamValue[T any](p *Params, name string) (T, error) {
	v, ok := p.Get(name)
	if !ok {
		var zero T
		return zero, fmt.Errorf("xmap: parameter %q not found", cleanName(name))
	}
	return Coerce[T](v)
}

// Names returns the names added with Add or AddDynamic, in insertion order.
func (p *Params) Names() []string {
	out := make([]string, 0, len(p.order))
	for _, k := range p.order {
		out = append(out, p.items[k].name)
	}
	return out
}

func (p *Params) setOutput(name string, v any) {
	if it, ok := p.items[strings.ToLower(name)]; ok {
		it.value, it.output = v, true
	}
}

// entries flattens templates first, then explicit members.
func (p *Params) entries() ([]*paramItem, error) {
	var out []*paramItem
	seen := make(map[string]int)
	put := func(it *paramItem) {
		key := strings.ToLower(it.name)
		if i, ok := seen[key]; ok {
			out[i] = it
			return
		}
		seen[key] = len(out)
		out = append(out, it)
	}
	for _, t := range p.templates {
		pairs, err := flatten(t)
		if err != nil {
			return nil, err
		}
		for _, kv := range pairs {
			put(&paramItem{name: kv.name, value: kv.value})
		}
	}
	for _, k := range p.order {
		put(p.items[k])
	}
	return out, nil
}

type namedValue struct {
	name  string
	value any
}

// flatten reads the members of a struct or string-keyed map.
func flatten(obj any) ([]namedValue, error) {
	if obj == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, ErrNilParams
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, ErrUnsupportedArg
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		slices.Sort(keys)
		out := make([]namedValue, 0, len(keys))
		for _, k := range keys {
			out = append(out, namedValue{name: cleanName(k), value: rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface()})
		}
		return out, nil
	case reflect.Struct:
		fields, err := paramFields(rv.Type(), nil)
		if err != nil {
			return nil, err
		}
		out := make([]namedValue, 0, len(fields))
		for _, f := range fields {
			out = append(out, namedValue{name: f.name, value: readField(rv, f.path)})
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: got %T", ErrUnsupportedArg, obj)
}

// ---------------- binder ----------------

type valueKind uint8

const (
	valueScalar  valueKind = iota // bound as one argument
	valueList                     // expanded into one argument per element
	valueDynamic                  // interface member, classified per value
	valueUnsupported
)

type bindMode uint8

const (
	bindNone bindMode = iota
	bindArgs
	bindStruct
	bindMap
	bindBag
)

type paramField struct {
	name string
	path []int
	kind valueKind
	typ  reflect.Type
}

// binder writes a parameter object into an ArgSink. One binder is built per
// identity and reused for every execution.
type binder struct {
	kind   CommandKind
	mode   bindMode
	refs   map[string]bool // lower-case names referenced by the text; nil binds all
	fields []paramField
	memo   *rewriteMemo
}

var (
	argsType      = reflect.TypeFor[Args]()
	paramsPtrType = reflect.TypeFor[*Params]()
	dbStringType  = reflect.TypeFor[DbString]()
	valuerType    = reflect.TypeFor[driver.Valuer]()
)

// buildBinder prepares binding for parameter objects of type pt. Members
// whose type can never be bound are reported here, before execution.
func buildBinder(query string, kind CommandKind, pt reflect.Type, memo *rewriteMemo) (*binder, error) {
	b := &binder{kind: kind, memo: memo}
	if kind == KindText {
		refs, err := referencedNames(query)
		if err != nil {
			return nil, err
		}
		b.refs = refs
	}
	switch pt {
	case nil:
		b.mode = bindNone
		return b, nil
	case argsType:
		b.mode = bindArgs
		return b, nil
	case paramsPtrType:
		b.mode = bindBag
		return b, nil
	}
	t := pt
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: got %s", ErrUnsupportedArg, pt)
		}
		b.mode = bindMap
	case reflect.Struct:
		fields, err := paramFields(t, b.refs)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			if f.kind == valueUnsupported {
				return nil, &ParamError{Member: f.name, Type: f.typ}
			}
		}
		b.mode, b.fields = bindStruct, fields
	default:
		return nil, fmt.Errorf("%w: got %s", ErrUnsupportedArg, pt)
	}
	return b, nil
}

func (b *binder) wants(name string) bool {
	return b.refs == nil || b.refs[strings.ToLower(name)]
}

// bind writes params into sink.
func (b *binder) bind(sink ArgSink, params any) error {
	sink.SetCommandKind(b.kind)
	// lower-case element name -> list it was expanded from
	expanded := make(map[string]string)
	switch b.mode {
	case bindNone:
		return nil
	case bindArgs:
		ps, ok := sink.(interface{ SetPositional([]any) })
		if !ok {
			return fmt.Errorf("%w: sink %T does not take positional arguments", ErrUnsupportedArg, sink)
		}
		ps.SetPositional(append([]any{}, params.(Args)...))
		return nil
	case bindStruct:
		rv := reflect.ValueOf(params)
		for rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return ErrNilParams
			}
			rv = rv.Elem()
		}
		for _, f := range b.fields {
			if err := b.add(sink, expanded, f.name, readField(rv, f.path), DirInput, f.kind, 0, false); err != nil {
				return err
			}
		}
		return nil
	case bindMap:
		pairs, err := flatten(params)
		if err != nil {
			return err
		}
		for _, kv := range pairs {
			if !b.wants(kv.name) {
				continue
			}
			if err := b.add(sink, expanded, kv.name, kv.value, DirInput, valueDynamic, 0, false); err != nil {
				return err
			}
		}
		return nil
	case bindBag:
		p := params.(*Params)
		if p == nil {
			return ErrNilParams
		}
		entries, err := p.entries()
		if err != nil {
			return err
		}
		for _, it := range entries {
			if it.dir == DirInput && !b.wants(it.name) {
				continue
			}
			if err := b.add(sink, expanded, it.name, it.value, it.dir, valueDynamic, it.size, it.hasSize); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func (b *binder) add(sink ArgSink, expanded map[string]string, name string, v any, dir Direction, kind valueKind, size int, hasSize bool) error {
	if kind == valueDynamic {
		kind = classifyValue(v)
	}
	switch kind {
	case valueUnsupported:
		return &ParamError{Member: name, Type: reflect.TypeOf(v)}
	case valueList:
		if dir == DirInput {
			return b.expand(sink, expanded, name, v)
		}
	}
	if list, ok := expanded[strings.ToLower(name)]; ok {
		return fmt.Errorf("%w: %s is also an element of the list %s", ErrParamCollision, name, list)
	}
	sink.AddParameter(name, v, dir)
	if hasSize {
		if s, ok := sink.(interface{ SetSize(string, int) }); ok {
			s.SetSize(name, size)
		}
	}
	return nil
}

// expand binds one argument per element and rewrites the placeholder.
// Element names must not match a name the text references, an element of
// another list or a parameter already in sink.
func (b *binder) expand(sink ArgSink, expanded map[string]string, name string, v any) error {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	n := 0
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		n = rv.Len()
	}
	text, err := b.memo.expand(sink.CommandText(), name, n)
	if err != nil {
		return err
	}
	sink.SetCommandText(text)
	if n == 0 {
		sink.AddParameter(name, nil, DirInput)
		return nil
	}
	lookup, _ := sink.(interface {
		Parameter(string) (*Parameter, bool)
	})
	for i := 0; i < n; i++ {
		ev := rv.Index(i).Interface()
		if k := classifyValue(ev); k != valueScalar {
			return &ParamError{Member: name + "[" + strconv.Itoa(i) + "]", Type: reflect.TypeOf(ev)}
		}
		en := name + strconv.Itoa(i+1)
		key := strings.ToLower(en)
		clash := b.refs[key]
		if list, ok := expanded[key]; ok {
			return fmt.Errorf("%w: %s is an element of both %s and %s", ErrParamCollision, en, list, name)
		}
		if lookup != nil && !clash {
			_, clash = lookup.Parameter(en)
		}
		if clash {
			return fmt.Errorf("%w: element %d of %s is named %s", ErrParamCollision, i+1, name, en)
		}
		expanded[key] = name
		sink.AddParameter(en, ev, DirInput)
	}
	return nil
}

// paramFields lists the bindable members of struct type t, flattening
// embedded structs. With refs set, only referenced members are kept.
func paramFields(t reflect.Type, refs map[string]bool) ([]paramField, error) {
	var out []paramField
	seen := make(map[string]bool)
	var walk func(t reflect.Type, base []int) error
	walk = func(t reflect.Type, base []int) error {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" && !f.Anonymous {
				continue
			}
			tag := f.Tag.Get("db")
			if tag == "-" {
				continue
			}
			name, inline, _ := parseTag(tag)
			path := append(append([]int(nil), base...), i)

			// Embedded types: follow pointer chains and flatten fields.
			if f.Anonymous || inline {
				ft := derefPtr(f.Type)
				if ft.Kind() == reflect.Struct && (inline || name == "") && classifyType(f.Type) == valueUnsupported {
					if err := walk(ft, path); err != nil {
						return err
					}
					continue
				}
			}
			if f.PkgPath != "" {
				continue
			}
			if name == "" {
				name = f.Name
			}
			key := strings.ToLower(name)
			if seen[key] {
				return fmt.Errorf("%w: %q", ErrDuplicateKeyTag, key)
			}
			seen[key] = true
			if refs != nil && !refs[key] {
				continue
			}
			out = append(out, paramField{name: name, path: path, kind: classifyType(f.Type), typ: f.Type})
		}
		return nil
	}
	if err := walk(t, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// readField reads a member by index path. A nil embedded pointer on the way
// reads as nil.
func readField(v reflect.Value, path []int) any {
	for _, i := range path {
		for v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return nil
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v.Interface()
}

func classifyValue(v any) valueKind {
	if v == nil {
		return valueScalar
	}
	if k := classifyType(reflect.TypeOf(v)); k != valueDynamic {
		return k
	}
	return valueScalar
}

// classifyType decides how values of t are bound.
func classifyType(t reflect.Type) valueKind {
	switch {
	case t == dbStringType, t == timeType:
		return valueScalar
	case t.Implements(valuerType):
		return valueScalar
	}
	switch t.Kind() {
	case reflect.Interface:
		return valueDynamic
	case reflect.Pointer:
		return classifyType(t.Elem())
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return valueScalar
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return valueScalar
		}
		fallthrough
	case reflect.Array:
		switch classifyType(t.Elem()) {
		case valueScalar, valueDynamic:
			return valueList
		}
	}
	return valueUnsupported
}

// readBack copies output values from cmd into a Params bag.
func readBack(cmd *Command, params any) {
	p, ok := params.(*Params)
	if !ok || p == nil {
		return
	}
	for _, prm := range cmd.params {
		if prm.Direction != DirInput {
			p.setOutput(prm.Name, prm.Output())
		}
	}
}
