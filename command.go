package xmap

import (
	"database/sql"
	"errors"
	"strings"
)

// Direction says how a parameter is bound.
type Direction uint8

const (
	DirInput Direction = iota
	DirOutput
	DirInputOutput
	DirReturnValue
)

func (d Direction) String() string {
	switch d {
	case DirOutput:
		return "output"
	case DirInputOutput:
		return "input-output"
	case DirReturnValue:
		return "return-value"
	default:
		return "input"
	}
}

// CommandKind says how the command text is interpreted.
type CommandKind uint8

const (
	// KindText is plain SQL text.
	KindText CommandKind = iota
	// KindStoredProcedure treats the text as a procedure name. Every member
	// of the parameter object is bound, referenced or not.
	KindStoredProcedure
)

// ArgSink receives bound parameters. Binders write into it; it owns the
// command text because list expansion rewrites it.
type ArgSink interface {
	AddParameter(name string, value any, dir Direction)
	CommandText() string
	SetCommandText(text string)
	SetCommandKind(kind CommandKind)
}

// Parameter is one parameter recorded by a Command.
type Parameter struct {
	Name        string
	Value       any
	Direction   Direction
	Size        int  // declared size, 0 if unspecified
	Ansi        bool // non-Unicode string hint
	FixedLength bool // fixed-width string hint

	out *any
}

// Output returns the value written by the database for output, input-output
// and return-value parameters after execution.
func (p *Parameter) Output() any {
	if p.out == nil {
		return nil
	}
	return *p.out
}

func (p *Parameter) arg() any {
	if p.Direction == DirInput {
		return p.Value
	}
	if p.out == nil {
		p.out = new(any)
		if p.Direction == DirInputOutput {
			*p.out = p.Value
		}
	}
	return sql.Out{Dest: p.out, In: p.Direction == DirInputOutput}
}

// Command is the ArgSink used by the query entry points. It records the text,
// kind and parameters and renders them for database/sql.
type Command struct {
	text       string
	kind       CommandKind
	params     []*Parameter
	byName     map[string]*Parameter // lower-case name
	positional []any
}

// NewCommand returns an empty Command for text.
func NewCommand(text string) *Command {
	return &Command{text: text, byName: make(map[string]*Parameter)}
}

// AddParameter records a parameter, replacing any earlier parameter with the
// same name. DbString values carry their size and encoding hints.
func (c *Command) AddParameter(name string, value any, dir Direction) {
	p := &Parameter{Name: cleanName(name), Value: value, Direction: dir}
	if s, ok := value.(DbString); ok {
		p.Size, p.Ansi, p.FixedLength = s.Size(), s.IsAnsi, s.IsFixedLength
	}
	key := strings.ToLower(p.Name)
	if old, ok := c.byName[key]; ok {
		*old = *p
		return
	}
	c.byName[key] = p
	c.params = append(c.params, p)
}

// SetSize sets the declared size of a recorded parameter.
func (c *Command) SetSize(name string, size int) {
	if p, ok := c.byName[strings.ToLower(cleanName(name))]; ok {
		p.Size = size
	}
}

// SetPositional replaces named parameters with positional arguments.
func (c *Command) SetPositional(args []any) { c.positional = args }

func (c *Command) CommandText() string          { return c.text }
func (c *Command) SetCommandText(text string)   { c.text = text }
func (c *Command) SetCommandKind(k CommandKind) { c.kind = k }

// Kind returns the command kind.
func (c *Command) Kind() CommandKind { return c.kind }

// Parameters returns the recorded parameters in insertion order.
func (c *Command) Parameters() []*Parameter { return append([]*Parameter(nil), c.params...) }

// Parameter looks a recorded parameter up by name, case-insensitively.
func (c *Command) Parameter(name string) (*Parameter, bool) {
	p, ok := c.byName[strings.ToLower(cleanName(name))]
	return p, ok
}

// Render returns the text and arguments to hand to database/sql.
//
// With PlaceholderNamed the text is unchanged and parameters are passed as
// sql.Named, spelled the way the text spells them. The positional styles
// replace each @name / :name token that names a recorded parameter with a
// placeholder and pass the values in token order; a name used twice is
// bound twice. Stored procedures render as CALL name(?, ...) in positional
// styles.
func (c *Command) Render(ph Placeholder) (string, []any, error) {
	if c.positional != nil {
		return rewritePlaceholders(c.text, ph), c.positional, nil
	}
	if c.kind == KindStoredProcedure {
		return c.renderProcedure(ph)
	}
	toks, err := findNamedParams(c.text)
	if err != nil {
		return "", nil, err
	}
	if ph == PlaceholderNamed {
		spelling := make(map[string]string, len(toks))
		for _, t := range toks {
			if k := strings.ToLower(t.name); spelling[k] == "" {
				spelling[k] = t.name
			}
		}
		args := make([]any, 0, len(c.params))
		for _, p := range c.params {
			name := p.Name
			if s, ok := spelling[strings.ToLower(name)]; ok {
				name = s
			}
			args = append(args, sql.Named(name, p.arg()))
		}
		return c.text, args, nil
	}

	var b strings.Builder
	b.Grow(len(c.text))
	args := make([]any, 0, len(toks))
	last := 0
	for _, t := range toks {
		p, ok := c.byName[strings.ToLower(t.name)]
		if !ok {
			continue
		}
		b.WriteString(c.text[last:t.start])
		b.WriteByte('?')
		args = append(args, p.arg())
		last = t.end
	}
	b.WriteString(c.text[last:])
	return rewritePlaceholders(b.String(), ph), args, nil
}

var errProcedureName = errors.New("xmap: stored procedure command text must be a procedure name")

func (c *Command) renderProcedure(ph Placeholder) (string, []any, error) {
	name := strings.TrimSpace(c.text)
	if name == "" || strings.ContainsAny(name, " \t\r\n(;") {
		return "", nil, errProcedureName
	}
	args := make([]any, 0, len(c.params))
	if ph == PlaceholderNamed {
		for _, p := range c.params {
			args = append(args, sql.Named(p.Name, p.arg()))
		}
		return name, args, nil
	}
	var b strings.Builder
	b.WriteString("CALL ")
	b.WriteString(name)
	b.WriteByte('(')
	for _, p := range c.params {
		if p.Direction == DirReturnValue {
			continue
		}
		if len(args) > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('?')
		args = append(args, p.arg())
	}
	b.WriteByte(')')
	return rewritePlaceholders(b.String(), ph), args, nil
}

// cleanName strips a leading parameter marker.
func cleanName(name string) string {
	if name != "" {
		switch name[0] {
		case '@', ':', '?':
			return name[1:]
		}
	}
	return name
}
