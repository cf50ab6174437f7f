package xmap

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
)

// Placeholder is the parameter syntax a driver expects. PlaceholderNamed
// keeps @name tokens and passes sql.Named arguments (go-mssqldb, SQLite).
// The positional styles render ? (MySQL, SQLite), $1 (PostgreSQL), @p1
// (SQL Server) or :1 (Oracle).
type Placeholder int

const (
	PlaceholderNamed Placeholder = iota
	PlaceholderQuestion
	PlaceholderDollar
	PlaceholderAtP
	PlaceholderColonNum
)

// PlaceholderFor maps a database/sql driver name to its positional style,
// using sqlx's driver table plus a few aliases it lacks. Unknown drivers get
// PlaceholderQuestion.
//
//	xmap.PlaceholderFor("pgx") // PlaceholderDollar
func PlaceholderFor(driverName string) Placeholder {
	name := strings.ToLower(driverName)
	switch sqlx.BindType(name) {
	case sqlx.DOLLAR:
		return PlaceholderDollar
	case sqlx.AT:
		return PlaceholderAtP
	case sqlx.NAMED:
		return PlaceholderColonNum
	case sqlx.QUESTION:
		return PlaceholderQuestion
	}
	switch name {
	case "postgresql", "lib/pq", "pg":
		return PlaceholderDollar
	case "mssql":
		return PlaceholderAtP
	case "oracle":
		return PlaceholderColonNum
	default:
		return PlaceholderQuestion
	}
}

// Rebind binds params against query with the default engine and renders the
// result for ph. It is the non-executing half of Query and Exec, useful for
// logging or for handing the statement to another library.
//
//	q, args, err := xmap.Rebind(`SELECT * FROM users WHERE status=@status AND id IN @ids`,
//	    xmap.PlaceholderDollar,
//	    map[string]any{"status": "active", "ids": []int{1, 2, 3}},
//	)
//	// q    => SELECT * FROM users WHERE status=$1 AND id IN ($2,$3,$4)
//	// args => ["active", 1, 2, 3]
func Rebind(query string, ph Placeholder, params any) (string, []any, error) {
	e := Default()
	b, err := buildBinder(query, KindText, reflect.TypeOf(params), e.expansions)
	if err != nil {
		return "", nil, err
	}
	cmd := NewCommand(query)
	if err := b.bind(cmd, params); err != nil {
		return "", nil, err
	}
	return cmd.Render(ph)
}

type nameToken struct {
	name   string
	prefix byte // '@' or ':'
	start  int
	end    int
}

// findNamedParams returns @name and :name tokens outside quotes, comments and
// dollar-quoted blocks. @@name (server variables) and ::type (casts) are not
// tokens.
func findNamedParams(query string) ([]nameToken, error) {
	var out []nameToken
	for i := 0; i < len(query); {
		if end, ok, err := skipInert(query, i); err != nil {
			return nil, err
		} else if ok {
			i = end
			continue
		}
		c := query[i]
		if c != '@' && c != ':' {
			i++
			continue
		}
		if i+1 < len(query) && query[i+1] == c {
			_, i = parseIdent(query, i+2)
			continue
		}
		name, end := parseIdent(query, i+1)
		if name == "" {
			i++
			continue
		}
		out = append(out, nameToken{name: name, prefix: c, start: i, end: end})
		i = end
	}
	return out, nil
}

// referencedNames returns the lower-cased set of parameter names used in query.
func referencedNames(query string) (map[string]bool, error) {
	toks, err := findNamedParams(query)
	if err != nil {
		return nil, err
	}
	refs := make(map[string]bool, len(toks))
	for _, t := range toks {
		refs[strings.ToLower(t.name)] = true
	}
	return refs, nil
}

// rewritePlaceholders numbers every ? outside quotes and comments in the
// style of ph. PlaceholderQuestion and PlaceholderNamed leave query as is.
func rewritePlaceholders(query string, ph Placeholder) string {
	var prefix string
	switch ph {
	case PlaceholderDollar:
		prefix = "$"
	case PlaceholderAtP:
		prefix = "@p"
	case PlaceholderColonNum:
		prefix = ":"
	default:
		return query
	}
	out := make([]byte, 0, len(query)+16)
	n := 0
	for i := 0; i < len(query); {
		end, ok, err := skipInert(query, i)
		if err != nil {
			// Unterminated literal or comment: the rest is copied unchanged.
			return string(append(out, query[i:]...))
		}
		if ok {
			out = append(out, query[i:end]...)
			i = end
			continue
		}
		if query[i] == '?' {
			n++
			out = append(out, prefix...)
			out = strconv.AppendInt(out, int64(n), 10)
		} else {
			out = append(out, query[i])
		}
		i++
	}
	return string(out)
}

// skipInert reports whether s[i] opens a quoted literal, a comment or a
// dollar-quoted block, and if so where it ends. Bytes of multi-byte runes
// never match the ASCII openers, so callers may step one byte at a time.
func skipInert(s string, i int) (end int, ok bool, err error) {
	switch c := s[i]; c {
	case '\'', '"', '`':
		end, err = skipQuoted(s, i+1, c)
		return end, true, err
	case '-':
		if strings.HasPrefix(s[i:], "--") {
			return skipLineComment(s, i+2), true, nil
		}
	case '/':
		if strings.HasPrefix(s[i:], "/*") {
			end, err = skipBlockComment(s, i+2)
			return end, true, err
		}
	case '$':
		return skipDollarQuoted(s, i)
	}
	return 0, false, nil
}

// skipQuoted scans from s[i] to the quote q closing the literal and returns
// the index after it. A doubled quote is an escaped quote.
func skipQuoted(s string, i int, q byte) (int, error) {
	for ; i < len(s); i++ {
		if s[i] != q {
			continue
		}
		if i+1 < len(s) && s[i+1] == q {
			i++
			continue
		}
		return i + 1, nil
	}
	kind := "single-quoted string"
	switch q {
	case '"':
		kind = "double-quoted identifier"
	case '`':
		kind = "backtick-quoted identifier"
	}
	return 0, fmt.Errorf("xmap: unterminated %s", kind)
}

func skipLineComment(s string, i int) int {
	if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
		return i + j + 1
	}
	return len(s)
}

func skipBlockComment(s string, i int) (int, error) {
	if j := strings.Index(s[i:], "*/"); j >= 0 {
		return i + j + 2, nil
	}
	return 0, fmt.Errorf("xmap: unterminated block comment")
}

// skipDollarQuoted skips a PostgreSQL $$...$$ or $tag$...$tag$ block. ok is
// false when s[i] is a $ that does not open one, such as $1.
func skipDollarQuoted(s string, i int) (int, bool, error) {
	if s[i] != '$' {
		return 0, false, nil
	}
	tag, j := parseIdent(s, i+1)
	if j >= len(s) || s[j] != '$' || (tag != "" && unicode.IsDigit(rune(tag[0]))) {
		return 0, false, nil
	}
	delim := s[i : j+1]
	k := strings.Index(s[j+1:], delim)
	if k < 0 {
		return 0, true, fmt.Errorf("xmap: unterminated dollar-quoted string")
	}
	return j + 1 + k + len(delim), true, nil
}

// parseIdent reads a run of letters, digits and underscores from s[i].
func parseIdent(s string, i int) (string, int) {
	start := i
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		i += w
	}
	return s[start:i], i
}
