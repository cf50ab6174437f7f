package xmap

import (
	"strconv"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
)

type expansionKey struct {
	text string
	name string
	n    int
}

// rewriteMemo remembers list-expansion rewrites. Lists of the same length
// against the same text are common (paging, fixed batch sizes), so the
// rewrite is computed once per (text, name, length).
type rewriteMemo struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func newRewriteMemo(max int) *rewriteMemo {
	return &rewriteMemo{cache: lru.New(max)}
}

func (m *rewriteMemo) expand(text, name string, n int) (string, error) {
	key := expansionKey{text: text, name: strings.ToLower(name), n: n}
	m.mu.Lock()
	if v, ok := m.cache.Get(key); ok {
		m.mu.Unlock()
		return v.(string), nil
	}
	m.mu.Unlock()

	out, err := expandList(text, name, n)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.cache.Add(key, out)
	m.mu.Unlock()
	return out, nil
}

// expandList rewrites every @name / :name token into a parenthesized list of
// n suffixed tokens: @ids with n=3 becomes (@ids1,@ids2,@ids3). A token that
// is already wrapped in parentheses keeps a single pair. With n=0 the token
// becomes a subquery that yields no rows, (SELECT @ids WHERE 1 = 0), so that
// IN and = ANY predicates stay valid and match nothing.
func expandList(text, name string, n int) (string, error) {
	toks, err := findNamedParams(text)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(text) + n*(len(name)+4))
	last := 0
	for _, t := range toks {
		if !strings.EqualFold(t.name, name) {
			continue
		}
		start, end := t.start, t.end
		if l, r := prevNonSpace(text, start), nextNonSpace(text, end); l >= last && l >= 0 && r >= 0 && text[l] == '(' && text[r] == ')' {
			start, end = l, r+1
		}
		b.WriteString(text[last:start])
		b.WriteByte('(')
		if n == 0 {
			b.WriteString("SELECT ")
			b.WriteByte(t.prefix)
			b.WriteString(t.name)
			b.WriteString(" WHERE 1 = 0")
		}
		for i := 0; i < n; i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte(t.prefix)
			b.WriteString(t.name)
			b.WriteString(strconv.Itoa(i + 1))
		}
		b.WriteByte(')')
		last = end
	}
	b.WriteString(text[last:])
	return b.String(), nil
}

func prevNonSpace(s string, i int) int {
	for i--; i >= 0; i-- {
		if !isSpace(s[i]) {
			return i
		}
	}
	return -1
}

func nextNonSpace(s string, i int) int {
	for ; i < len(s); i++ {
		if !isSpace(s[i]) {
			return i
		}
	}
	return -1
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }
