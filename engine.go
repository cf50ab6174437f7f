package xmap

import (
	"log/slog"
	"sync"
)

// Config configures an Engine. The zero value is usable.
type Config struct {
	// Placeholder selects how bound parameters reach the driver.
	// PlaceholderNamed (the default) passes @name tokens through and binds
	// sql.Named arguments; the positional styles rewrite tokens to ?, $n, @pN
	// or :n.
	Placeholder Placeholder

	// Target describes the connection target (for example a DSN without
	// credentials). It is part of every cache key, so engines pointed at
	// different databases never share plans.
	Target string

	// DefaultSplitOn is the multi-map split column used when a call does not
	// pass WithSplitOn. Defaults to "Id".
	DefaultSplitOn string

	// ExpansionMemo bounds the number of remembered list-expansion rewrites.
	// Defaults to 512.
	ExpansionMemo int

	// Logger receives debug events about plan builds. Defaults to a logger
	// that discards everything.
	Logger *slog.Logger
}

// Engine owns a plan cache and the settings used to bind and read queries.
// It is safe for concurrent use.
//
// The plan cache grows by one entry per distinct query identity (query text,
// command kind, target, parameter type, target types and split-on columns) and is
// never evicted. Programs that build many distinct query texts at runtime
// should bind values as parameters instead of formatting them into the text.
type Engine struct {
	placeholder Placeholder
	target      string
	splitOn     string
	log         *slog.Logger

	cache      planCache
	expansions *rewriteMemo
}

// New returns an Engine configured by cfg.
func New(cfg Config) *Engine {
	if cfg.DefaultSplitOn == "" {
		cfg.DefaultSplitOn = "Id"
	}
	if cfg.ExpansionMemo <= 0 {
		cfg.ExpansionMemo = 512
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		placeholder: cfg.Placeholder,
		target:      cfg.Target,
		splitOn:     cfg.DefaultSplitOn,
		log:         cfg.Logger,
		expansions:  newRewriteMemo(cfg.ExpansionMemo),
	}
	e.cache.log = cfg.Logger
	return e
}

var (
	defaultEngine *Engine
	defaultOnce   sync.Once
)

// Default returns the process-wide Engine used when a call is made on a plain
// Querier or Execer rather than a Session.
func Default() *Engine {
	defaultOnce.Do(func() { defaultEngine = New(Config{}) })
	return defaultEngine
}

// Stats reports plan cache counters.
func (e *Engine) Stats() Stats { return e.cache.stats() }

// Placeholder returns the parameter style the engine renders.
func (e *Engine) Placeholder() Placeholder { return e.placeholder }

// Session binds db to the engine. Query, Exec and QueryMultiple called with
// the returned Session use this engine's settings and cache.
//
//	eng := xmap.New(xmap.Config{Placeholder: xmap.PlaceholderDollar})
//	db := eng.Session(sqlDB)
//	users, err := xmap.Query[User](ctx, db, `SELECT id, name FROM users WHERE id IN @ids`,
//	    map[string]any{"ids": []int{1, 2, 3}})
type Session struct {
	DBTX
	engine *Engine
}

// Session wraps db.
func (e *Engine) Session(db DBTX) *Session { return &Session{DBTX: db, engine: e} }

// Engine returns the session's engine.
func (s *Session) Engine() *Engine { return s.engine }

func engineFor(v any) *Engine {
	if s, ok := v.(*Session); ok && s.engine != nil {
		return s.engine
	}
	return Default()
}
