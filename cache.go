package xmap

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// readPlan is everything needed to turn rows of one shape into values: the
// fingerprint it was built for, the segment boundaries and one materializer
// per segment. Plans are immutable once published.
type readPlan struct {
	fingerprint uint64
	starts      []int
	mats        []materializer
}

// cacheEntry is an immutable snapshot. Replacing a plan stores a new entry;
// callers that already loaded the old one keep using it.
type cacheEntry struct {
	read *readPlan
	bind *binder
}

// planCache maps identities to entries. Lookups never take a lock. Concurrent
// builds for the same identity race; stores are compare-and-swap, and a plan
// for a different shape replaces the current one (last writer wins).
type planCache struct {
	entries sync.Map // identity -> *cacheEntry

	size     atomic.Int64
	hits     atomic.Int64
	misses   atomic.Int64
	rebuilds atomic.Int64

	log *slog.Logger
}

// Stats is a point-in-time view of an Engine's plan cache.
type Stats struct {
	Entries  int64 // distinct identities seen
	Hits     int64 // reads served by a cached plan
	Misses   int64 // first-time plan builds
	Rebuilds int64 // plans rebuilt after a shape change
}

func (c *planCache) stats() Stats {
	return Stats{
		Entries:  c.size.Load(),
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Rebuilds: c.rebuilds.Load(),
	}
}

func (c *planCache) load(id identity) *cacheEntry {
	if v, ok := c.entries.Load(id); ok {
		return v.(*cacheEntry)
	}
	return nil
}

// store publishes the entry returned by merge, which receives the current
// entry (nil if none) and may return it unchanged. The compare-and-swap is
// retried until it lands, so the half of an entry published by a concurrent
// builder is never overwritten.
func (c *planCache) store(id identity, merge func(cur *cacheEntry) *cacheEntry) {
	for {
		cur := c.load(id)
		next := merge(cur)
		if cur == nil {
			if _, loaded := c.entries.LoadOrStore(id, next); !loaded {
				c.size.Add(1)
				return
			}
			continue
		}
		if next == cur || c.entries.CompareAndSwap(id, cur, next) {
			return
		}
	}
}

// binderFor returns the cached binder for id, building it on first use.
func (c *planCache) binderFor(id identity, build func() (*binder, error)) (*binder, error) {
	if old := c.load(id); old != nil && old.bind != nil {
		return old.bind, nil
	}
	b, err := build()
	if err != nil {
		return nil, err
	}
	c.store(id, func(cur *cacheEntry) *cacheEntry {
		if cur != nil && cur.bind != nil {
			b = cur.bind
			return cur
		}
		next := &cacheEntry{bind: b}
		if cur != nil {
			next.read = cur.read
		}
		return next
	})
	return b, nil
}

// readPlanFor returns the plan for id if it was built for the same column
// shape, and otherwise builds and publishes a new one.
func (c *planCache) readPlanFor(id identity, cols []Column, build func([]Column) (*readPlan, error)) (*readPlan, error) {
	fp := FingerprintColumns(cols)
	old := c.load(id)
	if old != nil && old.read != nil && old.read.fingerprint == fp {
		c.hits.Add(1)
		return old.read, nil
	}
	rp, err := build(cols)
	if err != nil {
		return nil, err
	}
	rp.fingerprint = fp

	if old != nil && old.read != nil {
		c.rebuilds.Add(1)
		c.log.Debug("xmap: plan rebuilt",
			slog.String("query", id.sql),
			slog.Uint64("old_fingerprint", old.read.fingerprint),
			slog.Uint64("fingerprint", fp),
			slog.Int("columns", len(cols)))
	} else {
		c.misses.Add(1)
		c.log.Debug("xmap: plan built",
			slog.String("query", id.sql),
			slog.Uint64("fingerprint", fp),
			slog.Int("columns", len(cols)),
			slog.Int("segments", len(rp.mats)))
	}
	c.store(id, func(cur *cacheEntry) *cacheEntry {
		if cur != nil && cur.read != nil && cur.read.fingerprint == fp {
			rp = cur.read
			return cur
		}
		next := &cacheEntry{read: rp}
		if cur != nil {
			next.bind = cur.bind
		}
		return next
	})
	return rp, nil
}
