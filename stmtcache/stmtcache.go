// Package stmtcache implements the prepared-statement cache (C5): an LRU
// keyed by (connection id, normalized SQL). Its configurable cap bounds the
// whole cache: the entries of every connection count against one limit and
// share one eviction order; there is no separate cap per connection. SQL text is normalized with golang.org/x/text/unicode/
// norm (the same Unicode-normalization library the teacher's strutl
// package reaches for, see strutl/normalization.go) before whitespace
// collapsing, so statements that differ only in accents or composed vs.
// decomposed Unicode forms still hit the same cache entry.
package stmtcache

import (
	"container/list"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/fsvxavier/odbcengine/classify"
	"github.com/fsvxavier/odbcengine/handleman"
	"github.com/fsvxavier/odbcengine/providers/odbcapi"
	"github.com/fsvxavier/odbcengine/telemetry/metrics"
)

// Normalize canonicalizes SQL text for cache-key purposes: Unicode NFC
// normalization followed by collapsing runs of whitespace to a single
// space and trimming the ends.
func Normalize(sql string) string {
	nfc := norm.NFC.String(sql)
	fields := strings.Fields(nfc)
	return strings.Join(fields, " ")
}

// Stmt is a cached prepared statement: its handleman id, the native
// handle, and the positional order of any named parameters (so name-based
// executions can be rebound to positional form deterministically, per
// spec.md §4.5).
type Stmt struct {
	ID          handleman.ID
	Handle      odbcapi.Handle
	SQL         string
	ParamOrder  []string
	executions  int64
}

type entry struct {
	key  key
	stmt *Stmt
}

type key struct {
	conn handleman.ID
	sql  string
}

// Metrics snapshots the cache's counters, per spec.md §4.5.
type Metrics struct {
	Size                     int
	Max                      int
	Hits                     int64
	Misses                   int64
	TotalPrepares            int64
	TotalExecutions          int64
	AverageExecutionsPerStmt float64
	EstimatedMemoryBytes     int64
}

// Cache is an LRU of prepared statements for any number of connections,
// all sharing a single cap and a single eviction order.
type Cache struct {
	mu  sync.Mutex
	max int

	order *list.List // front = most recently used
	index map[key]*list.Element

	hits, misses, totalPrepares, totalExecutions int64

	sizeGauge metrics.Gauge
}

// New creates a Cache bounded at max entries (spec default 50).
func New(max int, mreg metrics.Registry) *Cache {
	if max <= 0 {
		max = 50
	}
	if mreg == nil {
		mreg = metrics.Noop()
	}
	return &Cache{
		max:       max,
		order:     list.New(),
		index:     map[key]*list.Element{},
		sizeGauge: mreg.Gauge("odbcengine_stmtcache_size", "current cached statement count"),
	}
}

// PrepareFunc prepares sql on a connection and returns the resulting
// native handle, its handleman id if the statement was registered (zero
// otherwise), and the extracted named-parameter order (nil if the
// statement uses positional parameters only).
type PrepareFunc func(conn handleman.ID, normalizedSQL string) (Stmt, error)

// Get returns the cached statement for (conn, sql) if present, preparing
// and inserting it via prepare on a miss. Evicts the least-recently-used
// entry via evictFn when the cache is at capacity.
func (c *Cache) Get(conn handleman.ID, sql string, prepare PrepareFunc, evict func(*Stmt) error) (*Stmt, error) {
	normalized := Normalize(sql)
	k := key{conn: conn, sql: normalized}

	c.mu.Lock()
	if el, ok := c.index[k]; ok {
		c.order.MoveToFront(el)
		c.hits++
		st := el.Value.(*entry).stmt
		st.executions++
		c.totalExecutions++
		c.mu.Unlock()
		return st, nil
	}
	c.misses++
	atCapacity := c.order.Len() >= c.max
	c.mu.Unlock()

	if atCapacity {
		if err := c.evictOldest(evict); err != nil {
			return nil, classify.Wrap(classify.Query, "stmtcache: eviction failed", err)
		}
	}

	st, err := prepare(conn, normalized)
	if err != nil {
		return nil, err
	}
	st.SQL = normalized

	c.mu.Lock()
	el := c.order.PushFront(&entry{key: k, stmt: &st})
	c.index[k] = el
	c.totalPrepares++
	c.totalExecutions++
	st.executions = 1
	c.updateSizeLocked()
	c.mu.Unlock()

	return &st, nil
}

func (c *Cache) evictOldest(evict func(*Stmt) error) error {
	c.mu.Lock()
	back := c.order.Back()
	if back == nil {
		c.mu.Unlock()
		return nil
	}
	e := back.Value.(*entry)
	c.order.Remove(back)
	delete(c.index, e.key)
	c.updateSizeLocked()
	c.mu.Unlock()

	if evict != nil {
		return evict(e.stmt)
	}
	return nil
}

func (c *Cache) updateSizeLocked() {
	c.sizeGauge.Set(float64(c.order.Len()))
}

// Invalidate removes conn's entries (used when a connection is dropped,
// since its prepared statements are destroyed by the connection cascade,
// not individually).
func (c *Cache) Invalidate(conn handleman.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, el := range c.index {
		if k.conn == conn {
			c.order.Remove(el)
			delete(c.index, k)
		}
	}
	c.updateSizeLocked()
}

// Metrics returns a snapshot of the cache's counters.
func (c *Cache) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	size := c.order.Len()
	avg := 0.0
	if size > 0 {
		avg = float64(c.totalExecutions) / float64(size)
	}
	return Metrics{
		Size:                     size,
		Max:                      c.max,
		Hits:                     c.hits,
		Misses:                   c.misses,
		TotalPrepares:            c.totalPrepares,
		TotalExecutions:          c.totalExecutions,
		AverageExecutionsPerStmt: avg,
		EstimatedMemoryBytes:     estimateMemory(c),
	}
}

// estimateMemory is a rough per-entry estimate (SQL text length plus a
// fixed per-entry overhead), adequate for operational dashboards rather
// than precise accounting.
func estimateMemory(c *Cache) int64 {
	var total int64
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		total += int64(len(e.stmt.SQL)) + 128
	}
	return total
}

// ExtractNamedParams returns the ordered list of named parameters (e.g.
// ":name" tokens) found in sql, in first-occurrence order, for statements
// that use named rather than positional ("?") parameters.
func ExtractNamedParams(sql string) []string {
	var params []string
	seen := map[string]bool{}
	var b strings.Builder
	inParam := false
	flush := func() {
		if inParam && b.Len() > 0 {
			name := b.String()
			if !seen[name] {
				seen[name] = true
				params = append(params, name)
			}
		}
		b.Reset()
		inParam = false
	}
	for _, r := range sql {
		switch {
		case r == ':':
			flush()
			inParam = true
		case inParam && (isIdentRune(r)):
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return params
}

func isIdentRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}
