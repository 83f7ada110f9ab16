package core

import (
	"container/list"
	"time"

	"OutcomeMarket/internal/observability"
)

// DBIdempotencyChecker answers dedup lookups for keys the in-memory window
// has already forgotten.
type DBIdempotencyChecker interface {
	IsDuplicate(commandType string, idempotencyKey string) (bool, error)
}

// Where a duplicate was caught.
const (
	dedupHot  = "lru"
	dedupCold = "postgres"
)

// DedupStats counts duplicates per command type and tier.
type DedupStats struct {
	Hot          map[string]int64
	Cold         map[string]int64
	LookupErrors int64
}

// Deduplicator rejects (command type, request id) pairs the core has already
// sequenced. Recent keys live in memory; older ones are looked up in the
// event log through the cold checker.
type Deduplicator struct {
	recent  *recentKeys
	cold    DBIdempotencyChecker
	onError func(err error)

	stats DedupStats
	prom  *observability.Metrics
}

func NewDeduplicator(window int, cold DBIdempotencyChecker) *Deduplicator {
	return &Deduplicator{
		recent: newRecentKeys(window),
		cold:   cold,
		stats: DedupStats{
			Hot:  make(map[string]int64),
			Cold: make(map[string]int64),
		},
	}
}

// OnLookupError installs a callback for failed cold lookups.
func (d *Deduplicator) OnLookupError(fn func(err error)) { d.onError = fn }

// Seen reports whether the pair was already sequenced. A failed cold lookup
// counts as unseen so an unreachable database cannot stall the core.
func (d *Deduplicator) Seen(commandType, requestID string) bool {
	key := dedupKey(commandType, requestID)
	if d.recent.touch(key) {
		d.count(commandType, dedupHot)
		return true
	}
	if d.cold == nil {
		return false
	}

	start := time.Now()
	dup, err := d.cold.IsDuplicate(commandType, requestID)
	if d.prom != nil {
		d.prom.DedupTier2Duration.Observe(time.Since(start).Seconds())
	}
	switch {
	case err != nil:
		d.stats.LookupErrors++
		if d.onError != nil {
			d.onError(err)
		}
		return false
	case dup:
		d.count(commandType, dedupCold)
		d.recent.put(key)
		return true
	}
	return false
}

// Remember records a pair the core just sequenced.
func (d *Deduplicator) Remember(commandType, requestID string) {
	d.recent.put(dedupKey(commandType, requestID))
}

func (d *Deduplicator) Stats() DedupStats { return d.stats }

func (d *Deduplicator) count(commandType, tier string) {
	if tier == dedupHot {
		d.stats.Hot[commandType]++
	} else {
		d.stats.Cold[commandType]++
	}
	if d.prom != nil {
		d.prom.IdempotencyDuplicates.WithLabelValues(commandType, tier).Inc()
	}
}

func dedupKey(commandType, requestID string) string {
	return commandType + ":" + requestID
}

// recentKeys is a bounded set that forgets the least recently touched key
// first. Core goroutine only.
type recentKeys struct {
	limit   int
	order   *list.List // front is newest
	index   map[string]*list.Element
	evicted int64
}

func newRecentKeys(limit int) *recentKeys {
	return &recentKeys{
		limit: limit,
		order: list.New(),
		index: make(map[string]*list.Element, limit),
	}
}

// touch reports membership and refreshes the key if present.
func (r *recentKeys) touch(key string) bool {
	el, ok := r.index[key]
	if ok {
		r.order.MoveToFront(el)
	}
	return ok
}

func (r *recentKeys) put(key string) {
	if r.touch(key) {
		return
	}
	r.index[key] = r.order.PushFront(key)
	for r.order.Len() > r.limit {
		oldest := r.order.Back()
		r.order.Remove(oldest)
		delete(r.index, oldest.Value.(string))
		r.evicted++
	}
}

// warm inserts keys given oldest first, leaving the last one newest.
func (r *recentKeys) warm(keys []string) {
	for _, k := range keys {
		if _, ok := r.index[k]; !ok {
			r.put(k)
		}
	}
}

// keys lists the set oldest first, the order warm expects.
func (r *recentKeys) keys() []string {
	out := make([]string, 0, r.order.Len())
	for el := r.order.Back(); el != nil; el = el.Prev() {
		out = append(out, el.Value.(string))
	}
	return out
}

func (r *recentKeys) len() int { return r.order.Len() }
