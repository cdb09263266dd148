// Package events implements the blocked-event pipeline: an ordered,
// bounded-retention store of every block decision, and a deduplicating
// notifier that forwards new blocks to an optional reporting endpoint.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/huandu/skiplist"

	"github.com/AikidoSec/safechain-internals-sub000/pkg/firewall"
)

// BlockedEvent is one recorded block decision.
type BlockedEvent struct {
	TsMs     int64              `json:"ts_ms"`
	Artifact firewall.Artifact  `json:"artifact"`
}

// eventKey orders events first by timestamp, then by insertion sequence,
// giving a total order even when two blocks land in the same millisecond.
type eventKey struct {
	ts  int64
	seq uint64
}

func compareEventKey(a, b interface{}) int {
	ka, kb := a.(eventKey), b.(eventKey)
	if ka.ts != kb.ts {
		if ka.ts < kb.ts {
			return -1
		}
		return 1
	}
	switch {
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}

// Store is the BlockedEventsStore: a concurrent ordered map of recorded
// blocks, bounded by both a retention window and a maximum entry count.
type Store struct {
	retention      time.Duration
	maxEvents      int
	minPruneInterval time.Duration

	mu         sync.Mutex
	list       *skiplist.SkipList
	seq        atomic.Uint64
	lastPruned atomic.Int64 // unix nanos
}

// NewStore constructs a Store. maxEvents must be >= 1.
func NewStore(retention time.Duration, maxEvents int) *Store {
	if maxEvents < 1 {
		maxEvents = 1
	}
	return &Store{
		retention:        retention,
		maxEvents:        maxEvents,
		minPruneInterval: 60 * time.Second,
		list:             skiplist.New(skiplist.LessThanFunc(compareEventKey)),
	}
}

// Record appends a new blocked event at the current time and prunes if
// the store has grown past its bounds and enough time has passed since
// the last prune.
func (s *Store) Record(artifact firewall.Artifact, now time.Time) BlockedEvent {
	ev := BlockedEvent{TsMs: now.UnixMilli(), Artifact: artifact}
	key := eventKey{ts: ev.TsMs, seq: s.seq.Add(1)}

	s.mu.Lock()
	s.list.Set(key, ev)
	length := s.list.Len()
	s.mu.Unlock()

	if length > s.maxEvents {
		lastPruned := time.Unix(0, s.lastPruned.Load())
		if now.Sub(lastPruned) > s.minPruneInterval {
			s.prune(now)
		}
	}
	return ev
}

func (s *Store) prune(now time.Time) {
	cutoff := now.Add(-s.retention).UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	for el := s.list.Front(); el != nil; {
		key := el.Key().(eventKey)
		if key.ts >= cutoff {
			break
		}
		next := el.Next()
		s.list.Remove(el.Key())
		el = next
	}
	for s.list.Len() > s.maxEvents {
		s.list.Remove(s.list.Front().Key())
	}
	s.lastPruned.Store(now.UnixNano())
}

// Query params bound a range scan by timestamp and by result size.
type Query struct {
	SinceMs int64
	UntilMs int64
	Limit   int // 0 means unbounded
}

// Query prunes expired entries, then returns events with TsMs in
// [SinceMs, UntilMs], keeping only the most recent Limit entries if the
// range holds more than that.
func (s *Store) Query(q Query, now time.Time) []BlockedEvent {
	s.prune(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []BlockedEvent
	for el := s.list.Front(); el != nil; el = el.Next() {
		key := el.Key().(eventKey)
		if key.ts < q.SinceMs {
			continue
		}
		if key.ts > q.UntilMs {
			break
		}
		matched = append(matched, el.Value.(BlockedEvent))
	}

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[len(matched)-q.Limit:]
	}
	return matched
}
