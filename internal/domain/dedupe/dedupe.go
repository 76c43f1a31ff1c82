// Package dedupe tracks delivered domain event ids so redelivered outbox
// events reach the notifier at most once per process.
package dedupe

import (
	"context"
	"sync"
)

const defaultMaxSize = 50_000

// Deduper records seen event ids.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a failed delivery can be retried.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper keeps ids in insertion order and evicts the oldest once
// maxSize is reached. maxSize <= 0 means unbounded.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]uint64 // id -> insertion sequence
	order   []entry           // FIFO; entries whose seq no longer matches are stale
	head    int
	seq     uint64
	maxSize int
}

type entry struct {
	id  string
	seq uint64
}

// NewInMemoryDeduper creates a deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]uint64)
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	if d.maxSize > 0 {
		for len(d.seen) >= d.maxSize {
			d.evictOldest()
		}
	}
	d.seq++
	d.seen[id] = d.seq
	d.order = append(d.order, entry{id: id, seq: d.seq})
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// The order slot goes stale and is skipped on eviction.
	delete(d.seen, id)
	d.compact()
}

// evictOldest drops the oldest live id. Caller holds d.mu.
func (d *inMemoryDeduper) evictOldest() {
	for d.head < len(d.order) {
		e := d.order[d.head]
		d.head++
		if seq, ok := d.seen[e.id]; ok && seq == e.seq {
			delete(d.seen, e.id)
			break
		}
	}
	d.compact()
}

// compact reclaims the consumed prefix of order once it dominates.
func (d *inMemoryDeduper) compact() {
	if d.head > 0 && d.head*2 >= len(d.order) {
		d.order = append(d.order[:0], d.order[d.head:]...)
		d.head = 0
	}
}

func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
