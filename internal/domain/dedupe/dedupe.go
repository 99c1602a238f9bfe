// Package dedupe tracks delivered event IDs so each domain event reaches a
// sink at most once.
package dedupe

import (
	"context"
	"sync"
)

// DefaultWindow is the number of IDs remembered when no option is given.
const DefaultWindow = 50000

// Deduper records seen event IDs.
type Deduper interface {
	// SeenAndRecord reports whether id was already seen, recording it if not.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a failed delivery can be retried.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper remembers the most recent window IDs in a ring. When full,
// the oldest ID is forgotten. A window of zero or less never forgets.
type inMemoryDeduper struct {
	mu     sync.Mutex
	window int
	// seen maps an id to its ring slot; -1 in unbounded mode.
	seen map[string]int
	ring []string
	next int
}

// NewInMemoryDeduper creates an in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{window: DefaultWindow}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]int)
	if d.window > 0 {
		d.ring = make([]string, d.window)
	}
	return d
}

// SeenAndRecord is atomic with respect to concurrent callers. The empty id is
// never recorded.
func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	if d.ring == nil {
		d.seen[id] = -1
		return false
	}
	if old := d.ring[d.next]; old != "" && d.seen[old] == d.next {
		delete(d.seen, old)
	}
	d.ring[d.next] = id
	d.seen[id] = d.next
	d.next = (d.next + 1) % len(d.ring)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot, ok := d.seen[id]
	if !ok {
		return
	}
	delete(d.seen, id)
	if slot >= 0 {
		d.ring[slot] = ""
	}
}

func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
