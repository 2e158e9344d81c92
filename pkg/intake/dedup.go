package intake

import "sync"

// dedupSet is a bounded set of processed content hashes. When full,
// the oldest entry is evicted, which is safe because the event store's
// processed marker backs it up. Single-writer append semantics: Add is
// only called after a successful commit.
type dedupSet struct {
	mu       sync.Mutex
	capacity int
	ring     []string
	pos      int
	seen     map[string]struct{}
}

func newDedupSet(capacity int) *dedupSet {
	if capacity <= 0 {
		capacity = 65536
	}
	return &dedupSet{
		capacity: capacity,
		ring:     make([]string, capacity),
		seen:     make(map[string]struct{}, capacity),
	}
}

func (d *dedupSet) Seen(hash string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[hash]
	return ok
}

func (d *dedupSet) Add(hash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[hash]; ok {
		return
	}
	if old := d.ring[d.pos]; old != "" {
		delete(d.seen, old)
	}
	d.ring[d.pos] = hash
	d.pos = (d.pos + 1) % d.capacity
	d.seen[hash] = struct{}{}
}
