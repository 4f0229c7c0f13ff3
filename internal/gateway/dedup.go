package gateway

import "sync"

// dedup pruning bounds. The set is unbounded in principle; once it
// grows past capacity the oldest entries are evicted in bulk.
const (
	dedupCapacity   = 10000
	dedupPruneCount = 1000
)

// dedupSet suppresses duplicate event deliveries. Check and insert are
// one atomic operation so concurrent deliveries of the same event race
// safely.
type dedupSet struct {
	mu    sync.Mutex
	keys  map[string]struct{}
	order []string
}

func newDedupSet() *dedupSet {
	return &dedupSet{keys: make(map[string]struct{})}
}

// Seen reports whether key was already recorded, recording it if not.
func (d *dedupSet) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.keys[key]; ok {
		return true
	}
	d.keys[key] = struct{}{}
	d.order = append(d.order, key)

	if len(d.order) > dedupCapacity {
		for _, old := range d.order[:dedupPruneCount] {
			delete(d.keys, old)
		}
		d.order = d.order[dedupPruneCount:]
	}
	return false
}

// Len returns the number of resident keys.
func (d *dedupSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.keys)
}
