package uploads

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds upload payloads in memory, keyed by upload id.
// It is never persisted. An optional byte budget bounds the total size held.
type Registry struct {
	mu       sync.Mutex
	payloads map[string][]byte
	total    int64
	budget   int64 // 0 means unlimited
}

// NewRegistry creates an empty registry. budget <= 0 disables the limit.
func NewRegistry(budget int64) *Registry {
	if budget < 0 {
		budget = 0
	}
	return &Registry{payloads: make(map[string][]byte), budget: budget}
}

// Put stores a payload, replacing any previous one for the same id.
func (r *Registry) Put(id string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := int64(len(data))
	total := r.total - int64(len(r.payloads[id])) + size
	if r.budget > 0 && total > r.budget {
		return fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrPayloadTooLarge, size, r.total, r.budget)
	}
	r.payloads[id] = data
	r.total = total
	return nil
}

// Replace swaps the payload of an existing entry, e.g. after compression.
// Unknown ids are ignored.
func (r *Registry) Replace(id string, data []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.payloads[id]
	if !ok {
		return false
	}
	r.payloads[id] = data
	r.total += int64(len(data)) - int64(len(old))
	return true
}

// Get returns the payload for id. The slice is shared and must not be modified.
func (r *Registry) Get(id string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.payloads[id]
	return data, ok
}

// Has reports whether a payload is held for id.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.payloads[id]
	return ok
}

// Remove frees the payload for id and reports whether one was held.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, ok := r.payloads[id]
	if !ok {
		return false
	}
	delete(r.payloads, id)
	r.total -= int64(len(data))
	return true
}

// IDs returns the ids with a payload, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.payloads))
	for id := range r.payloads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of payloads held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

// Bytes returns the total size of the payloads held.
func (r *Registry) Bytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
