// Package lock provides per-key mutual exclusion. The pipeline uses one
// Keyed instance to serialize every balance read-modify-write for a
// subscriber, whether it originates from a depletion timer, an HTTP
// request, or the stream drain.
package lock

import "sync"

// Keyed hands out one mutex per key. Entries are never reclaimed; the key
// space is subscribers, which is small and long-lived.
type Keyed struct {
	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

func NewKeyed() *Keyed {
	return &Keyed{keys: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock function. The
// mutexes are not re-entrant: callers must release before publishing
// anything whose handlers take the same key.
func (k *Keyed) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.keys[key]
	if !ok {
		m = &sync.Mutex{}
		k.keys[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
