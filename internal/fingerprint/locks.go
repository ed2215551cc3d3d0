package fingerprint

import (
	"sort"
	"sync"
)

// KeyedLocks provides per-path mutual exclusion. Each key gets its own mutex,
// so work on different paths proceeds concurrently while work on the same
// path is serialized.
type KeyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedLocks creates an empty lock set.
func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the mutex for key, creating it on first use.
func (k *KeyedLocks) Lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	// Block outside the map lock.
	l.Lock()
}

// Unlock releases the mutex for key. Unlocking an unknown key is a no-op.
func (k *KeyedLocks) Unlock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	k.mu.Unlock()

	if ok {
		l.Unlock()
	}
}

// LockAll acquires every key in sorted order, so two callers locking
// overlapping sets cannot deadlock. Duplicate keys are locked once.
func (k *KeyedLocks) LockAll(keys []string) {
	for _, key := range sortedUnique(keys) {
		k.Lock(key)
	}
}

// UnlockAll releases keys acquired by LockAll, in reverse order.
func (k *KeyedLocks) UnlockAll(keys []string) {
	sorted := sortedUnique(keys)
	for i := len(sorted) - 1; i >= 0; i-- {
		k.Unlock(sorted[i])
	}
}

func sortedUnique(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	out := sorted[:1]
	for _, key := range sorted[1:] {
		if key != out[len(out)-1] {
			out = append(out, key)
		}
	}
	return out
}
