package messaging

import "sync"

// keyedMutex hands out one mutex per key and frees it when the last holder unlocks.
type keyedMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex[K comparable]() *keyedMutex[K] {
	return &keyedMutex[K]{locks: make(map[K]*refMutex)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *keyedMutex[K]) Lock(key K) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex[K]) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
