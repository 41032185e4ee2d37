package ingest

import "sync"

// keyedLock is a set of non-blocking mutexes keyed by source id.
type keyedLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newKeyedLock() *keyedLock {
	return &keyedLock{held: make(map[string]struct{})}
}

// TryLock takes key if it is free. The returned func releases it.
func (k *keyedLock) TryLock(key string) (func(), bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, busy := k.held[key]; busy {
		return nil, false
	}
	k.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			delete(k.held, key)
			k.mu.Unlock()
		})
	}, true
}

func (k *keyedLock) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, busy := k.held[key]
	return busy
}
