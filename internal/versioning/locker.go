package versioning

import (
	"sync"

	"clinicledger/pkg/contracts/domain"
)

// KeyLocker is a keyed mutex. Entries are reference counted and removed once
// no goroutine holds or waits for them.
type KeyLocker struct {
	mu    sync.Mutex
	locks map[domain.RecordKey]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyLocker creates an empty locker.
func NewKeyLocker() *KeyLocker {
	return &KeyLocker{locks: make(map[domain.RecordKey]*keyLock)}
}

// Lock blocks until key is free and returns the function that releases it.
func (l *KeyLocker) Lock(key domain.RecordKey) (unlock func()) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Len reports how many keys are currently held or awaited.
func (l *KeyLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
