package service

import (
	"sync"
)

// EntityLocker hands out one mutex per entity key. Entries are dropped once
// no goroutine holds or waits on them.
type EntityLocker struct {
	mu    sync.Mutex
	locks map[string]*entityLock
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

func NewEntityLocker() *EntityLocker {
	return &EntityLocker{locks: make(map[string]*entityLock)}
}

// Lock blocks until the key is free and returns its unlock function
func (l *EntityLocker) Lock(key string) func() {
	l.mu.Lock()
	el, ok := l.locks[key]
	if !ok {
		el = &entityLock{}
		l.locks[key] = el
	}
	el.refs++
	l.mu.Unlock()

	el.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			el.mu.Unlock()

			l.mu.Lock()
			el.refs--
			if el.refs == 0 {
				delete(l.locks, key)
			}
			l.mu.Unlock()
		})
	}
}

// Lock keys. A goroutine holding several takes them in this order:
// invoice, then subscription.
func invoiceLockKey(invoiceID string) string {
	return "invoice:" + invoiceID
}

func subscriptionLockKey(subscriptionID string) string {
	return "subscription:" + subscriptionID
}
