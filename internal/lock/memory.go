package lock

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryCycleLock guards runs within one process
type MemoryCycleLock struct {
	mu      sync.RWMutex
	live    atomic.Bool
	dryRuns atomic.Int32
}

func NewMemoryCycleLock() *MemoryCycleLock {
	return &MemoryCycleLock{}
}

func (l *MemoryCycleLock) Acquire(ctx context.Context, dryRun bool) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if dryRun {
		if !l.mu.TryRLock() {
			return nil, errAlreadyRunning(true)
		}
		l.dryRuns.Add(1)

		var once sync.Once
		return func() {
			once.Do(func() {
				l.dryRuns.Add(-1)
				l.mu.RUnlock()
			})
		}, nil
	}

	if !l.mu.TryLock() {
		return nil, errAlreadyRunning(false)
	}
	l.live.Store(true)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.live.Store(false)
			l.mu.Unlock()
		})
	}, nil
}

func (l *MemoryCycleLock) Status(ctx context.Context) (Status, error) {
	return Status{
		Live:    l.live.Load(),
		DryRuns: int(l.dryRuns.Load()),
	}, nil
}
