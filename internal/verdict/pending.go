package verdict

import (
	"context"
	"sync"
	"time"
)

// writeTracker tracks background cache writes still in flight. The response
// is returned to the caller without waiting for the store, so shutdown must
// wait here until the count drains.
type writeTracker struct {
	mu    sync.RWMutex
	count int64
}

func (t *writeTracker) Increment() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
}

func (t *writeTracker) Decrement() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count--
}

func (t *writeTracker) Count() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// WaitForZero blocks until the pending count reaches zero or ctx is cancelled.
// checkInterval is how often to re-check the count.
func (t *writeTracker) WaitForZero(ctx context.Context, checkInterval time.Duration) error {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		if t.Count() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
