package lease

import (
	"context"
	"sync"
	"time"
)

// Local serializes lease holders within one process. Used when Redis is not
// configured; single-instance deployments need nothing stronger.
type Local struct {
	mu    sync.Mutex
	held  map[string]time.Time
	nowFn func() time.Time
}

// NewLocal constructs an in-process lease.
func NewLocal() *Local {
	return &Local{held: make(map[string]time.Time), nowFn: time.Now}
}

func (l *Local) Acquire(_ context.Context, name string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if expiry, ok := l.held[name]; ok && expiry.After(now) {
		return nil, false, nil
	}
	expiry := now.Add(ttl)
	l.held[name] = expiry

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if current, ok := l.held[name]; ok && current.Equal(expiry) {
			delete(l.held, name)
		}
	}
	return release, true, nil
}
