package load

import (
	"context"
	"fmt"
	"sync"
)

// tableGuard serializes writers to the same destination table within the process.
type tableGuard struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newTableGuard() *tableGuard {
	return &tableGuard{held: make(map[string]chan struct{})}
}

// acquire takes the lock for key. With wait=false a held key fails with
// ErrDestinationBusy; otherwise acquire blocks until the holder releases or
// ctx ends. The returned release func must be called exactly once.
func (g *tableGuard) acquire(ctx context.Context, key string, wait bool) (func(), error) {
	for {
		g.mu.Lock()
		done, busy := g.held[key]
		if !busy {
			done = make(chan struct{})
			g.held[key] = done
			g.mu.Unlock()
			return func() {
				g.mu.Lock()
				delete(g.held, key)
				g.mu.Unlock()
				close(done)
			}, nil
		}
		g.mu.Unlock()

		if !wait {
			return nil, fmt.Errorf("%w: another run is writing '%s'", ErrDestinationBusy, key)
		}
		select {
		case <-done:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: gave up waiting for '%s': %w", ErrDestinationUnavailable, key, ctx.Err())
		}
	}
}

// busy reports whether key is currently held.
func (g *tableGuard) busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[key]
	return ok
}
