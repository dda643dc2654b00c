package lock

import (
	"context"
	"fmt"
	"sync"
)

// Local is an in-process PairLocker: one buffered channel per pair id, so a
// waiter can give up when its context ends.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Lock blocks until pairID is free or ctx is done.
func (l *Local) Lock(ctx context.Context, pairID string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[pairID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[pairID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(pairID, s)
		return nil, fmt.Errorf("lock pair %s: %w", pairID, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(pairID, s)
		})
	}, nil
}

// release drops a reference and forgets idle slots.
func (l *Local) release(pairID string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, pairID)
	}
}

// held returns the number of pair ids with holders or waiters.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
