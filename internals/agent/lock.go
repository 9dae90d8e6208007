package agent

import (
	"context"
	"sync"
)

// sessionLocks hands out one exclusive lock per session key. Entries are
// dropped once nobody holds or waits for them.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// lock blocks until key is free or ctx is done. The returned func releases
// the lock.
func (l *sessionLocks) lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	sl, ok := l.locks[key]
	if !ok {
		sl = &sessionLock{ch: make(chan struct{}, 1)}
		l.locks[key] = sl
	}
	sl.refs++
	l.mu.Unlock()

	select {
	case sl.ch <- struct{}{}:
		return func() {
			<-sl.ch
			l.release(key, sl)
		}, nil
	case <-ctx.Done():
		l.release(key, sl)
		return nil, ctx.Err()
	}
}

func (l *sessionLocks) release(key string, sl *sessionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
