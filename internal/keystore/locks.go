package keystore

import (
	"context"
	"sync"
)

// containerLocks hands out one exclusive lock per container id. Entries are
// reference counted and dropped once no goroutine holds or waits for them.
type containerLocks struct {
	mu    sync.Mutex
	locks map[string]*containerLock
}

type containerLock struct {
	sem  chan struct{}
	refs int
}

func newContainerLocks() *containerLocks {
	return &containerLocks{locks: make(map[string]*containerLock)}
}

// acquire blocks until the lock for id is held or ctx is done. The returned
// func releases the lock.
func (l *containerLocks) acquire(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	cl, ok := l.locks[id]
	if !ok {
		cl = &containerLock{sem: make(chan struct{}, 1)}
		l.locks[id] = cl
	}
	cl.refs++
	l.mu.Unlock()

	select {
	case cl.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-cl.sem
				l.release(id, cl)
			})
		}, nil
	case <-ctx.Done():
		l.release(id, cl)
		return nil, ctx.Err()
	}
}

func (l *containerLocks) release(id string, cl *containerLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cl.refs--
	if cl.refs == 0 {
		delete(l.locks, id)
	}
}

// size reports how many container ids currently have a lock entry.
func (l *containerLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
