package ingestion_engine

import (
	"context"
	"sync"
)

// docLocks serializes attempts per document. Entries are reference counted
// and dropped when the last holder or waiter leaves.
type docLocks struct {
	mu    sync.Mutex
	locks map[string]*docLock
}

type docLock struct {
	sem  chan struct{}
	refs int
}

func newDocLocks() *docLocks {
	return &docLocks{locks: make(map[string]*docLock)}
}

// Lock blocks until the document's lock is held or ctx is done. The returned
// func releases it.
func (l *docLocks) Lock(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	dl, ok := l.locks[id]
	if !ok {
		dl = &docLock{sem: make(chan struct{}, 1)}
		l.locks[id] = dl
	}
	dl.refs++
	l.mu.Unlock()

	select {
	case dl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(id, dl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-dl.sem
			l.release(id, dl)
		})
	}, nil
}

func (l *docLocks) release(id string, dl *docLock) {
	l.mu.Lock()
	dl.refs--
	if dl.refs == 0 {
		delete(l.locks, id)
	}
	l.mu.Unlock()
}

func (l *docLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
