package ingest

import "sync"

// keyedLocks hands out one mutex per key and drops it once no caller holds or
// waits on it.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyedLock)}
}

// Lock acquires the mutex for key and returns its release func.
func (k *keyedLocks) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// lockBatch serializes batches that touch the same session or visitor. The
// session key is always taken first so two batches never wait on each other
// in opposite order.
func (s *Service) lockBatch(tenantID string, p *Payload) func() {
	unlockSession := s.locks.Lock("session:" + tenantID + ":" + p.SessionID)
	unlockVisitor := s.locks.Lock("visitor:" + tenantID + ":" + p.VisitorID)
	return func() {
		unlockVisitor()
		unlockSession()
	}
}
