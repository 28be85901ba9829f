package application

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// SessionLocks hands out one RWMutex per session id. Mutations hold the write
// lock across their whole read-modify-write; reads hold the read lock. Services
// that touch the same sessions must share one SessionLocks.
type SessionLocks struct {
	locks *xsync.Map[string, *sync.RWMutex]
}

// NewSessionLocks returns an empty registry.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: xsync.NewMap[string, *sync.RWMutex]()}
}

func (l *SessionLocks) forSession(id string) *sync.RWMutex {
	mu, _ := l.locks.LoadOrCompute(id, func() (*sync.RWMutex, bool) {
		return &sync.RWMutex{}, false
	})
	return mu
}

// forget drops the lock of a deleted session. Callers must hold it.
func (l *SessionLocks) forget(id string) {
	l.locks.Delete(id)
}

// Size reports how many sessions currently have a lock.
func (l *SessionLocks) Size() int {
	return l.locks.Size()
}

func sharedLocks(l *SessionLocks) *SessionLocks {
	if l != nil {
		return l
	}
	return NewSessionLocks()
}
