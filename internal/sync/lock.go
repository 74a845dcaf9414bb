package sync

import "sync"

// KeyLock provides one mutex per key. Used to serialize reviews of the same
// PR; different PRs proceed in parallel. Entries are never evicted, which is
// acceptable for the bounded set of PR keys a deployment sees.
type KeyLock struct {
	locks sync.Map
}

func NewKeyLock() *KeyLock {
	return &KeyLock{}
}

func (l *KeyLock) Lock(key string) {
	val, _ := l.locks.LoadOrStore(key, &sync.Mutex{})
	val.(*sync.Mutex).Lock()
}

func (l *KeyLock) Unlock(key string) {
	val, ok := l.locks.Load(key)
	if !ok {
		return
	}
	val.(*sync.Mutex).Unlock()
}

// TryLock acquires the key's mutex without blocking, reporting success.
func (l *KeyLock) TryLock(key string) bool {
	val, _ := l.locks.LoadOrStore(key, &sync.Mutex{})
	return val.(*sync.Mutex).TryLock()
}
