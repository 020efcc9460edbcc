package syncer

import "sync"

// Locks hands out one advisory mutex per (account, folder)
type Locks struct {
	mu   sync.Mutex
	held map[string]*sync.Mutex
}

// NewLocks creates an empty registry
func NewLocks() *Locks {
	return &Locks{held: make(map[string]*sync.Mutex)}
}

// Lock blocks until the folder is free and returns its release func
func (l *Locks) Lock(account, folder string) (unlock func()) {
	key := account + "\x00" + folder

	l.mu.Lock()
	m, ok := l.held[key]
	if !ok {
		m = &sync.Mutex{}
		l.held[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
