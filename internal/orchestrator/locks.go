package orchestrator

import "sync"

// conversationLocks hands out one advisory mutex per conversation id.
// Entries are kept for the process lifetime; the set of active
// conversations in a single deployment is small enough not to matter.
type conversationLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *conversationLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*sync.Mutex)
	}
	cl, ok := l.m[id]
	if !ok {
		cl = &sync.Mutex{}
		l.m[id] = cl
	}
	l.mu.Unlock()

	cl.Lock()
	return cl.Unlock
}
