package state

import "sync"

// keyLockManager provides per-task mutual exclusion for state mutation.
// Uses a keyed mutex pattern: each task identifier gets its own mutex, so
// mutations for different tasks proceed concurrently while mutations for
// the same task are strictly serialized.
type keyLockManager struct {
	mu    sync.Mutex             // Guards the locks map itself
	locks map[string]*sync.Mutex // Per-task mutexes
}

func newKeyLockManager() *keyLockManager {
	return &keyLockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the per-task mutex for the given task identifier.
// Creates the mutex on first access if it doesn't exist.
func (m *keyLockManager) Lock(taskID string) {
	m.mu.Lock()
	l, ok := m.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[taskID] = l
	}
	m.mu.Unlock()

	// Acquire the per-task lock outside the manager lock to avoid contention.
	l.Lock()
}

// Unlock releases the per-task mutex for the given task identifier.
func (m *keyLockManager) Unlock(taskID string) {
	m.mu.Lock()
	l, ok := m.locks[taskID]
	m.mu.Unlock()

	if ok {
		l.Unlock()
	}
}
