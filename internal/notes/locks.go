package notes

import "sync"

// recordLocks serializes transitions per delivery note. Two webhook calls
// racing on the same note must not both validate against the same source
// state; calls on different notes proceed in parallel.
//
// Entries are a mutex per note name and are kept for the process lifetime;
// they are small and the note population per deployment is modest.
type recordLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newRecordLocks() *recordLocks {
	return &recordLocks{locks: make(map[string]*sync.Mutex)}
}

func (r *recordLocks) lock(name string) func() {
	r.mu.Lock()
	m, ok := r.locks[name]
	if !ok {
		m = &sync.Mutex{}
		r.locks[name] = m
	}
	r.mu.Unlock()

	m.Lock()
	return m.Unlock
}
