package daemon

import (
	"sync"

	"github.com/andreasbank/proxify/internal/pool"
)

// sessionSet is the per-connection binding of session id to pool Entry. A
// fresh session id triggers a pool acquisition; reusing an id keeps the
// same entry; the binding never outlives the TCP connection it belongs to.
type sessionSet struct {
	mu      sync.Mutex
	entries map[uint8]*pool.Entry
}

func newSessionSet() *sessionSet {
	return &sessionSet{entries: make(map[uint8]*pool.Entry)}
}

// get returns the entry bound to id, if any.
func (s *sessionSet) get(id uint8) (*pool.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

// bind records entry as the proxy for session id.
func (s *sessionSet) bind(id uint8, e *pool.Entry) {
	s.mu.Lock()
	s.entries[id] = e
	s.mu.Unlock()
}

// release removes the binding for id, returning the entry it had (if any)
// so the caller can release it back to the pool.
func (s *sessionSet) release(id uint8) (*pool.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	delete(s.entries, id)
	return e, ok
}

// releaseAll drains every remaining binding, for use when the connection
// closes with sessions still open.
func (s *sessionSet) releaseAll() []*pool.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*pool.Entry, 0, len(s.entries))
	for id, e := range s.entries {
		all = append(all, e)
		delete(s.entries, id)
	}
	return all
}
