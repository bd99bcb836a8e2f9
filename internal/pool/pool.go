package pool

import (
	"container/list"
	"sync"

	"codeberg.org/gruf/go-kv"
	"codeberg.org/gruf/go-logger/v2/log"

	"github.com/andreasbank/proxify/internal/config"
)

// Pool holds every loaded proxy Entry in exactly one of three FIFO queues:
// notReady, ready, or inUse. The total entry count is invariant across the
// pool's lifetime: |notReady|+|ready|+|inUse| always equals the number of
// descriptors the pool was built with.
//
// Each queue has its own mutex, held for the minimum span needed. The one
// exception is the atomic move performed by Acquire (ready -> inUse) and
// Release (inUse -> notReady), which take both queues' locks in a fixed
// order (ready before inUse on acquire, inUse before notReady on release)
// to avoid deadlock between concurrent acquirers and releasers.
type Pool struct {
	entries map[uint16]*Entry

	notReadyMu sync.Mutex
	notReady   *list.List // of *Entry

	readyMu sync.Mutex
	ready   *list.List // of *Entry

	inUseMu sync.Mutex
	inUse   *list.List // of *Entry
}

// New builds a pool from the given descriptors, assigning each a dense id
// in file order and placing every entry in notReady.
func New(descriptors []config.ProxyDescriptor) (*Pool, error) {
	p := &Pool{
		entries:  make(map[uint16]*Entry, len(descriptors)),
		notReady: list.New(),
		ready:    list.New(),
		inUse:    list.New(),
	}

	for i, d := range descriptors {
		id := uint16(i)
		entry, err := NewEntry(id, d)
		if err != nil {
			return nil, err
		}
		p.entries[id] = entry
		p.notReady.PushBack(entry)
	}

	return p, nil
}

// Len returns the total number of entries the pool manages, regardless of
// which queue they currently sit in.
func (p *Pool) Len() int {
	return len(p.entries)
}

// Counts returns the current size of each of the three queues, for tests
// and diagnostics.
func (p *Pool) Counts() (notReady, ready, inUse int) {
	p.notReadyMu.Lock()
	notReady = p.notReady.Len()
	p.notReadyMu.Unlock()

	p.readyMu.Lock()
	ready = p.ready.Len()
	p.readyMu.Unlock()

	p.inUseMu.Lock()
	inUse = p.inUse.Len()
	p.inUseMu.Unlock()

	return
}

// Acquire pops the head of ready and pushes it to the tail of inUse,
// atomically with respect to other Acquire/Release calls. If ready is
// empty it returns (nil, false) without blocking.
func (p *Pool) Acquire() (*Entry, bool) {
	p.readyMu.Lock()
	defer p.readyMu.Unlock()

	elem := p.ready.Front()
	if elem == nil {
		return nil, false
	}
	p.ready.Remove(elem)

	entry := elem.Value.(*Entry)

	p.inUseMu.Lock()
	p.inUse.PushBack(entry)
	p.inUseMu.Unlock()

	log.DebugKVs(kv.Fields{
		{K: "entry", V: entry.ID()},
		{K: "msg", V: "acquired from ready"},
	}...)

	return entry, true
}

// Release removes entry from inUse and pushes it to the tail of notReady,
// so it will be re-prepared before it is handed out again. The pool never
// destroys entries.
func (p *Pool) Release(entry *Entry) {
	p.inUseMu.Lock()
	removeEntry(p.inUse, entry)

	p.notReadyMu.Lock()
	p.notReady.PushBack(entry)
	p.notReadyMu.Unlock()
	p.inUseMu.Unlock()

	log.DebugKVs(kv.Fields{
		{K: "entry", V: entry.ID()},
		{K: "msg", V: "released to not-ready"},
	}...)
}

// DrainForPreparation pops the head of notReady for a preparer worker to
// attempt to prepare. The caller must call FinishPreparation afterward
// regardless of the outcome. If notReady is empty it returns (nil, false).
func (p *Pool) DrainForPreparation() (*Entry, bool) {
	p.notReadyMu.Lock()
	defer p.notReadyMu.Unlock()

	elem := p.notReady.Front()
	if elem == nil {
		return nil, false
	}
	p.notReady.Remove(elem)
	return elem.Value.(*Entry), true
}

// FinishPreparation pushes entry to the tail of ready if ok, or back to
// the tail of notReady otherwise.
func (p *Pool) FinishPreparation(entry *Entry, ok bool) {
	if ok {
		p.readyMu.Lock()
		p.ready.PushBack(entry)
		p.readyMu.Unlock()
		return
	}

	p.notReadyMu.Lock()
	p.notReady.PushBack(entry)
	p.notReadyMu.Unlock()
}

// removeEntry removes the first list element holding entry. It is a
// logic error (and a broken invariant) for entry not to be found, since
// the caller must already hold it via a prior Acquire.
func removeEntry(l *list.List, entry *Entry) {
	for e := l.Front(); e != nil; e = e.Next() {
		if e.Value.(*Entry) == entry {
			l.Remove(e)
			return
		}
	}
}
