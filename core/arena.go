package core

import (
	"sync"
)

// Handle identifies an ExecContext within an Arena.
//
// Statements hold a Handle rather than a pointer to their
// ExecContext.
type Handle uint64

// Arena owns a set of ExecContexts and hands out Handles for them.
//
// Usually the Arena belongs to whatever manages contexts (see package
// crew).
type Arena struct {
	sync.RWMutex
	next     Handle
	contexts map[Handle]*ExecContext
}

// NewArena makes an empty Arena.
func NewArena() *Arena {
	return &Arena{
		contexts: make(map[Handle]*ExecContext, 32),
	}
}

func (a *Arena) add(ec *ExecContext) Handle {
	a.Lock()
	a.next++
	h := a.next
	a.contexts[h] = ec
	a.Unlock()
	return h
}

// Get resolves a Handle.
func (a *Arena) Get(h Handle) (*ExecContext, bool) {
	a.RLock()
	ec, have := a.contexts[h]
	a.RUnlock()
	return ec, have
}

// Remove forgets the ExecContext for the given Handle.  Statements
// still holding that Handle will no longer resolve it.
func (a *Arena) Remove(h Handle) {
	a.Lock()
	delete(a.contexts, h)
	a.Unlock()
}

// Len returns the number of live ExecContexts.
func (a *Arena) Len() int {
	a.RLock()
	n := len(a.contexts)
	a.RUnlock()
	return n
}
