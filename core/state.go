package core

import (
	"sort"
	"sync"
)

// StateStore is the flat key/value map that programs can use to
// persist data across evaluations of the same ExecContext.
//
// All methods are safe for concurrent use.  Values go in and come
// out as copies.
type StateStore struct {
	sync.Mutex
	m map[string]*Value
}

// NewStateStore makes an empty StateStore.
func NewStateStore() *StateStore {
	return &StateStore{
		m: make(map[string]*Value, 8),
	}
}

// Get returns the value for the key.
//
// If the key is absent and initial isn't nil, then initial is
// stored and returned.  The check and the set are atomic.  If the key
// is absent and initial is nil, Get returns Empty() and false.
func (s *StateStore) Get(key string, initial *Value) (*Value, bool) {
	s.Lock()
	defer s.Unlock()
	if v, have := s.m[key]; have {
		return v.Copy(), true
	}
	if initial == nil {
		return Empty(), false
	}
	s.m[key] = initial.Copy()
	return initial.Copy(), true
}

// Set stores a copy of the value.
func (s *StateStore) Set(key string, v *Value) {
	s.Lock()
	s.m[key] = v.Copy()
	s.Unlock()
}

// Delete removes a key.
func (s *StateStore) Delete(key string) {
	s.Lock()
	delete(s.m, key)
	s.Unlock()
}

// Snapshot returns the whole store as an object with sorted keys.
func (s *StateStore) Snapshot() *Value {
	s.Lock()
	defer s.Unlock()
	ks := make([]string, 0, len(s.m))
	for k := range s.m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	acc := NewObject()
	for _, k := range ks {
		acc.Put(k, s.m[k].Copy())
	}
	return acc
}

// Load replaces the store's contents with the properties of the
// given object.
func (s *StateStore) Load(obj *Value) {
	s.Lock()
	defer s.Unlock()
	s.m = make(map[string]*Value, 8)
	if obj == nil || obj.Kind != KindObject {
		return
	}
	for _, k := range obj.Keys() {
		if v, is := obj.Get(k); is {
			s.m[k] = v.Copy()
		}
	}
}

// Len returns the number of keys.
func (s *StateStore) Len() int {
	s.Lock()
	defer s.Unlock()
	return len(s.m)
}
