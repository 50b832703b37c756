package transfer

import (
	"strconv"
	"sync"

	"github.com/google/btree"
)

// Registry is an ordered collection of Sessions.
//
// A Session can be addressed by its position or by its ID. Positions follow insertion order and
// shift down by one when a Session before them is removed; IDs never change.
type Registry struct {
	m     sync.RWMutex
	seq   uint64
	order *btree.BTreeG[*entry]
	byID  map[string]*entry
}

type entry struct {
	seq     uint64
	session *Session
}

func lessEntry(a, b *entry) bool {
	return a.seq < b.seq
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		order: btree.NewG(8, lessEntry),
		byID:  make(map[string]*entry),
	}
}

// Add appends s and returns its position.
func (r *Registry) Add(s *Session) int {
	r.m.Lock()
	defer r.m.Unlock()
	index := r.order.Len()
	r.seq++
	e := &entry{seq: r.seq, session: s}
	r.order.ReplaceOrInsert(e)
	r.byID[s.ID()] = e
	return index
}

// Len returns the number of Sessions.
func (r *Registry) Len() int {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.order.Len()
}

// Get returns the Session at position index.
func (r *Registry) Get(index int) (*Session, error) {
	r.m.RLock()
	defer r.m.RUnlock()
	e, err := r.at(index)
	if err != nil {
		return nil, err
	}
	return e.session, nil
}

// RemoveAt removes the Session at position index and returns it.
// Positions of the Sessions after it are decremented by one.
func (r *Registry) RemoveAt(index int) (*Session, error) {
	r.m.Lock()
	defer r.m.Unlock()
	e, err := r.at(index)
	if err != nil {
		return nil, err
	}
	r.order.Delete(e)
	delete(r.byID, e.session.ID())
	return e.session, nil
}

// Lookup returns the Session with the given ID.
func (r *Registry) Lookup(id string) (*Session, error) {
	r.m.RLock()
	defer r.m.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, ErrTransferNotFound
	}
	return e.session, nil
}

// Remove removes the Session with the given ID.
func (r *Registry) Remove(id string) (*Session, error) {
	r.m.Lock()
	defer r.m.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, ErrTransferNotFound
	}
	r.order.Delete(e)
	delete(r.byID, id)
	return e.session, nil
}

// IndexOf returns the current position of the Session with the given ID.
func (r *Registry) IndexOf(id string) (int, error) {
	r.m.RLock()
	defer r.m.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return -1, ErrTransferNotFound
	}
	index := -1
	i := 0
	r.order.Ascend(func(item *entry) bool {
		if item == e {
			index = i
			return false
		}
		i++
		return true
	})
	return index, nil
}

// Resolve finds a Session by a reference given by a client.
// Integers are treated as positions, everything else as IDs.
func (r *Registry) Resolve(ref string) (*Session, error) {
	if index, err := strconv.Atoi(ref); err == nil {
		return r.Get(index)
	}
	return r.Lookup(ref)
}

// List returns all Sessions in order.
func (r *Registry) List() []*Session {
	r.m.RLock()
	defer r.m.RUnlock()
	sessions := make([]*Session, 0, r.order.Len())
	r.order.Ascend(func(e *entry) bool {
		sessions = append(sessions, e.session)
		return true
	})
	return sessions
}

// Names returns display names of all Sessions in order.
func (r *Registry) Names() []string {
	sessions := r.List()
	names := make([]string, len(sessions))
	for i, s := range sessions {
		names[i] = s.Name()
	}
	return names
}

func (r *Registry) at(index int) (*entry, error) {
	if index < 0 || index >= r.order.Len() {
		return nil, ErrIndexOutOfRange
	}
	var found *entry
	i := 0
	r.order.Ascend(func(e *entry) bool {
		if i == index {
			found = e
			return false
		}
		i++
		return true
	})
	return found, nil
}
