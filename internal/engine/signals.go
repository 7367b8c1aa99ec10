package engine

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ServiceID identifies the task service among components.
var ServiceID = uuid.MustParse("6f8f2f8e-3c1b-4d7a-9a51-0c2b7f1e4d63")

// OwnerSelf is the owner token of tasks whose script runs in this engine.
var OwnerSelf = ServiceID.String()

// Signals holds the abort flag of every script currently executing. Entries
// are independent, so tasks never contend with each other.
type Signals struct {
	flags sync.Map // task id -> *atomic.Bool
}

// Add registers a cleared flag for id.
func (s *Signals) Add(id string) {
	s.flags.Store(id, new(atomic.Bool))
}

// Abort sets the flag for id and reports whether id was registered.
func (s *Signals) Abort(id string) bool {
	v, ok := s.flags.Load(id)
	if !ok {
		return false
	}
	v.(*atomic.Bool).Store(true)
	return true
}

// Aborted reports whether the flag for id is set.
func (s *Signals) Aborted(id string) bool {
	v, ok := s.flags.Load(id)
	return ok && v.(*atomic.Bool).Load()
}

// Remove drops the flag for id.
func (s *Signals) Remove(id string) {
	s.flags.Delete(id)
}

// Owners maps task ids to the owner token of the component responsible
// for stopping them.
type Owners struct {
	tokens sync.Map // task id -> string
}

// Set records owner as responsible for id.
func (o *Owners) Set(id, owner string) {
	o.tokens.Store(id, owner)
}

// Get returns the owner token for id.
func (o *Owners) Get(id string) (string, bool) {
	v, ok := o.tokens.Load(id)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Delete forgets the owner of id.
func (o *Owners) Delete(id string) {
	o.tokens.Delete(id)
}
