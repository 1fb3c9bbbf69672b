package telenet

import (
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/carrotview/helpers"
	"github.com/temoto/carrotview/log2"
)

type RemoveFunc = func(c Conn, reason error)

// Registry is the set of authenticated connections.
// Connection is closed by registry exactly once, on Remove or CloseAll.
type Registry struct {
	mu       sync.Mutex
	m        map[string]Conn
	closed   bool
	log      *log2.Log
	onRemove RemoveFunc
}

// onRemove is called outside of lock, once per connection actually removed.
func NewRegistry(log *log2.Log, onRemove RemoveFunc) *Registry {
	return &Registry{
		m:        make(map[string]Conn),
		log:      log,
		onRemove: onRemove,
	}
}

// Add accepts only authenticated open connections.
// After CloseAll returns ErrClosing, caller must close c.
func (r *Registry) Add(c Conn) error {
	if st := c.State(); st != StateAuthenticated {
		return errors.Errorf("registry add conn=%s state=%s", c.ID(), st)
	}
	return helpers.WithLockError(&r.mu, func() error {
		if r.closed {
			return ErrClosing
		}
		if c.Closed() {
			return errors.Errorf("registry add conn=%s already closed", c.ID())
		}
		if _, ok := r.m[c.ID()]; ok {
			return errors.Errorf("code error registry add duplicate id=%s", c.ID())
		}
		r.m[c.ID()] = c
		return nil
	})
}

// Remove is idempotent. Returns true only for the call that removed c.
func (r *Registry) Remove(c Conn, reason error) bool {
	found := false
	helpers.WithLock(&r.mu, func() {
		if ex, ok := r.m[c.ID()]; ok && ex == c {
			delete(r.m, c.ID())
			found = true
		}
	})
	if !found {
		return false
	}
	if reason == nil {
		reason = ErrClosing
	}
	_ = c.die(reason)
	r.log.Debugf("registry remove conn=%s reason=%s", c.ID(), shortError(reason))
	if r.onRemove != nil {
		r.onRemove(c, reason)
	}
	return true
}

// ForEach iterates over a copy, fn may call Remove.
// Order is unspecified.
func (r *Registry) ForEach(fn func(Conn)) {
	for _, c := range r.Conns() {
		fn(c)
	}
}

func (r *Registry) Conns() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs := make([]Conn, 0, len(r.m))
	for _, c := range r.m {
		cs = append(cs, c)
	}
	return cs
}

func (r *Registry) Get(id string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.m[id]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

// CloseAll removes and closes every connection, further Add fails.
func (r *Registry) CloseAll(reason error) int {
	var cs []Conn
	helpers.WithLock(&r.mu, func() {
		r.closed = true
		cs = make([]Conn, 0, len(r.m))
		for id, c := range r.m {
			cs = append(cs, c)
			delete(r.m, id)
		}
	})
	for _, c := range cs {
		_ = c.die(reason)
		if r.onRemove != nil {
			r.onRemove(c, reason)
		}
	}
	return len(cs)
}
