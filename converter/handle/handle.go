// Package handle provides addressable references to in-memory output bytes.
//
// A Handle stands in for a downloadable blob: consumers pass the handle
// around instead of copying the bytes, and release it when the owning queue
// entry is removed. Releasing is the only manual resource management in the
// system.
package handle

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrReleased = errors.New("handle already released")

// Handle is an addressable reference to one immutable byte payload.
type Handle struct {
	ID        string
	Name      string
	MediaType string

	mu       sync.Mutex
	data     []byte
	released bool
	reg      *Registry
}

// Bytes returns the payload, or ErrReleased after Release.
func (h *Handle) Bytes() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, ErrReleased
	}
	return h.data, nil
}

// Size returns the payload length in bytes, 0 after release.
func (h *Handle) Size() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return 0
	}
	return int64(len(h.data))
}

// Release drops the payload and unregisters the handle. Safe to call more
// than once; only the first call has any effect.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	h.data = nil
	h.mu.Unlock()

	if h.reg != nil {
		h.reg.drop(h.ID)
	}
}

// Registry tracks every live handle so leaks are observable.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// New registers a handle over data. The registry does not copy data; the
// caller must not mutate it afterwards.
func (r *Registry) New(name, mediaType string, data []byte) *Handle {
	h := &Handle{
		ID:        uuid.New().String(),
		Name:      name,
		MediaType: mediaType,
		data:      data,
		reg:       r,
	}

	r.mu.Lock()
	r.handles[h.ID] = h
	r.mu.Unlock()

	return h
}

// Get looks up a live handle by ID.
func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	return h, ok
}

// Len reports the number of live (unreleased) handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

func (r *Registry) drop(id string) {
	r.mu.Lock()
	delete(r.handles, id)
	r.mu.Unlock()
}
