// Package backend implements the pluggable transmission paths, host
// capability detection and the priority-ordered selector that falls back
// from one path to the next when sends fail.
package backend

import (
	"net/netip"
	"sort"
	"sync"
)

// Backend is one transmission path. A Backend owns every OS handle it
// opens. Init is called once before the first send; Cleanup may be called
// any number of times, including after a failed Init.
type Backend interface {
	Init() error
	Send(data []byte, dst netip.AddrPort) (int, error)
	// SendBatch transmits as many packets as the path allows and reports
	// how many were sent.
	SendBatch(packets [][]byte, dst netip.AddrPort) (int, error)
	Cleanup() error
	Type() Type
}

// Factory constructs an uninitialized Backend.
type Factory func() Backend

// Registry maps backend types to their factories. Build-tagged files
// register the variants compiled for the current OS from init.
type Registry struct {
	mu        sync.RWMutex
	factories map[Type]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[Type]Factory)}
}

func (r *Registry) Register(t Type, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = f
}

func (r *Registry) Has(t Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[t]
	return ok
}

// New constructs a Backend of type t, or fails with ErrNotAvailable when
// no implementation is registered.
func (r *Registry) New(t Type) (Backend, error) {
	r.mu.RLock()
	f, ok := r.factories[t]
	r.mu.RUnlock()
	if !ok {
		return nil, notAvailable("no implementation of %s on this platform", t)
	}
	return f(), nil
}

// Types returns the registered types in enumeration order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var defaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
func Register(t Type, f Factory) {
	defaultRegistry.Register(t, f)
}

// DefaultRegistry returns the registry populated by this platform's
// variants.
func DefaultRegistry() *Registry {
	return defaultRegistry
}
