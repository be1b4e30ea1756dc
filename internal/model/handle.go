package model

import (
	"fmt"
	"sync"

	"github.com/dudu/facekit/internal/face"
)

// Releaser is the lifecycle shared by every per-role handle
type Releaser interface {
	Role() Role
	Release() error
	Released() bool
}

// Handle owns exactly one native object loaded for a role. Evaluations run
// under a read lock, so release waits for in-flight calls and a released
// handle can never be dereferenced.
type Handle[T any] struct {
	role     Role
	path     string
	mu       sync.RWMutex
	native   T
	destroy  func(T) error
	released bool
}

// Acquire resolves role in the bundle and opens its native object. Any
// failure is reported as face.ErrModelLoad.
func Acquire[T any](b *Bundle, role Role, open func(path string) (T, error), destroy func(T) error) (*Handle[T], error) {
	if b == nil {
		return nil, fmt.Errorf("%w: %s: no bundle", face.ErrModelLoad, role)
	}
	path, err := b.Resolve(role)
	if err != nil {
		return nil, err
	}

	native, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", face.ErrModelLoad, role, err)
	}
	return NewHandle(role, path, native, destroy), nil
}

// NewHandle wraps an already opened native object
func NewHandle[T any](role Role, path string, native T, destroy func(T) error) *Handle[T] {
	return &Handle[T]{
		role:    role,
		path:    path,
		native:  native,
		destroy: destroy,
	}
}

// Role returns the role the handle was loaded for
func (h *Handle[T]) Role() Role {
	return h.role
}

// Path returns the resource the handle was loaded from
func (h *Handle[T]) Path() string {
	return h.path
}

// Do evaluates fn against the native object. A nil handle reports
// face.ErrModelNotLoaded and a released one face.ErrUseAfterRelease.
func (h *Handle[T]) Do(fn func(T) error) error {
	if h == nil {
		return face.ErrModelNotLoaded
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.released {
		return fmt.Errorf("%w: %s handle", face.ErrUseAfterRelease, h.role)
	}
	return fn(h.native)
}

// Release tears down the native object. Calling it again is a no-op.
func (h *Handle[T]) Release() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true

	var zero T
	native := h.native
	h.native = zero
	if h.destroy == nil {
		return nil
	}
	if err := h.destroy(native); err != nil {
		return fmt.Errorf("failed to release %s: %w", h.role, err)
	}
	return nil
}

// Released reports whether Release has been called
func (h *Handle[T]) Released() bool {
	if h == nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.released
}
