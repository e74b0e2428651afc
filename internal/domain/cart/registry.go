package cart

import (
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ErrCartNotFound is returned when a cart session does not exist.
var ErrCartNotFound = errors.New("cart not found")

// Registry holds the open cart sessions of the process.
type Registry struct {
	mu    sync.RWMutex
	carts map[string]*Cart
	newID func() string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		carts: make(map[string]*Cart),
		newID: func() string { return uuid.New().String() },
	}
}

// Open creates a new empty cart session.
func (r *Registry) Open() *Cart {
	c := New(r.newID())

	r.mu.Lock()
	r.carts[c.ID()] = c
	r.mu.Unlock()

	return c
}

// Get returns the cart with the given id.
func (r *Registry) Get(id string) (*Cart, error) {
	r.mu.RLock()
	c, ok := r.carts[id]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrCartNotFound
	}
	return c, nil
}

// Lookup is like Get but reports presence instead of an error.
func (r *Registry) Lookup(id string) (*Cart, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.carts[id]
	return c, ok
}

// Drop forgets a cart session.
func (r *Registry) Drop(id string) {
	r.mu.Lock()
	delete(r.carts, id)
	r.mu.Unlock()
}
