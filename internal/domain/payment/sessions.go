package payment

import (
	"sync"

	"github.com/go-faster/errors"
)

// ErrNoSession is returned when no confirmation session is open for a payable.
var ErrNoSession = errors.New("no payment session")

// Sessions holds the active confirmation machine of every payable.
type Sessions struct {
	gateway Gateway
	cfg     SessionConfig

	mu       sync.Mutex
	machines map[Payable]*Machine
}

// NewSessions creates an empty registry.
func NewSessions(gateway Gateway, cfg SessionConfig) *Sessions {
	return &Sessions{
		gateway:  gateway,
		cfg:      cfg,
		machines: make(map[Payable]*Machine),
	}
}

// Open starts a session for intent, closing any previous session of the
// same payable.
func (s *Sessions) Open(intent *PaymentIntent, onSuccess CompletionFunc) *Machine {
	m := NewMachine(intent, s.gateway, s.cfg, onSuccess)

	s.mu.Lock()
	prev := s.machines[intent.Payable]
	s.machines[intent.Payable] = m
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return m
}

// Get returns the open session of p.
func (s *Sessions) Get(p Payable) (*Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.machines[p]
	if !ok {
		return nil, errors.Wrapf(ErrNoSession, "%s", p)
	}
	return m, nil
}

// Close closes and forgets the session of p, if any.
func (s *Sessions) Close(p Payable) {
	s.mu.Lock()
	m := s.machines[p]
	delete(s.machines, p)
	s.mu.Unlock()

	if m != nil {
		m.Close()
	}
}

// Len returns the number of open sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.machines)
}
