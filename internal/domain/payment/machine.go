package payment

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// State is the confirmation state of a payment session.
type State string

const (
	StateIdle           State = "idle"
	StateConfirming     State = "confirming"
	StateSucceeded      State = "succeeded"
	StateRequiresAction State = "requires_action"
	StateFailed         State = "failed"
)

var (
	// ErrConfirmationInFlight is returned when a confirmation is already
	// running for the session.
	ErrConfirmationInFlight = errors.New("confirmation already in flight")
	// ErrStaleAttempt is returned when the session was cancelled or replaced
	// while the gateway call was in flight. The result was discarded.
	ErrStaleAttempt = errors.New("confirmation attempt is no longer active")
	// ErrSessionClosed is returned when confirming a closed session.
	ErrSessionClosed = errors.New("payment session closed")
)

// CompletionFunc runs once the gateway reports a succeeded intent.
type CompletionFunc func(ctx context.Context, payable Payable) error

// ConfirmRequest carries operator input for one confirmation attempt.
type ConfirmRequest struct {
	PaymentMethodID string
}

// Outcome is the result of a confirmation attempt.
type Outcome struct {
	State State
	// RedirectURL is where the payer must go for step-up authentication.
	RedirectURL string
	// ConfirmationURL is the view to navigate to after NavigateAfter.
	ConfirmationURL string
	NavigateAfter   time.Duration
	// Message is the operator-facing text of a failed attempt.
	Message string
}

// SessionConfig configures confirmation sessions.
type SessionConfig struct {
	// ReturnURL is the reconciliation view the gateway redirects back to.
	ReturnURL string
	// ConfirmationURL is the view shown after a successful payment.
	ConfirmationURL string
	// NavigateAfter delays navigation so the success indication can render.
	NavigateAfter time.Duration
}

// DefaultNavigateAfter is the delay before leaving a succeeded payment.
const DefaultNavigateAfter = 1500 * time.Millisecond

// Machine is the confirmation state machine of one payment intent.
//
// Every attempt takes a generation number. Cancel and Close bump the
// generation, so results of earlier attempts are discarded when they arrive.
type Machine struct {
	payable   Payable
	intentID  string
	gateway   Gateway
	cfg       SessionConfig
	onSuccess CompletionFunc

	mu         sync.Mutex
	secret     string
	state      State
	generation uint64
	completed  bool
	closed     bool
}

// NewMachine creates an idle machine for intent.
func NewMachine(intent *PaymentIntent, gateway Gateway, cfg SessionConfig, onSuccess CompletionFunc) *Machine {
	if cfg.NavigateAfter == 0 {
		cfg.NavigateAfter = DefaultNavigateAfter
	}
	return &Machine{
		payable:   intent.Payable,
		intentID:  intent.ID,
		secret:    intent.ClientSecret,
		gateway:   gateway,
		cfg:       cfg,
		onSuccess: onSuccess,
		state:     StateIdle,
	}
}

// Payable returns the payable this machine settles.
func (m *Machine) Payable() Payable {
	return m.payable
}

// IntentID returns the gateway intent id.
func (m *Machine) IntentID() string {
	return m.intentID
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReturnURL is the gateway return URL carrying the correlation token.
func (m *Machine) ReturnURL() string {
	u, err := url.Parse(m.cfg.ReturnURL)
	if err != nil {
		return m.cfg.ReturnURL
	}
	q := u.Query()
	q.Set(m.payable.Kind.QueryParam(), m.payable.ID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (m *Machine) confirmationURL() string {
	u, err := url.Parse(m.cfg.ConfirmationURL)
	if err != nil {
		return m.cfg.ConfirmationURL
	}
	q := u.Query()
	q.Set(m.payable.Kind.QueryParam(), m.payable.ID)
	u.RawQuery = q.Encode()
	return u.String()
}

// begin moves the machine into confirming and returns the attempt generation.
func (m *Machine) begin() (uint64, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return 0, "", ErrSessionClosed
	case m.state == StateConfirming:
		return 0, "", ErrConfirmationInFlight
	}
	m.generation++
	m.state = StateConfirming
	return m.generation, m.secret, nil
}

// settle applies the result of attempt gen if it is still the active one.
func (m *Machine) settle(gen uint64, state State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || m.closed {
		return false
	}
	m.state = state
	if state == StateSucceeded {
		m.secret = ""
	}
	return true
}

// Confirm runs one confirmation attempt against the gateway.
//
// Gateway errors are returned as *GatewayError, unknown intent statuses as
// *UnexpectedStatusError. Both leave the machine failed and retryable.
func (m *Machine) Confirm(ctx context.Context, req ConfirmRequest) (*Outcome, error) {
	m.mu.Lock()
	if m.state == StateSucceeded && !m.closed {
		done := m.completed
		m.mu.Unlock()
		if !done {
			if err := m.complete(ctx); err != nil {
				return nil, err
			}
		}
		return m.succeeded(), nil
	}
	m.mu.Unlock()

	gen, secret, err := m.begin()
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx).With(
		zap.Stringer("payable", m.payable),
		zap.Uint64("attempt", gen),
	)

	res, err := m.gateway.Confirm(ctx, GatewayConfirmRequest{
		ClientSecret:    secret,
		ReturnURL:       m.ReturnURL(),
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		res = GatewayResult{Error: &GatewayError{Kind: GatewayAPIError, Message: err.Error()}}
	}

	switch {
	case res.Error != nil:
		if !m.settle(gen, StateFailed) {
			lg.Info("Discarding stale gateway error", zap.String("kind", string(res.Error.Kind)))
			return nil, ErrStaleAttempt
		}
		lg.Info("Payment failed", zap.String("kind", string(res.Error.Kind)), zap.String("code", res.Error.Code))
		return &Outcome{State: StateFailed, Message: res.Error.UserMessage()}, res.Error

	case res.Intent == nil || res.Intent.Status == IntentRequiresAction:
		if !m.settle(gen, StateRequiresAction) {
			return nil, ErrStaleAttempt
		}
		out := &Outcome{State: StateRequiresAction}
		if res.Intent != nil {
			out.RedirectURL = res.Intent.RedirectURL
		}
		lg.Info("Payment requires action")
		return out, nil

	case res.Intent.Status == IntentSucceeded:
		if !m.settle(gen, StateSucceeded) {
			lg.Warn("Discarding stale succeeded result")
			return nil, ErrStaleAttempt
		}
		lg.Info("Payment succeeded")
		if err := m.complete(ctx); err != nil {
			return nil, err
		}
		return m.succeeded(), nil

	default:
		if !m.settle(gen, StateFailed) {
			return nil, ErrStaleAttempt
		}
		statusErr := &UnexpectedStatusError{Status: res.Intent.Status}
		lg.Warn("Payment ended with unexpected status", zap.String("status", string(res.Intent.Status)))
		return &Outcome{State: StateFailed, Message: statusErr.Error()}, statusErr
	}
}

func (m *Machine) complete(ctx context.Context) error {
	if m.onSuccess != nil {
		if err := m.onSuccess(ctx, m.payable); err != nil {
			return errors.Wrapf(err, "complete %s", m.payable)
		}
	}
	m.mu.Lock()
	m.completed = true
	m.mu.Unlock()
	return nil
}

func (m *Machine) succeeded() *Outcome {
	return &Outcome{
		State:           StateSucceeded,
		ConfirmationURL: m.confirmationURL(),
		NavigateAfter:   m.cfg.NavigateAfter,
	}
}

// Cancel abandons the active attempt. A request already in flight still
// completes, but its result is discarded.
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	if m.state == StateConfirming {
		m.state = StateIdle
	}
}

// Close cancels the machine for good and forgets the client secret.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	m.closed = true
	m.secret = ""
}
