// Package sale turns carts into priced sales and settles them in cash or by
// card.
package sale

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/vetclinic-pos/internal/domain/cart"
	"github.com/xenking/vetclinic-pos/internal/domain/pricing"
)

// Status is the lifecycle state of a sale.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusSubmitted       Status = "submitted"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

var transitions = map[Status][]Status{
	StatusDraft:           {StatusSubmitted},
	StatusSubmitted:       {StatusCompleted, StatusAwaitingPayment},
	StatusAwaitingPayment: {StatusCompleted, StatusFailed},
}

// CanTransitionTo reports whether s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentMethod is how a sale is settled.
type PaymentMethod string

const (
	MethodCash PaymentMethod = "cash"
	MethodCard PaymentMethod = "card"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	return m == MethodCash || m == MethodCard
}

// Item is a priced line of a sale.
type Item struct {
	CatalogID string
	Kind      cart.Kind
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Sale is a submitted, priced transaction derived from a cart snapshot.
type Sale struct {
	ID            string
	CartID        string
	PayerID       string
	Items         []Item
	PaymentMethod PaymentMethod
	Pricing       pricing.Breakdown
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (s *Sale) transition(next Status) error {
	if !s.Status.CanTransitionTo(next) {
		return &TransitionError{From: s.Status, To: next}
	}
	s.Status = next
	return nil
}

// ErrIllegalTransition is matched by every *TransitionError.
var ErrIllegalTransition = errors.New("illegal sale status transition")

// TransitionError reports a status change the lifecycle does not allow.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("sale cannot move from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// ValidationError names the missing or invalid submission input. It is
// raised before any remote call.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// SubmissionError reports that the sale-recording service rejected the
// sale or could not be reached.
type SubmissionError struct {
	// Reason is the server-supplied explanation, if any.
	Reason string
	Err    error
}

// DefaultSubmissionReason is shown when the service gives no reason.
const DefaultSubmissionReason = "The sale could not be recorded. Please try again."

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submit sale: %s: %v", e.Message(), e.Err)
	}
	return "submit sale: " + e.Message()
}

// Message is the operator-facing reason.
func (e *SubmissionError) Message() string {
	if e.Reason != "" {
		return e.Reason
	}
	return DefaultSubmissionReason
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

var (
	// ErrPaymentPending is returned when the cart already has a sale
	// awaiting card payment.
	ErrPaymentPending = errors.New("cart has a sale awaiting payment")
	// ErrSubmissionInProgress is returned when the cart is being submitted
	// with another payment method.
	ErrSubmissionInProgress = errors.New("cart submission in progress")
	// ErrSaleNotFound is returned by repositories for unknown sales.
	ErrSaleNotFound = errors.New("sale not found")
)

// RecordRequest is what the sale-recording service receives.
type RecordRequest struct {
	PayerID       string
	Items         []Item
	PaymentMethod PaymentMethod
	Pricing       pricing.Breakdown
}

// RecordResult is the sale-recording service response. ClientSecret is
// only echoed for card sales.
type RecordResult struct {
	SaleID       string
	ClientSecret string
}

// Recorder submits sales to the remote sale-recording service.
type Recorder interface {
	RecordSale(ctx context.Context, req RecordRequest) (*RecordResult, error)
}

// Repository persists sales.
type Repository interface {
	Create(ctx context.Context, s *Sale) error
	Get(ctx context.Context, id string) (*Sale, error)
	// UpdateStatus moves the sale from one status to another and reports
	// whether the sale was in status from.
	UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error)
}
