package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RecordStatus is the durable status of a payment record.
type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordCompleted RecordStatus = "completed"
	RecordFailed    RecordStatus = "failed"
)

// Record is the durable trace of a payment awaiting gateway confirmation.
// It never holds the client secret.
type Record struct {
	Payable     Payable
	IntentID    string
	PayerID     string
	Amount      decimal.Decimal
	Status      RecordStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
	NotifiedAt  *time.Time
}

// RecordNotFoundError indicates no payment record exists for a payable.
type RecordNotFoundError struct {
	Payable Payable
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("no payment recorded for %s", e.Payable)
}

// Ledger persists payment records.
type Ledger interface {
	// Record stores a pending record, resetting an earlier failed or pending
	// record of the same payable.
	Record(ctx context.Context, rec Record) error
	Find(ctx context.Context, p Payable) (*Record, error)
	// Complete moves a pending record to completed. It reports whether this
	// call performed the transition.
	Complete(ctx context.Context, p Payable) (bool, error)
	Fail(ctx context.Context, p Payable) error
	// MarkNotified records that the completion notice was emitted. It
	// reports whether this call set the mark.
	MarkNotified(ctx context.Context, p Payable) (bool, error)
}

// Completer finishes a payable once its payment succeeded. Implementations
// are idempotent and report whether this call completed it.
type Completer interface {
	CompletePayment(ctx context.Context, p Payable) (bool, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, p Payable) (bool, error)

func (f CompleterFunc) CompletePayment(ctx context.Context, p Payable) (bool, error) {
	return f(ctx, p)
}

// UnknownPayableError is returned when no completer handles a payable kind.
type UnknownPayableError struct {
	Kind PayableKind
}

func (e *UnknownPayableError) Error() string {
	return fmt.Sprintf("unknown payable kind %q", e.Kind)
}

// CompletionRouter dispatches completion by payable kind.
type CompletionRouter map[PayableKind]Completer

func (r CompletionRouter) CompletePayment(ctx context.Context, p Payable) (bool, error) {
	c, ok := r[p.Kind]
	if !ok {
		return false, &UnknownPayableError{Kind: p.Kind}
	}
	return c.CompletePayment(ctx, p)
}

// OnSuccess adapts c to a machine completion hook.
func OnSuccess(c Completer) CompletionFunc {
	return func(ctx context.Context, p Payable) error {
		_, err := c.CompletePayment(ctx, p)
		return err
	}
}

var _ Completer = CompletionRouter(nil)
