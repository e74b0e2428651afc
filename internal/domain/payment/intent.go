// Package payment issues payment intents for payables and drives their
// confirmation against the payment gateway.
package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// PayableKind is the kind of entity a payment settles.
type PayableKind string

const (
	// PayableSale is a point-of-sale sale.
	PayableSale PayableKind = "sale"
	// PayableAppointment is a scheduled clinic appointment.
	PayableAppointment PayableKind = "appointment"
)

// Valid reports whether k is a known payable kind.
func (k PayableKind) Valid() bool {
	return k == PayableSale || k == PayableAppointment
}

// QueryParam is the return-URL parameter carrying ids of this kind.
func (k PayableKind) QueryParam() string {
	return string(k) + "_id"
}

// Payable identifies the entity being paid. It identifies, it never
// authorises.
type Payable struct {
	Kind PayableKind
	ID   string
}

func (p Payable) String() string {
	return fmt.Sprintf("%s %s", p.Kind, p.ID)
}

// PaymentIntent is a server-issued handle authorising confirmation of one
// charge. ClientSecret must only live as long as the active confirmation.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Payable      Payable
}

// IntentClient requests payment intents from the payment backend.
type IntentClient interface {
	CreateIntent(ctx context.Context, payable Payable) (*PaymentIntent, error)
}

// GatewaySetupError reports that no usable intent could be obtained.
type GatewaySetupError struct {
	Payable Payable
	Err     error
}

func (e *GatewaySetupError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("payment setup for %s failed", e.Payable)
	}
	return fmt.Sprintf("payment setup for %s failed: %v", e.Payable, e.Err)
}

func (e *GatewaySetupError) Unwrap() error {
	return e.Err
}

// ErrMissingSecret is wrapped by GatewaySetupError when the backend answers
// without a client secret.
var ErrMissingSecret = errors.New("payment intent has no client secret")

// IntentIDFromSecret extracts the intent id from a client secret of the
// form "<id>_secret_<nonce>".
func IntentIDFromSecret(secret string) (string, bool) {
	id, _, ok := strings.Cut(secret, "_secret_")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// IssueIntent requests an intent for payable and guarantees the result
// carries a client secret. Any failure is returned as *GatewaySetupError.
func IssueIntent(ctx context.Context, client IntentClient, payable Payable) (*PaymentIntent, error) {
	intent, err := client.CreateIntent(ctx, payable)
	if err != nil {
		return nil, &GatewaySetupError{Payable: payable, Err: err}
	}
	if intent == nil || intent.ClientSecret == "" {
		return nil, &GatewaySetupError{Payable: payable, Err: ErrMissingSecret}
	}
	if intent.ID == "" {
		intent.ID, _ = IntentIDFromSecret(intent.ClientSecret)
	}
	intent.Payable = payable
	return intent, nil
}
