package payment

import (
	"context"
	"fmt"
	"time"
)

// IntentStatus is the gateway-side status of a payment intent.
type IntentStatus string

const (
	IntentSucceeded             IntentStatus = "succeeded"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentCanceled              IntentStatus = "canceled"
)

// GatewayErrorKind classifies gateway failures.
type GatewayErrorKind string

const (
	// GatewayCardError is a declined or invalid card.
	GatewayCardError GatewayErrorKind = "card_error"
	// GatewayValidationError is a malformed payment form.
	GatewayValidationError GatewayErrorKind = "validation_error"
	// GatewayRateLimitError means too many attempts.
	GatewayRateLimitError GatewayErrorKind = "rate_limit_error"
	// GatewayAPIError is a gateway-side failure or an unreachable gateway.
	GatewayAPIError GatewayErrorKind = "api_error"
	// GatewayAuthError is a gateway credential problem.
	GatewayAuthError GatewayErrorKind = "authentication_error"
	// GatewayInvalidRequestError is a request the gateway refused.
	GatewayInvalidRequestError GatewayErrorKind = "invalid_request_error"
)

// GatewayError is a classified failure reported by the gateway.
type GatewayError struct {
	Kind    GatewayErrorKind
	Code    string
	Message string
	// RetryAfter is a hint for rate limit errors.
	RetryAfter time.Duration
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// UserMessage is the text shown to the operator. Card and validation errors
// are surfaced verbatim; gateway-side failures get a generic message.
func (e *GatewayError) UserMessage() string {
	switch e.Kind {
	case GatewayCardError, GatewayValidationError:
		if e.Message != "" {
			return e.Message
		}
		return "The payment details were rejected."
	case GatewayRateLimitError:
		return "Too many payment attempts. Please wait a moment and try again."
	default:
		return "The payment could not be processed. Please try again."
	}
}

// ClassifyGatewayError maps a raw gateway error type onto the taxonomy.
// Unknown types are treated as gateway-side API errors.
func ClassifyGatewayError(errType string, httpStatus int) GatewayErrorKind {
	switch GatewayErrorKind(errType) {
	case GatewayCardError, GatewayValidationError, GatewayRateLimitError,
		GatewayAuthError, GatewayInvalidRequestError, GatewayAPIError:
		return GatewayErrorKind(errType)
	}
	switch httpStatus {
	case 429:
		return GatewayRateLimitError
	case 401, 403:
		return GatewayAuthError
	case 400, 404:
		return GatewayInvalidRequestError
	}
	return GatewayAPIError
}

// UnexpectedStatusError reports an intent settling in a status that is
// neither success nor a recognised step-up action.
type UnexpectedStatusError struct {
	Status IntentStatus
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("payment ended with unexpected status %q", e.Status)
}

// GatewayConfirmRequest is the input of a gateway confirmation.
type GatewayConfirmRequest struct {
	ClientSecret    string
	ReturnURL       string
	PaymentMethodID string
}

// GatewayIntent is the intent state returned by a confirmation.
type GatewayIntent struct {
	ID     string
	Status IntentStatus
	// RedirectURL is the step-up authentication page when Status is
	// IntentRequiresAction.
	RedirectURL string
}

// GatewayResult is either an error, an intent, or neither when the gateway
// has taken over with a redirect.
type GatewayResult struct {
	Error  *GatewayError
	Intent *GatewayIntent
}

// Gateway confirms payment intents. A returned Go error means the gateway
// could not be reached at all.
type Gateway interface {
	Confirm(ctx context.Context, req GatewayConfirmRequest) (GatewayResult, error)
}
