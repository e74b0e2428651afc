// Package stripe confirms and verifies payment intents through Stripe.
package stripe

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"go.uber.org/zap"

	"github.com/xenking/vetclinic-pos/internal/domain/payment"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Config configures the Stripe gateway.
type Config struct {
	Environment string `default:"test" usage:"Stripe environment (test or live)"`
	APIKey      string `usage:"Stripe secret key (VETPOS_STRIPE_API_KEY or STRIPE_SECRET_KEY)"`
}

// intentAPI is the subset of the Stripe payment intent API in use.
type intentAPI interface {
	Confirm(ctx context.Context, id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
	Get(ctx context.Context, id string) (*stripe.PaymentIntent, error)
}

type packageAPI struct{}

func (packageAPI) Confirm(ctx context.Context, id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error) {
	params.Context = ctx
	return paymentintent.Confirm(id, params)
}

func (packageAPI) Get(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	return paymentintent.Get(id, params)
}

// Gateway implements payment.Gateway on top of Stripe.
type Gateway struct {
	api         intentAPI
	environment string
}

var _ payment.Gateway = (*Gateway)(nil)

// New validates cfg and initialises the Stripe SDK.
func New(ctx context.Context, cfg Config) (*Gateway, error) {
	env, err := normalizeEnv(cfg.Environment)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errAPIKeyRequired
	}
	if err := validateAPIKey(env, key); err != nil {
		return nil, err
	}
	stripe.Key = key

	zctx.From(ctx).Info("Stripe gateway initialized", zap.String("environment", env))
	return &Gateway{api: packageAPI{}, environment: env}, nil
}

// Environment reports the normalized Stripe environment.
func (g *Gateway) Environment() string {
	return g.environment
}

// Confirm confirms the intent identified by req.ClientSecret. Stripe API
// errors are reported in the result; only transport failures are returned
// as errors.
func (g *Gateway) Confirm(ctx context.Context, req payment.GatewayConfirmRequest) (payment.GatewayResult, error) {
	id, ok := payment.IntentIDFromSecret(req.ClientSecret)
	if !ok {
		return payment.GatewayResult{Error: &payment.GatewayError{
			Kind:    payment.GatewayInvalidRequestError,
			Message: "malformed client secret",
		}}, nil
	}

	params := &stripe.PaymentIntentConfirmParams{}
	if req.ReturnURL != "" {
		params.ReturnURL = stripe.String(req.ReturnURL)
	}
	if req.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethodID)
	}

	pi, err := g.api.Confirm(ctx, id, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			return payment.GatewayResult{Error: gatewayError(stripeErr)}, nil
		}
		return payment.GatewayResult{}, errors.Wrap(err, "confirm payment intent")
	}
	return payment.GatewayResult{Intent: gatewayIntent(pi)}, nil
}

// Verify returns the current status of an intent.
func (g *Gateway) Verify(ctx context.Context, intentID string) (payment.IntentStatus, error) {
	pi, err := g.api.Get(ctx, intentID)
	if err != nil {
		return "", errors.Wrap(err, "get payment intent")
	}
	return payment.IntentStatus(pi.Status), nil
}

func gatewayIntent(pi *stripe.PaymentIntent) *payment.GatewayIntent {
	if pi == nil {
		return nil
	}
	out := &payment.GatewayIntent{ID: pi.ID, Status: payment.IntentStatus(pi.Status)}
	if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
		out.RedirectURL = pi.NextAction.RedirectToURL.URL
	}
	return out
}

func gatewayError(e *stripe.Error) *payment.GatewayError {
	out := &payment.GatewayError{
		Kind:    payment.ClassifyGatewayError(string(e.Type), e.HTTPStatusCode),
		Code:    string(e.Code),
		Message: e.Msg,
	}
	if out.Kind == payment.GatewayRateLimitError && e.LastResponse != nil {
		if secs, err := strconv.Atoi(e.LastResponse.Header.Get("Retry-After")); err == nil && secs > 0 {
			out.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return out
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	prefix := "sk_" + env
	if strings.HasPrefix(key, prefix) || strings.HasPrefix(key, "rk_"+env) {
		return nil
	}
	return fmt.Errorf("stripe environment %q requires a %s secret key", env, prefix)
}
