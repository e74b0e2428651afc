package stripe

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/xenking/vetclinic-pos/internal/domain/payment"
)

// --- Mock implementations ---

type mockAPI struct {
	pi     *stripe.PaymentIntent
	err    error
	id     string
	params *stripe.PaymentIntentConfirmParams
}

func (m *mockAPI) Confirm(_ context.Context, id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error) {
	m.id = id
	m.params = params
	return m.pi, m.err
}

func (m *mockAPI) Get(_ context.Context, id string) (*stripe.PaymentIntent, error) {
	m.id = id
	return m.pi, m.err
}

// --- Tests ---

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "test key", cfg: Config{APIKey: "sk_test_123"}},
		{name: "restricted live key", cfg: Config{Environment: "LIVE", APIKey: "rk_live_123"}},
		{name: "missing key", cfg: Config{Environment: "test"}, wantErr: true},
		{name: "live key in test", cfg: Config{Environment: "test", APIKey: "sk_live_123"}, wantErr: true},
		{name: "unknown env", cfg: Config{Environment: "staging", APIKey: "sk_test_123"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfirm_Succeeded(t *testing.T) {
	api := &mockAPI{pi: &stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusSucceeded}}
	g := &Gateway{api: api}

	res, err := g.Confirm(context.Background(), payment.GatewayConfirmRequest{
		ClientSecret:    "pi_1_secret_abc",
		ReturnURL:       "https://clinic.example/pos/return?sale_id=42",
		PaymentMethodID: "pm_card_visa",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Intent)
	assert.Nil(t, res.Error)
	assert.Equal(t, payment.IntentSucceeded, res.Intent.Status)

	assert.Equal(t, "pi_1", api.id)
	assert.Equal(t, "https://clinic.example/pos/return?sale_id=42", stripe.StringValue(api.params.ReturnURL))
	assert.Equal(t, "pm_card_visa", stripe.StringValue(api.params.PaymentMethod))
}

func TestConfirm_RequiresAction(t *testing.T) {
	api := &mockAPI{pi: &stripe.PaymentIntent{
		ID:     "pi_1",
		Status: stripe.PaymentIntentStatusRequiresAction,
		NextAction: &stripe.PaymentIntentNextAction{
			RedirectToURL: &stripe.PaymentIntentNextActionRedirectToURL{URL: "https://hooks.stripe.com/3ds"},
		},
	}}
	g := &Gateway{api: api}

	res, err := g.Confirm(context.Background(), payment.GatewayConfirmRequest{ClientSecret: "pi_1_secret_abc"})
	require.NoError(t, err)
	assert.Equal(t, payment.IntentRequiresAction, res.Intent.Status)
	assert.Equal(t, "https://hooks.stripe.com/3ds", res.Intent.RedirectURL)
	assert.Nil(t, api.params.PaymentMethod)
}

func TestConfirm_Errors(t *testing.T) {
	rateLimited := &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests, Msg: "slow down",
		APIResource: stripe.APIResource{LastResponse: &stripe.APIResponse{Header: http.Header{"Retry-After": []string{"3"}}}}}

	tests := []struct {
		name  string
		err   error
		kind  payment.GatewayErrorKind
		retry time.Duration
		msg   string
	}{
		{name: "declined", err: &stripe.Error{Type: stripe.ErrorTypeCard, Code: stripe.ErrorCodeCardDeclined, Msg: "Your card was declined.", HTTPStatusCode: 402},
			kind: payment.GatewayCardError, msg: "Your card was declined."},
		{name: "rate limited", err: rateLimited, kind: payment.GatewayRateLimitError, retry: 3 * time.Second},
		{name: "bad key", err: &stripe.Error{HTTPStatusCode: http.StatusUnauthorized}, kind: payment.GatewayAuthError},
		{name: "server", err: &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: 500}, kind: payment.GatewayAPIError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &Gateway{api: &mockAPI{err: tt.err}}

			res, err := g.Confirm(context.Background(), payment.GatewayConfirmRequest{ClientSecret: "pi_1_secret_abc"})
			require.NoError(t, err)
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.kind, res.Error.Kind)
			assert.Equal(t, tt.retry, res.Error.RetryAfter)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, res.Error.UserMessage())
			}
		})
	}
}

func TestConfirm_TransportError(t *testing.T) {
	g := &Gateway{api: &mockAPI{err: errors.New("dial tcp: connection refused")}}

	_, err := g.Confirm(context.Background(), payment.GatewayConfirmRequest{ClientSecret: "pi_1_secret_abc"})
	require.Error(t, err)
}

func TestConfirm_MalformedSecret(t *testing.T) {
	api := &mockAPI{}
	g := &Gateway{api: api}

	res, err := g.Confirm(context.Background(), payment.GatewayConfirmRequest{ClientSecret: "garbage"})
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, payment.GatewayInvalidRequestError, res.Error.Kind)
	assert.Empty(t, api.id)
}

func TestVerify(t *testing.T) {
	api := &mockAPI{pi: &stripe.PaymentIntent{ID: "pi_7", Status: stripe.PaymentIntentStatusProcessing}}
	g := &Gateway{api: api}

	status, err := g.Verify(context.Background(), "pi_7")
	require.NoError(t, err)
	assert.Equal(t, payment.IntentProcessing, status)
	assert.Equal(t, "pi_7", api.id)
}
