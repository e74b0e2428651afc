package sale

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/vetclinic-pos/internal/domain/cart"
	"github.com/xenking/vetclinic-pos/internal/domain/payment"
	"github.com/xenking/vetclinic-pos/internal/domain/pricing"
)

// --- Mock implementations ---

type mockRecorder struct {
	mu       sync.Mutex
	requests []RecordRequest
	err      error
	secret   string
	started  chan struct{}
	release  chan struct{}
}

func (r *mockRecorder) RecordSale(_ context.Context, req RecordRequest) (*RecordResult, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	n := len(r.requests)
	r.mu.Unlock()

	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.release != nil {
		<-r.release
	}
	if r.err != nil {
		return nil, r.err
	}
	return &RecordResult{SaleID: "sale-" + strconv.Itoa(n), ClientSecret: r.secret}, nil
}

func (r *mockRecorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

type mockIntents struct {
	mu    sync.Mutex
	calls []payment.Payable
	err   error
}

func (m *mockIntents) CreateIntent(_ context.Context, p payment.Payable) (*payment.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, p)
	if m.err != nil {
		return nil, m.err
	}
	return &payment.PaymentIntent{ID: "pi_" + p.ID, ClientSecret: "pi_" + p.ID + "_secret_x"}, nil
}

type memSales struct {
	mu    sync.Mutex
	sales map[string]Sale
}

func newMemSales() *memSales {
	return &memSales{sales: make(map[string]Sale)}
}

func (m *memSales) Create(_ context.Context, s *Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales[s.ID] = *s
	return nil
}

func (m *memSales) Get(_ context.Context, id string) (*Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[id]
	if !ok {
		return nil, ErrSaleNotFound
	}
	return &s, nil
}

func (m *memSales) UpdateStatus(_ context.Context, id string, from, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[id]
	if !ok {
		return false, ErrSaleNotFound
	}
	if s.Status != from {
		return false, nil
	}
	s.Status = to
	m.sales[id] = s
	return true, nil
}

type memLedger struct {
	mu      sync.Mutex
	records map[payment.Payable]payment.Record
}

func newMemLedger() *memLedger {
	return &memLedger{records: make(map[payment.Payable]payment.Record)}
}

func (l *memLedger) Record(_ context.Context, rec payment.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[rec.Payable] = rec
	return nil
}

func (l *memLedger) Find(_ context.Context, p payment.Payable) (*payment.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[p]
	if !ok {
		return nil, &payment.RecordNotFoundError{Payable: p}
	}
	return &rec, nil
}

func (l *memLedger) Complete(_ context.Context, p payment.Payable) (bool, error) {
	return l.move(p, payment.RecordCompleted), nil
}

func (l *memLedger) Fail(_ context.Context, p payment.Payable) error {
	l.move(p, payment.RecordFailed)
	return nil
}

func (l *memLedger) MarkNotified(context.Context, payment.Payable) (bool, error) {
	return true, nil
}

func (l *memLedger) move(p payment.Payable, to payment.RecordStatus) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[p]
	if !ok || rec.Status != payment.RecordPending {
		return false
	}
	rec.Status = to
	l.records[p] = rec
	return true
}

func (l *memLedger) status(p payment.Payable) payment.RecordStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records[p].Status
}

type stubGateway struct {
	result payment.GatewayResult
}

func (g *stubGateway) Confirm(context.Context, payment.GatewayConfirmRequest) (payment.GatewayResult, error) {
	return g.result, nil
}

// --- Fixture ---

type fixture struct {
	carts    *cart.Registry
	recorder *mockRecorder
	intents  *mockIntents
	sales    *memSales
	ledger   *memLedger
	sessions *payment.Sessions
	gateway  *stubGateway
	coord    *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		carts:    cart.NewRegistry(),
		recorder: &mockRecorder{},
		intents:  &mockIntents{},
		sales:    newMemSales(),
		ledger:   newMemLedger(),
		gateway:  &stubGateway{},
	}
	f.sessions = payment.NewSessions(f.gateway, payment.SessionConfig{
		ReturnURL:       "https://clinic.example/pos/return",
		ConfirmationURL: "https://clinic.example/pos/done",
	})
	f.coord = NewCoordinator(CoordinatorParams{
		Carts:      f.carts,
		Calculator: pricing.MustCalculator(decimal.RequireFromString("0.18")),
		Recorder:   f.recorder,
		Intents:    f.intents,
		Sales:      f.sales,
		Ledger:     f.ledger,
		Sessions:   f.sessions,
		Tracer:     noop.NewTracerProvider().Tracer("test"),
	})
	return f
}

// clinicCart is two Flea Shampoo at 25.00 and one Grooming at 80.00 for
// client 7.
func (f *fixture) clinicCart() *cart.Cart {
	c := f.carts.Open()
	shampoo := cart.LineItem{
		Key:       cart.Key{CatalogID: "p-1", Kind: cart.KindProduct},
		Name:      "Flea Shampoo",
		UnitPrice: decimal.RequireFromString("25.00"),
	}
	c.Add(shampoo)
	c.Add(shampoo)
	c.Add(cart.LineItem{
		Key:       cart.Key{CatalogID: "s-1", Kind: cart.KindService},
		Name:      "Grooming",
		UnitPrice: decimal.RequireFromString("80.00"),
	})
	c.SelectPayer("7")
	return c
}

// --- Tests ---

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusDraft, StatusSubmitted, true},
		{StatusDraft, StatusCompleted, false},
		{StatusSubmitted, StatusCompleted, true},
		{StatusSubmitted, StatusAwaitingPayment, true},
		{StatusAwaitingPayment, StatusCompleted, true},
		{StatusAwaitingPayment, StatusFailed, true},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}

	err := (&Sale{Status: StatusCompleted}).transition(StatusFailed)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestSubmit_Cash(t *testing.T) {
	f := newFixture(t)
	c := f.clinicCart()

	s, err := f.coord.Submit(context.Background(), c.ID(), MethodCash)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Snapshot().PayerID)
	assert.Empty(t, f.intents.calls)

	require.Len(t, f.recorder.requests, 1)
	req := f.recorder.requests[0]
	assert.Equal(t, "7", req.PayerID)
	assert.Equal(t, MethodCash, req.PaymentMethod)
	assert.Equal(t, "130.00", req.Pricing.Subtotal.StringFixed(2))
	assert.Equal(t, "23.40", req.Pricing.TaxAmount.StringFixed(2))
	assert.Equal(t, "153.40", req.Pricing.Total.StringFixed(2))
	require.Len(t, req.Items, 2)
	assert.Equal(t, 2, req.Items[0].Quantity)

	stored, err := f.sales.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
}

func TestSubmit_CardDeclined(t *testing.T) {
	f := newFixture(t)
	c := f.clinicCart()
	f.recorder.secret = "echoed_secret"

	s, err := f.coord.Submit(context.Background(), c.ID(), MethodCard)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingPayment, s.Status)
	assert.Equal(t, []payment.Payable{SalePayable(s.ID)}, f.intents.calls)
	assert.Equal(t, 2, c.Len())

	f.gateway.result = payment.GatewayResult{Error: &payment.GatewayError{
		Kind:    payment.GatewayCardError,
		Message: "Your card was declined.",
	}}
	out, err := f.coord.Confirm(context.Background(), s.ID, payment.ConfirmRequest{})

	var gwErr *payment.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, payment.StateFailed, out.State)
	assert.Equal(t, "Your card was declined.", out.Message)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, "7", c.Snapshot().PayerID)
	stored, err := f.coord.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingPayment, stored.Status)
	assert.Equal(t, payment.RecordPending, f.ledger.status(SalePayable(s.ID)))
	assert.Len(t, f.intents.calls, 1)
}

func TestSubmit_CardSucceeded(t *testing.T) {
	f := newFixture(t)
	c := f.clinicCart()

	s, err := f.coord.Submit(context.Background(), c.ID(), MethodCard)
	require.NoError(t, err)

	rec, err := f.ledger.Find(context.Background(), SalePayable(s.ID))
	require.NoError(t, err)
	assert.Equal(t, "pi_"+s.ID, rec.IntentID)
	assert.Equal(t, "153.40", rec.Amount.StringFixed(2))

	f.gateway.result = payment.GatewayResult{Intent: &payment.GatewayIntent{Status: payment.IntentSucceeded}}
	out, err := f.coord.Confirm(context.Background(), s.ID, payment.ConfirmRequest{PaymentMethodID: "pm_card_visa"})
	require.NoError(t, err)

	assert.Equal(t, payment.StateSucceeded, out.State)
	assert.Equal(t, 1500*time.Millisecond, out.NavigateAfter)
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.PendingSale())

	stored, err := f.coord.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, payment.RecordCompleted, f.ledger.status(SalePayable(s.ID)))
	assert.Zero(t, f.sessions.Len())
}

func TestSubmit_CardPendingRejectsResubmit(t *testing.T) {
	f := newFixture(t)
	c := f.clinicCart()

	_, err := f.coord.Submit(context.Background(), c.ID(), MethodCard)
	require.NoError(t, err)

	_, err = f.coord.Submit(context.Background(), c.ID(), MethodCard)
	require.ErrorIs(t, err, ErrPaymentPending)
	assert.Equal(t, 1, f.recorder.calls())
}

func TestSubmit_DoubleSubmitCoalesced(t *testing.T) {
	for _, method := range []PaymentMethod{MethodCash, MethodCard} {
		t.Run(string(method), func(t *testing.T) {
			f := newFixture(t)
			c := f.clinicCart()
			f.recorder.started = make(chan struct{}, 2)
			f.recorder.release = make(chan struct{})

			type result struct {
				sale *Sale
				err  error
			}
			results := make(chan result, 2)
			submit := func() {
				s, err := f.coord.Submit(context.Background(), c.ID(), method)
				results <- result{s, err}
			}

			go submit()
			<-f.recorder.started
			go submit()
			time.Sleep(20 * time.Millisecond)
			close(f.recorder.release)

			var sales []*Sale
			for range 2 {
				r := <-results
				if r.err != nil {
					// A late duplicate sees the settled cart instead.
					var vErr *ValidationError
					if !errors.As(r.err, &vErr) {
						require.ErrorIs(t, r.err, ErrPaymentPending)
					}
					continue
				}
				sales = append(sales, r.sale)
			}

			assert.Equal(t, 1, f.recorder.calls())
			require.NotEmpty(t, sales)
			for _, s := range sales {
				assert.Equal(t, "sale-1", s.ID)
			}
			if method == MethodCard {
				assert.Len(t, f.intents.calls, 1)
			}
		})
	}
}

func TestSubmit_ConcurrentMethodsDoNotShareResult(t *testing.T) {
	tests := []struct {
		first, second PaymentMethod
	}{
		{first: MethodCash, second: MethodCard},
		{first: MethodCard, second: MethodCash},
	}

	for _, tt := range tests {
		t.Run(string(tt.first)+" then "+string(tt.second), func(t *testing.T) {
			f := newFixture(t)
			c := f.clinicCart()
			f.recorder.started = make(chan struct{}, 2)
			f.recorder.release = make(chan struct{})

			firstDone := make(chan *Sale, 1)
			go func() {
				s, err := f.coord.Submit(context.Background(), c.ID(), tt.first)
				assert.NoError(t, err)
				firstDone <- s
			}()
			<-f.recorder.started

			secondDone := make(chan error, 1)
			go func() {
				s, err := f.coord.Submit(context.Background(), c.ID(), tt.second)
				assert.Nil(t, s)
				secondDone <- err
			}()
			time.Sleep(20 * time.Millisecond)
			close(f.recorder.release)

			s := <-firstDone
			require.NotNil(t, s)
			assert.Equal(t, tt.first, s.PaymentMethod)

			err := <-secondDone
			var vErr *ValidationError
			if !errors.As(err, &vErr) && !errors.Is(err, ErrPaymentPending) {
				require.ErrorIs(t, err, ErrSubmissionInProgress)
			}
			assert.Equal(t, 1, f.recorder.calls())
		})
	}
}

func TestSubmit_Validation(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*fixture) *cart.Cart
		method PaymentMethod
		field  string
	}{
		{
			name:   "empty cart",
			setup:  func(f *fixture) *cart.Cart { c := f.carts.Open(); c.SelectPayer("7"); return c },
			method: MethodCash,
			field:  "items",
		},
		{
			name: "no payer",
			setup: func(f *fixture) *cart.Cart {
				c := f.clinicCart()
				c.SelectPayer("")
				return c
			},
			method: MethodCard,
			field:  "payerId",
		},
		{
			name:   "unknown method",
			setup:  func(f *fixture) *cart.Cart { return f.clinicCart() },
			method: "cheque",
			field:  "paymentMethod",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := tt.setup(f)

			_, err := f.coord.Submit(context.Background(), c.ID(), tt.method)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
			assert.Zero(t, f.recorder.calls())
			assert.Empty(t, f.intents.calls)
		})
	}
}

func TestSubmit_UnknownCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.Submit(context.Background(), "missing", MethodCash)
	require.ErrorIs(t, err, cart.ErrCartNotFound)
}

func TestSubmit_RecorderFailure(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{
			name:    "business rejection",
			err:     &SubmissionError{Reason: "Insufficient stock for Flea Shampoo"},
			message: "Insufficient stock for Flea Shampoo",
		},
		{
			name:    "unreachable",
			err:     errors.New("dial tcp: connection refused"),
			message: DefaultSubmissionReason,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.clinicCart()
			f.recorder.err = tt.err

			_, err := f.coord.Submit(context.Background(), c.ID(), MethodCash)

			var subErr *SubmissionError
			require.ErrorAs(t, err, &subErr)
			assert.Equal(t, tt.message, subErr.Message())
			assert.Equal(t, 2, c.Len())
			assert.Equal(t, "7", c.Snapshot().PayerID)
			assert.Empty(t, f.sales.sales)

			// The operator can retry once the service recovers.
			f.recorder.err = nil
			s, err := f.coord.Submit(context.Background(), c.ID(), MethodCash)
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, s.Status)
		})
	}
}

func TestSubmit_GatewaySetupFailure(t *testing.T) {
	f := newFixture(t)
	c := f.clinicCart()
	f.intents.err = errors.New("gateway unavailable")

	_, err := f.coord.Submit(context.Background(), c.ID(), MethodCard)

	var setupErr *payment.GatewaySetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, 2, c.Len())
	assert.Empty(t, c.PendingSale())
	assert.Zero(t, f.sessions.Len())

	stored, err := f.coord.Get(context.Background(), "sale-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)

	f.intents.err = nil
	s, err := f.coord.Submit(context.Background(), c.ID(), MethodCard)
	require.NoError(t, err)
	assert.Equal(t, "sale-2", s.ID)
}

func TestCompleteCard_Idempotent(t *testing.T) {
	f := newFixture(t)
	c := f.clinicCart()
	s, err := f.coord.Submit(context.Background(), c.ID(), MethodCard)
	require.NoError(t, err)

	first, err := f.coord.CompleteCard(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, 0, c.Len())

	// The cart is reused before the duplicate arrives.
	c.Add(cart.LineItem{Key: cart.Key{CatalogID: "p-2", Kind: cart.KindProduct}, UnitPrice: decimal.NewFromInt(5)})

	again, err := f.coord.CompleteCard(context.Background(), s.ID)
	require.NoError(t, err)
	assert.False(t, again)
	assert.Equal(t, 1, c.Len())
}

func TestCompleteCard_CashSaleRejected(t *testing.T) {
	f := newFixture(t)
	c := f.clinicCart()
	s, err := f.coord.Submit(context.Background(), c.ID(), MethodCash)
	require.NoError(t, err)

	first, err := f.coord.CompleteCard(context.Background(), s.ID)
	require.NoError(t, err)
	assert.False(t, first)
}

func TestSubmit_ClearedCartKeepsPendingSale(t *testing.T) {
	f := newFixture(t)
	c := f.clinicCart()
	s, err := f.coord.Submit(context.Background(), c.ID(), MethodCard)
	require.NoError(t, err)

	c.Clear()
	c.Add(cart.LineItem{Key: cart.Key{CatalogID: "p-2", Kind: cart.KindProduct}, UnitPrice: decimal.NewFromInt(5)})
	c.SelectPayer("7")

	_, err = f.coord.Submit(context.Background(), c.ID(), MethodCash)
	require.ErrorIs(t, err, ErrPaymentPending)
	assert.Equal(t, 1, f.recorder.calls())

	require.NoError(t, f.coord.Abandon(context.Background(), s.ID))
	next, err := f.coord.Submit(context.Background(), c.ID(), MethodCash)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, next.Status)
	assert.Equal(t, 2, f.recorder.calls())
}

func TestAbandon(t *testing.T) {
	f := newFixture(t)
	c := f.clinicCart()
	s, err := f.coord.Submit(context.Background(), c.ID(), MethodCard)
	require.NoError(t, err)

	require.NoError(t, f.coord.Abandon(context.Background(), s.ID))

	stored, err := f.coord.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, payment.RecordFailed, f.ledger.status(SalePayable(s.ID)))
	assert.Zero(t, f.sessions.Len())
	assert.Equal(t, 2, c.Len())
	assert.Empty(t, c.PendingSale())

	_, err = f.coord.Confirm(context.Background(), s.ID, payment.ConfirmRequest{})
	require.ErrorIs(t, err, payment.ErrNoSession)

	err = f.coord.Abandon(context.Background(), s.ID)
	require.ErrorIs(t, err, ErrIllegalTransition)

	_, err = f.coord.CompleteCard(context.Background(), s.ID)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	c := f.clinicCart()
	s, err := f.coord.Submit(context.Background(), c.ID(), MethodCard)
	require.NoError(t, err)

	require.NoError(t, f.coord.Cancel(s.ID))
	require.ErrorIs(t, f.coord.Cancel("unknown"), payment.ErrNoSession)
}
