package sale

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/vetclinic-pos/internal/domain/cart"
	"github.com/xenking/vetclinic-pos/internal/domain/payment"
	"github.com/xenking/vetclinic-pos/internal/domain/pricing"
)

// CoordinatorParams holds the collaborators of a Coordinator.
type CoordinatorParams struct {
	Carts      *cart.Registry
	Calculator *pricing.Calculator
	Recorder   Recorder
	Intents    payment.IntentClient
	Sales      Repository
	Ledger     payment.Ledger
	Sessions   *payment.Sessions
	Tracer     trace.Tracer
}

// Coordinator owns submission of carts and the settlement of their sales.
type Coordinator struct {
	carts    *cart.Registry
	calc     *pricing.Calculator
	recorder Recorder
	intents  payment.IntentClient
	sales    Repository
	ledger   payment.Ledger
	sessions *payment.Sessions
	tracer   trace.Tracer
	now      func() time.Time

	inflight singleflight.Group
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(p CoordinatorParams) *Coordinator {
	return &Coordinator{
		carts:    p.Carts,
		calc:     p.Calculator,
		recorder: p.Recorder,
		intents:  p.Intents,
		sales:    p.Sales,
		ledger:   p.Ledger,
		sessions: p.Sessions,
		tracer:   p.Tracer,
		now:      time.Now,
	}
}

var _ payment.Completer = (*Coordinator)(nil)

// SalePayable identifies a sale as a payable.
func SalePayable(saleID string) payment.Payable {
	return payment.Payable{Kind: payment.PayableSale, ID: saleID}
}

// Submit records the cart as a sale settled with method.
//
// Concurrent submissions of the same cart share one remote call and one
// result; a caller asking for another method gets ErrSubmissionInProgress.
// Cash sales complete immediately and clear the cart. Card sales are left
// awaiting payment with a confirmation session open; the cart is kept
// until the payment succeeds.
func (c *Coordinator) Submit(ctx context.Context, cartID string, method PaymentMethod) (*Sale, error) {
	if !method.Valid() {
		return nil, &ValidationError{Field: "paymentMethod"}
	}
	ct, err := c.carts.Get(cartID)
	if err != nil {
		return nil, err
	}

	v, err, shared := c.inflight.Do(cartID, func() (any, error) {
		return c.submit(context.WithoutCancel(ctx), ct, method)
	})
	if shared {
		zctx.From(ctx).Debug("Coalesced duplicate submission", zap.String("cart_id", cartID))
	}
	if err != nil {
		return nil, err
	}
	s := v.(*Sale)
	if s.PaymentMethod != method {
		return nil, fmt.Errorf("cart %s as %s: %w", cartID, s.PaymentMethod, ErrSubmissionInProgress)
	}
	return s, nil
}

func (c *Coordinator) submit(ctx context.Context, ct *cart.Cart, method PaymentMethod) (_ *Sale, rerr error) {
	ctx, span := c.tracer.Start(ctx, "sale.Submit",
		trace.WithAttributes(
			attribute.String("cart.id", ct.ID()),
			attribute.String("sale.payment_method", string(method)),
		),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	snap := ct.Snapshot()
	if len(snap.Items) == 0 {
		return nil, &ValidationError{Field: "items"}
	}
	if snap.PayerID == "" {
		return nil, &ValidationError{Field: "payerId"}
	}
	if pending := ct.PendingSale(); pending != "" {
		return nil, fmt.Errorf("sale %s: %w", pending, ErrPaymentPending)
	}

	now := c.now()
	s := &Sale{
		CartID:        snap.CartID,
		PayerID:       snap.PayerID,
		Items:         saleItems(snap.Items),
		PaymentMethod: method,
		Pricing:       c.calc.Compute(snap.Lines()).Rounded(),
		Status:        StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	res, err := c.recorder.RecordSale(ctx, RecordRequest{
		PayerID:       s.PayerID,
		Items:         s.Items,
		PaymentMethod: s.PaymentMethod,
		Pricing:       s.Pricing,
	})
	if err != nil {
		var subErr *SubmissionError
		if errors.As(err, &subErr) {
			return nil, subErr
		}
		return nil, &SubmissionError{Err: err}
	}
	if res.SaleID == "" {
		return nil, &SubmissionError{Err: errors.New("empty sale id")}
	}
	s.ID = res.SaleID
	if err := s.transition(StatusSubmitted); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("sale.id", s.ID))

	lg := zctx.From(ctx).With(
		zap.String("sale_id", s.ID),
		zap.String("cart_id", s.CartID),
		zap.String("payment_method", string(method)),
	)

	if method == MethodCash {
		if err := s.transition(StatusCompleted); err != nil {
			return nil, err
		}
		if err := c.sales.Create(ctx, s); err != nil {
			// The remote record is authoritative; resubmitting would
			// charge twice.
			lg.Error("Store completed sale", zap.Error(err))
		}
		ct.Clear()
		lg.Info("Cash sale completed", zap.String("total", s.Pricing.Total.StringFixed(pricing.MinorUnitPlaces)))
		return s, nil
	}

	if err := s.transition(StatusAwaitingPayment); err != nil {
		return nil, err
	}
	if err := c.sales.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create sale: %w", err)
	}
	ct.LinkSale(s.ID)

	payable := SalePayable(s.ID)
	intent, err := payment.IssueIntent(ctx, c.intents, payable)
	if err != nil {
		c.fail(ctx, s, ct)
		return nil, err
	}
	if err := c.ledger.Record(ctx, payment.Record{
		Payable:   payable,
		IntentID:  intent.ID,
		PayerID:   s.PayerID,
		Amount:    s.Pricing.Total,
		Status:    payment.RecordPending,
		CreatedAt: now,
	}); err != nil {
		c.fail(ctx, s, ct)
		return nil, fmt.Errorf("record payment: %w", err)
	}
	c.sessions.Open(intent, payment.OnSuccess(c))

	lg.Info("Card sale awaiting payment", zap.String("intent_id", intent.ID))
	return s, nil
}

// fail marks a card sale failed after its payment could not be set up, so
// the cart can be submitted again.
func (c *Coordinator) fail(ctx context.Context, s *Sale, ct *cart.Cart) {
	if _, err := c.sales.UpdateStatus(ctx, s.ID, StatusAwaitingPayment, StatusFailed); err != nil {
		zctx.From(ctx).Error("Mark sale failed", zap.String("sale_id", s.ID), zap.Error(err))
	}
	s.Status = StatusFailed
	ct.UnlinkSale(s.ID)
}

// Get returns a sale by id.
func (c *Coordinator) Get(ctx context.Context, saleID string) (*Sale, error) {
	return c.sales.Get(ctx, saleID)
}

// Confirm runs a confirmation attempt for the sale's open payment session.
func (c *Coordinator) Confirm(ctx context.Context, saleID string, req payment.ConfirmRequest) (*payment.Outcome, error) {
	m, err := c.sessions.Get(SalePayable(saleID))
	if err != nil {
		return nil, err
	}
	return m.Confirm(ctx, req)
}

// Cancel discards the active confirmation attempt of the sale, as when the
// payment dialog is closed.
func (c *Coordinator) Cancel(saleID string) error {
	m, err := c.sessions.Get(SalePayable(saleID))
	if err != nil {
		return err
	}
	m.Cancel()
	return nil
}

// CompletePayment implements payment.Completer for sales.
func (c *Coordinator) CompletePayment(ctx context.Context, p payment.Payable) (bool, error) {
	return c.CompleteCard(ctx, p.ID)
}

// CompleteCard completes a card sale whose payment succeeded and clears the
// cart it came from. Completing an already completed sale is a no-op; the
// result reports whether this call completed it.
func (c *Coordinator) CompleteCard(ctx context.Context, saleID string) (bool, error) {
	s, err := c.sales.Get(ctx, saleID)
	if err != nil {
		return false, fmt.Errorf("get sale: %w", err)
	}
	switch s.Status {
	case StatusCompleted:
		return false, nil
	case StatusAwaitingPayment:
	default:
		return false, &TransitionError{From: s.Status, To: StatusCompleted}
	}

	changed, err := c.sales.UpdateStatus(ctx, saleID, StatusAwaitingPayment, StatusCompleted)
	if err != nil {
		return false, fmt.Errorf("complete sale: %w", err)
	}
	payable := SalePayable(saleID)
	if _, err := c.ledger.Complete(ctx, payable); err != nil {
		return false, fmt.Errorf("complete payment: %w", err)
	}
	if ct, ok := c.carts.Lookup(s.CartID); ok {
		ct.ClearIfLinked(saleID)
	}
	c.sessions.Close(payable)

	if changed {
		zctx.From(ctx).Info("Card sale completed",
			zap.String("sale_id", saleID),
			zap.String("cart_id", s.CartID),
		)
	}
	return changed, nil
}

// Abandon gives up on a sale awaiting payment. The cart keeps its contents
// and may be submitted again.
func (c *Coordinator) Abandon(ctx context.Context, saleID string) error {
	s, err := c.sales.Get(ctx, saleID)
	if err != nil {
		return fmt.Errorf("get sale: %w", err)
	}
	if !s.Status.CanTransitionTo(StatusFailed) {
		return &TransitionError{From: s.Status, To: StatusFailed}
	}

	changed, err := c.sales.UpdateStatus(ctx, saleID, StatusAwaitingPayment, StatusFailed)
	if err != nil {
		return fmt.Errorf("abandon sale: %w", err)
	}
	if !changed {
		return fmt.Errorf("sale %s settled concurrently: %w", saleID, ErrIllegalTransition)
	}

	payable := SalePayable(saleID)
	c.sessions.Close(payable)
	if err := c.ledger.Fail(ctx, payable); err != nil {
		return fmt.Errorf("fail payment: %w", err)
	}
	if ct, ok := c.carts.Lookup(s.CartID); ok {
		ct.UnlinkSale(saleID)
	}

	zctx.From(ctx).Info("Sale abandoned", zap.String("sale_id", saleID))
	return nil
}

func saleItems(items []cart.LineItem) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = Item{
			CatalogID: it.CatalogID,
			Kind:      it.Kind,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}
	return out
}
