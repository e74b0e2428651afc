package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/vetclinic-pos/internal/domain/appointment"
	"github.com/xenking/vetclinic-pos/internal/domain/cart"
	"github.com/xenking/vetclinic-pos/internal/domain/payment"
	"github.com/xenking/vetclinic-pos/internal/domain/pricing"
	"github.com/xenking/vetclinic-pos/internal/domain/reconcile"
	"github.com/xenking/vetclinic-pos/internal/domain/sale"
	"github.com/xenking/vetclinic-pos/internal/notify"
)

func amount(d decimal.Decimal) string {
	return d.StringFixed(pricing.MinorUnitPlaces)
}

type totalsResponse struct {
	Subtotal       string `json:"subtotal"`
	TaxAmount      string `json:"taxAmount"`
	Total          string `json:"total"`
	FormattedTotal string `json:"formattedTotal"`
}

func (h *Handler) totals(b pricing.Breakdown) totalsResponse {
	return totalsResponse{
		Subtotal:       amount(b.Subtotal),
		TaxAmount:      amount(b.TaxAmount),
		Total:          amount(b.Total),
		FormattedTotal: pricing.Format(h.cfg.CurrencySymbol, b.Total),
	}
}

type lineItemResponse struct {
	CatalogID    string `json:"catalogId"`
	Kind         string `json:"kind"`
	Name         string `json:"name"`
	UnitPrice    string `json:"unitPrice"`
	Quantity     int    `json:"quantity"`
	Total        string `json:"total"`
	StockCeiling *int   `json:"stockCeiling,omitempty"`
}

type cartResponse struct {
	ID          string             `json:"id"`
	PayerID     string             `json:"payerId,omitempty"`
	PendingSale string             `json:"pendingSaleId,omitempty"`
	Items       []lineItemResponse `json:"items"`
	Totals      totalsResponse     `json:"totals"`
}

func (h *Handler) cartResponse(ct *cart.Cart) cartResponse {
	snap := ct.Snapshot()
	items := make([]lineItemResponse, len(snap.Items))
	for i, it := range snap.Items {
		items[i] = lineItemResponse{
			CatalogID:    it.CatalogID,
			Kind:         string(it.Kind),
			Name:         it.Name,
			UnitPrice:    amount(it.UnitPrice),
			Quantity:     it.Quantity,
			Total:        amount(it.Total()),
			StockCeiling: it.StockCeiling,
		}
	}
	return cartResponse{
		ID:          snap.CartID,
		PayerID:     snap.PayerID,
		PendingSale: ct.PendingSale(),
		Items:       items,
		Totals:      h.totals(h.calc.Compute(snap.Lines()).Rounded()),
	}
}

type saleItemResponse struct {
	CatalogID string `json:"catalogId"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

type saleResponse struct {
	ID            string             `json:"id"`
	CartID        string             `json:"cartId"`
	PayerID       string             `json:"payerId"`
	PaymentMethod string             `json:"paymentMethod"`
	Status        string             `json:"status"`
	Items         []saleItemResponse `json:"items"`
	Totals        totalsResponse     `json:"totals"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

func (h *Handler) saleResponse(s *sale.Sale) saleResponse {
	items := make([]saleItemResponse, len(s.Items))
	for i, it := range s.Items {
		items[i] = saleItemResponse{
			CatalogID: it.CatalogID,
			Kind:      string(it.Kind),
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: amount(it.UnitPrice),
		}
	}
	return saleResponse{
		ID:            s.ID,
		CartID:        s.CartID,
		PayerID:       s.PayerID,
		PaymentMethod: string(s.PaymentMethod),
		Status:        string(s.Status),
		Items:         items,
		Totals:        h.totals(s.Pricing),
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

type outcomeResponse struct {
	State           string `json:"state"`
	RedirectURL     string `json:"redirectUrl,omitempty"`
	ConfirmationURL string `json:"confirmationUrl,omitempty"`
	NavigateAfterMs int64  `json:"navigateAfterMs,omitempty"`
	Message         string `json:"message,omitempty"`
}

func outcomeToResponse(o *payment.Outcome) outcomeResponse {
	return outcomeResponse{
		State:           string(o.State),
		RedirectURL:     o.RedirectURL,
		ConfirmationURL: o.ConfirmationURL,
		NavigateAfterMs: o.NavigateAfter.Milliseconds(),
		Message:         o.Message,
	}
}

type appointmentResponse struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"clientId"`
	ProfessionalID string    `json:"professionalId,omitempty"`
	PetName        string    `json:"petName,omitempty"`
	ServiceName    string    `json:"serviceName,omitempty"`
	Price          string    `json:"price"`
	StartsAt       time.Time `json:"startsAt"`
	EndsAt         time.Time `json:"endsAt"`
	Status         string    `json:"status"`
}

func toAppointmentResponse(a *appointment.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:             a.ID,
		ClientID:       a.ClientID,
		ProfessionalID: a.ProfessionalID,
		PetName:        a.PetName,
		ServiceName:    a.ServiceName,
		Price:          amount(a.Price),
		StartsAt:       a.StartsAt,
		EndsAt:         a.EndsAt,
		Status:         string(a.Status),
	}
}

type appointmentPaymentResponse struct {
	Appointment appointmentResponse `json:"appointment"`
	Totals      totalsResponse      `json:"totals"`
}

type noticeResponse struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Subject   string    `json:"subject,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func toNoticeResponse(n notify.Notice) noticeResponse {
	return noticeResponse{
		ID:        n.ID,
		Seq:       n.Seq,
		Level:     string(n.Level),
		Message:   n.Message,
		Subject:   n.Subject,
		CreatedAt: n.CreatedAt,
	}
}

type reconcileResponse struct {
	Result      string          `json:"result"`
	PayableKind string          `json:"payableKind,omitempty"`
	PayableID   string          `json:"payableId,omitempty"`
	Notice      *noticeResponse `json:"notice,omitempty"`
}

func toReconcileResponse(o *reconcile.Outcome) reconcileResponse {
	resp := reconcileResponse{
		Result:      string(o.Result),
		PayableKind: string(o.Payable.Kind),
		PayableID:   o.Payable.ID,
	}
	if o.Notice != nil {
		n := toNoticeResponse(*o.Notice)
		resp.Notice = &n
	}
	return resp
}
