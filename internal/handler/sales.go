package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/vetclinic-pos/internal/domain/auth"
	"github.com/xenking/vetclinic-pos/internal/domain/payment"
	"github.com/xenking/vetclinic-pos/internal/domain/sale"
)

type checkoutRequest struct {
	PaymentMethod string `json:"paymentMethod" validate:"required,oneof=cash card"`
}

// Checkout submits the cart as a sale.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if !canUseCarts(principal(r)) {
		writeError(w, r, auth.ErrForbidden)
		return
	}
	var req checkoutRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	// Cash is taken at the counter.
	if sale.PaymentMethod(req.PaymentMethod) == sale.MethodCash && !principal(r).Role.Capabilities().RunPOS {
		writeError(w, r, auth.ErrForbidden)
		return
	}

	s, err := h.sales.Submit(r.Context(), chi.URLParam(r, "cartID"), sale.PaymentMethod(req.PaymentMethod))
	result := "error"
	if err == nil {
		result = string(s.Status)
	}
	h.submissions.Add(r.Context(), 1, metric.WithAttributes(
		attribute.String("payment_method", req.PaymentMethod),
		attribute.String("result", result),
	))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, h.saleResponse(s))
}

// authorizeSale lets staff act on any sale and clients on their own.
func (h *Handler) authorizeSale(ctx context.Context, p auth.Principal, saleID string) (*sale.Sale, error) {
	caps := p.Role.Capabilities()
	if !caps.RunPOS && !caps.SelectSelfAsPayer {
		return nil, auth.ErrForbidden
	}
	s, err := h.sales.Get(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if !caps.RunPOS && s.PayerID != p.SubjectID {
		return nil, auth.ErrForbidden
	}
	return s, nil
}

// GetSale returns a sale.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	s, err := h.authorizeSale(r.Context(), principal(r), chi.URLParam(r, "saleID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, h.saleResponse(s))
}

type confirmRequest struct {
	PaymentMethodID string `json:"paymentMethodId"`
}

// ConfirmSale runs a card confirmation attempt for the sale.
func (h *Handler) ConfirmSale(w http.ResponseWriter, r *http.Request) {
	saleID := chi.URLParam(r, "saleID")
	if _, err := h.authorizeSale(r.Context(), principal(r), saleID); err != nil {
		writeError(w, r, err)
		return
	}
	var req confirmRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.sales.Confirm(r.Context(), saleID, payment.ConfirmRequest{PaymentMethodID: req.PaymentMethodID})
	h.writeOutcome(w, r, payment.PayableSale, out, err)
}

// CancelSale discards the active confirmation attempt, as when the payment
// dialog is closed. The sale stays awaiting payment.
func (h *Handler) CancelSale(w http.ResponseWriter, r *http.Request) {
	saleID := chi.URLParam(r, "saleID")
	if _, err := h.authorizeSale(r.Context(), principal(r), saleID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.sales.Cancel(saleID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AbandonSale gives up on an awaiting card sale and frees its cart.
func (h *Handler) AbandonSale(w http.ResponseWriter, r *http.Request) {
	if !principal(r).Role.Capabilities().RunPOS {
		writeError(w, r, auth.ErrForbidden)
		return
	}
	if err := h.sales.Abandon(r.Context(), chi.URLParam(r, "saleID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeOutcome answers a confirmation attempt.
func (h *Handler) writeOutcome(w http.ResponseWriter, r *http.Request, kind payment.PayableKind, out *payment.Outcome, err error) {
	state := "error"
	if out != nil {
		state = string(out.State)
	}
	h.confirmations.Add(r.Context(), 1, metric.WithAttributes(
		attribute.String("payable_kind", string(kind)),
		attribute.String("state", state),
	))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, outcomeToResponse(out))
}
