package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/vetclinic-pos/internal/domain/auth"
	"github.com/xenking/vetclinic-pos/internal/domain/cart"
)

// canUseCarts reports whether p may build carts: staff running the POS or
// clients checking out for themselves.
func canUseCarts(p auth.Principal) bool {
	caps := p.Role.Capabilities()
	return caps.RunPOS || caps.SelectSelfAsPayer
}

func (h *Handler) cart(r *http.Request) (*cart.Cart, error) {
	if !canUseCarts(principal(r)) {
		return nil, auth.ErrForbidden
	}
	return h.carts.Get(chi.URLParam(r, "cartID"))
}

func itemKey(r *http.Request) (cart.Key, error) {
	key := cart.Key{
		CatalogID: chi.URLParam(r, "catalogID"),
		Kind:      cart.Kind(chi.URLParam(r, "kind")),
	}
	if !key.Kind.Valid() {
		return cart.Key{}, &requestError{Field: "kind", Message: "kind must be one of product service"}
	}
	return key, nil
}

// OpenCart starts a new cart session.
func (h *Handler) OpenCart(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if !canUseCarts(p) {
		writeError(w, r, auth.ErrForbidden)
		return
	}
	ct := h.carts.Open()
	// Clients can only ever pay for themselves.
	if !p.Role.Capabilities().SelectAnyPayer && p.CanSelectPayer(p.SubjectID) {
		ct.SelectPayer(p.SubjectID)
	}
	writeJSON(w, r, http.StatusCreated, h.cartResponse(ct))
}

// GetCart returns the cart with its totals.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	ct, err := h.cart(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, h.cartResponse(ct))
}

type addItemRequest struct {
	CatalogID string `json:"catalogId" validate:"required"`
	Kind      string `json:"kind" validate:"required,oneof=product service"`
}

// AddItem adds one unit of a catalog entry, priced from the catalog.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	ct, err := h.cart(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req addItemRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	item, err := h.catalog.Lookup(r.Context(), cart.Key{CatalogID: req.CatalogID, Kind: cart.Kind(req.Kind)})
	if err != nil {
		writeError(w, r, err)
		return
	}
	ct.Add(*item)
	writeJSON(w, r, http.StatusOK, h.cartResponse(ct))
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,gte=0"`
}

// SetQuantity sets the quantity of an entry; zero removes it.
func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	ct, err := h.cart(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	key, err := itemKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req setQuantityRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ct.SetQuantity(key, *req.Quantity)
	writeJSON(w, r, http.StatusOK, h.cartResponse(ct))
}

// RemoveItem deletes an entry.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ct, err := h.cart(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	key, err := itemKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ct.Remove(key)
	writeJSON(w, r, http.StatusOK, h.cartResponse(ct))
}

// ClearCart empties the cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ct, err := h.cart(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ct.Clear()
	writeJSON(w, r, http.StatusOK, h.cartResponse(ct))
}

type selectPayerRequest struct {
	PayerID string `json:"payerId"`
}

// SelectPayer sets or clears the cart's payer, subject to the role policy.
func (h *Handler) SelectPayer(w http.ResponseWriter, r *http.Request) {
	ct, err := h.cart(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req selectPayerRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.PayerID != "" && !principal(r).CanSelectPayer(req.PayerID) {
		writeError(w, r, auth.ErrForbidden)
		return
	}
	ct.SelectPayer(req.PayerID)
	writeJSON(w, r, http.StatusOK, h.cartResponse(ct))
}
