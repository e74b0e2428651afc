// Package cart holds the point-of-sale cart: line items keyed by catalog
// entry and kind, the selected payer and the sale awaiting card payment.
package cart

import (
	"context"
	"slices"
	"sync"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/vetclinic-pos/internal/domain/pricing"
)

// Kind distinguishes catalog products from clinic services.
type Kind string

const (
	// KindProduct is a stocked retail product.
	KindProduct Kind = "product"
	// KindService is a clinic service such as grooming or a consultation.
	KindService Kind = "service"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindProduct || k == KindService
}

// ErrItemNotFound is returned by a Catalog when no entry matches a key.
var ErrItemNotFound = errors.New("catalog item not found")

// Key identifies a line item inside a cart.
type Key struct {
	CatalogID string
	Kind      Kind
}

// LineItem is one catalog entry with a quantity.
type LineItem struct {
	Key
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	// StockCeiling is the available stock for products. It is informational
	// only; the cart does not cap quantities.
	StockCeiling *int
}

// Total returns unitPrice*quantity.
func (i LineItem) Total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i LineItem) clone() LineItem {
	if i.StockCeiling != nil {
		v := *i.StockCeiling
		i.StockCeiling = &v
	}
	return i
}

// Catalog resolves catalog entries so that prices come from the clinic's
// catalog rather than from the caller.
type Catalog interface {
	Lookup(ctx context.Context, key Key) (*LineItem, error)
}

// Snapshot is an immutable copy of a cart's state.
type Snapshot struct {
	CartID  string
	PayerID string
	Items   []LineItem
}

// Lines converts the snapshot items to pricing lines.
func (s Snapshot) Lines() []pricing.Line {
	lines := make([]pricing.Line, len(s.Items))
	for i, item := range s.Items {
		lines[i] = pricing.Line{UnitPrice: item.UnitPrice, Quantity: item.Quantity}
	}
	return lines
}

// Cart is an ordered collection of line items plus an optional payer.
// Every method is atomic with respect to the others.
type Cart struct {
	id string

	mu          sync.Mutex
	items       []LineItem
	payerID     string
	pendingSale string
}

// New returns an empty cart.
func New(id string) *Cart {
	return &Cart{id: id}
}

// ID returns the cart identifier.
func (c *Cart) ID() string {
	return c.id
}

// Add increments the quantity of an existing entry with the same key or
// appends the item with quantity 1.
func (c *Cart) Add(item LineItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.indexOf(item.Key); i >= 0 {
		c.items[i].Quantity++
		return
	}
	item = item.clone()
	item.Quantity = 1
	c.items = append(c.items, item)
}

// SetQuantity sets the quantity for key, removing the entry when n <= 0.
// Unknown keys are ignored.
func (c *Cart) SetQuantity(key Key, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(key)
	if i < 0 {
		return
	}
	if n <= 0 {
		c.items = slices.Delete(c.items, i, i+1)
		return
	}
	c.items[i].Quantity = n
}

// Remove deletes the entry for key if present.
func (c *Cart) Remove(key Key) {
	c.SetQuantity(key, 0)
}

// Clear empties the cart and forgets the selected payer. A linked sale
// stays linked until it completes or is abandoned.
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = nil
	c.payerID = ""
}

// SelectPayer sets the payer reference. An empty id deselects.
func (c *Cart) SelectPayer(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payerID = id
}

// Len returns the number of distinct entries.
func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Snapshot returns a deep copy of the current state.
func (c *Cart) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]LineItem, len(c.items))
	for i, item := range c.items {
		items[i] = item.clone()
	}
	return Snapshot{
		CartID:  c.id,
		PayerID: c.payerID,
		Items:   items,
	}
}

// Totals prices the current contents.
func (c *Cart) Totals(calc *pricing.Calculator) pricing.Breakdown {
	return calc.Compute(c.Snapshot().Lines())
}

// PendingSale returns the sale awaiting payment that was submitted from
// this cart, if any.
func (c *Cart) PendingSale() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingSale
}

// LinkSale records the sale awaiting payment for this cart. An empty id
// unlinks.
func (c *Cart) LinkSale(saleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingSale = saleID
}

// ClearIfLinked clears the cart only while it is still linked to saleID and
// reports whether it did.
func (c *Cart) ClearIfLinked(saleID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pendingSale != saleID {
		return false
	}
	c.items = nil
	c.payerID = ""
	c.pendingSale = ""
	return true
}

// UnlinkSale forgets saleID without touching the contents.
func (c *Cart) UnlinkSale(saleID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pendingSale != saleID {
		return false
	}
	c.pendingSale = ""
	return true
}

func (c *Cart) indexOf(key Key) int {
	return slices.IndexFunc(c.items, func(it LineItem) bool { return it.Key == key })
}
