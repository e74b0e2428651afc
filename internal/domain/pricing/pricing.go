// Package pricing computes subtotal, tax and total for a set of priced lines.
//
// Tax is always added on top of the line total: subtotal is the sum of
// unitPrice*quantity, taxAmount is subtotal*rate and total is their sum.
// Amounts are accumulated exactly and only rounded to the currency minor unit
// when a breakdown is rounded for the wire or formatted for display.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// MinorUnitPlaces is the number of decimal places of the currency minor unit.
const MinorUnitPlaces = 2

// ErrInvalidRate is returned when the tax rate is outside [0, 1).
var ErrInvalidRate = errors.New("tax rate must be in [0, 1)")

// Line is a single priced entry taken into account by the calculator.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Breakdown holds the derived amounts of a priced set of lines.
type Breakdown struct {
	Subtotal  decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
}

// Rounded returns the breakdown rounded to the currency minor unit. The tax
// amount is derived from the rounded total and subtotal so the sum invariant
// still holds exactly after rounding.
func (b Breakdown) Rounded() Breakdown {
	subtotal := b.Subtotal.Round(MinorUnitPlaces)
	total := b.Total.Round(MinorUnitPlaces)
	return Breakdown{
		Subtotal:  subtotal,
		TaxAmount: total.Sub(subtotal),
		Total:     total,
	}
}

// Format renders an amount with the given currency symbol, e.g. "S/ 177.00".
func Format(symbol string, amount decimal.Decimal) string {
	s := amount.StringFixed(MinorUnitPlaces)
	if symbol == "" {
		return s
	}
	return symbol + " " + s
}

// Calculator prices lines under a fixed tax rate.
type Calculator struct {
	rate decimal.Decimal
}

// NewCalculator returns a Calculator for the given tax rate.
func NewCalculator(rate decimal.Decimal) (*Calculator, error) {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, errors.Wrapf(ErrInvalidRate, "rate %s", rate)
	}
	return &Calculator{rate: rate}, nil
}

// MustCalculator is like NewCalculator but panics on an invalid rate.
func MustCalculator(rate decimal.Decimal) *Calculator {
	c, err := NewCalculator(rate)
	if err != nil {
		panic(err)
	}
	return c
}

// Rate returns the configured tax rate.
func (c *Calculator) Rate() decimal.Decimal {
	return c.rate
}

// Compute prices the lines. Lines with a non-positive quantity contribute
// nothing.
func (c *Calculator) Compute(lines []Line) Breakdown {
	subtotal := decimal.Zero
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return c.FromSubtotal(subtotal)
}

// FromSubtotal derives tax and total from a tax-exclusive amount.
func (c *Calculator) FromSubtotal(subtotal decimal.Decimal) Breakdown {
	tax := subtotal.Mul(c.rate)
	return Breakdown{
		Subtotal:  subtotal,
		TaxAmount: tax,
		Total:     subtotal.Add(tax),
	}
}
