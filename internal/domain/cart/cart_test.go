package cart

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/vetclinic-pos/internal/domain/pricing"
)

func shampoo() LineItem {
	stock := 12
	return LineItem{
		Key:          Key{CatalogID: "p-1", Kind: KindProduct},
		Name:         "Flea Shampoo",
		UnitPrice:    decimal.RequireFromString("25.00"),
		StockCeiling: &stock,
	}
}

func grooming() LineItem {
	return LineItem{
		Key:       Key{CatalogID: "s-1", Kind: KindService},
		Name:      "Grooming",
		UnitPrice: decimal.RequireFromString("80.00"),
	}
}

func TestAdd_IncrementsExisting(t *testing.T) {
	c := New("c1")

	c.Add(shampoo())
	c.Add(shampoo())
	c.Add(grooming())

	snap := c.Snapshot()
	require.Len(t, snap.Items, 2)
	assert.Equal(t, "Flea Shampoo", snap.Items[0].Name)
	assert.Equal(t, 2, snap.Items[0].Quantity)
	assert.Equal(t, "Grooming", snap.Items[1].Name)
	assert.Equal(t, 1, snap.Items[1].Quantity)
}

func TestAdd_SameIDDifferentKind(t *testing.T) {
	c := New("c1")

	c.Add(LineItem{Key: Key{CatalogID: "7", Kind: KindProduct}, UnitPrice: decimal.NewFromInt(1)})
	c.Add(LineItem{Key: Key{CatalogID: "7", Kind: KindService}, UnitPrice: decimal.NewFromInt(1)})

	assert.Equal(t, 2, c.Len())
}

func TestAdd_IgnoresCallerQuantity(t *testing.T) {
	c := New("c1")
	item := grooming()
	item.Quantity = 40

	c.Add(item)

	assert.Equal(t, 1, c.Snapshot().Items[0].Quantity)
}

func TestSetQuantity(t *testing.T) {
	c := New("c1")
	c.Add(shampoo())
	c.Add(grooming())

	c.SetQuantity(shampoo().Key, 5)
	assert.Equal(t, 5, c.Snapshot().Items[0].Quantity)

	c.SetQuantity(shampoo().Key, 0)
	snap := c.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "Grooming", snap.Items[0].Name)

	// Missing entry is a no-op.
	assert.NotPanics(t, func() { c.SetQuantity(shampoo().Key, 0) })
	assert.NotPanics(t, func() { c.SetQuantity(Key{CatalogID: "nope", Kind: KindProduct}, 3) })
	assert.Equal(t, 1, c.Len())

	c.SetQuantity(grooming().Key, -4)
	assert.Equal(t, 0, c.Len())
}

func TestClear_ForgetsPayerKeepsLink(t *testing.T) {
	c := New("c1")
	c.Add(shampoo())
	c.SelectPayer("client-7")
	c.LinkSale("sale-1")

	c.Clear()

	snap := c.Snapshot()
	assert.Empty(t, snap.Items)
	assert.Empty(t, snap.PayerID)
	assert.Equal(t, "sale-1", c.PendingSale())

	c.Add(grooming())
	assert.True(t, c.ClearIfLinked("sale-1"))
	assert.Empty(t, c.PendingSale())
}

func TestClearIfLinked(t *testing.T) {
	c := New("c1")
	c.Add(shampoo())
	c.LinkSale("sale-1")

	assert.False(t, c.ClearIfLinked("sale-2"))
	assert.Equal(t, 1, c.Len())

	assert.True(t, c.ClearIfLinked("sale-1"))
	assert.Equal(t, 0, c.Len())
}

func TestUnlinkSale_KeepsContents(t *testing.T) {
	c := New("c1")
	c.Add(shampoo())
	c.LinkSale("sale-1")

	assert.False(t, c.UnlinkSale("sale-2"))
	assert.True(t, c.UnlinkSale("sale-1"))
	assert.Empty(t, c.PendingSale())
	assert.Equal(t, 1, c.Len())
}

func TestSnapshot_IsIsolated(t *testing.T) {
	c := New("c1")
	c.Add(shampoo())

	snap := c.Snapshot()
	c.SetQuantity(shampoo().Key, 9)
	*c.items[0].StockCeiling = 0

	assert.Equal(t, 1, snap.Items[0].Quantity)
	assert.Equal(t, 12, *snap.Items[0].StockCeiling)
}

func TestTotals(t *testing.T) {
	c := New("c1")
	c.Add(shampoo())
	c.Add(shampoo())
	c.Add(grooming())

	b := c.Totals(pricing.MustCalculator(decimal.RequireFromString("0.18"))).Rounded()

	assert.Equal(t, "130.00", b.Subtotal.StringFixed(2))
	assert.Equal(t, "153.40", b.Total.StringFixed(2))
}

func TestRandomOperations_KeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	keys := []Key{
		{CatalogID: "1", Kind: KindProduct},
		{CatalogID: "1", Kind: KindService},
		{CatalogID: "2", Kind: KindProduct},
		{CatalogID: "3", Kind: KindService},
	}

	c := New("c1")
	for i := range 5000 {
		k := keys[rng.IntN(len(keys))]
		switch rng.IntN(3) {
		case 0:
			c.Add(LineItem{Key: k, UnitPrice: decimal.NewFromInt(3)})
		case 1:
			c.SetQuantity(k, rng.IntN(7)-3)
		case 2:
			c.Remove(k)
		}

		seen := make(map[Key]bool)
		for _, item := range c.Snapshot().Items {
			require.False(t, seen[item.Key], "duplicate key after op %d", i)
			require.Positive(t, item.Quantity, "non-positive quantity after op %d", i)
			seen[item.Key] = true
		}
	}
}

func TestConcurrentAdd(t *testing.T) {
	c := New("c1")

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Add(shampoo())
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 50, snap.Items[0].Quantity)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	c := r.Open()
	got, err := r.Get(c.ID())
	require.NoError(t, err)
	assert.Same(t, c, got)

	r.Drop(c.ID())
	_, err = r.Get(c.ID())
	require.ErrorIs(t, err, ErrCartNotFound)
}
