package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/vetclinic-pos/internal/domain/cart"
)

const (
	lookupCatalogItemSQL = `SELECT id, kind, name, price, stock
		FROM catalog_items WHERE id = $1 AND kind = $2 AND active = TRUE`

	upsertCatalogItemSQL = `INSERT INTO catalog_items (id, kind, name, price, stock)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id, kind) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
			stock = EXCLUDED.stock, active = TRUE`
)

var _ cart.Catalog = (*CatalogRepository)(nil)

// CatalogRepository resolves catalog entries backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// Lookup returns the active catalog entry for key.
func (r *CatalogRepository) Lookup(ctx context.Context, key cart.Key) (*cart.LineItem, error) {
	rows, err := r.pool.Query(ctx, lookupCatalogItemSQL, key.CatalogID, string(key.Kind))
	if err != nil {
		return nil, fmt.Errorf("looking up %s %q: %w", key.Kind, key.CatalogID, err)
	}

	item, err := pgx.CollectExactlyOneRow(rows, scanCatalogItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrItemNotFound
		}
		return nil, fmt.Errorf("looking up %s %q: %w", key.Kind, key.CatalogID, err)
	}
	return &item, nil
}

// UpsertItems stores items in one batch. Quantities are ignored; the
// StockCeiling is stored as stock.
func (r *CatalogRepository) UpsertItems(ctx context.Context, items []cart.LineItem) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(upsertCatalogItemSQL, it.CatalogID, string(it.Kind), it.Name, it.UnitPrice, it.StockCeiling)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d catalog items: %w", len(items), err)
	}
	return nil
}

func scanCatalogItem(row pgx.CollectableRow) (cart.LineItem, error) {
	var (
		it    cart.LineItem
		kind  string
		price decimal.Decimal
	)
	err := row.Scan(&it.CatalogID, &kind, &it.Name, &price, &it.StockCeiling)
	it.Kind = cart.Kind(kind)
	it.UnitPrice = price
	return it, err
}
