package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/vetclinic-pos/internal/domain/cart"
	"github.com/xenking/vetclinic-pos/internal/domain/sale"
)

const (
	createSaleSQL = `INSERT INTO sales (id, cart_id, payer_id, items, payment_method,
		subtotal, tax_amount, total, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	getSaleSQL = `SELECT id, cart_id, payer_id, items, payment_method,
		subtotal, tax_amount, total, status, created_at, updated_at
		FROM sales WHERE id = $1`

	updateSaleStatusSQL = `UPDATE sales SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`
)

var _ sale.Repository = (*SaleRepository)(nil)

// SaleRepository implements sale.Repository backed by PostgreSQL.
type SaleRepository struct {
	pool *pgxpool.Pool
}

// NewSaleRepository returns a SaleRepository that uses the given pool.
func NewSaleRepository(pool *pgxpool.Pool) *SaleRepository {
	return &SaleRepository{pool: pool}
}

// saleItem is the JSONB form of a sale line.
type saleItem struct {
	CatalogID string          `json:"id"`
	Kind      string          `json:"kind"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"price"`
}

// Create persists a new sale. Items are serialized to JSON for the JSONB
// column.
func (r *SaleRepository) Create(ctx context.Context, s *sale.Sale) error {
	items := make([]saleItem, len(s.Items))
	for i, it := range s.Items {
		items[i] = saleItem{
			CatalogID: it.CatalogID,
			Kind:      string(it.Kind),
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling sale items: %w", err)
	}

	_, err = r.pool.Exec(ctx, createSaleSQL,
		s.ID, s.CartID, s.PayerID, itemsJSON, string(s.PaymentMethod),
		s.Pricing.Subtotal, s.Pricing.TaxAmount, s.Pricing.Total,
		string(s.Status), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating sale %q: %w", s.ID, err)
	}
	return nil
}

// Get returns a sale by id.
func (r *SaleRepository) Get(ctx context.Context, id string) (*sale.Sale, error) {
	rows, err := r.pool.Query(ctx, getSaleSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting sale %q: %w", id, err)
	}

	s, err := pgx.CollectExactlyOneRow(rows, scanSale)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sale.ErrSaleNotFound
		}
		return nil, fmt.Errorf("getting sale %q: %w", id, err)
	}
	return &s, nil
}

// UpdateStatus conditionally moves a sale from one status to another.
func (r *SaleRepository) UpdateStatus(ctx context.Context, id string, from, to sale.Status) (bool, error) {
	tag, err := r.pool.Exec(ctx, updateSaleStatusSQL, id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("updating sale %q status: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanSale(row pgx.CollectableRow) (sale.Sale, error) {
	var (
		s         sale.Sale
		itemsJSON []byte
		method    string
		status    string
	)
	err := row.Scan(
		&s.ID, &s.CartID, &s.PayerID, &itemsJSON, &method,
		&s.Pricing.Subtotal, &s.Pricing.TaxAmount, &s.Pricing.Total,
		&status, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return s, err
	}
	s.PaymentMethod = sale.PaymentMethod(method)
	s.Status = sale.Status(status)

	var items []saleItem
	if err := json.Unmarshal(itemsJSON, &items); err != nil {
		return s, fmt.Errorf("unmarshaling sale items: %w", err)
	}
	s.Items = make([]sale.Item, len(items))
	for i, it := range items {
		s.Items[i] = sale.Item{
			CatalogID: it.CatalogID,
			Kind:      cart.Kind(it.Kind),
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}
	return s, nil
}
