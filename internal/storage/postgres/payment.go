package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/vetclinic-pos/internal/domain/payment"
)

const (
	recordPaymentSQL = `INSERT INTO payments (payable_kind, payable_id, intent_id, payer_id, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
		ON CONFLICT (payable_kind, payable_id) DO UPDATE
			SET intent_id = EXCLUDED.intent_id, payer_id = EXCLUDED.payer_id, amount = EXCLUDED.amount, status = 'pending',
				created_at = EXCLUDED.created_at, completed_at = NULL, notified_at = NULL
			WHERE payments.status <> 'completed'`

	findPaymentSQL = `SELECT payable_kind, payable_id, intent_id, payer_id, amount, status,
		created_at, completed_at, notified_at
		FROM payments WHERE payable_kind = $1 AND payable_id = $2`

	completePaymentSQL = `UPDATE payments SET status = 'completed', completed_at = now()
		WHERE payable_kind = $1 AND payable_id = $2 AND status = 'pending'`

	failPaymentSQL = `UPDATE payments SET status = 'failed'
		WHERE payable_kind = $1 AND payable_id = $2 AND status = 'pending'`

	markNotifiedSQL = `UPDATE payments SET notified_at = now()
		WHERE payable_kind = $1 AND payable_id = $2 AND status = 'completed' AND notified_at IS NULL`
)

// ErrPaymentCompleted is returned when recording over a completed payment.
var ErrPaymentCompleted = errors.New("payment already completed")

var _ payment.Ledger = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Ledger backed by PostgreSQL.
// Every state change is a conditional UPDATE, so concurrent callers agree
// on which one performed it.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Record stores a pending payment.
func (r *PaymentRepository) Record(ctx context.Context, rec payment.Record) error {
	tag, err := r.pool.Exec(ctx, recordPaymentSQL,
		string(rec.Payable.Kind), rec.Payable.ID, rec.IntentID, rec.PayerID, rec.Amount, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording payment for %s: %w", rec.Payable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("recording payment for %s: %w", rec.Payable, ErrPaymentCompleted)
	}
	return nil
}

// Find returns the payment record of p.
func (r *PaymentRepository) Find(ctx context.Context, p payment.Payable) (*payment.Record, error) {
	rows, err := r.pool.Query(ctx, findPaymentSQL, string(p.Kind), p.ID)
	if err != nil {
		return nil, fmt.Errorf("finding payment for %s: %w", p, err)
	}

	rec, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &payment.RecordNotFoundError{Payable: p}
		}
		return nil, fmt.Errorf("finding payment for %s: %w", p, err)
	}
	return &rec, nil
}

// Complete moves a pending payment to completed.
func (r *PaymentRepository) Complete(ctx context.Context, p payment.Payable) (bool, error) {
	return r.exec(ctx, completePaymentSQL, "completing", p)
}

// Fail moves a pending payment to failed.
func (r *PaymentRepository) Fail(ctx context.Context, p payment.Payable) error {
	_, err := r.exec(ctx, failPaymentSQL, "failing", p)
	return err
}

// MarkNotified sets the notification mark of a completed payment once.
func (r *PaymentRepository) MarkNotified(ctx context.Context, p payment.Payable) (bool, error) {
	return r.exec(ctx, markNotifiedSQL, "marking notified", p)
}

func (r *PaymentRepository) exec(ctx context.Context, sql, op string, p payment.Payable) (bool, error) {
	tag, err := r.pool.Exec(ctx, sql, string(p.Kind), p.ID)
	if err != nil {
		return false, fmt.Errorf("%s payment for %s: %w", op, p, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanPayment(row pgx.CollectableRow) (payment.Record, error) {
	var (
		rec    payment.Record
		kind   string
		status string
	)
	err := row.Scan(
		&kind, &rec.Payable.ID, &rec.IntentID, &rec.PayerID, &rec.Amount, &status,
		&rec.CreatedAt, &rec.CompletedAt, &rec.NotifiedAt,
	)
	rec.Payable.Kind = payment.PayableKind(kind)
	rec.Status = payment.RecordStatus(status)
	return rec, err
}
