package repository

import (
	"context"
	"database/sql"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
)

// RefundRepo covers the follow-up surface over refund instructions.  The
// rows themselves are inserted by BookingRepo inside the booking write
// transaction; this repo records gateway outcomes and lets operators find
// instructions that never got one.
type RefundRepo struct{ DB *sql.DB }

func NewRefundRepo(db *sql.DB) *RefundRepo { return &RefundRepo{DB: db} }

// MarkOutcome records the gateway's answer on a pending instruction.  A
// row already past pending is left alone.
func (r *RefundRepo) MarkOutcome(ctx context.Context, id uint64, status string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE refunds SET status = ?, updated_at = UTC_TIMESTAMP()
		 WHERE id = ? AND status = ?`,
		status, id, model.RefundPending)
	return err
}

// ListPending returns instructions whose gateway outcome was never
// recorded, oldest first.  After a crash between a booking write and the
// gateway call these rows are the only record of the money owed.
func (r *RefundRepo) ListPending(ctx context.Context) ([]*model.Refund, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, booking_id, charge_ref, amount_cents, band, status, created_at
		 FROM refunds WHERE status = ? ORDER BY id ASC`,
		model.RefundPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Refund
	for rows.Next() {
		var ref model.Refund
		if err := rows.Scan(&ref.ID, &ref.BookingID, &ref.ChargeRef, &ref.AmountCents,
			&ref.Band, &ref.Status, &ref.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &ref)
	}
	return out, rows.Err()
}
