package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
)

// BookingRepo provides conditional, row-count-verified access to event
// bookings.  No method here performs a blind write: seat changes and
// status transitions are always guarded by the caller's view of the
// current row, and the affected-row count is surfaced so the mutation
// engine can treat "not exactly one row" as a lost race.
type BookingRepo struct{ DB *sql.DB }

func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{DB: db} }

func scanBooking(row *sql.Row) (*model.Booking, error) {
	var (
		b          model.Booking
		status     string
		paymentRef sql.NullString
	)
	err := row.Scan(&b.ID, &b.EventID, &b.CustomerID, &status, &b.Seats, &paymentRef,
		&b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	if paymentRef.Valid {
		p := paymentRef.String
		b.PaymentRef = &p
	}
	return &b, nil
}

const bookingCols = `id, event_id, customer_id, status, seats, payment_ref, created_at, updated_at`

// GetByID returns a booking, or ErrNotFound.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	return scanBooking(r.DB.QueryRowContext(ctx,
		`SELECT `+bookingCols+` FROM bookings WHERE id = ? LIMIT 1`, id))
}

// statusPlaceholders renders "?,?" style placeholders plus args for a
// status IN (...) predicate.
func statusPlaceholders(statuses []model.BookingStatus) (string, []interface{}) {
	ph := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		ph[i] = "?"
		args[i] = string(s)
	}
	return strings.Join(ph, ","), args
}

// UpdateSeats changes the seat count, conditional on the booking still
// holding expectSeats and sitting in one of fromStatuses.  Returns the
// affected-row count; zero means another writer changed the row first.
func (r *BookingRepo) UpdateSeats(ctx context.Context, id uint64, newSeats, expectSeats uint32, fromStatuses []model.BookingStatus) (int64, error) {
	ph, args := statusPlaceholders(fromStatuses)
	q := `UPDATE bookings SET seats = ?, updated_at = UTC_TIMESTAMP()
	      WHERE id = ? AND seats = ? AND status IN (` + ph + `)`
	all := append([]interface{}{newSeats, id, expectSeats}, args...)
	res, err := r.DB.ExecContext(ctx, q, all...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpdateStatus transitions a booking, conditional on its current status
// being one of fromStatuses.  Returns the affected-row count.
func (r *BookingRepo) UpdateStatus(ctx context.Context, id uint64, to model.BookingStatus, fromStatuses []model.BookingStatus) (int64, error) {
	ph, args := statusPlaceholders(fromStatuses)
	q := `UPDATE bookings SET status = ?, updated_at = UTC_TIMESTAMP()
	      WHERE id = ? AND status IN (` + ph + `)`
	all := append([]interface{}{string(to), id}, args...)
	res, err := r.DB.ExecContext(ctx, q, all...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// insertRefundTx inserts a pending refund instruction within an existing
// transaction and populates the generated ID.
func insertRefundTx(ctx context.Context, tx *sql.Tx, ref *model.Refund) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO refunds (booking_id, charge_ref, amount_cents, band, status) VALUES (?,?,?,?,?)`,
		ref.BookingID, ref.ChargeRef, ref.AmountCents, ref.Band, model.RefundPending)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ref.ID = uint64(id)
	ref.Status = model.RefundPending
	return nil
}

// UpdateSeatsRefunding is UpdateSeats with a refund instruction landing in
// the same transaction when the seat write takes effect.  A nil ref makes
// it a plain conditional update.  The instruction is only inserted when
// exactly one row changed; a lost race persists nothing.
func (r *BookingRepo) UpdateSeatsRefunding(ctx context.Context, id uint64, newSeats, expectSeats uint32, fromStatuses []model.BookingStatus, ref *model.Refund) (int64, error) {
	if ref == nil {
		return r.UpdateSeats(ctx, id, newSeats, expectSeats, fromStatuses)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	ph, args := statusPlaceholders(fromStatuses)
	q := `UPDATE bookings SET seats = ?, updated_at = UTC_TIMESTAMP()
	      WHERE id = ? AND seats = ? AND status IN (` + ph + `)`
	all := append([]interface{}{newSeats, id, expectSeats}, args...)
	res, err := tx.ExecContext(ctx, q, all...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := insertRefundTx(ctx, tx, ref); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return n, nil
}

// UpdateStatusRefunding is UpdateStatus with a refund instruction landing
// in the same transaction when the transition takes effect.  A nil ref
// makes it a plain conditional update.
func (r *BookingRepo) UpdateStatusRefunding(ctx context.Context, id uint64, to model.BookingStatus, fromStatuses []model.BookingStatus, ref *model.Refund) (int64, error) {
	if ref == nil {
		return r.UpdateStatus(ctx, id, to, fromStatuses)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	ph, args := statusPlaceholders(fromStatuses)
	q := `UPDATE bookings SET status = ?, updated_at = UTC_TIMESTAMP()
	      WHERE id = ? AND status IN (` + ph + `)`
	all := append([]interface{}{string(to), id}, args...)
	res, err := tx.ExecContext(ctx, q, all...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := insertRefundTx(ctx, tx, ref); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return n, nil
}

// SetPaymentRef records the gateway charge reference after a capture,
// conditional on no reference being set yet.
func (r *BookingRepo) SetPaymentRef(ctx context.Context, id uint64, ref string) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE bookings SET payment_ref = ?, updated_at = UTC_TIMESTAMP()
		 WHERE id = ? AND payment_ref IS NULL`,
		ref, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateTx inserts a booking within an existing transaction and populates
// the generated ID.  Used by offer acceptance, where the booking must land
// atomically with the hold consumption and offer/entry transitions.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO bookings (event_id, customer_id, status, seats) VALUES (?,?,?,?)`,
		b.EventID, b.CustomerID, string(b.Status), b.Seats)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	return nil
}

// TableBookingRepo covers the narrow guest surface on restaurant tables:
// lookup for token-scoped views and conditional cancellation.
type TableBookingRepo struct{ DB *sql.DB }

func NewTableBookingRepo(db *sql.DB) *TableBookingRepo { return &TableBookingRepo{DB: db} }

// GetByID returns a table booking, or ErrNotFound.
func (r *TableBookingRepo) GetByID(ctx context.Context, id uint64) (*model.TableBooking, error) {
	var (
		b      model.TableBooking
		status string
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, customer_id, party_size, status, booked_for, created_at
		 FROM table_bookings WHERE id = ? LIMIT 1`,
		id).Scan(&b.ID, &b.CustomerID, &b.PartySize, &status, &b.BookedFor, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	return &b, nil
}

// Cancel transitions a table booking to cancelled, conditional on it still
// being confirmed or pending payment.  Returns the affected-row count.
func (r *TableBookingRepo) Cancel(ctx context.Context, id uint64) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE table_bookings SET status = ? WHERE id = ? AND status IN (?, ?)`,
		string(model.BookingCancelled), id,
		string(model.BookingConfirmed), string(model.BookingPendingPayment))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
