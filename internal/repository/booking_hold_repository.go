package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
)

// BookingHoldRepo manages capacity holds.  A hold fences seats out of
// availability exactly while its status is active; every transition away
// from active is a conditional update whose row count the caller checks,
// so a hold consumed by a concurrent acceptance can never be released a
// second time.  Expiry is lazy: predicates compare hold_expires_at to the
// database clock at the moment of use.
type BookingHoldRepo struct{ DB *sql.DB }

func NewBookingHoldRepo(db *sql.DB) *BookingHoldRepo { return &BookingHoldRepo{DB: db} }

// Create inserts an active hold and populates the generated ID.
func (r *BookingHoldRepo) Create(ctx context.Context, h *model.BookingHold) error {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO booking_holds (event_id, offer_id, booking_id, seats, status, hold_expires_at)
		 VALUES (?,?,?,?,?,?)`,
		h.EventID, h.OfferID, h.BookingID, h.Seats, model.HoldActive,
		h.ExpiresAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	h.ID = uint64(id)
	h.Status = model.HoldActive
	return nil
}

// CreateTx is Create within an existing transaction.
func (r *BookingHoldRepo) CreateTx(ctx context.Context, tx *sql.Tx, h *model.BookingHold) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO booking_holds (event_id, offer_id, booking_id, seats, status, hold_expires_at)
		 VALUES (?,?,?,?,?,?)`,
		h.EventID, h.OfferID, h.BookingID, h.Seats, model.HoldActive,
		h.ExpiresAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	h.ID = uint64(id)
	h.Status = model.HoldActive
	return nil
}

// GetByID returns a hold, or ErrNotFound.
func (r *BookingHoldRepo) GetByID(ctx context.Context, id uint64) (*model.BookingHold, error) {
	var h model.BookingHold
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, event_id, offer_id, booking_id, seats, status, hold_expires_at, created_at
		 FROM booking_holds WHERE id = ? LIMIT 1`,
		id).Scan(&h.ID, &h.EventID, &h.OfferID, &h.BookingID, &h.Seats, &h.Status,
		&h.ExpiresAt, &h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ConsumeTx hands an unexpired active hold over to a booking: the hold is
// released and booking_id recorded in one conditional update.  Returns the
// affected-row count; zero means the hold lapsed or was already taken.
func (r *BookingHoldRepo) ConsumeTx(ctx context.Context, tx *sql.Tx, holdID, bookingID uint64) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE booking_holds SET status = ?, booking_id = ?
		 WHERE id = ? AND status = ? AND hold_expires_at > UTC_TIMESTAMP()`,
		model.HoldReleased, bookingID, holdID, model.HoldActive)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Consume is ConsumeTx outside a transaction, used when a seat-increase
// hold is applied after payment capture confirms.
func (r *BookingHoldRepo) Consume(ctx context.Context, holdID, bookingID uint64) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE booking_holds SET status = ?, booking_id = ?
		 WHERE id = ? AND status = ? AND hold_expires_at > UTC_TIMESTAMP()`,
		model.HoldReleased, bookingID, holdID, model.HoldActive)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Release moves an active hold to a terminal status (released or expired)
// outside a transaction.  Returns the affected-row count.
func (r *BookingHoldRepo) Release(ctx context.Context, holdID uint64, to string) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE booking_holds SET status = ? WHERE id = ? AND status = ?`,
		to, holdID, model.HoldActive)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReleaseTx moves an active hold to a terminal status (released or
// expired) within a transaction.  Returns the affected-row count.
func (r *BookingHoldRepo) ReleaseTx(ctx context.Context, tx *sql.Tx, holdID uint64, to string) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE booking_holds SET status = ? WHERE id = ? AND status = ?`,
		to, holdID, model.HoldActive)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ActiveSeats sums the seats fenced by unexpired active holds for an
// event.  Used alongside EventRepo.SeatsBooked when computing free
// capacity.
func (r *BookingHoldRepo) ActiveSeats(ctx context.Context, eventID uint64) (uint32, error) {
	var n uint32
	err := r.DB.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(seats), 0) FROM booking_holds
		 WHERE event_id = ? AND status = ? AND hold_expires_at > UTC_TIMESTAMP()`,
		eventID, model.HoldActive).Scan(&n)
	return n, err
}
