package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
)

// WaitlistRepo owns persistence for waitlist entries and offers, including
// the composite transitions that must land atomically: promotion (entry,
// offer and hold in one transaction), acceptance (offer, entry, booking
// and hold) and compensating cleanup.  Every sub-update inside a composite
// is row-count-verified; if any affects zero rows the whole transaction is
// rolled back, because a partially cleaned up offer would either hold
// capacity hostage or risk a double release.
type WaitlistRepo struct {
	DB       *sql.DB
	Holds    *BookingHoldRepo
	Bookings *BookingRepo
}

func NewWaitlistRepo(db *sql.DB, holds *BookingHoldRepo, bookings *BookingRepo) *WaitlistRepo {
	return &WaitlistRepo{DB: db, Holds: holds, Bookings: bookings}
}

// CreateEntry inserts a queued entry and populates the generated ID.
func (r *WaitlistRepo) CreateEntry(ctx context.Context, e *model.WaitlistEntry) error {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO waitlist_entries (event_id, customer_id, seats, status) VALUES (?,?,?,?)`,
		e.EventID, e.CustomerID, e.Seats, model.WaitlistQueued)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	e.Status = model.WaitlistQueued
	return nil
}

// HasOffered reports whether the event already has an entry in offered
// status.  Capacity is never offered to two guests at once.
func (r *WaitlistRepo) HasOffered(ctx context.Context, eventID uint64) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM waitlist_entries WHERE event_id = ? AND status = ?`,
		eventID, model.WaitlistOffered).Scan(&n)
	return n > 0, err
}

func scanEntry(row *sql.Row) (*model.WaitlistEntry, error) {
	var e model.WaitlistEntry
	err := row.Scan(&e.ID, &e.EventID, &e.CustomerID, &e.Seats, &e.Status, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// OldestQueued returns the head of the FIFO queue for an event, or
// ErrNotFound when the queue is empty.  created_at ascending with id as a
// tiebreaker keeps ordering deterministic for entries created in the same
// second.
func (r *WaitlistRepo) OldestQueued(ctx context.Context, eventID uint64) (*model.WaitlistEntry, error) {
	return scanEntry(r.DB.QueryRowContext(ctx,
		`SELECT id, event_id, customer_id, seats, status, created_at
		 FROM waitlist_entries WHERE event_id = ? AND status = ?
		 ORDER BY created_at ASC, id ASC LIMIT 1`,
		eventID, model.WaitlistQueued))
}

// GetEntry returns an entry, or ErrNotFound.
func (r *WaitlistRepo) GetEntry(ctx context.Context, id uint64) (*model.WaitlistEntry, error) {
	return scanEntry(r.DB.QueryRowContext(ctx,
		`SELECT id, event_id, customer_id, seats, status, created_at
		 FROM waitlist_entries WHERE id = ? LIMIT 1`, id))
}

// CancelQueued withdraws a guest's own queued entry.  Conditional on both
// ownership and queued status; an offered entry must go through the
// allocator's cleanup paths instead.  Returns the affected-row count.
func (r *WaitlistRepo) CancelQueued(ctx context.Context, entryID, customerID uint64) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE waitlist_entries SET status = ?
		 WHERE id = ? AND customer_id = ? AND status = ?`,
		model.WaitlistCancelled, entryID, customerID, model.WaitlistQueued)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PromoteEntry transitions an entry from queued to offered and creates its
// offer and capacity hold in one transaction.  Returns ErrConflict when
// the entry is no longer queued or another entry for the event reached
// offered first; in either case nothing is left dangling.  On success the
// offer and hold IDs are populated on the passed records.
func (r *WaitlistRepo) PromoteEntry(ctx context.Context, entry *model.WaitlistEntry, offer *model.WaitlistOffer, hold *model.BookingHold) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE waitlist_entries SET status = ? WHERE id = ? AND status = ?`,
		model.WaitlistOffered, entry.ID, model.WaitlistQueued)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return ErrConflict
	}

	// Re-check the single-offered invariant inside the transaction; the
	// pre-check in the allocator ran outside it.
	var offered int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM waitlist_entries WHERE event_id = ? AND status = ?`,
		entry.EventID, model.WaitlistOffered).Scan(&offered); err != nil {
		return err
	}
	if offered != 1 {
		return ErrConflict
	}

	if err := r.Holds.CreateTx(ctx, tx, hold); err != nil {
		return err
	}

	ores, err := tx.ExecContext(ctx,
		`INSERT INTO waitlist_offers (entry_id, event_id, customer_id, hold_id, status, sent_at, expires_at)
		 VALUES (?,?,?,?,?,?,?)`,
		entry.ID, offer.EventID, offer.CustomerID, hold.ID, model.OfferSent,
		offer.SentAt.UTC().Format("2006-01-02 15:04:05"),
		offer.ExpiresAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return err
	}
	oid, err := ores.LastInsertId()
	if err != nil {
		return err
	}
	offer.ID = uint64(oid)
	offer.EntryID = entry.ID
	offer.HoldID = hold.ID
	offer.Status = model.OfferSent

	if _, err := tx.ExecContext(ctx,
		`UPDATE booking_holds SET offer_id = ? WHERE id = ?`, offer.ID, hold.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	entry.Status = model.WaitlistOffered
	oidCopy := offer.ID
	hold.OfferID = &oidCopy
	return nil
}

func scanOffer(row *sql.Row) (*model.WaitlistOffer, error) {
	var (
		o         model.WaitlistOffer
		expiredAt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.EntryID, &o.EventID, &o.CustomerID, &o.HoldID, &o.Status,
		&o.SentAt, &o.ExpiresAt, &expiredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if expiredAt.Valid {
		t := expiredAt.Time
		o.ExpiredAt = &t
	}
	return &o, nil
}

const offerCols = `id, entry_id, event_id, customer_id, hold_id, status, sent_at, expires_at, expired_at`

// GetOffer returns an offer, or ErrNotFound.
func (r *WaitlistRepo) GetOffer(ctx context.Context, id uint64) (*model.WaitlistOffer, error) {
	return scanOffer(r.DB.QueryRowContext(ctx,
		`SELECT `+offerCols+` FROM waitlist_offers WHERE id = ? LIMIT 1`, id))
}

// AcceptOffer converts a sent offer into a booking: offer and entry go
// terminal, the booking row is created, and the hold is handed over to it,
// all in one transaction.  Returns ErrOfferNotActive when the offer or
// entry already left its live state, and ErrHoldExpired when the hold
// lapsed before acceptance. In both cases no booking is created.
func (r *WaitlistRepo) AcceptOffer(ctx context.Context, offer *model.WaitlistOffer, status model.BookingStatus) (uint64, error) {
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

	res, err := tx.ExecContext(ctx,
		`UPDATE waitlist_offers SET status = ? WHERE id = ? AND status = ?`,
		model.OfferAccepted, offer.ID, model.OfferSent)
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n != 1 {
		return 0, ErrOfferNotActive
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE waitlist_entries SET status = ? WHERE id = ? AND status = ?`,
		model.WaitlistAccepted, offer.EntryID, model.WaitlistOffered)
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n != 1 {
		return 0, ErrOfferNotActive
	}

	var entrySeats uint32
	if err := tx.QueryRowContext(ctx,
		`SELECT seats FROM waitlist_entries WHERE id = ?`, offer.EntryID).Scan(&entrySeats); err != nil {
		return 0, err
	}

	booking := &model.Booking{
		EventID:    offer.EventID,
		CustomerID: offer.CustomerID,
		Status:     status,
		Seats:      entrySeats,
	}
	if err := r.Bookings.CreateTx(ctx, tx, booking); err != nil {
		return 0, err
	}

	n, err := r.Holds.ConsumeTx(ctx, tx, offer.HoldID, booking.ID)
	if err != nil {
		return 0, err
	}
	if n != 1 {
		// The hold expired or was already taken; rolling back removes the
		// booking as well.
		return 0, ErrHoldExpired
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return booking.ID, nil
}

// FinishOffer runs the compensating cleanup for an offer whose send failed
// or whose window lapsed: offer, hold and entry each move to the matching
// terminal state.  outcome must be model.OfferExpired or
// model.OfferCancelled.  Any sub-update that affects zero rows fails the
// whole cleanup so it can be logged and retried rather than silently
// assumed done.
func (r *WaitlistRepo) FinishOffer(ctx context.Context, offerID, entryID, holdID uint64, outcome string) error {
	if outcome != model.OfferExpired && outcome != model.OfferCancelled {
		return fmt.Errorf("finish offer %d: invalid outcome %q", offerID, outcome)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE waitlist_offers SET status = ?, expired_at = UTC_TIMESTAMP()
		 WHERE id = ? AND status = ?`,
		outcome, offerID, model.OfferSent)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return fmt.Errorf("finish offer %d: offer not in sent status", offerID)
	}

	holdTo := model.HoldReleased
	if outcome == model.OfferExpired {
		holdTo = model.HoldExpired
	}
	if n, err := r.Holds.ReleaseTx(ctx, tx, holdID, holdTo); err != nil {
		return err
	} else if n != 1 {
		return fmt.Errorf("finish offer %d: hold %d not active", offerID, holdID)
	}

	entryTo := model.WaitlistCancelled
	if outcome == model.OfferExpired {
		entryTo = model.WaitlistExpired
	}
	res, err = tx.ExecContext(ctx,
		`UPDATE waitlist_entries SET status = ? WHERE id = ? AND status = ?`,
		entryTo, entryID, model.WaitlistOffered)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return fmt.Errorf("finish offer %d: entry %d not offered", offerID, entryID)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// EventIDsWithQueued lists the events that currently have queued entries.
// The scheduler walks this list once per run.
func (r *WaitlistRepo) EventIDsWithQueued(ctx context.Context) ([]uint64, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT DISTINCT event_id FROM waitlist_entries WHERE status = ? ORDER BY event_id`,
		model.WaitlistQueued)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// OverdueOffers returns sent offers whose acceptance window has lapsed.
func (r *WaitlistRepo) OverdueOffers(ctx context.Context) ([]*model.WaitlistOffer, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+offerCols+` FROM waitlist_offers
		 WHERE status = ? AND expires_at <= UTC_TIMESTAMP()`,
		model.OfferSent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var offers []*model.WaitlistOffer
	for rows.Next() {
		var (
			o         model.WaitlistOffer
			expiredAt sql.NullTime
		)
		if err := rows.Scan(&o.ID, &o.EntryID, &o.EventID, &o.CustomerID, &o.HoldID, &o.Status,
			&o.SentAt, &o.ExpiresAt, &expiredAt); err != nil {
			return nil, err
		}
		if expiredAt.Valid {
			t := expiredAt.Time
			o.ExpiredAt = &t
		}
		offers = append(offers, &o)
	}
	return offers, rows.Err()
}
