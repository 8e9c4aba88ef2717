package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
)

// GuestTokenRepo persists capability tokens (single 'token_hash' column,
// the raw token is never stored).  Rows are append-only apart from the
// one-shot used_at update; tokens are retained for audit and never deleted.
type GuestTokenRepo struct{ DB *sql.DB }

func NewGuestTokenRepo(db *sql.DB) *GuestTokenRepo { return &GuestTokenRepo{DB: db} }

// Create inserts a token row and populates the generated ID.
func (r *GuestTokenRepo) Create(ctx context.Context, t *model.GuestToken) error {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO guest_tokens
		   (token_hash, action_type, customer_id, event_booking_id, table_booking_id, private_booking_id, waitlist_offer_id, expires_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		t.TokenHash, string(t.Action), t.CustomerID,
		t.EventBookingID, t.TableBookingID, t.PrivateBookingID, t.WaitlistOfferID,
		t.ExpiresAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	return nil
}

// GetByHash returns the token row for a hash, or ErrNotFound.
func (r *GuestTokenRepo) GetByHash(ctx context.Context, hash string) (*model.GuestToken, error) {
	var (
		t      model.GuestToken
		action string
		usedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, token_hash, action_type, customer_id, event_booking_id, table_booking_id,
		        private_booking_id, waitlist_offer_id, expires_at, used_at, created_at
		 FROM guest_tokens WHERE token_hash = ? LIMIT 1`,
		hash).Scan(
		&t.ID, &t.TokenHash, &action, &t.CustomerID, &t.EventBookingID, &t.TableBookingID,
		&t.PrivateBookingID, &t.WaitlistOfferID, &t.ExpiresAt, &usedAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Action = model.ActionType(action)
	if usedAt.Valid {
		u := usedAt.Time
		t.UsedAt = &u
	}
	return &t, nil
}

// Consume marks a token used.  The WHERE used_at IS NULL predicate makes
// this the arbitration point between concurrent requests carrying the same
// token: exactly one caller observes one affected row.  A false return
// means the token was already consumed and the caller must treat the
// request as "already used", not retry.
func (r *GuestTokenRepo) Consume(ctx context.Context, hash string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE guest_tokens SET used_at = UTC_TIMESTAMP() WHERE token_hash = ? AND used_at IS NULL`,
		hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CountRecentByCustomer returns how many tokens were issued to a customer
// since the cutoff.  Used to cap link re-issuance independent of the
// per-request throttle.
func (r *GuestTokenRepo) CountRecentByCustomer(ctx context.Context, customerID uint64, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM guest_tokens WHERE customer_id = ? AND created_at >= ?`,
		customerID, since.UTC().Format("2006-01-02 15:04:05")).Scan(&n)
	return n, err
}
