package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
)

// EventRepo reads event rows and derives capacity usage.  Capacity is
// never cached: every allocation decision re-reads booked seats and active
// hold seats immediately before acting.
type EventRepo struct{ DB *sql.DB }

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{DB: db} }

// GetByID returns an event, or ErrNotFound.
func (r *EventRepo) GetByID(ctx context.Context, id uint64) (*model.Event, error) {
	var (
		ev          model.Event
		cancelledAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, name, starts_at, capacity, price_cents, prepaid, cancelled_at, created_at
		 FROM events WHERE id = ? LIMIT 1`,
		id).Scan(&ev.ID, &ev.Name, &ev.StartsAt, &ev.Capacity, &ev.PriceCents, &ev.Prepaid,
		&cancelledAt, &ev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		ev.CancelledAt = &t
	}
	return &ev, nil
}

// SeatsBooked sums the seats of bookings that currently occupy capacity
// (confirmed and pending_payment).  Cancelled and no_show rows free their
// seats.
func (r *EventRepo) SeatsBooked(ctx context.Context, eventID uint64) (uint32, error) {
	var n uint32
	err := r.DB.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(seats), 0) FROM bookings
		 WHERE event_id = ? AND status IN (?, ?)`,
		eventID, string(model.BookingConfirmed), string(model.BookingPendingPayment)).Scan(&n)
	return n, err
}
