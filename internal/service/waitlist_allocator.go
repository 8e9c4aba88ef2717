package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
	"github.com/peterjpitcher/anchor-guest-actions/internal/repository"
)

// WaitlistStore is the persistence surface of the allocator.
// *repository.WaitlistRepo implements it; the composite methods
// (PromoteEntry, AcceptOffer, FinishOffer) are atomic and row-count-
// verified internally.
type WaitlistStore interface {
	CreateEntry(ctx context.Context, e *model.WaitlistEntry) error
	HasOffered(ctx context.Context, eventID uint64) (bool, error)
	OldestQueued(ctx context.Context, eventID uint64) (*model.WaitlistEntry, error)
	PromoteEntry(ctx context.Context, entry *model.WaitlistEntry, offer *model.WaitlistOffer, hold *model.BookingHold) error
	GetOffer(ctx context.Context, id uint64) (*model.WaitlistOffer, error)
	AcceptOffer(ctx context.Context, offer *model.WaitlistOffer, status model.BookingStatus) (uint64, error)
	FinishOffer(ctx context.Context, offerID, entryID, holdID uint64, outcome string) error
	EventIDsWithQueued(ctx context.Context) ([]uint64, error)
	OverdueOffers(ctx context.Context) ([]*model.WaitlistOffer, error)
	CancelQueued(ctx context.Context, entryID, customerID uint64) (int64, error)
}

// PromotionResult reports one promotion attempt.  A skipped attempt is a
// normal outcome, not an error: the skip reason says why nothing could be
// promoted this time.
type PromotionResult struct {
	Promoted   bool
	SkipReason string

	Entry *model.WaitlistEntry
	Offer *model.WaitlistOffer
	Hold  *model.BookingHold
}

// Skip reasons for promotion attempts.
const (
	SkipOfferOutstanding     = "offer_outstanding"
	SkipQueueEmpty           = "queue_empty"
	SkipInsufficientCapacity = "insufficient_capacity"
	SkipLostRace             = "lost_race"
	SkipEventCancelled       = "event_cancelled"
)

// AcceptResult reports an offer acceptance.
type AcceptResult struct {
	OK            bool
	Reason        model.Reason
	BookingID     uint64
	BookingStatus model.BookingStatus
	Event         *model.Event
}

// Allocator drives the waitlist state machine.  It exclusively owns entry
// and offer transitions: promotion of the FIFO head into a time-boxed
// offer with a capacity hold, reconciliation of acceptance, expiry and
// cancellation, and the compensating cleanup when a send fails.
type Allocator struct {
	Store       WaitlistStore
	Events      EventStore
	Holds       HoldStore
	OfferWindow time.Duration    // how long a guest has to accept an offer
	Now         func() time.Time // injectable clock
}

func NewAllocator(store WaitlistStore, events EventStore, holds HoldStore, window time.Duration) *Allocator {
	return &Allocator{Store: store, Events: events, Holds: holds, OfferWindow: window, Now: time.Now}
}

// Join puts a customer on the queue for an event.
func (a *Allocator) Join(ctx context.Context, eventID, customerID uint64, seats uint32) (*model.WaitlistEntry, error) {
	if seats == 0 {
		seats = 1
	}
	entry := &model.WaitlistEntry{EventID: eventID, CustomerID: customerID, Seats: seats}
	if err := a.Store.CreateEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Withdraw cancels the guest's own queued entry.  Returns false when the
// entry was not theirs or had already left queued status.
func (a *Allocator) Withdraw(ctx context.Context, entryID, customerID uint64) (bool, error) {
	n, err := a.Store.CancelQueued(ctx, entryID, customerID)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Promote attempts to move the head of an event's queue to offered.  Only
// the oldest queued entry is ever considered, only when freed capacity
// covers it, and only while no other entry for the event holds an
// outstanding offer.  The offer and its capacity hold are created
// atomically with the entry transition; a lost race leaves the entry
// queued, never dangling in offered.
func (a *Allocator) Promote(ctx context.Context, eventID uint64) (PromotionResult, error) {
	offered, err := a.Store.HasOffered(ctx, eventID)
	if err != nil {
		return PromotionResult{}, err
	}
	if offered {
		return PromotionResult{SkipReason: SkipOfferOutstanding}, nil
	}

	ev, err := a.Events.GetByID(ctx, eventID)
	if err != nil {
		return PromotionResult{}, err
	}
	if ev.CancelledAt != nil {
		return PromotionResult{SkipReason: SkipEventCancelled}, nil
	}

	entry, err := a.Store.OldestQueued(ctx, eventID)
	if errors.Is(err, repository.ErrNotFound) {
		return PromotionResult{SkipReason: SkipQueueEmpty}, nil
	}
	if err != nil {
		return PromotionResult{}, err
	}

	booked, err := a.Events.SeatsBooked(ctx, eventID)
	if err != nil {
		return PromotionResult{}, err
	}
	held, err := a.Holds.ActiveSeats(ctx, eventID)
	if err != nil {
		return PromotionResult{}, err
	}
	if booked+held+entry.Seats > ev.Capacity {
		return PromotionResult{SkipReason: SkipInsufficientCapacity}, nil
	}

	now := a.Now().UTC()
	offer := &model.WaitlistOffer{
		EventID:    eventID,
		CustomerID: entry.CustomerID,
		SentAt:     now,
		ExpiresAt:  now.Add(a.OfferWindow),
	}
	hold := &model.BookingHold{
		EventID:   eventID,
		Seats:     entry.Seats,
		ExpiresAt: offer.ExpiresAt,
	}
	err = a.Store.PromoteEntry(ctx, entry, offer, hold)
	if errors.Is(err, repository.ErrConflict) {
		return PromotionResult{SkipReason: SkipLostRace}, nil
	}
	if err != nil {
		return PromotionResult{}, err
	}
	return PromotionResult{Promoted: true, Entry: entry, Offer: offer, Hold: hold}, nil
}

// Accept reconciles a guest's acceptance of an offer into a booking.  The
// terminal booking status depends on the event's payment mode: confirmed
// for free or pay-on-the-door events, pending_payment for prepaid ones.
// An offer whose hold lapsed yields hold_expired and creates no booking.
func (a *Allocator) Accept(ctx context.Context, tok *model.GuestToken) (AcceptResult, error) {
	if tok.WaitlistOfferID == nil {
		return AcceptResult{Reason: model.ReasonInvalidToken}, nil
	}
	offer, err := a.Store.GetOffer(ctx, *tok.WaitlistOfferID)
	if errors.Is(err, repository.ErrNotFound) {
		return AcceptResult{Reason: model.ReasonInvalidToken}, nil
	}
	if err != nil {
		return AcceptResult{Reason: model.ReasonInternalError}, err
	}
	if offer.CustomerID != tok.CustomerID {
		return AcceptResult{Reason: model.ReasonTokenCustomerMismatch}, nil
	}
	if offer.Status != model.OfferSent {
		return AcceptResult{Reason: model.ReasonAlreadyChanged}, nil
	}
	if !a.Now().UTC().Before(offer.ExpiresAt) {
		return AcceptResult{Reason: model.ReasonHoldExpired}, nil
	}

	ev, err := a.Events.GetByID(ctx, offer.EventID)
	if err != nil {
		return AcceptResult{Reason: model.ReasonInternalError}, err
	}
	status := model.BookingConfirmed
	if ev.RequiresPayment() {
		status = model.BookingPendingPayment
	}

	bookingID, err := a.Store.AcceptOffer(ctx, offer, status)
	if errors.Is(err, repository.ErrHoldExpired) {
		return AcceptResult{Reason: model.ReasonHoldExpired}, nil
	}
	if errors.Is(err, repository.ErrOfferNotActive) {
		return AcceptResult{Reason: model.ReasonAlreadyChanged}, nil
	}
	if err != nil {
		return AcceptResult{Reason: model.ReasonInternalError}, err
	}
	return AcceptResult{OK: true, BookingID: bookingID, BookingStatus: status, Event: ev}, nil
}

// CleanupFailedSend runs the compensating transaction for an offer whose
// notification failed.  windowUnavailable distinguishes "the window was no
// longer valid by the time we tried" (expired: the guest had a chance and
// time ran out) from an outright send failure (cancelled: the guest never
// got a chance).
func (a *Allocator) CleanupFailedSend(ctx context.Context, offer *model.WaitlistOffer, windowUnavailable bool) error {
	outcome := model.OfferCancelled
	if windowUnavailable {
		outcome = model.OfferExpired
	}
	return a.Store.FinishOffer(ctx, offer.ID, offer.EntryID, offer.HoldID, outcome)
}

// ExpireOverdue sweeps sent offers whose acceptance window lapsed, running
// the same compensating cleanup for each.  Individual failures are logged
// and counted but do not stop the sweep.
func (a *Allocator) ExpireOverdue(ctx context.Context) (expired, failed int) {
	offers, err := a.Store.OverdueOffers(ctx)
	if err != nil {
		log.Printf("allocator: list overdue offers: %v", err)
		return 0, 1
	}
	for _, o := range offers {
		if err := a.Store.FinishOffer(ctx, o.ID, o.EntryID, o.HoldID, model.OfferExpired); err != nil {
			log.Printf("allocator: expire offer %d: %v", o.ID, err)
			failed++
			continue
		}
		expired++
	}
	return expired, failed
}

// EventsWithQueue lists events that currently have queued entries, for the
// scheduler to walk.
func (a *Allocator) EventsWithQueue(ctx context.Context) ([]uint64, error) {
	return a.Store.EventIDsWithQueued(ctx)
}
