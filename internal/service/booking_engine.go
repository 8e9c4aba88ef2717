package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
	"github.com/peterjpitcher/anchor-guest-actions/internal/payment"
	"github.com/peterjpitcher/anchor-guest-actions/internal/repository"
)

// BookingStore is the conditional-update surface over event bookings.
// *repository.BookingRepo implements it.
type BookingStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Booking, error)
	UpdateSeats(ctx context.Context, id uint64, newSeats, expectSeats uint32, from []model.BookingStatus) (int64, error)
	UpdateStatus(ctx context.Context, id uint64, to model.BookingStatus, from []model.BookingStatus) (int64, error)
	UpdateSeatsRefunding(ctx context.Context, id uint64, newSeats, expectSeats uint32, from []model.BookingStatus, ref *model.Refund) (int64, error)
	UpdateStatusRefunding(ctx context.Context, id uint64, to model.BookingStatus, from []model.BookingStatus, ref *model.Refund) (int64, error)
}

// RefundStore records gateway outcomes on persisted refund instructions.
// *repository.RefundRepo implements it.
type RefundStore interface {
	MarkOutcome(ctx context.Context, id uint64, status string) error
}

// HoldStore manages capacity holds. *repository.BookingHoldRepo implements it.
type HoldStore interface {
	Create(ctx context.Context, h *model.BookingHold) error
	GetByID(ctx context.Context, id uint64) (*model.BookingHold, error)
	Consume(ctx context.Context, holdID, bookingID uint64) (int64, error)
	Release(ctx context.Context, holdID uint64, to string) (int64, error)
	ActiveSeats(ctx context.Context, eventID uint64) (uint32, error)
}

// EventStore reads events and their derived seat usage.
// *repository.EventRepo implements it.
type EventStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Event, error)
	SeatsBooked(ctx context.Context, eventID uint64) (uint32, error)
}

// MutationResult is the outcome of a guest mutation.  Business rejections
// set Reason and leave OK false; they are always safe to surface.  A
// refund instruction or checkout handoff rides along when the mutation
// moved money.
type MutationResult struct {
	OK     bool
	Reason model.Reason

	RefundCents  int64
	RefundBand   RefundBand
	RefundStatus payment.RefundStatus

	CheckoutURL string
	HoldID      uint64
}

func blocked(reason model.Reason) MutationResult { return MutationResult{Reason: reason} }

// guestMutable is the set of statuses from which guests may still change a
// booking.
var guestMutable = []model.BookingStatus{model.BookingConfirmed, model.BookingPendingPayment}

// BookingEngine applies guest-initiated changes to bookings.  All writes
// are conditional updates scoped by the booking's current state; an
// affected-row count other than the expected one is a lost race and comes
// back as already_changed, never a blind retry.  The engine exclusively
// owns Booking and BookingHold transitions triggered by guests.
type BookingEngine struct {
	Bookings BookingStore
	Holds    HoldStore
	Events   EventStore
	Refunds  RefundStore
	Gateway  payment.Gateway
	HoldTTL  time.Duration    // lifetime of seat-increase holds awaiting capture
	Now      func() time.Time // injectable clock
}

func NewBookingEngine(bookings BookingStore, holds HoldStore, events EventStore, refunds RefundStore, gw payment.Gateway) *BookingEngine {
	return &BookingEngine{
		Bookings: bookings,
		Holds:    holds,
		Events:   events,
		Refunds:  refunds,
		Gateway:  gw,
		HoldTTL:  30 * time.Minute,
		Now:      time.Now,
	}
}

// authorize loads the booking a token points at and cross-checks the
// customer binding.  The two mismatch reasons are deliberately distinct:
// booking_not_found means the record is gone, token_customer_mismatch
// means the token and the booking disagree about whose it is.
func (e *BookingEngine) authorize(ctx context.Context, tok *model.GuestToken) (*model.Booking, model.Reason, error) {
	if tok.EventBookingID == nil {
		return nil, model.ReasonBookingNotFound, nil
	}
	b, err := e.Bookings.GetByID(ctx, *tok.EventBookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.ReasonBookingNotFound, nil
	}
	if err != nil {
		return nil, model.ReasonInternalError, err
	}
	if b.CustomerID != tok.CustomerID {
		return nil, model.ReasonTokenCustomerMismatch, nil
	}
	return b, model.ReasonNone, nil
}

// UpdateSeats changes the booking's seat count on behalf of the guest.
// Decreases apply immediately and, on a paid booking, produce a refund
// instruction computed by the refund policy.  Increases require free
// capacity; on a paid booking the seats are fenced by a hold and applied
// only after payment capture via ConfirmSeatIncrease.
func (e *BookingEngine) UpdateSeats(ctx context.Context, tok *model.GuestToken, newSeats uint32) (MutationResult, error) {
	if newSeats == 0 {
		return blocked(model.ReasonInvalidTransition), nil
	}
	b, reason, err := e.authorize(ctx, tok)
	if reason != model.ReasonNone {
		return blocked(reason), err
	}
	if newSeats == b.Seats {
		return MutationResult{OK: true}, nil
	}

	ev, err := e.Events.GetByID(ctx, b.EventID)
	if errors.Is(err, repository.ErrNotFound) {
		return blocked(model.ReasonBookingNotFound), nil
	}
	if err != nil {
		return blocked(model.ReasonInternalError), err
	}

	if newSeats < b.Seats {
		return e.reduceSeats(ctx, b, ev, newSeats)
	}
	return e.increaseSeats(ctx, b, ev, newSeats)
}

func (e *BookingEngine) reduceSeats(ctx context.Context, b *model.Booking, ev *model.Event, newSeats uint32) (MutationResult, error) {
	res := MutationResult{OK: true}
	var ref *model.Refund
	if b.Paid() && ev.PriceCents > 0 {
		removed := b.Seats - newSeats
		pol := Policy(ev.StartsAt, e.Now().UTC())
		res.RefundBand = pol.Band
		res.RefundCents = RefundCents(removed, ev.PriceCents, pol.Rate)
		if res.RefundCents > 0 {
			ref = &model.Refund{
				BookingID:   b.ID,
				ChargeRef:   *b.PaymentRef,
				AmountCents: res.RefundCents,
				Band:        string(pol.Band),
			}
		}
	}

	// The instruction lands in the same transaction as the seat write, so
	// a crash before the gateway call leaves a pending row, never a guest
	// owed money with no record of it.
	n, err := e.Bookings.UpdateSeatsRefunding(ctx, b.ID, newSeats, b.Seats, guestMutable, ref)
	if err != nil {
		return blocked(model.ReasonInternalError), err
	}
	if n != 1 {
		return blocked(model.ReasonAlreadyChanged), nil
	}
	if ref != nil {
		res.RefundStatus = e.refund(ctx, ref)
	}
	return res, nil
}

func (e *BookingEngine) increaseSeats(ctx context.Context, b *model.Booking, ev *model.Event, newSeats uint32) (MutationResult, error) {
	delta := newSeats - b.Seats
	free, reason, err := e.freeCapacity(ctx, ev)
	if reason != model.ReasonNone {
		return blocked(reason), err
	}
	if delta > free {
		return blocked(model.ReasonInsufficientCapacity), nil
	}

	if b.Paid() && ev.PriceCents > 0 {
		// Fence the extra seats and collect payment before applying them;
		// the hold keeps the capacity from being sold twice while the
		// guest is at checkout.
		hold := &model.BookingHold{
			EventID:   ev.ID,
			BookingID: &b.ID,
			Seats:     delta,
			ExpiresAt: e.Now().UTC().Add(e.HoldTTL),
		}
		if err := e.Holds.Create(ctx, hold); err != nil {
			return blocked(model.ReasonInternalError), err
		}
		session, err := e.Gateway.CreateCheckoutSession(ctx, payment.CheckoutRequest{
			BookingID:   b.ID,
			CustomerID:  b.CustomerID,
			AmountCents: int64(delta) * int64(ev.PriceCents),
			Description: fmt.Sprintf("%d extra seat(s) for %s", delta, ev.Name),
		})
		if err != nil {
			if _, relErr := e.Holds.Release(ctx, hold.ID, model.HoldReleased); relErr != nil {
				log.Printf("booking-engine: release hold %d after checkout failure: %v", hold.ID, relErr)
			}
			return blocked(model.ReasonUnavailable), err
		}
		return MutationResult{OK: true, CheckoutURL: session.URL, HoldID: hold.ID}, nil
	}

	n, err := e.Bookings.UpdateSeats(ctx, b.ID, newSeats, b.Seats, guestMutable)
	if err != nil {
		return blocked(model.ReasonInternalError), err
	}
	if n != 1 {
		return blocked(model.ReasonAlreadyChanged), nil
	}
	return MutationResult{OK: true}, nil
}

// ConfirmSeatIncrease applies a fenced seat increase after the gateway
// confirmed capture.  The hold consumption is the race arbiter: zero rows
// means the hold lapsed before capture completed and the seats were never
// applied (the capture must then be refunded by the payment webhook flow).
func (e *BookingEngine) ConfirmSeatIncrease(ctx context.Context, bookingID, holdID uint64) (MutationResult, error) {
	h, err := e.Holds.GetByID(ctx, holdID)
	if errors.Is(err, repository.ErrNotFound) {
		return blocked(model.ReasonHoldExpired), nil
	}
	if err != nil {
		return blocked(model.ReasonInternalError), err
	}
	b, err := e.Bookings.GetByID(ctx, bookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return blocked(model.ReasonBookingNotFound), nil
	}
	if err != nil {
		return blocked(model.ReasonInternalError), err
	}

	n, err := e.Holds.Consume(ctx, holdID, bookingID)
	if err != nil {
		return blocked(model.ReasonInternalError), err
	}
	if n != 1 {
		return blocked(model.ReasonHoldExpired), nil
	}

	n, err = e.Bookings.UpdateSeats(ctx, b.ID, b.Seats+h.Seats, b.Seats, guestMutable)
	if err != nil {
		return blocked(model.ReasonInternalError), err
	}
	if n != 1 {
		// Hold consumed but the seat write lost a race; needs an operator.
		log.Printf("booking-engine: hold %d consumed but seat update on booking %d affected %d rows", holdID, b.ID, n)
		return blocked(model.ReasonAlreadyChanged), nil
	}
	return MutationResult{OK: true}, nil
}

// Cancel cancels a booking on behalf of a guest (or staff, via actor).  A
// paid booking always produces a refund instruction alongside the status
// write, at the rate the refund policy assigns to this moment.
func (e *BookingEngine) Cancel(ctx context.Context, tok *model.GuestToken, actor string) (MutationResult, error) {
	b, reason, err := e.authorize(ctx, tok)
	if reason != model.ReasonNone {
		return blocked(reason), err
	}

	// The refund is priced before the status write so the instruction can
	// land in the same transaction.  If the event cannot be loaded the
	// booking is left untouched rather than cancelled with the money in
	// limbo; the guest can retry.
	res := MutationResult{OK: true}
	var ref *model.Refund
	if b.Paid() {
		ev, err := e.Events.GetByID(ctx, b.EventID)
		if errors.Is(err, repository.ErrNotFound) {
			return blocked(model.ReasonBookingNotFound), nil
		}
		if err != nil {
			return blocked(model.ReasonInternalError), err
		}
		if ev.PriceCents > 0 {
			pol := Policy(ev.StartsAt, e.Now().UTC())
			res.RefundBand = pol.Band
			res.RefundCents = RefundCents(b.Seats, ev.PriceCents, pol.Rate)
			if res.RefundCents > 0 {
				ref = &model.Refund{
					BookingID:   b.ID,
					ChargeRef:   *b.PaymentRef,
					AmountCents: res.RefundCents,
					Band:        string(pol.Band),
				}
			}
		}
	}

	n, err := e.Bookings.UpdateStatusRefunding(ctx, b.ID, model.BookingCancelled, guestMutable, ref)
	if err != nil {
		return blocked(model.ReasonInternalError), err
	}
	if n != 1 {
		return blocked(model.ReasonAlreadyChanged), nil
	}
	log.Printf("booking-engine: booking %d cancelled by %s", b.ID, actor)

	if ref != nil {
		res.RefundStatus = e.refund(ctx, ref)
	}
	return res, nil
}

// MarkStatus applies guest status actions outside of seat changes.  Only
// the transitions of the booking state machine are permitted; anything
// else is blocked with invalid_transition.
func (e *BookingEngine) MarkStatus(ctx context.Context, tok *model.GuestToken, action string) (MutationResult, error) {
	b, reason, err := e.authorize(ctx, tok)
	if reason != model.ReasonNone {
		return blocked(reason), err
	}

	var to model.BookingStatus
	var from []model.BookingStatus
	switch action {
	case "review_clicked":
		to, from = model.BookingReviewClicked, []model.BookingStatus{model.BookingConfirmed}
	case "no_show":
		to, from = model.BookingNoShow, []model.BookingStatus{model.BookingConfirmed}
	case "confirm":
		to, from = model.BookingConfirmed, []model.BookingStatus{model.BookingPendingPayment}
	default:
		return blocked(model.ReasonInvalidTransition), nil
	}

	n, err := e.Bookings.UpdateStatus(ctx, b.ID, to, from)
	if err != nil {
		return blocked(model.ReasonInternalError), err
	}
	if n != 1 {
		return blocked(model.ReasonAlreadyChanged), nil
	}
	return MutationResult{OK: true}, nil
}

// freeCapacity re-reads booked seats and active hold seats and returns the
// remaining free count.  Never cached across calls.
func (e *BookingEngine) freeCapacity(ctx context.Context, ev *model.Event) (uint32, model.Reason, error) {
	booked, err := e.Events.SeatsBooked(ctx, ev.ID)
	if err != nil {
		return 0, model.ReasonInternalError, err
	}
	held, err := e.Holds.ActiveSeats(ctx, ev.ID)
	if err != nil {
		return 0, model.ReasonInternalError, err
	}
	used := booked + held
	if used >= ev.Capacity {
		return 0, model.ReasonNone, nil
	}
	return ev.Capacity - used, model.ReasonNone, nil
}

// refund forwards a persisted instruction to the gateway and records the
// outcome on it.  Gateway faults do not undo the committed mutation; they
// are logged and surfaced as a failed refund status for operators to pick
// up.  If the outcome write fails the row stays pending and the operator
// sweep will find it.
func (e *BookingEngine) refund(ctx context.Context, ref *model.Refund) payment.RefundStatus {
	status, err := e.Gateway.Refund(ctx, ref.ChargeRef, ref.AmountCents)
	if err != nil {
		log.Printf("booking-engine: refund of %d cents on charge %s failed: %v", ref.AmountCents, ref.ChargeRef, err)
		status = payment.RefundFailed
	}
	if err := e.Refunds.MarkOutcome(ctx, ref.ID, string(status)); err != nil {
		log.Printf("booking-engine: mark refund %d outcome %s: %v", ref.ID, status, err)
	}
	return status
}
