package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
	"github.com/peterjpitcher/anchor-guest-actions/internal/payment"
)

type engineFixture struct {
	clock    *clock
	bookings *fakeBookingStore
	holds    *fakeHoldStore
	events   *fakeEventStore
	gateway  *fakeGateway
	engine   *BookingEngine
}

func newEngineFixture() *engineFixture {
	c := newClock()
	f := &engineFixture{
		clock:    c,
		bookings: newFakeBookingStore(),
		holds:    newFakeHoldStore(c),
		events:   newFakeEventStore(),
		gateway:  newFakeGateway(),
	}
	f.engine = NewBookingEngine(f.bookings, f.holds, f.events, f.bookings, f.gateway)
	f.engine.Now = c.Now
	return f
}

func (f *engineFixture) paidEvent(id uint64, capacity, priceCents uint32, startsIn time.Duration) *model.Event {
	return f.events.add(&model.Event{
		ID: id, Name: "Quiz Night", StartsAt: baseTime.Add(startsIn),
		Capacity: capacity, PriceCents: priceCents, Prepaid: true,
	})
}

func (f *engineFixture) paidBooking(id, eventID, customerID uint64, seats uint32) *model.Booking {
	ref := fmt.Sprintf("ch_%d", id)
	return f.bookings.add(&model.Booking{
		ID: id, EventID: eventID, CustomerID: customerID,
		Status: model.BookingConfirmed, Seats: seats, PaymentRef: &ref,
	})
}

func manageToken(customerID, bookingID uint64) *model.GuestToken {
	return &model.GuestToken{
		Action:         model.ActionManageBooking,
		CustomerID:     customerID,
		EventBookingID: &bookingID,
	}
}

func TestReduceSeatsRefundsHalfBand(t *testing.T) {
	t.Parallel()

	f := newEngineFixture()
	ctx := context.Background()
	// 5 days out lands in the half band.
	f.paidEvent(1, 40, 1000, 5*24*time.Hour)
	f.paidBooking(1, 1, 7, 4)

	res, err := f.engine.UpdateSeats(ctx, manageToken(7, 1), 2)
	if err != nil {
		t.Fatalf("update seats: %v", err)
	}
	if !res.OK {
		t.Fatalf("blocked: %s", res.Reason)
	}
	if res.RefundCents != 1000 {
		t.Fatalf("refund = %d cents, want 1000 (2 seats x 10.00 x 0.5)", res.RefundCents)
	}
	if res.RefundBand != BandHalf {
		t.Fatalf("band = %q, want half_refund", res.RefundBand)
	}
	if res.RefundStatus != payment.RefundSucceeded {
		t.Fatalf("refund status = %q, want succeeded", res.RefundStatus)
	}
	b, _ := f.bookings.GetByID(ctx, 1)
	if b.Seats != 2 {
		t.Fatalf("seats = %d, want 2", b.Seats)
	}
	if len(f.gateway.refunds) != 1 || f.gateway.refunds[0] != 1000 {
		t.Fatalf("gateway refunds = %v, want one of 1000", f.gateway.refunds)
	}
}

func TestReduceSeatsNoRefundInsideWindow(t *testing.T) {
	t.Parallel()

	f := newEngineFixture()
	ctx := context.Background()
	f.paidEvent(1, 40, 1000, 24*time.Hour)
	f.paidBooking(1, 1, 7, 4)

	res, err := f.engine.UpdateSeats(ctx, manageToken(7, 1), 2)
	if err != nil {
		t.Fatalf("update seats: %v", err)
	}
	if !res.OK || res.RefundCents != 0 {
		t.Fatalf("ok=%v refund=%d, want seats reduced with zero refund", res.OK, res.RefundCents)
	}
	if len(f.gateway.refunds) != 0 {
		t.Fatalf("gateway called for a zero refund: %v", f.gateway.refunds)
	}
}

func TestUpdateSeatsLostRaceIsAlreadyChanged(t *testing.T) {
	t.Parallel()

	f := newEngineFixture()
	ctx := context.Background()
	f.paidEvent(1, 40, 1000, 10*24*time.Hour)
	b := f.paidBooking(1, 1, 7, 4)

	// A competing request cancels the booking after this one read it; the
	// conditional write then matches zero rows.
	b.Status = model.BookingCancelled

	res, err := f.engine.UpdateSeats(ctx, manageToken(7, 1), 2)
	if err != nil {
		t.Fatalf("update seats: %v", err)
	}
	if res.OK || res.Reason != model.ReasonAlreadyChanged {
		t.Fatalf("ok=%v reason=%q, want already_changed", res.OK, res.Reason)
	}
	if len(f.gateway.refunds) != 0 {
		t.Fatalf("no refund may be issued on a lost race, got %v", f.gateway.refunds)
	}
}

func TestIncreaseSeatsNeedsCapacity(t *testing.T) {
	t.Parallel()

	f := newEngineFixture()
	ctx := context.Background()
	ev := f.paidEvent(1, 10, 1000, 10*24*time.Hour)
	f.events.booked[ev.ID] = 8
	f.paidBooking(1, 1, 7, 2)

	res, err := f.engine.UpdateSeats(ctx, manageToken(7, 1), 6)
	if err != nil {
		t.Fatalf("update seats: %v", err)
	}
	if res.OK || res.Reason != model.ReasonInsufficientCapacity {
		t.Fatalf("ok=%v reason=%q, want insufficient_capacity", res.OK, res.Reason)
	}
}

func TestIncreaseSeatsPaidGoesThroughHoldAndCheckout(t *testing.T) {
	t.Parallel()

	f := newEngineFixture()
	ctx := context.Background()
	f.paidEvent(1, 40, 1000, 10*24*time.Hour)
	f.paidBooking(1, 1, 7, 2)

	res, err := f.engine.UpdateSeats(ctx, manageToken(7, 1), 4)
	if err != nil {
		t.Fatalf("update seats: %v", err)
	}
	if !res.OK || res.CheckoutURL == "" || res.HoldID == 0 {
		t.Fatalf("ok=%v url=%q hold=%d, want checkout handoff with a hold", res.OK, res.CheckoutURL, res.HoldID)
	}

	// Seats unchanged until the gateway confirms.
	b, _ := f.bookings.GetByID(ctx, 1)
	if b.Seats != 2 {
		t.Fatalf("seats = %d before capture, want 2", b.Seats)
	}
	if len(f.gateway.checkouts) != 1 || f.gateway.checkouts[0].AmountCents != 2000 {
		t.Fatalf("checkouts = %+v, want one for 2000 cents", f.gateway.checkouts)
	}

	// Capture confirmation applies the fenced seats.
	conf, err := f.engine.ConfirmSeatIncrease(ctx, 1, res.HoldID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !conf.OK {
		t.Fatalf("confirm blocked: %s", conf.Reason)
	}
	b, _ = f.bookings.GetByID(ctx, 1)
	if b.Seats != 4 {
		t.Fatalf("seats = %d after capture, want 4", b.Seats)
	}
}

func TestConfirmSeatIncreaseAfterHoldExpiry(t *testing.T) {
	t.Parallel()

	f := newEngineFixture()
	ctx := context.Background()
	f.paidEvent(1, 40, 1000, 10*24*time.Hour)
	f.paidBooking(1, 1, 7, 2)

	res, err := f.engine.UpdateSeats(ctx, manageToken(7, 1), 4)
	if err != nil || !res.OK {
		t.Fatalf("update seats: ok=%v err=%v", res.OK, err)
	}

	f.clock.Advance(f.engine.HoldTTL + time.Minute)

	conf, err := f.engine.ConfirmSeatIncrease(ctx, 1, res.HoldID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if conf.OK || conf.Reason != model.ReasonHoldExpired {
		t.Fatalf("ok=%v reason=%q, want hold_expired", conf.OK, conf.Reason)
	}
	b, _ := f.bookings.GetByID(ctx, 1)
	if b.Seats != 2 {
		t.Fatalf("seats = %d, expired hold must not apply", b.Seats)
	}
}

func TestCancelRefundsWholeBooking(t *testing.T) {
	t.Parallel()

	f := newEngineFixture()
	ctx := context.Background()
	f.paidEvent(1, 40, 1000, 10*24*time.Hour)
	f.paidBooking(1, 1, 7, 3)

	res, err := f.engine.Cancel(ctx, manageToken(7, 1), "guest")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !res.OK {
		t.Fatalf("blocked: %s", res.Reason)
	}
	if res.RefundCents != 3000 || res.RefundBand != BandFull {
		t.Fatalf("refund = %d %q, want 3000 full_refund", res.RefundCents, res.RefundBand)
	}
	b, _ := f.bookings.GetByID(ctx, 1)
	if b.Status != model.BookingCancelled {
		t.Fatalf("status = %q, want cancelled", b.Status)
	}

	// Cancelling again is a lost race, not a second refund.
	res, err = f.engine.Cancel(ctx, manageToken(7, 1), "guest")
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if res.OK || res.Reason != model.ReasonAlreadyChanged {
		t.Fatalf("ok=%v reason=%q, want already_changed", res.OK, res.Reason)
	}
	if len(f.gateway.refunds) != 1 {
		t.Fatalf("refund instructions = %d, want exactly 1", len(f.gateway.refunds))
	}
}

// The refund instruction must land with the booking write and carry the
// gateway's outcome afterwards, so nothing about the money owed lives only
// in process memory.
func TestCancelPersistsRefundInstruction(t *testing.T) {
	t.Parallel()

	f := newEngineFixture()
	ctx := context.Background()
	f.paidEvent(1, 40, 1000, 10*24*time.Hour)
	f.paidBooking(1, 1, 7, 3)

	res, err := f.engine.Cancel(ctx, manageToken(7, 1), "guest")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !res.OK {
		t.Fatalf("blocked: %s", res.Reason)
	}
	if len(f.bookings.refunds) != 1 {
		t.Fatalf("persisted refunds = %d, want 1", len(f.bookings.refunds))
	}
	ref := f.bookings.refunds[0]
	if ref.BookingID != 1 || ref.AmountCents != 3000 || ref.ChargeRef != "ch_1" {
		t.Fatalf("instruction = %+v, want booking 1, 3000 cents on ch_1", ref)
	}
	if ref.Status != string(payment.RefundSucceeded) {
		t.Fatalf("instruction status = %q, want succeeded", ref.Status)
	}
}

// A gateway fault after the commit must not lose the instruction: the
// persisted row records the failure for operators instead.
func TestRefundGatewayFaultLeavesFailedInstruction(t *testing.T) {
	t.Parallel()

	f := newEngineFixture()
	ctx := context.Background()
	f.gateway.refundErr = fmt.Errorf("gateway unreachable")
	f.paidEvent(1, 40, 1000, 5*24*time.Hour)
	f.paidBooking(1, 1, 7, 4)

	res, err := f.engine.UpdateSeats(ctx, manageToken(7, 1), 2)
	if err != nil {
		t.Fatalf("update seats: %v", err)
	}
	if !res.OK {
		t.Fatalf("blocked: %s", res.Reason)
	}
	if res.RefundStatus != payment.RefundFailed {
		t.Fatalf("refund status = %q, want failed", res.RefundStatus)
	}
	if len(f.bookings.refunds) != 1 {
		t.Fatalf("persisted refunds = %d, want 1", len(f.bookings.refunds))
	}
	ref := f.bookings.refunds[0]
	if ref.AmountCents != 1000 || ref.Status != string(payment.RefundFailed) {
		t.Fatalf("instruction = %d cents %q, want 1000 failed", ref.AmountCents, ref.Status)
	}
	b, _ := f.bookings.GetByID(ctx, 1)
	if b.Seats != 2 {
		t.Fatalf("seats = %d, the committed reduction must stand", b.Seats)
	}
}

func TestAuthorizeDistinguishesMismatchFromMissing(t *testing.T) {
	t.Parallel()

	f := newEngineFixture()
	ctx := context.Background()
	f.paidEvent(1, 40, 1000, 10*24*time.Hour)
	f.paidBooking(1, 1, 7, 2)

	res, err := f.engine.Cancel(ctx, manageToken(99, 1), "guest")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Reason != model.ReasonTokenCustomerMismatch {
		t.Fatalf("reason = %q, want token_customer_mismatch", res.Reason)
	}

	res, err = f.engine.Cancel(ctx, manageToken(7, 555), "guest")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Reason != model.ReasonBookingNotFound {
		t.Fatalf("reason = %q, want booking_not_found", res.Reason)
	}
}

func TestMarkStatusTransitions(t *testing.T) {
	t.Parallel()

	f := newEngineFixture()
	ctx := context.Background()
	f.paidEvent(1, 40, 1000, 10*24*time.Hour)
	f.paidBooking(1, 1, 7, 2)

	res, err := f.engine.MarkStatus(ctx, manageToken(7, 1), "review_clicked")
	if err != nil || !res.OK {
		t.Fatalf("review_clicked: ok=%v err=%v", res.OK, err)
	}

	// review_clicked is terminal for guest actions; a repeat is a no-op race.
	res, err = f.engine.MarkStatus(ctx, manageToken(7, 1), "review_clicked")
	if err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if res.OK || res.Reason != model.ReasonAlreadyChanged {
		t.Fatalf("ok=%v reason=%q, want already_changed", res.OK, res.Reason)
	}

	res, err = f.engine.MarkStatus(ctx, manageToken(7, 1), "definitely_not_a_transition")
	if err != nil {
		t.Fatalf("unknown action: %v", err)
	}
	if res.OK || res.Reason != model.ReasonInvalidTransition {
		t.Fatalf("ok=%v reason=%q, want invalid_transition", res.OK, res.Reason)
	}
}
