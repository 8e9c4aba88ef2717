package model

import "time"

// BookingStatus is the lifecycle state of an event booking.  Guest-driven
// transitions are restricted to:
//
//	pending_payment -> confirmed
//	confirmed       -> review_clicked | no_show | cancelled
//	pending_payment -> cancelled
//
// From cancelled or no_show no further guest mutation is permitted.  All
// transitions are applied as conditional updates guarded by the current
// status, never blind writes.
type BookingStatus string

const (
    BookingPendingPayment BookingStatus = "pending_payment"
    BookingConfirmed      BookingStatus = "confirmed"
    BookingCancelled      BookingStatus = "cancelled"
    BookingNoShow         BookingStatus = "no_show"
    BookingReviewClicked  BookingStatus = "review_clicked"
)

// Booking records a customer's seats at an event.  It is the target of the
// mutation engine: seat changes and cancellations are row-count-verified
// conditional updates, and money movement is derived from PriceCents on
// the owning event at mutation time.
//
// PaymentRef is the external gateway charge reference when the booking has
// been paid; nil means no capture has happened (free event, cash on the
// door, or checkout not yet completed).
type Booking struct {
    ID         uint64        // bookings.id
    EventID    uint64        // bookings.event_id
    CustomerID uint64        // bookings.customer_id
    Status     BookingStatus // bookings.status
    Seats      uint32        // bookings.seats
    PaymentRef *string       // bookings.payment_ref (nullable)
    CreatedAt  time.Time     // bookings.created_at
    UpdatedAt  time.Time     // bookings.updated_at
}

// Paid reports whether money has been captured for this booking and a
// seat reduction or cancellation therefore owes the guest a refund.
func (b *Booking) Paid() bool { return b.PaymentRef != nil }

// TableBooking is a restaurant table reservation.  Guest actions on tables
// are limited to payment links and cancellation; capacity is managed per
// sitting by staff and is out of scope here.
type TableBooking struct {
    ID         uint64        // table_bookings.id
    CustomerID uint64        // table_bookings.customer_id
    PartySize  uint32        // table_bookings.party_size
    Status     BookingStatus // table_bookings.status
    BookedFor  time.Time     // table_bookings.booked_for
    CreatedAt  time.Time     // table_bookings.created_at
}
