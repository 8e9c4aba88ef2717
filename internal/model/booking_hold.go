package model

import "time"

// Booking hold statuses.  Capacity is excluded from availability exactly
// while a hold is active.  Holds are lazily invalidated: expiry is checked
// against ExpiresAt at the moment of use, not by a background sweep, and
// every status transition is a row-count-verified conditional update so a
// hold consumed by a concurrent acceptance is never double-released.
const (
    HoldActive   = "active"
    HoldReleased = "released"
    HoldExpired  = "expired"
)

// BookingHold is a temporary reservation of event capacity, created either
// alongside a waitlist offer or for a guest-initiated seat increase that
// awaits payment capture.  When an offer is accepted the hold is released
// with BookingID set; the capacity it fenced is owned by the booking from
// then on.
type BookingHold struct {
    ID        uint64     // booking_holds.id
    EventID   uint64     // booking_holds.event_id
    OfferID   *uint64    // booking_holds.offer_id (nullable)
    BookingID *uint64    // booking_holds.booking_id (nullable until consumed)
    Seats     uint32     // booking_holds.seats
    Status    string     // booking_holds.status
    ExpiresAt time.Time  // booking_holds.hold_expires_at
    CreatedAt time.Time  // booking_holds.created_at
}
