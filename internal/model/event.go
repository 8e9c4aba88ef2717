package model

import "time"

// Event is a ticketed occasion with finite capacity (quiz night, tasting,
// live music).  Capacity accounting is derived, never cached: seats booked
// plus seats under active holds are summed from the database at the moment
// of every allocation decision.
type Event struct {
    ID            uint64    // events.id
    Name          string    // events.name
    StartsAt      time.Time // events.starts_at (UTC)
    Capacity      uint32    // events.capacity (total seats)
    PriceCents    uint32    // events.price_cents (per seat; 0 for free events)
    Prepaid       bool      // events.prepaid, true when payment is taken online before the event
    CancelledAt   *time.Time
    CreatedAt     time.Time
}

// RequiresPayment reports whether accepting a place at this event produces
// a pending_payment booking that still needs a checkout, as opposed to a
// booking confirmed immediately (free or pay-on-the-door events).
func (e *Event) RequiresPayment() bool {
    return e.Prepaid && e.PriceCents > 0
}
