package model

import "time"

// Waitlist entry statuses.  A queued entry is promoted to offered by the
// allocator only.  Accepted is terminal and exists so sweeps can tell an
// entry whose offer was claimed apart from one still holding a live offer.
const (
    WaitlistQueued    = "queued"
    WaitlistOffered   = "offered"
    WaitlistAccepted  = "accepted"
    WaitlistExpired   = "expired"
    WaitlistCancelled = "cancelled"
)

// WaitlistEntry is a customer's place in the FIFO queue for a full event.
// CreatedAt is the ordering key: promotion always selects the oldest
// queued entry for the event.  At most one entry per event may be in
// offered status at any instant.
type WaitlistEntry struct {
    ID         uint64    // waitlist_entries.id
    EventID    uint64    // waitlist_entries.event_id
    CustomerID uint64    // waitlist_entries.customer_id
    Seats      uint32    // waitlist_entries.seats (seats the guest asked for)
    Status     string    // waitlist_entries.status
    CreatedAt  time.Time // waitlist_entries.created_at
}

// Waitlist offer statuses.  Acceptance flips the offer to accepted in the
// same transaction that creates the booking, so expiry sweeps can never
// reap a claimed offer.
// The cancelled/expired split records whether the guest ever had a chance:
// cancelled means the notification failed outright, expired means the
// window lapsed (or could no longer be honored) after a send was possible.
const (
    OfferSent      = "sent"
    OfferAccepted  = "accepted"
    OfferCancelled = "cancelled"
    OfferExpired   = "expired"
)

// WaitlistOffer is a time-boxed grant of freed capacity to the entry it
// was created from.  It is created atomically with the entry's transition
// to offered, together with the BookingHold that fences the capacity.
type WaitlistOffer struct {
    ID        uint64     // waitlist_offers.id
    EntryID   uint64     // waitlist_offers.entry_id
    EventID   uint64     // waitlist_offers.event_id
    CustomerID uint64    // waitlist_offers.customer_id
    HoldID    uint64     // waitlist_offers.hold_id
    Status    string     // waitlist_offers.status
    SentAt    time.Time  // waitlist_offers.sent_at
    ExpiresAt time.Time  // waitlist_offers.expires_at (acceptance window)
    ExpiredAt *time.Time // waitlist_offers.expired_at (nullable, set on terminal cleanup)
}
