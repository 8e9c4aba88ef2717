package model

import "time"

// GuestToken is the persistence model for a capability token delivered to
// a guest by SMS or email.  The raw token never touches the database; only
// its SHA-256 hash is stored, so a leaked table cannot be replayed against
// the API.  Tokens are retained after use for audit purposes and are never
// deleted.
//
// Exactly one of EventBookingID, TableBookingID, PrivateBookingID or
// WaitlistOfferID is non-nil, depending on the action family the token
// belongs to.
type GuestToken struct {
    ID               uint64     // guest_tokens.id
    TokenHash        string     // guest_tokens.token_hash (sha256 hex of the raw token)
    Action           ActionType // guest_tokens.action_type
    CustomerID       uint64     // guest_tokens.customer_id
    EventBookingID   *uint64    // guest_tokens.event_booking_id (nullable)
    TableBookingID   *uint64    // guest_tokens.table_booking_id (nullable)
    PrivateBookingID *uint64    // guest_tokens.private_booking_id (nullable)
    WaitlistOfferID  *uint64    // guest_tokens.waitlist_offer_id (nullable)
    ExpiresAt        time.Time  // guest_tokens.expires_at
    UsedAt           *time.Time // guest_tokens.used_at (null means unused)
    CreatedAt        time.Time  // guest_tokens.created_at
}

// Subject identifies what a token grants access to: a customer plus
// exactly one target record.  It is supplied at issuance and returned by
// validation so callers never have to inspect nullable columns directly.
type Subject struct {
    CustomerID       uint64
    EventBookingID   *uint64
    TableBookingID   *uint64
    PrivateBookingID *uint64
    WaitlistOfferID  *uint64
}

// TargetCount returns how many target references the subject carries.
// A well-formed subject has exactly one.
func (s Subject) TargetCount() int {
    n := 0
    for _, p := range []*uint64{s.EventBookingID, s.TableBookingID, s.PrivateBookingID, s.WaitlistOfferID} {
        if p != nil {
            n++
        }
    }
    return n
}

// Target returns the subject pointer belonging to the action's target
// family.  manage_booking, event_payment and review_redirect bind to an
// event booking; table_payment and sunday_preorder to a table booking;
// private_feedback to a private booking; waitlist_offer_accept to a
// waitlist offer.  nil means the subject does not carry the family the
// action requires.
func (s Subject) Target(a ActionType) *uint64 {
    switch a {
    case ActionManageBooking, ActionEventPayment, ActionReviewRedirect:
        return s.EventBookingID
    case ActionTablePayment, ActionSundayPreorder:
        return s.TableBookingID
    case ActionPrivateFeedback:
        return s.PrivateBookingID
    case ActionWaitlistOfferAccept:
        return s.WaitlistOfferID
    }
    return nil
}

// Subject extracts the subject from a stored token row.
func (t *GuestToken) Subject() Subject {
    return Subject{
        CustomerID:       t.CustomerID,
        EventBookingID:   t.EventBookingID,
        TableBookingID:   t.TableBookingID,
        PrivateBookingID: t.PrivateBookingID,
        WaitlistOfferID:  t.WaitlistOfferID,
    }
}
