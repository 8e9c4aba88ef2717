package model

// ActionType enumerates the guest actions a capability token can authorize.
// Each token is bound to exactly one action type at issuance; validation
// rejects a token presented against any other action.
type ActionType string

const (
    ActionManageBooking       ActionType = "manage_booking"
    ActionEventPayment        ActionType = "event_payment"
    ActionTablePayment        ActionType = "table_payment"
    ActionWaitlistOfferAccept ActionType = "waitlist_offer_accept"
    ActionReviewRedirect      ActionType = "review_redirect"
    ActionPrivateFeedback     ActionType = "private_feedback"
    ActionSundayPreorder      ActionType = "sunday_preorder"
)

// SingleUse reports whether a token for this action is consumed on first
// use.  View-only actions (review redirect, private feedback) stay valid
// until expiry; everything that moves money or capacity burns the token.
func (a ActionType) SingleUse() bool {
    switch a {
    case ActionReviewRedirect, ActionPrivateFeedback:
        return false
    default:
        return true
    }
}

// Path returns the URL path segment used when building guest links for
// this action, e.g. /g/{token}/manage-booking.
func (a ActionType) Path() string {
    switch a {
    case ActionManageBooking:
        return "manage-booking"
    case ActionEventPayment:
        return "event-payment"
    case ActionTablePayment:
        return "table-payment"
    case ActionWaitlistOfferAccept:
        return "waitlist-offer"
    case ActionReviewRedirect:
        return "review"
    case ActionPrivateFeedback:
        return "feedback"
    case ActionSundayPreorder:
        return "sunday-preorder"
    }
    return string(a)
}

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
    switch a {
    case ActionManageBooking, ActionEventPayment, ActionTablePayment,
        ActionWaitlistOfferAccept, ActionReviewRedirect,
        ActionPrivateFeedback, ActionSundayPreorder:
        return true
    }
    return false
}
