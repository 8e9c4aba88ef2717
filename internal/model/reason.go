package model

// Reason is a machine-readable code describing why a guest operation was
// refused or how it concluded.  Reasons are part of the contract with the
// UI layer: guests are redirected to a status page carrying one of these
// values, so the vocabulary must stay stable.  Business rejections are
// always expressed as a Reason, never as an error.
type Reason string

const (
    // ReasonNone is the zero value and means the operation was permitted.
    ReasonNone Reason = ""

    // Token validation outcomes.
    ReasonInvalidToken          Reason = "invalid_token"
    ReasonTokenExpired          Reason = "token_expired"
    ReasonTokenUsed             Reason = "token_used"
    ReasonTokenCustomerMismatch Reason = "token_customer_mismatch"
    ReasonBookingNotFound       Reason = "booking_not_found"

    // Capacity and state-machine outcomes.
    ReasonHoldExpired          Reason = "hold_expired"
    ReasonInsufficientCapacity Reason = "insufficient_capacity"
    ReasonAlreadyChanged       Reason = "already_changed"
    ReasonInvalidTransition    Reason = "invalid_transition"

    // Idempotency outcomes.
    ReasonConflict   Reason = "conflict"
    ReasonInProgress Reason = "in_progress"

    // Throttling and infrastructure.
    ReasonRateLimited   Reason = "rate_limited"
    ReasonInternalError Reason = "internal_error"
    ReasonUnavailable   Reason = "unavailable"
)
