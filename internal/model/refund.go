package model

import "time"

// RefundPending marks a refund instruction whose gateway outcome has not
// been recorded yet.  Terminal statuses mirror the gateway's answer
// (succeeded, failed, manual_required).
const RefundPending = "pending"

// Refund is a durable refund instruction.  It is inserted in the same
// transaction as the booking write that entitles the guest to money back,
// so a crash between that write and the gateway call leaves a pending row
// for the operator sweep instead of losing the refund.
type Refund struct {
    ID          uint64    // refunds.id
    BookingID   uint64    // refunds.booking_id
    ChargeRef   string    // refunds.charge_ref (gateway charge to refund against)
    AmountCents int64     // refunds.amount_cents
    Band        string    // refunds.band (refund band at the time of the write)
    Status      string    // refunds.status
    CreatedAt   time.Time // refunds.created_at
}
