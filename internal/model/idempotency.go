package model

import "time"

// Idempotency record statuses.  A record is created in_progress when a
// caller first claims a key and flips to completed once the underlying
// side effect has committed and its response payload has been stored.
const (
    IdempotencyInProgress = "in_progress"
    IdempotencyCompleted  = "completed"
)

// IdempotencyRecord stores the outcome of the first request seen for a
// caller-supplied idempotency key.  The key is globally unique; a second
// claim with a different request hash is a conflict, not a retry.
//
// ResponsePayload is nil until the record completes.  An in_progress
// record is never auto-expired: if the owning process crashed before
// persisting, an operator releases the key explicitly so that two
// executors can never both believe they own it.
type IdempotencyRecord struct {
    Key             string     // idempotency_records.idem_key
    RequestHash     string     // idempotency_records.request_hash (sha256 hex of the canonical body)
    Status          string     // idempotency_records.status
    ResponsePayload []byte     // idempotency_records.response_payload (nullable)
    CreatedAt       time.Time  // idempotency_records.created_at
    CompletedAt     *time.Time // idempotency_records.completed_at (nullable)
}
