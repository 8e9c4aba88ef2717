// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// service engines to distinguish between failure scenarios without
// inspecting SQL errors. Conditional updates that affect zero rows are
// reported through these sentinels so callers can map a lost race to a
// guest-safe reason instead of retrying blindly.
package repository

import "errors"

// ErrNotFound is returned when a row a caller asked for does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional insert or update cannot be
// performed because of conflicting state, such as promoting a waitlist
// entry that another run already moved out of queued.
var ErrConflict = errors.New("conflict")

// ErrDuplicateKey is returned when an insert violated a unique constraint.
// The idempotency ledger relies on it to detect a second claim for an
// existing key.
var ErrDuplicateKey = errors.New("duplicate key")

// ErrHoldExpired is returned when a booking hold could not be consumed
// because its expiry passed, or it was already released, before the
// conditional update ran.
var ErrHoldExpired = errors.New("hold expired")

// ErrOfferNotActive is returned when an offer acceptance lost the race:
// the entry or offer left the offered/sent state before the acceptance's
// conditional updates applied.
var ErrOfferNotActive = errors.New("offer not active")
