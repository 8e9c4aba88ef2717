package service

import (
	"math"
	"time"
)

// RefundBand names the window of time before the event start a
// cancellation falls into.
type RefundBand string

const (
	BandFull RefundBand = "full_refund"
	BandHalf RefundBand = "half_refund"
	BandNone RefundBand = "no_refund"
)

// Refund band thresholds, measured from the event start backwards.
const (
	fullRefundBefore = 7 * 24 * time.Hour
	halfRefundBefore = 3 * 24 * time.Hour
)

// RefundPolicy is the rate and band applicable to a cancellation at a
// given moment.
type RefundPolicy struct {
	Rate float64
	Band RefundBand
}

// Policy maps time-until-event-start to a refund band.  Pure: no side
// effects, no I/O, no clock; callers pass now explicitly.  The rate is
// monotonically non-increasing as now approaches the event start.
func Policy(eventStart, now time.Time) RefundPolicy {
	until := eventStart.Sub(now)
	switch {
	case until >= fullRefundBefore:
		return RefundPolicy{Rate: 1.0, Band: BandFull}
	case until >= halfRefundBefore:
		return RefundPolicy{Rate: 0.5, Band: BandHalf}
	default:
		return RefundPolicy{Rate: 0.0, Band: BandNone}
	}
}

// RefundCents converts seats removed into a refund instruction:
// seats × price per seat × rate, rounded to whole cents exactly once at
// the point of computing the instruction, never earlier, so partial
// reductions don't compound rounding error.
func RefundCents(seatsRemoved, priceCents uint32, rate float64) int64 {
	return int64(math.Round(float64(seatsRemoved) * float64(priceCents) * rate))
}
