// Package payment defines the narrow contract with the external payment
// gateway.  The core never assumes synchronous success: pending and
// manual_required are first-class refund outcomes that are surfaced to the
// guest and to operators rather than treated as errors.
package payment

import (
	"context"
	"log"

	"github.com/google/uuid"
)

// RefundStatus is the gateway's answer to a refund instruction.
type RefundStatus string

const (
	RefundSucceeded      RefundStatus = "succeeded"
	RefundPending        RefundStatus = "pending"
	RefundManualRequired RefundStatus = "manual_required"
	RefundFailed         RefundStatus = "failed"
)

// CheckoutRequest asks the gateway to collect a payment from a guest.
type CheckoutRequest struct {
	BookingID      uint64 // event booking being paid for, 0 when not applicable
	TableBookingID uint64 // table booking being paid for, 0 when not applicable
	CustomerID     uint64
	AmountCents    int64
	Description    string
	SuccessURL     string
	CancelURL      string
}

// CheckoutSession is the gateway's hosted payment page for a request.
type CheckoutSession struct {
	URL string // where the guest is redirected to pay
	Ref string // gateway reference for reconciliation
}

// Gateway is implemented by the payment provider integration.  Both
// methods may fail with an error for infrastructure faults; business
// outcomes (a refund needing manual review) come back as values.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	Refund(ctx context.Context, chargeRef string, amountCents int64) (RefundStatus, error)
}

// ManualGateway is the fallback used when no provider is configured: every
// checkout gets a placeholder session and every refund is routed to manual
// processing.  Operators act on the logged instructions.
type ManualGateway struct{ BaseURL string }

func (g *ManualGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	ref := uuid.NewString()
	log.Printf("payment: manual checkout requested booking=%d amount=%d cents ref=%s", req.BookingID, req.AmountCents, ref)
	return CheckoutSession{URL: g.BaseURL + "/pay/manual/" + ref, Ref: ref}, nil
}

func (g *ManualGateway) Refund(ctx context.Context, chargeRef string, amountCents int64) (RefundStatus, error) {
	log.Printf("payment: manual refund required charge=%s amount=%d cents", chargeRef, amountCents)
	return RefundManualRequired, nil
}
