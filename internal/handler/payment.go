package handler

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
	"github.com/peterjpitcher/anchor-guest-actions/internal/repository"
	"github.com/peterjpitcher/anchor-guest-actions/internal/service"
)

// PaymentHandler receives asynchronous confirmations from the payment
// gateway.  The endpoint is idempotent by construction: every transition
// is a conditional update, so a redelivered confirmation finds zero
// matching rows and is acknowledged without effect.
type PaymentHandler struct {
	Bookings *repository.BookingRepo
	Engine   *service.BookingEngine
}

// NewPaymentHandler wires the gateway confirmation endpoint.
func NewPaymentHandler(bookings *repository.BookingRepo, engine *service.BookingEngine) *PaymentHandler {
	return &PaymentHandler{Bookings: bookings, Engine: engine}
}

// confirmRequest is the body of POST /v1/payments/confirm.  HoldID is
// set when the payment backs a held seat increase rather than a whole
// booking.
type confirmRequest struct {
	BookingID uint64 `json:"booking_id"`
	HoldID    uint64 `json:"hold_id"`
	ChargeRef string `json:"charge_ref"`
}

// Confirm handles POST /v1/payments/confirm.
func (h *PaymentHandler) Confirm(c echo.Context) error {
	ctx := c.Request().Context()

	var req confirmRequest
	if err := c.Bind(&req); err != nil || req.BookingID == 0 || req.ChargeRef == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "booking_id and charge_ref are required"})
	}

	if _, err := h.Bookings.SetPaymentRef(ctx, req.BookingID, req.ChargeRef); err != nil {
		log.Printf("payment confirm: set ref booking=%d: %v", req.BookingID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	if req.HoldID != 0 {
		res, err := h.Engine.ConfirmSeatIncrease(ctx, req.BookingID, req.HoldID)
		if err != nil {
			log.Printf("payment confirm: seat increase booking=%d hold=%d: %v", req.BookingID, req.HoldID, err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
		}
		if !res.OK {
			// The hold lapsed before payment settled. Acknowledge so
			// the gateway stops retrying; operators refund manually.
			log.Printf("payment confirm: seat increase blocked booking=%d hold=%d reason=%s", req.BookingID, req.HoldID, res.Reason)
			return c.JSON(http.StatusOK, echo.Map{"applied": false, "reason": string(res.Reason)})
		}
		return c.JSON(http.StatusOK, echo.Map{"applied": true})
	}

	n, err := h.Bookings.UpdateStatus(ctx, req.BookingID, model.BookingConfirmed,
		[]model.BookingStatus{model.BookingPendingPayment})
	if err != nil {
		log.Printf("payment confirm: confirm booking=%d: %v", req.BookingID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"applied": n == 1})
}
