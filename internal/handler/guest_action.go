package handler

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
	"github.com/peterjpitcher/anchor-guest-actions/internal/payment"
	"github.com/peterjpitcher/anchor-guest-actions/internal/repository"
	"github.com/peterjpitcher/anchor-guest-actions/internal/service"
)

// GuestHandler serves the unauthenticated /g/:token/* surface.  Every
// route resolves the raw token through TokenService first and converts
// failures into a redirect to the status page so guests never see a
// bare JSON error from an SMS link.
type GuestHandler struct {
	Tokens   *service.TokenService
	Engine   *service.BookingEngine
	Alloc    *service.Allocator
	Gateway  payment.Gateway
	Bookings *repository.BookingRepo
	Tables   *repository.TableBookingRepo
	Events   *repository.EventRepo

	Customers *repository.CustomerRepo
	Enquiries *repository.EnquiryRepo

	// ReviewURL is where a review_redirect token forwards the guest
	// after recording the click.
	ReviewURL string

	// TableDepositCents is charged per head when a table_payment token
	// is exercised.
	TableDepositCents int64
}

// NewGuestHandler wires the guest surface with its dependencies.
func NewGuestHandler(tokens *service.TokenService, engine *service.BookingEngine, alloc *service.Allocator, gw payment.Gateway) *GuestHandler {
	return &GuestHandler{
		Tokens:            tokens,
		Engine:            engine,
		Alloc:             alloc,
		Gateway:           gw,
		ReviewURL:         "https://g.page/r/the-anchor/review",
		TableDepositCents: 500,
	}
}

// statusRedirect sends the guest to the shared status page.  reason may
// be empty for success states.
func statusRedirect(c echo.Context, state string, reason model.Reason) error {
	q := url.Values{}
	q.Set("state", state)
	if reason != model.ReasonNone {
		q.Set("reason", string(reason))
	}
	return c.Redirect(http.StatusFound, "/g/status?"+q.Encode())
}

// Status renders the terminal page every guest flow redirects to.  It
// simply echoes the state and reason so the front end (or a curl user)
// can see the outcome without holding any session.
func (h *GuestHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"state":  c.QueryParam("state"),
		"reason": c.QueryParam("reason"),
	})
}

// ManageView handles GET /g/:token/manage-booking.  Viewing is
// non-mutating, so the token is validated but never consumed and the
// same link can be opened many times before an action is taken.
func (h *GuestHandler) ManageView(c echo.Context) error {
	tok, reason, err := h.Tokens.Validate(c.Request().Context(), c.Param("token"), model.ActionManageBooking, false)
	if err != nil {
		log.Printf("manage view: validate: %v", err)
		return statusRedirect(c, "error", model.ReasonInternalError)
	}
	if reason != model.ReasonNone {
		return statusRedirect(c, "error", reason)
	}

	if tok.EventBookingID == nil {
		return statusRedirect(c, "error", model.ReasonInvalidToken)
	}
	b, err := h.Bookings.GetByID(c.Request().Context(), *tok.EventBookingID)
	if err != nil {
		if err == repository.ErrNotFound {
			return statusRedirect(c, "error", model.ReasonBookingNotFound)
		}
		log.Printf("manage view: booking %d: %v", *tok.EventBookingID, err)
		return statusRedirect(c, "error", model.ReasonInternalError)
	}
	if b.CustomerID != tok.CustomerID {
		return statusRedirect(c, "error", model.ReasonTokenCustomerMismatch)
	}

	ev, err := h.Events.GetByID(c.Request().Context(), b.EventID)
	if err != nil {
		log.Printf("manage view: event %d: %v", b.EventID, err)
		return statusRedirect(c, "error", model.ReasonInternalError)
	}

	pol := service.Policy(ev.StartsAt, time.Now().UTC())
	return c.JSON(http.StatusOK, echo.Map{
		"booking": echo.Map{
			"id":     b.ID,
			"status": string(b.Status),
			"seats":  b.Seats,
		},
		"event": echo.Map{
			"id":        ev.ID,
			"name":      ev.Name,
			"starts_at": ev.StartsAt.UTC().Format(time.RFC3339),
		},
		"refund_policy": echo.Map{
			"band": string(pol.Band),
			"rate": pol.Rate,
		},
	})
}

// manageRequest is the body of POST /g/:token/manage-booking/action.
type manageRequest struct {
	Action string `json:"action"` // "cancel" or "update_seats"
	Seats  int    `json:"seats"`  // target seat count for update_seats
}

// ManageAction handles cancel and seat-change requests from a
// manage_booking link.  The mutation itself is guarded by conditional
// updates, so the token is consumed only after the change lands; a
// rejected change (wrong status, capacity, races) leaves the link
// usable for another attempt.
func (h *GuestHandler) ManageAction(c echo.Context) error {
	ctx := c.Request().Context()
	raw := c.Param("token")

	tok, reason, err := h.Tokens.Validate(ctx, raw, model.ActionManageBooking, true)
	if err != nil {
		log.Printf("manage action: validate: %v", err)
		return statusRedirect(c, "error", model.ReasonInternalError)
	}
	if reason != model.ReasonNone {
		return statusRedirect(c, "error", reason)
	}

	var req manageRequest
	if err := c.Bind(&req); err != nil {
		return statusRedirect(c, "error", model.ReasonInvalidToken)
	}

	var res service.MutationResult
	switch req.Action {
	case "cancel":
		res, err = h.Engine.Cancel(ctx, tok, "guest")
	case "update_seats":
		if req.Seats < 0 {
			return statusRedirect(c, "error", model.ReasonInvalidTransition)
		}
		res, err = h.Engine.UpdateSeats(ctx, tok, uint32(req.Seats))
	default:
		return statusRedirect(c, "error", model.ReasonInvalidTransition)
	}
	if err != nil {
		log.Printf("manage action %q: %v", req.Action, err)
		return statusRedirect(c, "error", model.ReasonInternalError)
	}
	if !res.OK {
		return statusRedirect(c, "error", res.Reason)
	}

	if ok, cerr := h.Tokens.Consume(ctx, raw); cerr != nil {
		log.Printf("manage action: consume: %v", cerr)
	} else if !ok {
		// Lost the consume race after a successful mutation.  The
		// change already landed, so the guest still gets a success
		// page; the link just cannot be reused.
		log.Printf("manage action: token already consumed post-mutation")
	}

	if res.CheckoutURL != "" {
		// A paid seat increase holds the extra seats and sends the
		// guest to payment before the booking changes.
		return c.Redirect(http.StatusFound, res.CheckoutURL)
	}
	return statusRedirect(c, "ok", model.ReasonNone)
}

// EventCheckout handles POST /g/:token/event-payment/checkout.  The
// token is consumed before the session is created so that two clicks on
// the same payment link cannot open two checkout sessions.
func (h *GuestHandler) EventCheckout(c echo.Context) error {
	ctx := c.Request().Context()
	raw := c.Param("token")

	tok, reason, err := h.Tokens.Validate(ctx, raw, model.ActionEventPayment, true)
	if err != nil {
		log.Printf("event checkout: validate: %v", err)
		return statusRedirect(c, "error", model.ReasonInternalError)
	}
	if reason != model.ReasonNone {
		return statusRedirect(c, "error", reason)
	}

	if tok.EventBookingID == nil {
		return statusRedirect(c, "error", model.ReasonInvalidToken)
	}
	b, err := h.Bookings.GetByID(ctx, *tok.EventBookingID)
	if err != nil {
		if err == repository.ErrNotFound {
			return statusRedirect(c, "error", model.ReasonBookingNotFound)
		}
		log.Printf("event checkout: booking %d: %v", *tok.EventBookingID, err)
		return statusRedirect(c, "error", model.ReasonInternalError)
	}
	if b.CustomerID != tok.CustomerID {
		return statusRedirect(c, "error", model.ReasonTokenCustomerMismatch)
	}
	if b.Status != model.BookingPendingPayment {
		return statusRedirect(c, "error", model.ReasonAlreadyChanged)
	}

	ev, err := h.Events.GetByID(ctx, b.EventID)
	if err != nil {
		log.Printf("event checkout: event %d: %v", b.EventID, err)
		return statusRedirect(c, "error", model.ReasonInternalError)
	}

	if ok, cerr := h.Tokens.Consume(ctx, raw); cerr != nil {
		log.Printf("event checkout: consume: %v", cerr)
		return statusRedirect(c, "error", model.ReasonInternalError)
	} else if !ok {
		return statusRedirect(c, "error", model.ReasonTokenUsed)
	}

	sess, err := h.Gateway.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		BookingID:   b.ID,
		CustomerID:  b.CustomerID,
		AmountCents: int64(b.Seats) * int64(ev.PriceCents),
		Description: fmt.Sprintf("%s x%d", ev.Name, b.Seats),
	})
	if err != nil {
		log.Printf("event checkout: session: %v", err)
		return statusRedirect(c, "error", model.ReasonUnavailable)
	}
	return c.Redirect(http.StatusFound, sess.URL)
}

// TableCheckout handles POST /g/:token/table-payment/checkout for
// per-head table deposits.
func (h *GuestHandler) TableCheckout(c echo.Context) error {
	ctx := c.Request().Context()
	raw := c.Param("token")

	tok, reason, err := h.Tokens.Validate(ctx, raw, model.ActionTablePayment, true)
	if err != nil {
		log.Printf("table checkout: validate: %v", err)
		return statusRedirect(c, "error", model.ReasonInternalError)
	}
	if reason != model.ReasonNone {
		return statusRedirect(c, "error", reason)
	}

	if tok.TableBookingID == nil {
		return statusRedirect(c, "error", model.ReasonInvalidToken)
	}
	tb, err := h.Tables.GetByID(ctx, *tok.TableBookingID)
	if err != nil {
		if err == repository.ErrNotFound {
			return statusRedirect(c, "error", model.ReasonBookingNotFound)
		}
		log.Printf("table checkout: booking %d: %v", *tok.TableBookingID, err)
		return statusRedirect(c, "error", model.ReasonInternalError)
	}
	if tb.CustomerID != tok.CustomerID {
		return statusRedirect(c, "error", model.ReasonTokenCustomerMismatch)
	}

	if ok, cerr := h.Tokens.Consume(ctx, raw); cerr != nil {
		log.Printf("table checkout: consume: %v", cerr)
		return statusRedirect(c, "error", model.ReasonInternalError)
	} else if !ok {
		return statusRedirect(c, "error", model.ReasonTokenUsed)
	}

	sess, err := h.Gateway.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		TableBookingID: tb.ID,
		CustomerID:     tb.CustomerID,
		AmountCents:    int64(tb.PartySize) * h.TableDepositCents,
		Description:    fmt.Sprintf("table deposit x%d", tb.PartySize),
	})
	if err != nil {
		log.Printf("table checkout: session: %v", err)
		return statusRedirect(c, "error", model.ReasonUnavailable)
	}
	return c.Redirect(http.StatusFound, sess.URL)
}

// WaitlistConfirm handles POST /g/:token/waitlist-offer/confirm.  The
// token is consumed first and acts as the concurrency gate: only one
// click per offer link can ever reach the allocator.
func (h *GuestHandler) WaitlistConfirm(c echo.Context) error {
	ctx := c.Request().Context()
	raw := c.Param("token")

	tok, reason, err := h.Tokens.Validate(ctx, raw, model.ActionWaitlistOfferAccept, true)
	if err != nil {
		log.Printf("waitlist confirm: validate: %v", err)
		return statusRedirect(c, "error", model.ReasonInternalError)
	}
	if reason != model.ReasonNone {
		return statusRedirect(c, "error", reason)
	}

	if ok, cerr := h.Tokens.Consume(ctx, raw); cerr != nil {
		log.Printf("waitlist confirm: consume: %v", cerr)
		return statusRedirect(c, "error", model.ReasonInternalError)
	} else if !ok {
		return statusRedirect(c, "error", model.ReasonTokenUsed)
	}

	res, err := h.Alloc.Accept(ctx, tok)
	if err != nil {
		log.Printf("waitlist confirm: accept: %v", err)
		return statusRedirect(c, "error", model.ReasonInternalError)
	}
	if !res.OK {
		return statusRedirect(c, "error", res.Reason)
	}

	if res.BookingStatus == model.BookingPendingPayment {
		// Paid event: hand the guest straight to checkout for the new
		// booking instead of making them wait for a payment SMS.  If
		// the session can't be created the booking still exists, so
		// this is a success page either way.
		b, err := h.Bookings.GetByID(ctx, res.BookingID)
		if err != nil {
			log.Printf("waitlist confirm: booking %d: %v", res.BookingID, err)
			return statusRedirect(c, "ok", model.ReasonNone)
		}
		sess, err := h.Gateway.CreateCheckoutSession(ctx, payment.CheckoutRequest{
			BookingID:   b.ID,
			CustomerID:  b.CustomerID,
			AmountCents: int64(b.Seats) * int64(res.Event.PriceCents),
			Description: fmt.Sprintf("%s x%d", res.Event.Name, b.Seats),
		})
		if err != nil {
			log.Printf("waitlist confirm: session: %v", err)
			return statusRedirect(c, "ok", model.ReasonNone)
		}
		return c.Redirect(http.StatusFound, sess.URL)
	}
	return statusRedirect(c, "ok", model.ReasonNone)
}

// ReviewRedirect handles GET /g/:token/review.  review_redirect tokens
// are reusable; the booking transition to review_clicked only succeeds
// on the first visit and later visits still forward to the review page.
func (h *GuestHandler) ReviewRedirect(c echo.Context) error {
	ctx := c.Request().Context()

	tok, reason, err := h.Tokens.Validate(ctx, c.Param("token"), model.ActionReviewRedirect, false)
	if err != nil {
		log.Printf("review redirect: validate: %v", err)
		return statusRedirect(c, "error", model.ReasonInternalError)
	}
	if reason != model.ReasonNone {
		return statusRedirect(c, "error", reason)
	}

	if res, err := h.Engine.MarkStatus(ctx, tok, "review_clicked"); err != nil {
		log.Printf("review redirect: mark: %v", err)
	} else if !res.OK && res.Reason != model.ReasonAlreadyChanged {
		return statusRedirect(c, "error", res.Reason)
	}
	return c.Redirect(http.StatusFound, h.ReviewURL)
}

// feedbackRequest is the body of POST /g/:token/feedback.
type feedbackRequest struct {
	Message string `json:"message"`
}

// Feedback handles POST /g/:token/feedback.  private_feedback tokens
// are reusable so a guest can send more than one note.
func (h *GuestHandler) Feedback(c echo.Context) error {
	ctx := c.Request().Context()

	tok, reason, err := h.Tokens.Validate(ctx, c.Param("token"), model.ActionPrivateFeedback, false)
	if err != nil {
		log.Printf("feedback: validate: %v", err)
		return statusRedirect(c, "error", model.ReasonInternalError)
	}
	if reason != model.ReasonNone {
		return statusRedirect(c, "error", reason)
	}

	var req feedbackRequest
	if err := c.Bind(&req); err != nil || req.Message == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "message is required"})
	}

	cust, err := h.Customers.GetByID(ctx, tok.CustomerID)
	if err != nil {
		log.Printf("feedback: customer %d: %v", tok.CustomerID, err)
		return statusRedirect(c, "error", model.ReasonInternalError)
	}

	if err := h.Enquiries.Create(ctx, &model.Enquiry{
		Kind:       model.EnquiryFeedback,
		CustomerID: &tok.CustomerID,
		Name:       cust.FirstName,
		Phone:      cust.Phone,
		Message:    req.Message,
	}); err != nil {
		log.Printf("feedback: create: %v", err)
		return statusRedirect(c, "error", model.ReasonInternalError)
	}
	return statusRedirect(c, "ok", model.ReasonNone)
}

// preorderRequest is the body of POST /g/:token/sunday-preorder.
type preorderRequest struct {
	Choices string `json:"choices"`
}

// SundayPreorder handles POST /g/:token/sunday-preorder.  The token is
// single use: one submission per lunch sitting.
func (h *GuestHandler) SundayPreorder(c echo.Context) error {
	ctx := c.Request().Context()
	raw := c.Param("token")

	tok, reason, err := h.Tokens.Validate(ctx, raw, model.ActionSundayPreorder, true)
	if err != nil {
		log.Printf("preorder: validate: %v", err)
		return statusRedirect(c, "error", model.ReasonInternalError)
	}
	if reason != model.ReasonNone {
		return statusRedirect(c, "error", reason)
	}

	var req preorderRequest
	if err := c.Bind(&req); err != nil || req.Choices == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "choices is required"})
	}

	if ok, cerr := h.Tokens.Consume(ctx, raw); cerr != nil {
		log.Printf("preorder: consume: %v", cerr)
		return statusRedirect(c, "error", model.ReasonInternalError)
	} else if !ok {
		return statusRedirect(c, "error", model.ReasonTokenUsed)
	}

	cust, err := h.Customers.GetByID(ctx, tok.CustomerID)
	if err != nil {
		log.Printf("preorder: customer %d: %v", tok.CustomerID, err)
		return statusRedirect(c, "error", model.ReasonInternalError)
	}

	if err := h.Enquiries.Create(ctx, &model.Enquiry{
		Kind:       model.EnquiryPreorder,
		CustomerID: &tok.CustomerID,
		Name:       cust.FirstName,
		Phone:      cust.Phone,
		Message:    req.Choices,
	}); err != nil {
		log.Printf("preorder: create: %v", err)
		return statusRedirect(c, "error", model.ReasonInternalError)
	}
	return statusRedirect(c, "ok", model.ReasonNone)
}
