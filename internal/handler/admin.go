package handler

import (
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
	"github.com/peterjpitcher/anchor-guest-actions/internal/repository"
	"github.com/peterjpitcher/anchor-guest-actions/internal/service"
)

// AdminHandler exposes the small operator surface behind JWT auth:
// minting guest links, releasing a wedged idempotency key and forcing a
// scheduler pass.
type AdminHandler struct {
	Idempotency *repository.IdempotencyRepo
	Scheduler   *service.OfferScheduler
	Tokens      *service.TokenService
	Refunds     *repository.RefundRepo

	ManageTTL  time.Duration // lifetime for manage_booking links
	PaymentTTL time.Duration // lifetime for payment links
}

// NewAdminHandler wires the operator endpoints.
func NewAdminHandler(idem *repository.IdempotencyRepo, sched *service.OfferScheduler, tokens *service.TokenService) *AdminHandler {
	return &AdminHandler{
		Idempotency: idem,
		Scheduler:   sched,
		Tokens:      tokens,
		ManageTTL:   30 * 24 * time.Hour,
		PaymentTTL:  24 * time.Hour,
	}
}

// issueLinkRequest is the body of POST /v1/admin/links.  Exactly one
// target id must be set, matching the action family.
type issueLinkRequest struct {
	Action           string  `json:"action"`
	CustomerID       uint64  `json:"customer_id"`
	EventBookingID   *uint64 `json:"event_booking_id"`
	TableBookingID   *uint64 `json:"table_booking_id"`
	PrivateBookingID *uint64 `json:"private_booking_id"`
}

// IssueLink handles POST /v1/admin/links.  Back-office flows call this
// to mint guest links for outbound SMS.  Waitlist offer links are not
// mintable here; only the scheduler issues those.
func (h *AdminHandler) IssueLink(c echo.Context) error {
	var req issueLinkRequest
	if err := c.Bind(&req); err != nil || req.CustomerID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "action and customer_id are required"})
	}

	action := model.ActionType(req.Action)
	var ttl time.Duration
	switch action {
	case model.ActionManageBooking, model.ActionReviewRedirect, model.ActionPrivateFeedback, model.ActionSundayPreorder:
		ttl = h.ManageTTL
	case model.ActionEventPayment, model.ActionTablePayment:
		ttl = h.PaymentTTL
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unsupported action"})
	}

	_, url, err := h.Tokens.Issue(c.Request().Context(), action, model.Subject{
		CustomerID:       req.CustomerID,
		EventBookingID:   req.EventBookingID,
		TableBookingID:   req.TableBookingID,
		PrivateBookingID: req.PrivateBookingID,
	}, ttl)
	if err != nil {
		log.Printf("admin: issue %s link: %v", action, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"url": url, "expires_in_seconds": int(ttl.Seconds())})
}

// ReleaseIdempotencyKey handles POST /v1/admin/idempotency/:key/release.
// It deletes a stuck in_progress record whose owning request died
// mid-flight.  Completed records are never released; their replay payload
// is the idempotency guarantee.
func (h *AdminHandler) ReleaseIdempotencyKey(c echo.Context) error {
	key := c.Param("key")
	operator, _ := c.Get("operator").(string)

	deleted, err := h.Idempotency.DeleteByKey(c.Request().Context(), key)
	if err != nil {
		log.Printf("admin: release key %q: %v", key, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	if !deleted {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no such idempotency key"})
	}
	log.Printf("admin: idempotency key %q released by %s", key, operator)
	return c.JSON(http.StatusOK, echo.Map{"released": true})
}

// PendingRefunds handles GET /v1/admin/refunds/pending.  It lists refund
// instructions that were persisted alongside a booking write but never got
// a gateway outcome, so operators can settle them by hand after a crash.
func (h *AdminHandler) PendingRefunds(c echo.Context) error {
	refunds, err := h.Refunds.ListPending(c.Request().Context())
	if err != nil {
		log.Printf("admin: list pending refunds: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	if refunds == nil {
		refunds = []*model.Refund{}
	}
	return c.JSON(http.StatusOK, echo.Map{"refunds": refunds})
}

// RunScheduler handles POST /v1/admin/scheduler/run.  It executes one
// synchronous scheduler pass and returns the summary, for operators who
// don't want to wait for the next tick after fixing a queue problem.
func (h *AdminHandler) RunScheduler(c echo.Context) error {
	summary := h.Scheduler.RunOnce(c.Request().Context())
	return c.JSON(http.StatusOK, summary)
}
