package handler

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
	"github.com/peterjpitcher/anchor-guest-actions/internal/repository"
	"github.com/peterjpitcher/anchor-guest-actions/internal/service"
)

// PublicHandler serves the unauthenticated /v1 JSON API: enquiries and
// waitlist membership.  Both creation endpoints sit behind the
// idempotency ledger because SMS webviews and flaky mobile networks
// retry aggressively.
type PublicHandler struct {
	Ledger    *service.Ledger
	Enquiries *repository.EnquiryRepo
	Alloc     *service.Allocator
	Events    *repository.EventRepo
}

// NewPublicHandler wires the public JSON API.
func NewPublicHandler(ledger *service.Ledger, enquiries *repository.EnquiryRepo, alloc *service.Allocator, events *repository.EventRepo) *PublicHandler {
	return &PublicHandler{Ledger: ledger, Enquiries: enquiries, Alloc: alloc, Events: events}
}

// claim runs the ledger protocol for one request.  It returns the raw
// body and true when the caller owns the key and must perform the side
// effect; otherwise it has already written the response.
func (h *PublicHandler) claim(c echo.Context, key string) (body []byte, hash string, proceed bool, err error) {
	body, err = io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, "", false, c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	hash = service.HashRequest(body)

	res, err := h.Ledger.Claim(c.Request().Context(), key, hash)
	if err != nil {
		log.Printf("idempotency claim %q: %v", key, err)
		return nil, "", false, c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	switch res.State {
	case service.ClaimReplay:
		return nil, "", false, c.JSONBlob(http.StatusOK, res.Payload)
	case service.ClaimConflict:
		return nil, "", false, c.JSON(http.StatusConflict, echo.Map{"error": "idempotency key reused with a different request"})
	case service.ClaimInProgress:
		return nil, "", false, c.JSON(http.StatusConflict, echo.Map{"error": "request in progress, retry later", "reason": string(model.ReasonInProgress)})
	}
	return body, hash, true, nil
}

// enquiryRequest is the body of POST /v1/enquiries.
type enquiryRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// CreateEnquiry handles POST /v1/enquiries.  Requires an
// Idempotency-Key header; a byte-identical retry replays the stored
// response without creating a second enquiry.
func (h *PublicHandler) CreateEnquiry(c echo.Context) error {
	ctx := c.Request().Context()
	key := c.Request().Header.Get("Idempotency-Key")
	if key == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Idempotency-Key header is required"})
	}

	body, hash, proceed, err := h.claim(c, key)
	if !proceed {
		return err
	}

	var req enquiryRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Name == "" || req.Phone == "" || req.Message == "" {
		// A malformed request never produced a side effect; release the
		// key so a corrected retry is not treated as a conflict.
		if rerr := h.Ledger.Release(ctx, key, hash); rerr != nil {
			log.Printf("enquiry: release %q: %v", key, rerr)
		}
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name, phone and message are required"})
	}

	enq := &model.Enquiry{Kind: model.EnquiryGeneral, Name: req.Name, Phone: req.Phone, Message: req.Message}
	if err := h.Enquiries.Create(ctx, enq); err != nil {
		log.Printf("enquiry: create: %v", err)
		if rerr := h.Ledger.Release(ctx, key, hash); rerr != nil {
			log.Printf("enquiry: release %q: %v", key, rerr)
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	payload, _ := json.Marshal(echo.Map{"id": enq.ID, "status": "received"})
	if err := h.Ledger.Persist(ctx, key, hash, payload); err != nil {
		// The enquiry exists; a failed persist only costs replay. Never
		// release here, that would allow a duplicate side effect.
		log.Printf("enquiry: persist %q: %v", key, err)
	}
	return c.JSONBlob(http.StatusCreated, payload)
}

// joinRequest is the body of POST /v1/events/:id/waitlist.
type joinRequest struct {
	CustomerID uint64 `json:"customer_id"`
	Seats      uint32 `json:"seats"`
}

// JoinWaitlist handles POST /v1/events/:id/waitlist under the same
// ledger protocol as enquiries.
func (h *PublicHandler) JoinWaitlist(c echo.Context) error {
	ctx := c.Request().Context()
	key := c.Request().Header.Get("Idempotency-Key")
	if key == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Idempotency-Key header is required"})
	}
	eventID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}

	body, hash, proceed, err := h.claim(c, key)
	if !proceed {
		return err
	}

	release := func() {
		if rerr := h.Ledger.Release(ctx, key, hash); rerr != nil {
			log.Printf("waitlist join: release %q: %v", key, rerr)
		}
	}

	var req joinRequest
	if err := json.Unmarshal(body, &req); err != nil || req.CustomerID == 0 || req.Seats == 0 {
		release()
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "customer_id and seats are required"})
	}

	if _, err := h.Events.GetByID(ctx, eventID); err != nil {
		release()
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
		}
		log.Printf("waitlist join: event %d: %v", eventID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	entry, err := h.Alloc.Join(ctx, eventID, req.CustomerID, req.Seats)
	if err != nil {
		release()
		log.Printf("waitlist join: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	payload, _ := json.Marshal(echo.Map{"entry_id": entry.ID, "status": entry.Status})
	if err := h.Ledger.Persist(ctx, key, hash, payload); err != nil {
		log.Printf("waitlist join: persist %q: %v", key, err)
	}
	return c.JSONBlob(http.StatusCreated, payload)
}

// withdrawRequest is the body of DELETE /v1/waitlist/:id.
type withdrawRequest struct {
	CustomerID uint64 `json:"customer_id"`
}

// WithdrawWaitlist handles DELETE /v1/waitlist/:id.  Withdrawing is
// naturally idempotent (only a queued entry can be cancelled), so no
// ledger key is required.
func (h *PublicHandler) WithdrawWaitlist(c echo.Context) error {
	entryID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid entry id"})
	}
	var req withdrawRequest
	if err := c.Bind(&req); err != nil || req.CustomerID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "customer_id is required"})
	}

	removed, err := h.Alloc.Withdraw(c.Request().Context(), entryID, req.CustomerID)
	if err != nil {
		log.Printf("waitlist withdraw %d: %v", entryID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	if !removed {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no queued entry to withdraw"})
	}
	return c.JSON(http.StatusOK, echo.Map{"removed": true})
}
