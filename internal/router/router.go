package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/peterjpitcher/anchor-guest-actions/internal/handler"    // import the handlers that implement business logic
	"github.com/peterjpitcher/anchor-guest-actions/internal/middleware" // import middleware for throttling and operator auth
)

// RegisterRoutes registers routes that do not require a token or key on
// the provided Echo instance: the health check used by load balancers
// and the shared status page guest flows redirect to.
func RegisterRoutes(e *echo.Echo, g *handler.GuestHandler) {
	// Map the GET request at path "/healthz" to the Health handler.  This
	// endpoint can be used by load balancers or monitoring systems to verify
	// that the service is up and running.
	e.GET("/healthz", handler.Health)
	// The terminal page every guest action redirects to with a state and
	// optional reason in the query string.
	e.GET("/g/status", g.Status)
}

// RegisterGuest registers the token-bearing /g/:token/* routes.  Every
// route in the group shares the Redis token-bucket throttle; a blocked
// guest request is redirected to the status page rather than given a
// bare 429.
func RegisterGuest(e *echo.Echo, g *handler.GuestHandler, throttle echo.MiddlewareFunc) {
	grp := e.Group("/g/:token")
	grp.Use(throttle)

	// Booking management: a view that never consumes the token, and the
	// action endpoint for cancellations and seat changes.
	grp.GET("/manage-booking", g.ManageView)
	grp.POST("/manage-booking/action", g.ManageAction)

	// Payment links for event bookings and table deposits.
	grp.POST("/event-payment/checkout", g.EventCheckout)
	grp.POST("/table-payment/checkout", g.TableCheckout)

	// Waitlist offer acceptance.
	grp.POST("/waitlist-offer/confirm", g.WaitlistConfirm)

	// Reusable view actions: review click-through and private feedback.
	grp.GET("/review", g.ReviewRedirect)
	grp.POST("/feedback", g.Feedback)

	// Sunday lunch preorder submission.
	grp.POST("/sunday-preorder", g.SundayPreorder)
}

// RegisterPublic registers the unauthenticated /v1 JSON API and the
// payment gateway confirmation endpoint.  Creation endpoints require an
// Idempotency-Key header; the handlers enforce it.
func RegisterPublic(e *echo.Echo, p *handler.PublicHandler, pay *handler.PaymentHandler, throttle echo.MiddlewareFunc) {
	grp := e.Group("/v1")
	grp.Use(throttle)

	grp.POST("/enquiries", p.CreateEnquiry)
	grp.POST("/events/:id/waitlist", p.JoinWaitlist)
	grp.DELETE("/waitlist/:id", p.WithdrawWaitlist)

	// Gateway confirmations are redelivered on timeout, so the handler
	// is idempotent and never throttled away from the gateway.
	e.POST("/v1/payments/confirm", pay.Confirm)
}

// RegisterAdmin registers the operator endpoints.  All handlers in the
// group execute the OpsAuth middleware before being invoked, so a valid
// bearer token signed with the operator secret is required.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string) {
	grp := e.Group("/v1/admin")
	grp.Use(middleware.OpsAuth(jwtSecret))

	grp.POST("/links", a.IssueLink)
	grp.POST("/idempotency/:key/release", a.ReleaseIdempotencyKey)
	grp.POST("/scheduler/run", a.RunScheduler)
	grp.GET("/refunds/pending", a.PendingRefunds)
}
