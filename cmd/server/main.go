package main // Entry point package

import (
	"context" // Context for the background workers
	"log"     // Logging library
	"time"    // Duration conversions for configured TTLs

	"github.com/joho/godotenv"    // Loads .env files in development
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/peterjpitcher/anchor-guest-actions/internal/config"     // Internal config loader
	"github.com/peterjpitcher/anchor-guest-actions/internal/database"   // MySQL connection helper
	"github.com/peterjpitcher/anchor-guest-actions/internal/handler"    // HTTP handlers
	"github.com/peterjpitcher/anchor-guest-actions/internal/middleware" // Rate limit middleware
	"github.com/peterjpitcher/anchor-guest-actions/internal/notify"     // SMS dispatch
	"github.com/peterjpitcher/anchor-guest-actions/internal/payment"    // Payment gateway contract
	"github.com/peterjpitcher/anchor-guest-actions/internal/queue"      // Outbound message consumer
	"github.com/peterjpitcher/anchor-guest-actions/internal/repository" // MySQL repositories
	"github.com/peterjpitcher/anchor-guest-actions/internal/router"     // Route registration
	"github.com/peterjpitcher/anchor-guest-actions/internal/service"    // Domain services
)

func main() {
	_ = godotenv.Load() // Load .env if present; real environments set vars directly

	cfg := config.Load()                      // Load required environment config
	rlCfg := config.LoadRateLimitConfig()     // Token bucket settings
	schedCfg := config.LoadSchedulerConfig()  // Offer scheduler settings
	rdb := config.NewRedisClient()            // Redis client backing the throttle

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName) // Open MySQL
	if err != nil {
		log.Fatalf("database: %v", err) // Abort startup without a database
	}
	defer db.Close()

	// Repositories over the shared *sql.DB.
	tokenRepo := repository.NewGuestTokenRepo(db)
	idemRepo := repository.NewIdempotencyRepo(db)
	eventRepo := repository.NewEventRepo(db)
	bookingRepo := repository.NewBookingRepo(db)
	tableRepo := repository.NewTableBookingRepo(db)
	holdRepo := repository.NewBookingHoldRepo(db)
	waitlistRepo := repository.NewWaitlistRepo(db, holdRepo, bookingRepo)
	customerRepo := repository.NewCustomerRepo(db)
	enquiryRepo := repository.NewEnquiryRepo(db)
	logRepo := repository.NewDeliveryLogRepo(db)
	refundRepo := repository.NewRefundRepo(db)

	// Domain services.
	tokens := service.NewTokenService(tokenRepo, cfg.GuestBaseURL)
	ledger := service.NewLedger(idemRepo)
	gateway := payment.Gateway(&payment.ManualGateway{BaseURL: cfg.GuestBaseURL})
	engine := service.NewBookingEngine(bookingRepo, holdRepo, eventRepo, refundRepo, gateway)
	engine.HoldTTL = schedCfg.HoldTTL
	alloc := service.NewAllocator(waitlistRepo, eventRepo, holdRepo, schedCfg.OfferWindow)
	sender := notify.NewDispatcher(logRepo)
	scheduler := service.NewOfferScheduler(alloc, tokens, sender, customerRepo, eventRepo, schedCfg.Interval)

	// Handlers.
	guest := handler.NewGuestHandler(tokens, engine, alloc, gateway)
	guest.Bookings = bookingRepo
	guest.Tables = tableRepo
	guest.Events = eventRepo
	guest.Customers = customerRepo
	guest.Enquiries = enquiryRepo
	public := handler.NewPublicHandler(ledger, enquiryRepo, alloc, eventRepo)
	pay := handler.NewPaymentHandler(bookingRepo, engine)
	admin := handler.NewAdminHandler(idemRepo, scheduler, tokens)
	admin.Refunds = refundRepo
	admin.ManageTTL = time.Duration(cfg.ManageTTLHours) * time.Hour
	admin.PaymentTTL = time.Duration(cfg.PaymentTTLHours) * time.Hour

	// Background workers share a context cancelled on shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { // Drain the outbound SMS queue
		if err := queue.StartOutboundConsumer(); err != nil {
			log.Printf("outbound consumer stopped: %v", err)
		}
	}()
	if schedCfg.Enabled {
		go scheduler.Run(ctx) // Periodic waitlist offer runs
	}

	e := echo.New() // Create Echo instance
	throttle := middleware.NewTokenBucket(rlCfg, rdb)
	router.RegisterRoutes(e, guest)
	router.RegisterGuest(e, guest, throttle)
	router.RegisterPublic(e, public, pay, throttle)
	router.RegisterAdmin(e, admin, cfg.OpsJWTSecret)

	addr := ":" + cfg.Port                                // Address string with port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env) // Print startup info

	if err := e.Start(addr); err != nil { // Start HTTP server
		log.Fatal(err) // Log and exit if server fails
	}
}
