package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
	"github.com/peterjpitcher/anchor-guest-actions/internal/notify"
)

// OfferPromoter is the allocator surface the scheduler drives.
// *Allocator implements it.
type OfferPromoter interface {
	EventsWithQueue(ctx context.Context) ([]uint64, error)
	Promote(ctx context.Context, eventID uint64) (PromotionResult, error)
	CleanupFailedSend(ctx context.Context, offer *model.WaitlistOffer, windowUnavailable bool) error
	ExpireOverdue(ctx context.Context) (expired, failed int)
}

// LinkIssuer mints guest links. *TokenService implements it.
type LinkIssuer interface {
	Issue(ctx context.Context, action model.ActionType, subject model.Subject, ttl time.Duration) (raw, url string, err error)
}

// CustomerStore looks up guests for delivery. *repository.CustomerRepo
// implements it.
type CustomerStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Customer, error)
}

// SchedulerSummary is the per-run output, shaped for alerting.
type SchedulerSummary struct {
	OffersCreated   int `json:"offers_created"`
	OffersSent      int `json:"offers_sent"`
	OffersCancelled int `json:"offers_cancelled"`
	OffersExpired   int `json:"offers_expired"`
	SafetyAborts    int `json:"safety_aborts"`
	Errors          int `json:"errors"`
	Skipped         int `json:"skipped"`
}

// OfferScheduler periodically walks events with queued waitlist entries,
// promoting at most one entry per event per run and sending the offer
// link.  Runs are single-flight: a run triggered while another is in
// progress waits its turn.
//
// The one deliberate fail-fast rule: if sending reports the dispatch-log
// failure signal, the whole run aborts immediately.  Continuing while the
// system cannot prove what it already sent risks putting two live offers
// into the world; partial progress from earlier events is preserved, later
// events are left untouched for the next run.
type OfferScheduler struct {
	Promoter  OfferPromoter
	Links     LinkIssuer
	Sender    notify.Sender
	Customers CustomerStore
	Events    EventStore
	Interval  time.Duration
	Now       func() time.Time

	mu sync.Mutex
}

func NewOfferScheduler(p OfferPromoter, links LinkIssuer, sender notify.Sender, customers CustomerStore, events EventStore, interval time.Duration) *OfferScheduler {
	return &OfferScheduler{
		Promoter:  p,
		Links:     links,
		Sender:    sender,
		Customers: customers,
		Events:    events,
		Interval:  interval,
		Now:       time.Now,
	}
}

// Run ticks until the context is cancelled.  The first run starts
// immediately.
func (s *OfferScheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *OfferScheduler) tick(ctx context.Context) {
	sum := s.RunOnce(ctx)
	log.Printf("scheduler: run complete created=%d sent=%d cancelled=%d expired=%d safety_aborts=%d errors=%d skipped=%d",
		sum.OffersCreated, sum.OffersSent, sum.OffersCancelled, sum.OffersExpired,
		sum.SafetyAborts, sum.Errors, sum.Skipped)
}

// RunOnce executes a single batch and returns its summary.
func (s *OfferScheduler) RunOnce(ctx context.Context) SchedulerSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum SchedulerSummary

	expired, failed := s.Promoter.ExpireOverdue(ctx)
	sum.OffersExpired += expired
	sum.Errors += failed

	events, err := s.Promoter.EventsWithQueue(ctx)
	if err != nil {
		log.Printf("scheduler: list events with queued entries: %v", err)
		sum.Errors++
		return sum
	}

	for _, eventID := range events {
		res, err := s.Promoter.Promote(ctx, eventID)
		if err != nil {
			log.Printf("scheduler: promote event %d: %v", eventID, err)
			sum.Errors++
			continue
		}
		if !res.Promoted {
			sum.Skipped++
			continue
		}
		sum.OffersCreated++

		err = s.sendOffer(ctx, res)
		if err == nil {
			sum.OffersSent++
			continue
		}
		if notify.IsLogFailure(err) {
			// The message may be out but its dispatch record is not.  Any
			// further send in this run could duplicate a live offer, so
			// stop here; events already processed keep their state.
			log.Printf("scheduler: SAFETY ABORT on event %d: %v", eventID, err)
			sum.SafetyAborts++
			break
		}

		windowUnavailable := !s.now().Before(res.Offer.ExpiresAt)
		if cleanupErr := s.Promoter.CleanupFailedSend(ctx, res.Offer, windowUnavailable); cleanupErr != nil {
			log.Printf("scheduler: cleanup after failed send for offer %d: %v", res.Offer.ID, cleanupErr)
			sum.Errors++
			continue
		}
		log.Printf("scheduler: offer %d withdrawn after send failure: %v", res.Offer.ID, err)
		sum.OffersCancelled++
	}
	return sum
}

func (s *OfferScheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// sendOffer mints the acceptance link and dispatches the offer message.
func (s *OfferScheduler) sendOffer(ctx context.Context, res PromotionResult) error {
	cust, err := s.Customers.GetByID(ctx, res.Entry.CustomerID)
	if err != nil {
		return fmt.Errorf("load customer %d: %w", res.Entry.CustomerID, err)
	}
	ev, err := s.Events.GetByID(ctx, res.Offer.EventID)
	if err != nil {
		return fmt.Errorf("load event %d: %w", res.Offer.EventID, err)
	}

	offerID := res.Offer.ID
	ttl := res.Offer.ExpiresAt.Sub(s.now())
	_, link, err := s.Links.Issue(ctx, model.ActionWaitlistOfferAccept,
		model.Subject{CustomerID: cust.ID, WaitlistOfferID: &offerID}, ttl)
	if err != nil {
		return fmt.Errorf("issue offer link: %w", err)
	}

	body := fmt.Sprintf("Hi %s, a place has opened up for %s on %s. Tap to claim it before %s: %s",
		cust.FirstName, ev.Name,
		ev.StartsAt.Format("Mon 2 Jan 15:04"),
		res.Offer.ExpiresAt.Format("15:04"),
		link)
	_, err = s.Sender.Send(ctx, cust.Phone, body, notify.Metadata{
		"kind":     "waitlist_offer",
		"offer_id": fmt.Sprint(offerID),
		"event_id": fmt.Sprint(ev.ID),
	})
	return err
}
