package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
	"github.com/peterjpitcher/anchor-guest-actions/internal/notify"
	"github.com/peterjpitcher/anchor-guest-actions/internal/payment"
	"github.com/peterjpitcher/anchor-guest-actions/internal/repository"
)

// baseTime is the frozen clock most tests start from.
var baseTime = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

// clock is a settable test clock.
type clock struct{ now time.Time }

func newClock() *clock                   { return &clock{now: baseTime} }
func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeTokenStore keeps tokens in a map keyed by hash.
type fakeTokenStore struct {
	mu     sync.Mutex
	nextID uint64
	byHash map[string]*model.GuestToken
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{byHash: map[string]*model.GuestToken{}}
}

func (s *fakeTokenStore) Create(ctx context.Context, t *model.GuestToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t.ID = s.nextID
	cp := *t
	s.byHash[t.TokenHash] = &cp
	return nil
}

func (s *fakeTokenStore) GetByHash(ctx context.Context, hash string) (*model.GuestToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byHash[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeTokenStore) Consume(ctx context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byHash[hash]
	if !ok || t.UsedAt != nil {
		return false, nil
	}
	u := baseTime
	t.UsedAt = &u
	return true, nil
}

// fakeClaimStore mirrors the unique-key semantics of the MySQL table.
type fakeClaimStore struct {
	mu      sync.Mutex
	records map[string]*model.IdempotencyRecord
}

func newFakeClaimStore() *fakeClaimStore {
	return &fakeClaimStore{records: map[string]*model.IdempotencyRecord{}}
}

func (s *fakeClaimStore) Insert(ctx context.Context, key, requestHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return repository.ErrDuplicateKey
	}
	s.records[key] = &model.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      model.IdempotencyInProgress,
		CreatedAt:   baseTime,
	}
	return nil
}

func (s *fakeClaimStore) Get(ctx context.Context, key string) (*model.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeClaimStore) Complete(ctx context.Context, key, requestHash string, payload []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || rec.Status != model.IdempotencyInProgress || rec.RequestHash != requestHash {
		return false, nil
	}
	rec.Status = model.IdempotencyCompleted
	rec.ResponsePayload = append([]byte(nil), payload...)
	done := baseTime
	rec.CompletedAt = &done
	return true, nil
}

func (s *fakeClaimStore) Delete(ctx context.Context, key, requestHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || rec.Status != model.IdempotencyInProgress || rec.RequestHash != requestHash {
		return false, nil
	}
	delete(s.records, key)
	return true, nil
}

// fakeEventStore serves events and a directly settable booked-seat count.
type fakeEventStore struct {
	mu     sync.Mutex
	events map[uint64]*model.Event
	booked map[uint64]uint32
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{events: map[uint64]*model.Event{}, booked: map[uint64]uint32{}}
}

func (s *fakeEventStore) add(ev *model.Event) *model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ID] = ev
	return ev
}

func (s *fakeEventStore) GetByID(ctx context.Context, id uint64) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *fakeEventStore) SeatsBooked(ctx context.Context, eventID uint64) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.booked[eventID], nil
}

// fakeBookingStore applies the same conditional-update semantics as the
// MySQL repository: zero affected rows on any predicate mismatch.  It also
// keeps the refund instructions the refunding variants persist, mirroring
// the same-transaction insert, and records outcomes on them.
type fakeBookingStore struct {
	mu           sync.Mutex
	nextID       uint64
	bookings     map[uint64]*model.Booking
	nextRefundID uint64
	refunds      []*model.Refund
}

func newFakeBookingStore() *fakeBookingStore {
	return &fakeBookingStore{bookings: map[uint64]*model.Booking{}}
}

func (s *fakeBookingStore) add(b *model.Booking) *model.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == 0 {
		s.nextID++
		b.ID = s.nextID
	} else if b.ID > s.nextID {
		s.nextID = b.ID
	}
	s.bookings[b.ID] = b
	return b
}

func (s *fakeBookingStore) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func statusIn(st model.BookingStatus, from []model.BookingStatus) bool {
	for _, f := range from {
		if st == f {
			return true
		}
	}
	return false
}

func (s *fakeBookingStore) UpdateSeats(ctx context.Context, id uint64, newSeats, expectSeats uint32, from []model.BookingStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.Seats != expectSeats || !statusIn(b.Status, from) {
		return 0, nil
	}
	b.Seats = newSeats
	return 1, nil
}

func (s *fakeBookingStore) UpdateStatus(ctx context.Context, id uint64, to model.BookingStatus, from []model.BookingStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || !statusIn(b.Status, from) {
		return 0, nil
	}
	b.Status = to
	return 1, nil
}

// persistRefund mirrors the repository's same-transaction insert: the
// instruction is stored only when the guarded write took effect.
func (s *fakeBookingStore) persistRefund(ref *model.Refund) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRefundID++
	ref.ID = s.nextRefundID
	ref.Status = model.RefundPending
	s.refunds = append(s.refunds, ref)
}

func (s *fakeBookingStore) UpdateSeatsRefunding(ctx context.Context, id uint64, newSeats, expectSeats uint32, from []model.BookingStatus, ref *model.Refund) (int64, error) {
	n, err := s.UpdateSeats(ctx, id, newSeats, expectSeats, from)
	if err == nil && n == 1 && ref != nil {
		s.persistRefund(ref)
	}
	return n, err
}

func (s *fakeBookingStore) UpdateStatusRefunding(ctx context.Context, id uint64, to model.BookingStatus, from []model.BookingStatus, ref *model.Refund) (int64, error) {
	n, err := s.UpdateStatus(ctx, id, to, from)
	if err == nil && n == 1 && ref != nil {
		s.persistRefund(ref)
	}
	return n, err
}

func (s *fakeBookingStore) MarkOutcome(ctx context.Context, id uint64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range s.refunds {
		if ref.ID == id && ref.Status == model.RefundPending {
			ref.Status = status
		}
	}
	return nil
}

// fakeHoldStore enforces lazy expiry against the test clock.
type fakeHoldStore struct {
	mu     sync.Mutex
	clock  *clock
	nextID uint64
	holds  map[uint64]*model.BookingHold
}

func newFakeHoldStore(c *clock) *fakeHoldStore {
	return &fakeHoldStore{clock: c, holds: map[uint64]*model.BookingHold{}}
}

func (s *fakeHoldStore) Create(ctx context.Context, h *model.BookingHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	h.ID = s.nextID
	h.Status = model.HoldActive
	s.holds[h.ID] = h
	return nil
}

func (s *fakeHoldStore) GetByID(ctx context.Context, id uint64) (*model.BookingHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *fakeHoldStore) Consume(ctx context.Context, holdID, bookingID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok || h.Status != model.HoldActive || !s.clock.Now().Before(h.ExpiresAt) {
		return 0, nil
	}
	h.Status = model.HoldReleased
	h.BookingID = &bookingID
	return 1, nil
}

func (s *fakeHoldStore) Release(ctx context.Context, holdID uint64, to string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok || h.Status != model.HoldActive {
		return 0, nil
	}
	h.Status = to
	return 1, nil
}

func (s *fakeHoldStore) ActiveSeats(ctx context.Context, eventID uint64) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total uint32
	for _, h := range s.holds {
		if h.EventID == eventID && h.Status == model.HoldActive && s.clock.Now().Before(h.ExpiresAt) {
			total += h.Seats
		}
	}
	return total, nil
}

// fakeWaitlistStore replicates the composite transactions of the MySQL
// repository over in-memory maps, including their row-count checks.
type fakeWaitlistStore struct {
	mu          sync.Mutex
	clock       *clock
	holds       *fakeHoldStore
	bookings    *fakeBookingStore
	nextEntryID uint64
	nextOfferID uint64
	entries     map[uint64]*model.WaitlistEntry
	offers      map[uint64]*model.WaitlistOffer
}

func newFakeWaitlistStore(c *clock, holds *fakeHoldStore, bookings *fakeBookingStore) *fakeWaitlistStore {
	return &fakeWaitlistStore{
		clock:    c,
		holds:    holds,
		bookings: bookings,
		entries:  map[uint64]*model.WaitlistEntry{},
		offers:   map[uint64]*model.WaitlistOffer{},
	}
}

func (s *fakeWaitlistStore) CreateEntry(ctx context.Context, e *model.WaitlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEntryID++
	e.ID = s.nextEntryID
	e.Status = model.WaitlistQueued
	if e.CreatedAt.IsZero() {
		// Creation order doubles as queue order, a nanosecond apart.
		e.CreatedAt = baseTime.Add(time.Duration(s.nextEntryID) * time.Nanosecond)
	}
	s.entries[e.ID] = e
	return nil
}

func (s *fakeWaitlistStore) HasOffered(ctx context.Context, eventID uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.EventID == eventID && e.Status == model.WaitlistOffered {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeWaitlistStore) OldestQueued(ctx context.Context, eventID uint64) (*model.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *model.WaitlistEntry
	for _, e := range s.entries {
		if e.EventID != eventID || e.Status != model.WaitlistQueued {
			continue
		}
		if oldest == nil || e.CreatedAt.Before(oldest.CreatedAt) ||
			(e.CreatedAt.Equal(oldest.CreatedAt) && e.ID < oldest.ID) {
			oldest = e
		}
	}
	if oldest == nil {
		return nil, repository.ErrNotFound
	}
	cp := *oldest
	return &cp, nil
}

func (s *fakeWaitlistStore) PromoteEntry(ctx context.Context, entry *model.WaitlistEntry, offer *model.WaitlistOffer, hold *model.BookingHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.entries[entry.ID]
	if !ok || stored.Status != model.WaitlistQueued {
		return repository.ErrConflict
	}
	stored.Status = model.WaitlistOffered
	for _, e := range s.entries {
		if e.EventID == stored.EventID && e.Status == model.WaitlistOffered && e.ID != stored.ID {
			stored.Status = model.WaitlistQueued
			return repository.ErrConflict
		}
	}
	if err := s.holds.Create(ctx, hold); err != nil {
		return err
	}
	s.nextOfferID++
	offer.ID = s.nextOfferID
	offer.EntryID = stored.ID
	offer.HoldID = hold.ID
	offer.Status = model.OfferSent
	cp := *offer
	s.offers[offer.ID] = &cp
	oid := offer.ID
	hold.OfferID = &oid
	entry.Status = model.WaitlistOffered
	return nil
}

func (s *fakeWaitlistStore) GetOffer(ctx context.Context, id uint64) (*model.WaitlistOffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeWaitlistStore) AcceptOffer(ctx context.Context, offer *model.WaitlistOffer, status model.BookingStatus) (uint64, error) {
	s.mu.Lock()
	stored, ok := s.offers[offer.ID]
	if !ok || stored.Status != model.OfferSent {
		s.mu.Unlock()
		return 0, repository.ErrOfferNotActive
	}
	entry, ok := s.entries[stored.EntryID]
	if !ok || entry.Status != model.WaitlistOffered {
		s.mu.Unlock()
		return 0, repository.ErrOfferNotActive
	}
	s.mu.Unlock()

	// Check the hold before creating the booking: the real store does
	// both inside one transaction and rolls the booking back when the
	// hold is gone.
	h, err := s.holds.GetByID(ctx, stored.HoldID)
	if err != nil || h.Status != model.HoldActive || !s.clock.Now().Before(h.ExpiresAt) {
		return 0, repository.ErrHoldExpired
	}

	b := s.bookings.add(&model.Booking{
		EventID:    stored.EventID,
		CustomerID: stored.CustomerID,
		Status:     status,
		Seats:      entry.Seats,
	})
	if n, err := s.holds.Consume(ctx, stored.HoldID, b.ID); err != nil || n != 1 {
		return 0, repository.ErrHoldExpired
	}

	s.mu.Lock()
	stored.Status = model.OfferAccepted
	entry.Status = model.WaitlistAccepted
	s.mu.Unlock()
	return b.ID, nil
}

func (s *fakeWaitlistStore) FinishOffer(ctx context.Context, offerID, entryID, holdID uint64, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[offerID]
	if !ok || o.Status != model.OfferSent {
		return fmt.Errorf("finish offer %d: offer not in sent", offerID)
	}
	e, ok := s.entries[entryID]
	if !ok || e.Status != model.WaitlistOffered {
		return fmt.Errorf("finish offer %d: entry %d not in offered", offerID, entryID)
	}
	h, ok := s.holds.holds[holdID]
	if !ok || h.Status != model.HoldActive {
		return fmt.Errorf("finish offer %d: hold %d not active", offerID, holdID)
	}
	o.Status = outcome
	now := s.clock.Now()
	o.ExpiredAt = &now
	e.Status = outcome
	h.Status = model.HoldExpired
	return nil
}

func (s *fakeWaitlistStore) EventIDsWithQueued(ctx context.Context) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[uint64]bool{}
	var ids []uint64
	for id := uint64(1); id <= s.nextEntryID; id++ {
		e, ok := s.entries[id]
		if !ok || e.Status != model.WaitlistQueued || seen[e.EventID] {
			continue
		}
		seen[e.EventID] = true
		ids = append(ids, e.EventID)
	}
	return ids, nil
}

func (s *fakeWaitlistStore) OverdueOffers(ctx context.Context) ([]*model.WaitlistOffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.WaitlistOffer
	for id := uint64(1); id <= s.nextOfferID; id++ {
		o, ok := s.offers[id]
		if !ok || o.Status != model.OfferSent || s.clock.Now().Before(o.ExpiresAt) {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeWaitlistStore) CancelQueued(ctx context.Context, entryID, customerID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok || e.CustomerID != customerID || e.Status != model.WaitlistQueued {
		return 0, nil
	}
	e.Status = model.WaitlistCancelled
	return 1, nil
}

// fakeCustomerStore serves customers by id.
type fakeCustomerStore struct {
	customers map[uint64]*model.Customer
}

func newFakeCustomerStore() *fakeCustomerStore {
	return &fakeCustomerStore{customers: map[uint64]*model.Customer{}}
}

func (s *fakeCustomerStore) GetByID(ctx context.Context, id uint64) (*model.Customer, error) {
	c, ok := s.customers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// sentMessage is one dispatch recorded by fakeSender.
type sentMessage struct {
	To   string
	Body string
	Meta notify.Metadata
}

// fakeSender records messages and can be told to fail per recipient.
type fakeSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	failTo map[string]error // error returned when sending to this number
}

func newFakeSender() *fakeSender { return &fakeSender{failTo: map[string]error{}} }

func (s *fakeSender) Send(ctx context.Context, to, body string, meta notify.Metadata) (notify.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failTo[to]; ok {
		return notify.SendResult{}, err
	}
	s.sent = append(s.sent, sentMessage{To: to, Body: body, Meta: meta})
	return notify.SendResult{SID: fmt.Sprintf("sid-%d", len(s.sent))}, nil
}

// fakeGateway records checkout and refund calls.
type fakeGateway struct {
	mu           sync.Mutex
	checkouts    []payment.CheckoutRequest
	refunds      []int64
	refundStatus payment.RefundStatus
	refundErr    error
}

func newFakeGateway() *fakeGateway { return &fakeGateway{refundStatus: payment.RefundSucceeded} }

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (payment.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkouts = append(g.checkouts, req)
	ref := fmt.Sprintf("cs-%d", len(g.checkouts))
	return payment.CheckoutSession{URL: "https://pay.example.com/" + ref, Ref: ref}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, chargeRef string, amountCents int64) (payment.RefundStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, amountCents)
	if g.refundErr != nil {
		return "", g.refundErr
	}
	return g.refundStatus, nil
}
