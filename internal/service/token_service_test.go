package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
)

func newTokenFixture(t *testing.T) (*TokenService, *clock) {
	t.Helper()
	c := newClock()
	svc := NewTokenService(newFakeTokenStore(), "https://guest.example.com")
	svc.Now = c.Now
	return svc, c
}

func manageSubject(customerID, bookingID uint64) model.Subject {
	return model.Subject{CustomerID: customerID, EventBookingID: &bookingID}
}

func TestIssueBuildsGuestLink(t *testing.T) {
	t.Parallel()

	svc, _ := newTokenFixture(t)
	ctx := context.Background()

	raw, url, err := svc.Issue(ctx, model.ActionManageBooking, manageSubject(7, 21), time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(raw) != 64 {
		t.Fatalf("raw token length = %d, want 64 hex chars", len(raw))
	}
	want := "https://guest.example.com/g/" + raw + "/manage-booking"
	if url != want {
		t.Fatalf("url = %q, want %q", url, want)
	}
	if strings.Contains(url, "token_hash") {
		t.Fatalf("url leaks internals: %q", url)
	}
}

func TestIssueRejectsAmbiguousSubject(t *testing.T) {
	t.Parallel()

	svc, _ := newTokenFixture(t)
	ctx := context.Background()

	if _, _, err := svc.Issue(ctx, model.ActionManageBooking, model.Subject{CustomerID: 7}, time.Hour); err == nil {
		t.Fatal("issue with no target should fail")
	}
	b1, b2 := uint64(1), uint64(2)
	sub := model.Subject{CustomerID: 7, EventBookingID: &b1, TableBookingID: &b2}
	if _, _, err := svc.Issue(ctx, model.ActionManageBooking, sub, time.Hour); err == nil {
		t.Fatal("issue with two targets should fail")
	}
}

// A single target from the wrong family must be refused at issuance,
// otherwise handlers end up holding a token whose action promises an
// event booking that was never set.
func TestIssueRejectsTargetFromWrongFamily(t *testing.T) {
	t.Parallel()

	svc, _ := newTokenFixture(t)
	ctx := context.Background()

	tableID := uint64(9)
	cases := []struct {
		action  model.ActionType
		subject model.Subject
	}{
		{model.ActionManageBooking, model.Subject{CustomerID: 7, TableBookingID: &tableID}},
		{model.ActionEventPayment, model.Subject{CustomerID: 7, WaitlistOfferID: &tableID}},
		{model.ActionTablePayment, model.Subject{CustomerID: 7, EventBookingID: &tableID}},
		{model.ActionWaitlistOfferAccept, model.Subject{CustomerID: 7, PrivateBookingID: &tableID}},
	}
	for _, tc := range cases {
		if _, _, err := svc.Issue(ctx, tc.action, tc.subject, time.Hour); err == nil {
			t.Fatalf("%s with a %v subject should fail", tc.action, tc.subject)
		}
	}
	if _, _, err := svc.Issue(ctx, model.ActionTablePayment, model.Subject{CustomerID: 7, TableBookingID: &tableID}, time.Hour); err != nil {
		t.Fatalf("matching table_payment subject: %v", err)
	}
}

func TestValidateWrongActionLooksForged(t *testing.T) {
	t.Parallel()

	svc, _ := newTokenFixture(t)
	ctx := context.Background()

	raw, _, err := svc.Issue(ctx, model.ActionManageBooking, manageSubject(7, 21), time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, reason, err := svc.Validate(ctx, raw, model.ActionEventPayment, true)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if reason != model.ReasonInvalidToken {
		t.Fatalf("reason = %q, want invalid_token", reason)
	}
}

func TestValidateConsumedToken(t *testing.T) {
	t.Parallel()

	svc, _ := newTokenFixture(t)
	ctx := context.Background()

	raw, _, err := svc.Issue(ctx, model.ActionManageBooking, manageSubject(7, 21), time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	ok, err := svc.Consume(ctx, raw)
	if err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}
	ok, err = svc.Consume(ctx, raw)
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if ok {
		t.Fatal("second consume must report already used")
	}
	_, reason, err := svc.Validate(ctx, raw, model.ActionManageBooking, true)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if reason != model.ReasonTokenUsed {
		t.Fatalf("reason = %q, want token_used", reason)
	}
}

func TestValidateExpiryBeatsUsed(t *testing.T) {
	t.Parallel()

	svc, c := newTokenFixture(t)
	ctx := context.Background()

	raw, _, err := svc.Issue(ctx, model.ActionManageBooking, manageSubject(7, 21), time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.Consume(ctx, raw); err != nil {
		t.Fatalf("consume: %v", err)
	}
	c.Advance(2 * time.Hour)

	_, reason, err := svc.Validate(ctx, raw, model.ActionManageBooking, true)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if reason != model.ReasonTokenExpired {
		t.Fatalf("reason = %q, want token_expired for a token both used and expired", reason)
	}
}

func TestReusableActionSurvivesUse(t *testing.T) {
	t.Parallel()

	svc, _ := newTokenFixture(t)
	ctx := context.Background()

	raw, _, err := svc.Issue(ctx, model.ActionReviewRedirect, manageSubject(7, 21), time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.Consume(ctx, raw); err != nil {
		t.Fatalf("consume: %v", err)
	}
	_, reason, err := svc.Validate(ctx, raw, model.ActionReviewRedirect, false)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if reason != model.ReasonNone {
		t.Fatalf("reason = %q, want none for a reusable view action", reason)
	}
}
