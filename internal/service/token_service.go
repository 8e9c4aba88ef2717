// Package service holds the guest-action engines: capability tokens, the
// idempotency ledger, booking mutation, refund policy, waitlist allocation
// and the batch offer scheduler.  Engines accept small store interfaces so
// the MySQL repositories can be swapped for in-memory fakes in tests; all
// cross-request correctness still lives in the conditional updates the
// stores perform.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
	"github.com/peterjpitcher/anchor-guest-actions/internal/repository"
	"github.com/peterjpitcher/anchor-guest-actions/internal/utils"
)

// TokenStore is the persistence surface the token service needs.
// *repository.GuestTokenRepo implements it.
type TokenStore interface {
	Create(ctx context.Context, t *model.GuestToken) error
	GetByHash(ctx context.Context, hash string) (*model.GuestToken, error)
	Consume(ctx context.Context, hash string) (bool, error)
}

// TokenService issues and validates capability tokens.  It exclusively
// owns the used_at column: no other component marks tokens consumed.
type TokenService struct {
	Store   TokenStore
	BaseURL string           // public origin guest links are built on, e.g. https://example.com
	Now     func() time.Time // injectable clock; defaults to time.Now
}

func NewTokenService(store TokenStore, baseURL string) *TokenService {
	return &TokenService{Store: store, BaseURL: baseURL, Now: time.Now}
}

func (s *TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Issue mints a token for an action and subject and returns the raw token
// together with the guest link embedding it.  The raw value is not
// retrievable afterwards; only its hash is stored.
func (s *TokenService) Issue(ctx context.Context, action model.ActionType, subject model.Subject, ttl time.Duration) (raw, url string, err error) {
	if !action.Valid() {
		return "", "", fmt.Errorf("issue token: unknown action %q", action)
	}
	if subject.TargetCount() != 1 {
		return "", "", fmt.Errorf("issue token: subject must reference exactly one target, got %d", subject.TargetCount())
	}
	if subject.Target(action) == nil {
		// The single target the subject carries belongs to another action
		// family; a token minted from it would dangle.
		return "", "", fmt.Errorf("issue token: subject target does not match action %q", action)
	}
	raw, err = utils.NewGuestTokenRaw()
	if err != nil {
		return "", "", err
	}
	tok := &model.GuestToken{
		TokenHash:        utils.HashTokenRaw(raw),
		Action:           action,
		CustomerID:       subject.CustomerID,
		EventBookingID:   subject.EventBookingID,
		TableBookingID:   subject.TableBookingID,
		PrivateBookingID: subject.PrivateBookingID,
		WaitlistOfferID:  subject.WaitlistOfferID,
		ExpiresAt:        s.now().UTC().Add(ttl),
	}
	if err := s.Store.Create(ctx, tok); err != nil {
		return "", "", err
	}
	return raw, fmt.Sprintf("%s/g/%s/%s", s.BaseURL, raw, action.Path()), nil
}

// Validate hashes the incoming raw token, looks it up, and checks it
// against the expected action.  mutating marks the call as one that will
// change state: a consumed token never authorizes a mutating action, while
// reusable view actions stay valid until expiry.  Business conditions come
// back as a Reason; only storage faults are errors.
func (s *TokenService) Validate(ctx context.Context, raw string, action model.ActionType, mutating bool) (*model.GuestToken, model.Reason, error) {
	tok, err := s.Store.GetByHash(ctx, utils.HashTokenRaw(raw))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.ReasonInvalidToken, nil
	}
	if err != nil {
		return nil, model.ReasonInternalError, err
	}
	if tok.Action != action {
		// A token presented against the wrong action is indistinguishable
		// from a forged one as far as the guest is concerned.
		return nil, model.ReasonInvalidToken, nil
	}
	if !s.now().UTC().Before(tok.ExpiresAt) {
		return nil, model.ReasonTokenExpired, nil
	}
	if tok.UsedAt != nil && (mutating || tok.Action.SingleUse()) {
		return nil, model.ReasonTokenUsed, nil
	}
	return tok, model.ReasonNone, nil
}

// Consume marks the token used.  false means a concurrent request got
// there first; callers must surface "already used", never retry.
func (s *TokenService) Consume(ctx context.Context, raw string) (bool, error) {
	return s.Store.Consume(ctx, utils.HashTokenRaw(raw))
}
