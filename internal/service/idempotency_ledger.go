package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
	"github.com/peterjpitcher/anchor-guest-actions/internal/repository"
)

// ClaimState is the ledger's verdict on a claim attempt.
type ClaimState int

const (
	// ClaimNew: no record existed; the caller owns the key and must do the
	// work, then Persist.
	ClaimNew ClaimState = iota
	// ClaimReplay: an identical request already completed; return the
	// stored payload verbatim, re-execute nothing.
	ClaimReplay
	// ClaimConflict: the key exists with a different request hash.  The
	// caller must reject; honoring it would corrupt the original
	// request's semantics.
	ClaimConflict
	// ClaimInProgress: the key is claimed and unfinished; the client
	// should retry later rather than race the original executor.
	ClaimInProgress
)

// ClaimResult carries the verdict plus, for replays, the stored payload.
type ClaimResult struct {
	State   ClaimState
	Payload []byte
}

// ClaimStore is the persistence surface of the ledger.
// *repository.IdempotencyRepo implements it.
type ClaimStore interface {
	Insert(ctx context.Context, key, requestHash string) error
	Get(ctx context.Context, key string) (*model.IdempotencyRecord, error)
	Complete(ctx context.Context, key, requestHash string, payload []byte) (bool, error)
	Delete(ctx context.Context, key, requestHash string) (bool, error)
}

// Ledger arbitrates idempotency keys: first writer wins, completed work
// replays, mismatched reuse conflicts.  The protocol is strictly claim,
// then work, then Persist; Release exists only for failure paths where the
// side effect did not commit.  An in_progress claim is never auto-expired
// here. A crashed executor's key stays claimed until an operator releases it,
// so two executors can never both believe they own it.
type Ledger struct {
	Store ClaimStore
}

func NewLedger(store ClaimStore) *Ledger { return &Ledger{Store: store} }

// HashRequest returns the canonical hash of a request body for claim
// comparison.
func HashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Claim attempts to take ownership of key for a request with the given
// canonical hash.
func (l *Ledger) Claim(ctx context.Context, key, requestHash string) (ClaimResult, error) {
	err := l.Store.Insert(ctx, key, requestHash)
	if err == nil {
		return ClaimResult{State: ClaimNew}, nil
	}
	if !errors.Is(err, repository.ErrDuplicateKey) {
		return ClaimResult{}, err
	}

	rec, err := l.Store.Get(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		// The prior claim was released between our insert and read; the
		// client's retry will claim it cleanly.
		return ClaimResult{State: ClaimInProgress}, nil
	}
	if err != nil {
		return ClaimResult{}, err
	}
	if rec.RequestHash != requestHash {
		return ClaimResult{State: ClaimConflict}, nil
	}
	if rec.Status == model.IdempotencyCompleted {
		return ClaimResult{State: ClaimReplay, Payload: rec.ResponsePayload}, nil
	}
	return ClaimResult{State: ClaimInProgress}, nil
}

// Persist marks the claim completed and stores the response for future
// replay.  It must be called only after the side effect has committed: a
// timeout surfacing to the client after this point is safe, because the
// retry will replay instead of re-executing.
func (l *Ledger) Persist(ctx context.Context, key, requestHash string, payload []byte) error {
	ok, err := l.Store.Complete(ctx, key, requestHash, payload)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("idempotency: persist of key %q matched no in-progress claim", key)
	}
	return nil
}

// Release frees a claimed key after a failure in which the side effect did
// NOT commit, so a legitimate retry can run.  Calling it after the side
// effect committed would let a retry re-execute it; don't.
func (l *Ledger) Release(ctx context.Context, key, requestHash string) error {
	_, err := l.Store.Delete(ctx, key, requestHash)
	return err
}
