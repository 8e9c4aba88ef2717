package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
)

// mysqlDupEntry is the MySQL error number for a unique-key violation.
const mysqlDupEntry = 1062

// IdempotencyRepo provides the storage half of the idempotency ledger.
// The idem_key column carries a unique index, so the INSERT in Insert is a
// compare-and-swap: the first claimer wins and every later claim surfaces
// as ErrDuplicateKey for the ledger to arbitrate.
type IdempotencyRepo struct{ DB *sql.DB }

func NewIdempotencyRepo(db *sql.DB) *IdempotencyRepo { return &IdempotencyRepo{DB: db} }

// Insert creates an in_progress record for the key.  Returns
// ErrDuplicateKey when the key already exists.
func (r *IdempotencyRepo) Insert(ctx context.Context, key, requestHash string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO idempotency_records (idem_key, request_hash, status) VALUES (?,?,?)`,
		key, requestHash, model.IdempotencyInProgress)
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDupEntry {
		return ErrDuplicateKey
	}
	return err
}

// Get returns the record for a key, or ErrNotFound.
func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*model.IdempotencyRecord, error) {
	var (
		rec         model.IdempotencyRecord
		payload     sql.NullString
		completedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT idem_key, request_hash, status, response_payload, created_at, completed_at
		 FROM idempotency_records WHERE idem_key = ? LIMIT 1`,
		key).Scan(&rec.Key, &rec.RequestHash, &rec.Status, &payload, &rec.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if payload.Valid {
		rec.ResponsePayload = []byte(payload.String)
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return &rec, nil
}

// Complete flips an in_progress record to completed and stores the
// response payload for future replay.  The predicate pins both the hash
// and the in_progress status; zero affected rows means the caller did not
// own the claim.
func (r *IdempotencyRepo) Complete(ctx context.Context, key, requestHash string, payload []byte) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE idempotency_records
		 SET status = ?, response_payload = ?, completed_at = UTC_TIMESTAMP()
		 WHERE idem_key = ? AND request_hash = ? AND status = ?`,
		model.IdempotencyCompleted, payload, key, requestHash, model.IdempotencyInProgress)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Delete removes an in_progress record so a legitimate retry can claim the
// key again.  A completed record is never deletable through this path;
// its side effect has committed and the key must keep replaying.
func (r *IdempotencyRepo) Delete(ctx context.Context, key, requestHash string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM idempotency_records
		 WHERE idem_key = ? AND request_hash = ? AND status = ?`,
		key, requestHash, model.IdempotencyInProgress)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteByKey removes an in_progress record regardless of hash.  Reserved
// for the operator release endpoint when a crashed executor poisoned a key.
func (r *IdempotencyRepo) DeleteByKey(ctx context.Context, key string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE idem_key = ? AND status = ?`,
		key, model.IdempotencyInProgress)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
