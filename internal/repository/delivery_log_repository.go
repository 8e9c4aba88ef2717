package repository

import (
	"context"
	"database/sql"
)

// DeliveryLogRepo records every outbound notification dispatch.  The row
// is the proof that a message went out; the scheduler's fail-fast behavior
// depends on knowing when this proof could not be written.
type DeliveryLogRepo struct{ DB *sql.DB }

func NewDeliveryLogRepo(db *sql.DB) *DeliveryLogRepo { return &DeliveryLogRepo{DB: db} }

// Record inserts a dispatch row keyed by the message SID.
func (r *DeliveryLogRepo) Record(ctx context.Context, sid, to, body string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO delivery_logs (sid, recipient, body) VALUES (?,?,?)`,
		sid, to, body)
	return err
}
