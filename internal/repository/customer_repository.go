package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/peterjpitcher/anchor-guest-actions/internal/model"
)

// CustomerRepo looks up guests for token issuance and SMS delivery.
type CustomerRepo struct{ DB *sql.DB }

func NewCustomerRepo(db *sql.DB) *CustomerRepo { return &CustomerRepo{DB: db} }

// GetByID returns a customer, or ErrNotFound.
func (r *CustomerRepo) GetByID(ctx context.Context, id uint64) (*model.Customer, error) {
	var (
		c     model.Customer
		email sql.NullString
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, first_name, phone, email, created_at FROM customers WHERE id = ? LIMIT 1`,
		id).Scan(&c.ID, &c.FirstName, &c.Phone, &email, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if email.Valid {
		e := email.String
		c.Email = &e
	}
	return &c, nil
}

// EnquiryRepo stores guest enquiries.  Creation sits behind the
// idempotency ledger because the endpoint is unauthenticated and clients
// retry on timeouts.
type EnquiryRepo struct{ DB *sql.DB }

func NewEnquiryRepo(db *sql.DB) *EnquiryRepo { return &EnquiryRepo{DB: db} }

// Create inserts an enquiry and populates the generated ID.
func (r *EnquiryRepo) Create(ctx context.Context, e *model.Enquiry) error {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO enquiries (kind, customer_id, name, phone, message) VALUES (?,?,?,?,?)`,
		e.Kind, e.CustomerID, e.Name, e.Phone, e.Message)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}
