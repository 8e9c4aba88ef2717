package model

import "time"

// Customer is the guest a capability token is issued to.  Guests have no
// account and no session; the phone number is the delivery channel for
// tokens and offers.
type Customer struct {
    ID        uint64    // customers.id
    FirstName string    // customers.first_name
    Phone     string    // customers.phone (E.164)
    Email     *string   // customers.email (nullable)
    CreatedAt time.Time // customers.created_at
}

// EnquiryKind classifies a free-form guest message.
type EnquiryKind string

const (
    EnquiryGeneral  EnquiryKind = "general"
    EnquiryFeedback EnquiryKind = "feedback"
    EnquiryPreorder EnquiryKind = "sunday_preorder"
)

// Enquiry is a free-form message from a guest (party booking questions,
// private hire requests, private feedback, preorder submissions).
// Creation is guarded by the idempotency ledger because it is reachable
// without authentication and clients retry.
type Enquiry struct {
    ID         uint64      // enquiries.id
    Kind       EnquiryKind // enquiries.kind
    CustomerID *uint64     // enquiries.customer_id (nullable; unknown for web enquiries)
    Name       string      // enquiries.name
    Phone      string      // enquiries.phone
    Message    string      // enquiries.message
    CreatedAt  time.Time   // enquiries.created_at
}
