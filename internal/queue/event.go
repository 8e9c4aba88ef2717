// Package queue defines message payloads exchanged over the message broker.
package queue

// OutboundQueueName is the durable queue outbound guest messages travel on.
const OutboundQueueName = "sms.outbound"

// OutboundMessage is published for every guest notification (waitlist
// offers, payment links, booking confirmations).  It contains enough
// information for downstream consumers to deliver, log or audit without
// querying the primary database.
type OutboundMessage struct {
	SID      string            `json:"sid"`
	To       string            `json:"to"`
	Body     string            `json:"body"`
	Meta     map[string]string `json:"meta,omitempty"`
	QueuedAt string            `json:"queued_at"`
}
