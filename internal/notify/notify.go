// Package notify is the outbound SMS/email channel.  Its one unusual
// requirement: delivery failure and logging failure must be
// distinguishable.  A message that failed to send is an ordinary error the
// caller compensates for; a message that went out but whose dispatch could
// not be recorded is a safety-critical condition, because the system has
// lost the ability to prove what it already sent and a retry could produce
// a duplicate real-world side effect.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// Metadata travels with a message for downstream consumers (offer IDs,
// event names) without being part of the body.
type Metadata map[string]string

// SendResult reports a successful dispatch.
type SendResult struct {
	SID string // message identifier, usable for delivery reconciliation
}

// Sender dispatches a message to a guest.
type Sender interface {
	Send(ctx context.Context, to, body string, meta Metadata) (SendResult, error)
}

// LogFailureError means the message was handed to the channel but the
// dispatch record could not be written.  Callers must treat this as fatal
// for any batch they are running: without the record, a duplicate send
// cannot be reliably prevented.
type LogFailureError struct {
	SID string
	Err error
}

func (e *LogFailureError) Error() string {
	return fmt.Sprintf("notification sent (sid=%s) but dispatch log write failed: %v", e.SID, e.Err)
}

func (e *LogFailureError) Unwrap() error { return e.Err }

// IsLogFailure reports whether err carries the dispatch-log failure signal.
func IsLogFailure(err error) bool {
	var lf *LogFailureError
	return errors.As(err, &lf)
}
