// Defines the PendingRequest struct that models an individual classification
// request from registration until its label (or error) is delivered.

package proxy

import "time"

// outcome is the terminal result of a pending request: a label or an error,
// never both.
type outcome struct {
	label string
	err   error
}

// PendingRequest models a single request's lifecycle inside the proxy.
// Each request has:
// - a process-unique monotonic id (sequence content is never a key)
// - the opaque sequence and its cached length, the cost key for batching
// - the arrival timestamp used for tie-breaking and wait accounting
// - a one-shot completion channel read by exactly one waiter
type PendingRequest struct {
	ID        uint64
	Sequence  string
	Length    int
	ArrivedAt time.Time

	done chan outcome
}

// newPendingRequest builds a request record with its completion channel.
// The channel is buffered so the dispatcher's fulfillment never blocks,
// even when the waiter has already abandoned the request.
func newPendingRequest(id uint64, sequence string) *PendingRequest {
	return &PendingRequest{
		ID:        id,
		Sequence:  sequence,
		Length:    len(sequence),
		ArrivedAt: time.Now(),
		done:      make(chan outcome, 1),
	}
}

// complete fulfills the request. Callers must hold the record exclusively,
// i.e. have removed it from the Registry first; removal is what guarantees
// at-most-once fulfillment.
func (r *PendingRequest) complete(label string, err error) {
	r.done <- outcome{label: label, err: err}
}
