// Implements the Registry, the single source of truth for requests that have
// been accepted but not yet completed. The ArrivalQueue is only an index
// into it.

package proxy

import "time"

// Candidate is the selection view of a waiting request: just enough for a
// BatchPolicy to order the waiting set without touching the records.
type Candidate struct {
	ID        uint64
	Length    int
	ArrivedAt time.Time
}

// Registry maps request ids to pending records. A record is present iff its
// completion is unresolved.
//
// Thread-safety: NOT thread-safe. The owning Dispatcher serializes access to
// the Registry and its companion ArrivalQueue under one mutex.
type Registry struct {
	records map[uint64]*PendingRequest
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[uint64]*PendingRequest)}
}

// Insert adds a record. Ids are process-unique, so clobbering cannot happen.
func (g *Registry) Insert(r *PendingRequest) {
	g.records[r.ID] = r
}

// Get returns the record for id, or nil when it has been removed.
func (g *Registry) Get(id uint64) *PendingRequest {
	return g.records[id]
}

// Remove deletes and returns the record for id. Returns nil when the record
// was already removed; exactly one caller observes the record, which is the
// at-most-once gate for fulfillment.
func (g *Registry) Remove(id uint64) *PendingRequest {
	r, ok := g.records[id]
	if !ok {
		return nil
	}
	delete(g.records, id)
	return r
}

// Len returns the number of unresolved records.
func (g *Registry) Len() int {
	return len(g.records)
}

// RemoveAll empties the registry and returns the removed records in
// unspecified order. Used on shutdown to cancel every waiter.
func (g *Registry) RemoveAll() []*PendingRequest {
	out := make([]*PendingRequest, 0, len(g.records))
	for id, r := range g.records {
		out = append(out, r)
		delete(g.records, id)
	}
	return out
}
