// Batch composition policies. The backend charges k·max_len² per batch, so
// the marginal cost of adding a shorter sequence is zero while mixing one
// long sequence into a short batch taxes every member with the long one's
// quadratic cost. Grouping by length is what extracts throughput.

package proxy

import "sort"

// MaxBatchSize is the backend's hard batch limit. Outbound batches never
// exceed it.
const MaxBatchSize = 5

// BatchPolicy encapsulates the batch composition strategy for one dispatch
// decision. Implementations order the waiting set and pick up to max ids.
// Removing the picks from the queue and resolving records are dispatcher
// concerns, applied after SelectBatch returns.
type BatchPolicy interface {
	// SelectBatch chooses up to max ids from waiting. waiting arrives in
	// arrival order; the returned slice is the order sent to the backend.
	// An empty waiting set yields an empty batch.
	SelectBatch(waiting []Candidate, max int) []uint64
}

// ShortestFirstPolicy selects the shortest waiting sequences, breaking
// length ties by arrival (older first). The chosen batch minimizes max_len
// over all same-size subsets of the waiting set, so the five requests most
// likely to benefit never pay for a longer straggler. Longer requests wait
// until they are among the shortest remaining, which every request
// eventually is.
type ShortestFirstPolicy struct{}

func (ShortestFirstPolicy) SelectBatch(waiting []Candidate, max int) []uint64 {
	if len(waiting) == 0 || max <= 0 {
		return nil
	}
	ordered := make([]Candidate, len(waiting))
	copy(ordered, waiting)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Length != ordered[j].Length {
			return ordered[i].Length < ordered[j].Length
		}
		return ordered[i].ArrivedAt.Before(ordered[j].ArrivedAt)
	})
	n := min(max, len(ordered))
	batch := make([]uint64, n)
	for i := 0; i < n; i++ {
		batch[i] = ordered[i].ID
	}
	return batch
}

// FIFOPolicy selects the first max waiting requests in arrival order. It is
// the naive baseline: under mixed lengths a single long arrival drags four
// short peers up to its quadratic cost. Kept selectable for comparison runs.
type FIFOPolicy struct{}

func (FIFOPolicy) SelectBatch(waiting []Candidate, max int) []uint64 {
	if len(waiting) == 0 || max <= 0 {
		return nil
	}
	n := min(max, len(waiting))
	batch := make([]uint64, n)
	for i := 0; i < n; i++ {
		batch[i] = waiting[i].ID
	}
	return batch
}

// PolicyByName maps a configuration string to a policy implementation.
func PolicyByName(name string) (BatchPolicy, bool) {
	switch name {
	case PolicyShortestFirst:
		return ShortestFirstPolicy{}, true
	case PolicyFIFO:
		return FIFOPolicy{}, true
	}
	return nil, false
}
