// Package proxy implements the batching scheduler that sits between many
// concurrent single-sequence clients and a rate-limited classification
// backend.
//
// # Reading Guide
//
// Start with these three files to understand the scheduling core:
//   - request.go: PendingRequest lifecycle (registered → batched → completed)
//   - selector.go: batch composition policies over the waiting set
//   - dispatcher.go: the single-consumer dispatch loop and its state machine
//
// # Architecture
//
// The backend accepts batches of up to five sequences, serves one request at
// a time (429 on overlap), and charges latency that grows quadratically with
// the longest sequence in the batch. All throughput therefore comes from
// choosing which requests share a batch:
//
//	Submit → Registry + ArrivalQueue → (signal) → Dispatcher → BatchPolicy
//	       → BackendClient → fan-out → Submit caller unblocks
//
// A single mutex guards the Registry and its companion ArrivalQueue; the
// Registry is the source of truth and the queue is an arrival-ordered index
// into it. The Dispatcher is the only consumer and owns the one-in-flight
// invariant.
//
// # Key Interfaces
//
// The extension points are small interfaces:
//   - BatchPolicy: choose the next batch from the waiting set
//   - batchSender: issue one batch call and report labels or throttling
package proxy
