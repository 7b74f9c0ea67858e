// Implements the Dispatcher, the single consumer of the arrival queue. It
// loops: wait for work, select a batch, issue one backend call, fan out the
// labels or re-queue on throttling. At most one backend call is outstanding
// at any instant because this goroutine is the only caller.

package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// batchSender issues one batch call and reports labels, ErrThrottled, or a
// transport error. Satisfied by BackendClient; tests substitute stubs.
type batchSender interface {
	Send(ctx context.Context, sequences []string) ([]string, error)
}

// Dispatcher owns the Registry, the ArrivalQueue, and the single outstanding
// backend call. Ingress goroutines register work through Enqueue; the
// dispatch goroutine is the only reader of the queue and the only party that
// resolves completions (Cancel races through the registry but only removes
// a record; it never fulfills the completion).
type Dispatcher struct {
	mu       sync.Mutex
	registry *Registry
	queue    *ArrivalQueue
	closed   bool

	policy   BatchPolicy
	sender   batchSender
	metrics  *Metrics
	cfg      DispatchConfig
	maxBatch int

	notify   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	batchSeq uint64 // dispatch counter, for log correlation only
}

// NewDispatcher wires the scheduling core. maxBatch is not checked here;
// Config.Validate rejects values outside the backend contract before Proxy
// callers get this far.
func NewDispatcher(policy BatchPolicy, sender batchSender, metrics *Metrics, cfg DispatchConfig, maxBatch int) *Dispatcher {
	return &Dispatcher{
		registry: NewRegistry(),
		queue:    &ArrivalQueue{},
		policy:   policy,
		sender:   sender,
		metrics:  metrics,
		cfg:      cfg,
		maxBatch: maxBatch,
		notify:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the dispatch loop.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
	logrus.Infof("dispatcher started: policy=%T max_batch=%d backoff=%v", d.policy, d.maxBatch, d.cfg.ThrottleBackoff)
}

// Stop terminates the dispatch loop and resolves every pending request with
// ErrCancelled. In-flight work is not awaited for new results; the loop
// finishes its current call, then drains no further.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
	logrus.Info("dispatcher stopped")
}

// Enqueue registers a pending request and signals the loop. Returns
// ErrShuttingDown once Stop has begun cancelling waiters.
func (d *Dispatcher) Enqueue(r *PendingRequest) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrShuttingDown
	}
	d.registry.Insert(r)
	d.queue.PushBack(r.ID)
	depth := d.queue.Len()
	d.mu.Unlock()

	d.metrics.RequestsTotal.Inc()
	d.metrics.QueueDepth.Set(float64(depth))

	// Non-blocking: a full buffer already guarantees a wakeup, and the loop
	// keeps selecting until the queue is empty.
	select {
	case d.notify <- struct{}{}:
	default:
	}
	return nil
}

// Cancel withdraws a request whose caller stopped waiting. Reports whether
// the record was still registered, queued or in flight; a batch already in
// flight then drops its result for it in resolve. false means the request was
// already resolved and its outcome sits unread in the buffered completion.
func (d *Dispatcher) Cancel(id uint64) bool {
	d.mu.Lock()
	r := d.registry.Remove(id)
	d.mu.Unlock()
	return r != nil
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		// Idle: wait for work or the stop signal.
		select {
		case <-d.stopCh:
			d.cancelAll()
			return
		case <-d.notify:
		}

		// Selecting → InFlight → FanOut/Backoff until the queue is empty,
		// then back to Idle. Throttled batches loop here through Backoff.
		for {
			select {
			case <-d.stopCh:
				d.cancelAll()
				return
			default:
			}
			batch := d.takeBatch()
			if len(batch) == 0 {
				break
			}
			d.dispatch(batch)
		}
	}
}

// takeBatch snapshots the waiting set, applies the batch policy, and removes
// the chosen ids from the queue while leaving their records registered.
// Unchosen ids are pushed back in arrival order before the lock is released,
// so the queue-mirrors-registry invariant only breaks inside this call.
func (d *Dispatcher) takeBatch() []*PendingRequest {
	d.mu.Lock()
	defer d.mu.Unlock()

	drained := d.queue.Drain()
	if len(drained) == 0 {
		return nil
	}

	// Ids whose record vanished between enqueue and selection belong to
	// cancelled callers; they are dropped here for good.
	waiting := make([]Candidate, 0, len(drained))
	for _, id := range drained {
		r := d.registry.Get(id)
		if r == nil {
			continue
		}
		waiting = append(waiting, Candidate{ID: id, Length: r.Length, ArrivedAt: r.ArrivedAt})
	}
	if len(waiting) == 0 {
		return nil
	}

	chosen := d.policy.SelectBatch(waiting, d.maxBatch)
	chosen = d.forceOldest(waiting, chosen)

	inBatch := make(map[uint64]bool, len(chosen))
	for _, id := range chosen {
		inBatch[id] = true
	}
	remainder := make([]uint64, 0, len(waiting))
	for _, c := range waiting {
		if !inBatch[c.ID] {
			remainder = append(remainder, c.ID)
		}
	}
	d.queue.PushFrontMany(remainder)
	d.metrics.QueueDepth.Set(float64(d.queue.Len()))

	batch := make([]*PendingRequest, 0, len(chosen))
	for _, id := range chosen {
		batch = append(batch, d.registry.Get(id))
	}
	return batch
}

// forceOldest is the starvation guard: when MaxWait is set and the oldest
// waiter has exceeded it without being chosen, it is forced into the batch
// ahead of the policy's picks.
func (d *Dispatcher) forceOldest(waiting []Candidate, chosen []uint64) []uint64 {
	if d.cfg.MaxWait <= 0 || len(waiting) == 0 {
		return chosen
	}
	oldest := waiting[0]
	for _, c := range waiting[1:] {
		if c.ArrivedAt.Before(oldest.ArrivedAt) {
			oldest = c
		}
	}
	if time.Since(oldest.ArrivedAt) < d.cfg.MaxWait {
		return chosen
	}
	for _, id := range chosen {
		if id == oldest.ID {
			return chosen
		}
	}
	logrus.Warnf("[batch %04d] forcing starved request %d (waited %v)", d.batchSeq+1, oldest.ID, time.Since(oldest.ArrivedAt).Round(time.Millisecond))
	forced := append([]uint64{oldest.ID}, chosen...)
	if len(forced) > d.maxBatch {
		forced = forced[:d.maxBatch]
	}
	return forced
}

// dispatch performs the InFlight call and the FanOut or Backoff that
// follows. Batch order is the order sent to the backend; results are
// matched positionally and never reordered.
func (d *Dispatcher) dispatch(batch []*PendingRequest) {
	d.batchSeq++
	seq := d.batchSeq

	sequences := make([]string, len(batch))
	maxLen := 0
	for i, r := range batch {
		sequences[i] = r.Sequence
		if r.Length > maxLen {
			maxLen = r.Length
		}
	}
	logrus.Debugf("[batch %04d] dispatching %d sequences, max_len=%d", seq, len(batch), maxLen)

	start := time.Now()
	labels, err := d.sender.Send(context.Background(), sequences)
	elapsed := time.Since(start)

	d.metrics.BatchesTotal.Inc()
	d.metrics.BatchSize.Observe(float64(len(batch)))
	d.metrics.BatchMaxLen.Observe(float64(maxLen))
	d.metrics.BackendDuration.Observe(elapsed.Seconds())

	switch {
	case errors.Is(err, ErrThrottled):
		// Nothing resolves and nothing is removed: the batch re-enters the
		// queue at the front in its original order, then the loop backs off.
		d.metrics.ThrottlesTotal.Inc()
		ids := make([]uint64, len(batch))
		for i, r := range batch {
			ids[i] = r.ID
		}
		d.mu.Lock()
		d.queue.PushFrontMany(ids)
		d.metrics.QueueDepth.Set(float64(d.queue.Len()))
		d.mu.Unlock()
		logrus.Debugf("[batch %04d] throttled, retrying in %v", seq, d.cfg.ThrottleBackoff)
		d.backoff()

	case err != nil:
		logrus.Warnf("[batch %04d] backend call failed after %v: %v", seq, elapsed.Round(time.Millisecond), err)
		d.failBatch(batch, err)

	case len(labels) != len(batch):
		logrus.Errorf("[batch %04d] result count mismatch: %d labels for %d sequences", seq, len(labels), len(batch))
		d.failBatch(batch, fmt.Errorf("%w: %d labels for %d sequences", ErrInternal, len(labels), len(batch)))

	default:
		logrus.Debugf("[batch %04d] completed in %v", seq, elapsed.Round(time.Millisecond))
		for i, r := range batch {
			d.resolve(r.ID, labels[i], nil)
		}
	}
}

// resolve removes the record and fulfills its completion. A nil record means
// the caller cancelled after the batch left the queue; the result is
// discarded.
func (d *Dispatcher) resolve(id uint64, label string, err error) {
	d.mu.Lock()
	r := d.registry.Remove(id)
	d.mu.Unlock()
	if r == nil {
		return
	}
	if err != nil {
		d.metrics.RequestsFailed.Inc()
	}
	d.metrics.RequestDuration.Observe(time.Since(r.ArrivedAt).Seconds())
	r.complete(label, err)
}

// failBatch resolves every member with err. Errors are local to a batch;
// the loop keeps running.
func (d *Dispatcher) failBatch(batch []*PendingRequest, err error) {
	for _, r := range batch {
		d.resolve(r.ID, "", err)
	}
}

// backoff sleeps for the throttle interval unless stopped first.
func (d *Dispatcher) backoff() {
	t := time.NewTimer(d.cfg.ThrottleBackoff)
	defer t.Stop()
	select {
	case <-t.C:
	case <-d.stopCh:
	}
}

// cancelAll is the terminal transition: refuse new work, empty the queue,
// and resolve every remaining record with ErrCancelled.
func (d *Dispatcher) cancelAll() {
	d.mu.Lock()
	d.closed = true
	d.queue.Drain()
	orphans := d.registry.RemoveAll()
	d.metrics.QueueDepth.Set(0)
	d.mu.Unlock()

	if len(orphans) > 0 {
		logrus.Infof("cancelling %d pending requests on shutdown", len(orphans))
	}
	for _, r := range orphans {
		d.metrics.RequestsFailed.Inc()
		r.complete("", ErrCancelled)
	}
}
