// Wires the scheduling core into a Proxy and implements the ingress
// operation Submit, which blocks one caller per pending request.

package proxy

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Proxy is the batching proxy: it accepts single sequences, groups them into
// cost-homogeneous batches, and delivers each caller its own label.
type Proxy struct {
	cfg        Config
	dispatcher *Dispatcher
	client     *BackendClient
	metrics    *Metrics
	promReg    *prometheus.Registry

	nextID atomic.Uint64
}

// New builds a Proxy from cfg. The dispatcher is not running until Start.
func New(cfg Config) (*Proxy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	policy, _ := PolicyByName(cfg.Batch.Policy)

	promReg := prometheus.NewRegistry()
	metrics := NewMetrics(promReg)
	client := NewBackendClient(cfg.Backend)

	return &Proxy{
		cfg:        cfg,
		dispatcher: NewDispatcher(policy, client, metrics, cfg.Dispatch, cfg.Batch.MaxSize),
		client:     client,
		metrics:    metrics,
		promReg:    promReg,
	}, nil
}

// Start launches the dispatch loop.
func (p *Proxy) Start() {
	p.dispatcher.Start()
}

// Stop terminates the dispatcher, cancels every waiter, and releases the
// backend connection. Requests in flight at the moment of the stop signal
// still complete; everything queued behind them is cancelled.
func (p *Proxy) Stop() {
	p.dispatcher.Stop()
	p.client.Close()
}

// Submit classifies one sequence. It registers a pending record, signals the
// dispatcher, and blocks until the label arrives, the batch fails, or ctx is
// done. Submitting the same sequence twice yields two independent results.
func (p *Proxy) Submit(ctx context.Context, sequence string) (string, error) {
	if sequence == "" {
		return "", ErrEmptySequence
	}

	req := newPendingRequest(p.nextID.Add(1), sequence)
	if err := p.dispatcher.Enqueue(req); err != nil {
		return "", err
	}

	select {
	case out := <-req.done:
		return out.label, out.err
	case <-ctx.Done():
		// Withdraw if still registered; a batch already in flight drops its
		// result for this record, and an outcome delivered just before the
		// withdrawal stays unread in the buffered completion.
		p.dispatcher.Cancel(req.ID)
		return "", fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
}

// Gatherer exposes the proxy's metric registry for the HTTP surface.
func (p *Proxy) Gatherer() prometheus.Gatherer {
	return p.promReg
}
