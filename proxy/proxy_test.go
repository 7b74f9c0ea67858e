package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoBackend is an httptest classifier that labels each sequence as itself
// prefixed with "label:". It refuses overlapping calls with 429, mirroring
// the real backend's one-at-a-time rule.
type echoBackend struct {
	mu   sync.Mutex
	busy bool
}

func (b *echoBackend) handler(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	if b.busy {
		b.mu.Unlock()
		http.Error(w, `{"detail": "busy"}`, http.StatusTooManyRequests)
		return
	}
	b.busy = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.busy = false
		b.mu.Unlock()
	}()

	var in classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	labels := make([]string, len(in.Sequences))
	for i, s := range in.Sequences {
		labels[i] = "label:" + s
	}
	json.NewEncoder(w).Encode(classifyResponse{Results: labels})
}

func newTestProxy(t *testing.T, backendURL string) *Proxy {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Backend.URL = backendURL
	cfg.Backend.Timeout = 5 * time.Second
	cfg.Dispatch.ThrottleBackoff = time.Millisecond
	p, err := New(cfg)
	require.NoError(t, err)
	return p
}

func TestProxy_SubmitRoundTrip(t *testing.T) {
	backend := &echoBackend{}
	srv := httptest.NewServer(http.HandlerFunc(backend.handler))
	defer srv.Close()

	p := newTestProxy(t, srv.URL)
	p.Start()
	defer p.Stop()

	label, err := p.Submit(context.Background(), "func main() {}")
	require.NoError(t, err)
	assert.Equal(t, "label:func main() {}", label)
}

func TestProxy_EmptySequenceRejected(t *testing.T) {
	p := newTestProxy(t, "http://localhost:0/unused")
	p.Start()
	defer p.Stop()

	_, err := p.Submit(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptySequence)
}

func TestProxy_DuplicateSequencesResolveIndependently(t *testing.T) {
	// No deduplication: the same content submitted twice is two requests
	// with two completions.
	backend := &echoBackend{}
	srv := httptest.NewServer(http.HandlerFunc(backend.handler))
	defer srv.Close()

	p := newTestProxy(t, srv.URL)
	p.Start()
	defer p.Stop()

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Submit(context.Background(), "same content")
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, "label:same content", results[0])
	assert.Equal(t, "label:same content", results[1])
}

func TestProxy_ManyConcurrentSubmitsAllResolve(t *testing.T) {
	backend := &echoBackend{}
	srv := httptest.NewServer(http.HandlerFunc(backend.handler))
	defer srv.Close()

	p := newTestProxy(t, srv.URL)
	p.Start()
	defer p.Stop()

	const n = 25
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seq := string(rune('a'+i%26)) + "-sequence"
			label, err := p.Submit(context.Background(), seq)
			if err == nil && label != "label:"+seq {
				err = assert.AnError
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "submit %d", i)
	}
}

func TestProxy_SubmitAbandonedByCaller(t *testing.T) {
	// A backend that never answers within the test horizon.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(10 * time.Second)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Backend.URL = srv.URL
	cfg.Backend.Timeout = 100 * time.Millisecond
	cfg.Dispatch.ThrottleBackoff = time.Millisecond
	p, err := New(cfg)
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = p.Submit(ctx, "abandoned")
	require.ErrorIs(t, err, ErrCancelled)
	assert.Less(t, time.Since(start), 5*time.Second, "caller must not wait out the backend")
}

func TestProxy_ThrottleRecovery(t *testing.T) {
	// First backend call is rejected with 429; the retry succeeds.
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			http.Error(w, `{"detail": "busy"}`, http.StatusTooManyRequests)
			return
		}
		var in classifyRequest
		json.NewDecoder(r.Body).Decode(&in)
		labels := make([]string, len(in.Sequences))
		for i, s := range in.Sequences {
			labels[i] = "label:" + s
		}
		json.NewEncoder(w).Encode(classifyResponse{Results: labels})
	}))
	defer srv.Close()

	p := newTestProxy(t, srv.URL)
	p.Start()
	defer p.Stop()

	label, err := p.Submit(context.Background(), "retry me")
	require.NoError(t, err)
	assert.Equal(t, "label:retry me", label)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, calls, 2)
}

func TestProxy_SubmitAfterStop(t *testing.T) {
	backend := &echoBackend{}
	srv := httptest.NewServer(http.HandlerFunc(backend.handler))
	defer srv.Close()

	p := newTestProxy(t, srv.URL)
	p.Start()
	p.Stop()

	_, err := p.Submit(context.Background(), "too late")
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Batch.MaxSize = 99
	_, err := New(cfg)
	assert.Error(t, err)
}
