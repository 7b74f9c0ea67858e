// HTTP client for the classification backend. One keep-alive connection,
// one call at a time; the dispatcher is its only caller.

package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// classifyRequest is the outbound batch body.
type classifyRequest struct {
	Sequences []string `json:"sequences"`
}

// classifyResponse is the backend's positional label list.
type classifyResponse struct {
	Results []string `json:"results"`
}

// BackendClient issues batch classification calls. Send reports the batch
// outcome as (labels, nil) on success, ErrThrottled on a 429, and a
// transport error for anything else.
type BackendClient struct {
	url        string
	httpClient *http.Client
}

// NewBackendClient builds a client pinned to a single keep-alive connection,
// matching the backend's one-at-a-time contract and avoiding per-batch
// handshakes.
func NewBackendClient(cfg BackendConfig) *BackendClient {
	return &BackendClient{
		url: cfg.URL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxConnsPerHost:     1,
				MaxIdleConns:        1,
				MaxIdleConnsPerHost: 1,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Send issues one batch call. The returned labels correspond positionally to
// sequences; the caller must not reorder either side.
func (c *BackendClient) Send(ctx context.Context, sequences []string) ([]string, error) {
	body, err := json.Marshal(classifyRequest{Sequences: sequences})
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend call: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		// Body is ignored; drain it so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		return nil, ErrThrottled
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, &BackendStatusError{StatusCode: resp.StatusCode}
	}

	var parsed classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return parsed.Results, nil
}

// Close releases the idle keep-alive connection.
func (c *BackendClient) Close() {
	c.httpClient.CloseIdleConnections()
}
