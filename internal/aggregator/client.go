package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client delivers an encoded payload to the identified aggregator and returns
// the external confirmation id on success.
type Client interface {
	Submit(ctx context.Context, aggregatorID string, body []byte) (string, error)
}

// ErrUnknownAggregator indicates no endpoint is configured for the id.
type ErrUnknownAggregator struct {
	AggregatorID string
}

func (e *ErrUnknownAggregator) Error() string {
	return fmt.Sprintf("no endpoint configured for aggregator %s", e.AggregatorID)
}

// HTTPClient posts visit records to per-aggregator endpoints.
type HTTPClient struct {
	endpoints map[string]string
	client    *http.Client
}

// NewHTTPClient builds a client from the aggregator id → base URL map.
func NewHTTPClient(endpoints map[string]string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		endpoints: endpoints,
		client:    &http.Client{Timeout: timeout},
	}
}

type submitResponse struct {
	ConfirmationID string `json:"confirmationId"`
}

// Submit implements Client. Non-2xx responses and transport errors are
// returned as errors so the queue can schedule a retry.
func (c *HTTPClient) Submit(ctx context.Context, aggregatorID string, body []byte) (string, error) {
	url, ok := c.endpoints[aggregatorID]
	if !ok {
		return "", &ErrUnknownAggregator{AggregatorID: aggregatorID}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build aggregator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit to %s: %w", aggregatorID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read aggregator response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("aggregator %s returned HTTP %d: %s", aggregatorID, resp.StatusCode, truncate(raw, 200))
	}

	var parsed submitResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.ConfirmationID == "" {
		return "", fmt.Errorf("aggregator %s returned an unparseable confirmation: %s", aggregatorID, truncate(raw, 200))
	}
	return parsed.ConfirmationID, nil
}

func truncate(raw []byte, max int) string {
	if len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max]) + "..."
}
