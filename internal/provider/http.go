package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/vietddude/genqueue/internal/core/domain"
)

// HTTPClient implements Client for JSON-over-HTTP generation APIs.
type HTTPClient struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client

	Monitor *Monitor
}

// NewHTTPClient creates a client for a REST generation endpoint.
func NewHTTPClient(name, baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Monitor: NewMonitor(),
	}
}

// Name returns the provider's name.
func (c *HTTPClient) Name() string {
	return c.name
}

// Generate runs one generation call.
func (c *HTTPClient) Generate(ctx context.Context, genReq *domain.GenerationRequest) (*domain.GenerationResult, error) {
	start := time.Now()

	// Pre-call check: don't burn a billable call into a known throttle.
	if status := c.Monitor.Status(); status == StatusThrottled || status == StatusBlocked {
		return nil, fmt.Errorf("rate limit in effect for %s, retry after %s", c.name, c.Monitor.RetryAfter())
	}

	body, err := json.Marshal(genReq)
	if err != nil {
		return nil, fmt.Errorf("invalid request: marshal payload: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/generations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("generation call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.statusError(resp, respBody)
	}

	var result domain.GenerationResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	c.Monitor.RecordRequest(time.Since(start))
	return &result, nil
}

// Cancel best-effort-cancels a running generation.
func (c *HTTPClient) Cancel(ctx context.Context, jobID string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.baseURL+"/v1/generations/"+jobID, nil)
	if err != nil {
		return fmt.Errorf("cancel call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("cancel failed: http %d", resp.StatusCode)
	}
	return nil
}

// GetStatus reports the provider-side status of a generation.
func (c *HTTPClient) GetStatus(ctx context.Context, jobID string) (domain.ProviderJobStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/generations/"+jobID, nil)
	if err != nil {
		return "", fmt.Errorf("status call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", c.statusError(resp, respBody)
	}

	var out struct {
		Status domain.ProviderJobStatus `json:"status"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	return out.Status, nil
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.httpClient.Do(req)
}

// statusError builds an error whose text the classifier can match.
func (c *HTTPClient) statusError(resp *http.Response, body []byte) error {
	msg := apiErrorMessage(body)

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.Monitor.RecordThrottle(429, retryAfter)
		return fmt.Errorf("rate limited (429) by %s, retry after %s: %s", c.name, retryAfter, msg)
	case http.StatusForbidden:
		c.Monitor.RecordThrottle(403, 0)
		return fmt.Errorf("forbidden (403) by %s: %s", c.name, msg)
	}

	if c.Monitor.DetectThrottlePattern(msg) {
		c.Monitor.RecordThrottle(429, 0)
		return fmt.Errorf("rate limit detected in response from %s: %s", c.name, msg)
	}

	return fmt.Errorf("http %d from %s: %s", resp.StatusCode, c.name, msg)
}

func apiErrorMessage(body []byte) string {
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil {
		if apiErr.Error.Message != "" {
			return apiErr.Error.Message
		}
		if apiErr.Message != "" {
			return apiErr.Message
		}
	}
	return string(body)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}
