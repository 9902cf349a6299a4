package lestnet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"lestnet-sdk/internal/dispatch"
)

// DefaultHTTPTimeout is used by daemon clients created without an http.Client.
const DefaultHTTPTimeout = 15 * time.Second

type (
	// Transfer is an asynchronous transfer job held by lestnetd.
	Transfer = dispatch.Job
	// TransferRequest enqueues a native token transfer. Amount is in LETH.
	TransferRequest = dispatch.TransferRequest
	// TransferStats aggregates job states.
	TransferStats = dispatch.Stats
)

// APIError is a non-2xx answer of lestnetd.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("lestnetd api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("lestnetd api error (%d): %s", e.StatusCode, e.Message)
}

// HealthStatus is the body of /healthz.
type HealthStatus struct {
	Status      string `json:"status"`
	Network     string `json:"network,omitempty"`
	ChainID     string `json:"chain_id,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	Error       string `json:"error,omitempty"`
}

// DaemonClient talks to the lestnetd REST API.
type DaemonClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
}

// NewDaemonClient creates a client for the daemon at rawURL. When httpClient
// is nil a client with DefaultHTTPTimeout is used.
func NewDaemonClient(rawURL string, httpClient *http.Client) (*DaemonClient, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &DaemonClient{baseURL: parsed, httpClient: httpClient}, nil
}

// SetToken makes every request carry "Authorization: Bearer <token>".
func (c *DaemonClient) SetToken(token string) {
	c.token = strings.TrimSpace(token)
}

// SubmitTransfer enqueues a transfer and returns the pending job.
func (c *DaemonClient) SubmitTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	var job Transfer
	if err := c.post(ctx, "/api/v1/transfers", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetTransfer fetches a job by id.
func (c *DaemonClient) GetTransfer(ctx context.Context, id string) (*Transfer, error) {
	var job Transfer
	if err := c.get(ctx, "/api/v1/transfers/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListTransfers returns the most recently updated jobs, optionally filtered
// by status.
func (c *DaemonClient) ListTransfers(ctx context.Context, limit int, statuses ...string) ([]Transfer, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if len(statuses) > 0 {
		query.Set("status", strings.Join(statuses, ","))
	}
	var jobs []Transfer
	if err := c.get(ctx, "/api/v1/transfers", query, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// TransferStats returns job counts by status.
func (c *DaemonClient) TransferStats(ctx context.Context) (TransferStats, error) {
	var stats TransferStats
	err := c.get(ctx, "/api/v1/transfers/stats", nil, &stats)
	return stats, err
}

// WaitForTransfer polls until the job succeeds or fails for good.
func (c *DaemonClient) WaitForTransfer(ctx context.Context, id string, interval time.Duration) (*Transfer, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetTransfer(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Done() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Health reports daemon and node status. A degraded daemon answers 503 with a
// body, which is returned together with the *APIError.
func (c *DaemonClient) Health(ctx context.Context) (HealthStatus, error) {
	var status HealthStatus
	err := c.get(ctx, "/healthz", nil, &status)
	return status, err
}

func (c *DaemonClient) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *DaemonClient) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *DaemonClient) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *DaemonClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
			if out != nil {
				_ = json.Unmarshal(data, out)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
