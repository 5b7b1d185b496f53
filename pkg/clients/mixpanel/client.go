// Package mixpanel wraps the Mixpanel query API endpoints the sync pipeline
// consumes: segmentation (nested metric trees) and funnels.
package mixpanel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/clients"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/logging"
)

// ErrRateLimited tags a 429 from the query API. The orchestrator treats it
// as "end the run gracefully with existing data", not as a failure.
var ErrRateLimited = errors.New("mixpanel: rate limited")

// Config holds client configuration
type Config struct {
	BaseURL   string
	Username  string // service account user
	Secret    string // service account secret
	ProjectID string

	// MaxConcurrent caps in-flight requests; Mixpanel enforces a small
	// fixed ceiling of simultaneous queries per project. Default: 5.
	MaxConcurrent int64

	// RetryAttempts / RetryDelay control the fixed-delay retry on 5xx.
	RetryAttempts int
	RetryDelay    time.Duration

	Logger     logging.Logger
	HTTPClient *http.Client
}

// Client wraps the Mixpanel query API
type Client struct {
	baseURL    string
	username   string
	secret     string
	projectID  string
	httpClient *http.Client
	gate       *semaphore.Weighted
	breaker    *clients.CircuitBreaker
	retry      clients.RetryConfig
	logger     logging.Logger
}

// NewClient creates a new Mixpanel query API client
func NewClient(cfg Config) *Client {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   60 * time.Second,
			Transport: clients.DefaultTransport(),
		}
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		username:   cfg.Username,
		secret:     cfg.Secret,
		projectID:  cfg.ProjectID,
		httpClient: httpClient,
		gate:       semaphore.NewWeighted(cfg.MaxConcurrent),
		breaker: clients.NewCircuitBreaker(clients.CircuitBreakerConfig{
			Name:   "mixpanel",
			Logger: cfg.Logger,
		}),
		retry:  clients.FixedDelayRetryConfig(cfg.RetryAttempts, cfg.RetryDelay),
		logger: cfg.Logger,
	}
}

// SegmentationQuery describes one segmentation request. On/Segments name the
// properties to pivot by, outermost first; the response tree is keyed in the
// same order.
type SegmentationQuery struct {
	Event    string
	FromDate string // 2006-01-02
	ToDate   string
	On       string
	Segments []string
	Where    string
	Limit    int
}

// Segmentation fetches one metric tree. The returned map is the raw nested
// "data.values" object: dimension-major, arbitrary depth, leaf counts.
func (c *Client) Segmentation(ctx context.Context, q SegmentationQuery) (map[string]any, error) {
	params := url.Values{}
	params.Set("project_id", c.projectID)
	params.Set("event", q.Event)
	params.Set("from_date", q.FromDate)
	params.Set("to_date", q.ToDate)
	if q.On != "" {
		params.Set("on", q.On)
	}
	for _, seg := range q.Segments {
		params.Add("segment", seg)
	}
	if q.Where != "" {
		params.Set("where", q.Where)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	var payload struct {
		Data struct {
			Values map[string]any `json:"values"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/api/2.0/segmentation/multiseg", params, &payload); err != nil {
		return nil, fmt.Errorf("segmentation %q: %w", q.Event, err)
	}
	return payload.Data.Values, nil
}

// Funnel fetches one funnel tree: date -> user-or-device key -> ordered step
// array, each step carrying a completion count and avg_time_from_start.
func (c *Client) Funnel(ctx context.Context, funnelID int, fromDate, toDate string) (map[string]any, error) {
	params := url.Values{}
	params.Set("project_id", c.projectID)
	params.Set("funnel_id", strconv.Itoa(funnelID))
	params.Set("from_date", fromDate)
	params.Set("to_date", toDate)
	params.Set("users", "true")

	var payload struct {
		Data map[string]any `json:"data"`
	}
	if err := c.get(ctx, "/api/2.0/funnels", params, &payload); err != nil {
		return nil, fmt.Errorf("funnel %d: %w", funnelID, err)
	}
	return payload.Data, nil
}

// get performs one gated, retried request and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.gate.Release(1)

	reqURL := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.secret)
	req.Header.Set("Accept", "application/json")

	var resp *http.Response
	cbErr := c.breaker.Call(func() error {
		resp, err = clients.DoWithRetry(ctx, c.httpClient, req, c.retry)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error: %d", resp.StatusCode)
		}
		return nil
	})
	if cbErr != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return cbErr
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
