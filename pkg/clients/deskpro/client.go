// Package deskpro pulls support tickets from the helpdesk provider.
// Free-text fields are PII-redacted before tickets leave this package.
package deskpro

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/clients"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/logging"
	"github.com/zackbabin/dub-analysis-tool-sub008/pkg/models"
)

// Config holds client configuration
type Config struct {
	BaseURL  string
	APIToken string
	PageSize int

	Logger     logging.Logger
	HTTPClient *http.Client
}

// Client wraps the helpdesk ticket API
type Client struct {
	baseURL    string
	apiToken   string
	pageSize   int
	httpClient *http.Client
	redactor   *Redactor
	logger     logging.Logger
}

// NewClient creates a new ticket API client
func NewClient(cfg Config) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: clients.DefaultTransport(),
		}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiToken:   cfg.APIToken,
		pageSize:   cfg.PageSize,
		httpClient: httpClient,
		redactor:   NewRedactor(),
		logger:     cfg.Logger,
	}
}

type apiTicket struct {
	ID        int64  `json:"id"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

type ticketPage struct {
	Tickets []apiTicket `json:"tickets"`
	Meta    struct {
		NextCursor string `json:"next_cursor"`
	} `json:"meta"`
}

// ListTicketsSince walks every page of tickets updated since the given time,
// redacting PII as each page lands.
func (c *Client) ListTicketsSince(ctx context.Context, since, syncedAt time.Time) ([]models.SupportTicket, error) {
	var tickets []models.SupportTicket
	cursor := ""

	for {
		page, err := c.fetchPage(ctx, since, cursor)
		if err != nil {
			return nil, err
		}

		for _, raw := range page.Tickets {
			tickets = append(tickets, models.SupportTicket{
				TicketID:  strconv.FormatInt(raw.ID, 10),
				UserID:    raw.UserID,
				Status:    raw.Status,
				Subject:   c.redactor.Redact(raw.Subject),
				Body:      c.redactor.Redact(raw.Body),
				CreatedAt: time.Unix(raw.CreatedAt, 0).UTC(),
				UpdatedAt: time.Unix(raw.UpdatedAt, 0).UTC(),
				SyncedAt:  syncedAt,
			})
		}

		if page.Meta.NextCursor == "" {
			return tickets, nil
		}
		cursor = page.Meta.NextCursor
	}
}

func (c *Client) fetchPage(ctx context.Context, since time.Time, cursor string) (*ticketPage, error) {
	params := url.Values{}
	params.Set("updated_since", strconv.FormatInt(since.Unix(), 10))
	params.Set("per_page", strconv.Itoa(c.pageSize))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	reqURL := c.baseURL + "/api/v2/tickets?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, clients.DefaultRetryConfig())
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("list tickets: status %d: %s", resp.StatusCode, body)
	}

	var page ticketPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode ticket page: %w", err)
	}
	return &page, nil
}
