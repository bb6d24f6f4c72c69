// Package costapi fetches organization spend from the OpenAI costs API.
package costapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://api.openai.com/v1"
	costsPath      = "/organization/costs"
	bucketWidth    = "1d"
	maxBodySize    = 4 << 20 // 4 MB
	// MaxPageLimit is the largest page size the fetcher requests.
	MaxPageLimit = 100
)

var (
	// ErrUnauthorized indicates the admin key is missing, expired or lacks scope.
	ErrUnauthorized = errors.New("costapi: unauthorized (admin key invalid or missing scope)")
	// ErrRateLimited indicates the API rate limit was hit.
	ErrRateLimited = errors.New("costapi: rate limited")
)

// Client performs authenticated requests against the costs endpoint.
type Client struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	http    *http.Client
}

// NewClient creates a client for the given admin key.
// Returns nil if the key is empty.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{},
	}
}

// FetchCosts requests one page of daily cost buckets starting at start.
func (c *Client) FetchCosts(ctx context.Context, start time.Time, limit int) (*CostsPage, error) {
	if limit < 1 || limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	q := url.Values{}
	q.Set("start_time", strconv.FormatInt(start.Unix(), 10))
	q.Set("bucket_width", bucketWidth)
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, costsPath+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var page CostsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("costapi: parsing costs: %w", err)
	}
	return &page, nil
}

// get performs an authenticated GET request and returns the response body.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("costapi: creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "github.com/theirongolddev/creditwatch/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("costapi: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("costapi: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("costapi: reading response: %w", err)
	}
	return body, nil
}
