// Package bdl provides the HTTP client for the BallDontLie NFL API.
//
// BDL uses cursor-based pagination and Authorization header auth.
// Rate limiting is handled via a token bucket limiter; 429 and 5xx responses
// and network failures are retried a few times with linear backoff before
// the call fails with ErrTransient.
package bdl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"github.com/albapepper/scoracle-pipeline/internal/config"
	"github.com/albapepper/scoracle-pipeline/internal/provider"
)

var (
	// ErrTransient marks failures worth retrying on the next run: 429, 5xx,
	// timeouts and dropped connections.
	ErrTransient = errors.New("bdl: transient provider error")
	// ErrPermanent marks requests the provider rejected outright.
	ErrPermanent = errors.New("bdl: provider rejected request")
)

const (
	defaultMaxRetries = 3
	defaultBackoff    = time.Second
	maxRetryAfter     = 30 * time.Second
)

// Page is one page of a cursor-paginated listing.
type Page struct {
	Items      []json.RawMessage
	NextCursor *string
}

// Client is the shared HTTP client for all BDL endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	logger     *slog.Logger
	maxRetries int
	backoff    time.Duration
	perPage    int
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetries sets the retry count and the base backoff step. A zero
// backoff keeps the default step.
func WithRetries(maxRetries int, backoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithPerPage sets the page size, capped at the provider maximum.
func WithPerPage(n int) Option {
	return func(c *Client) {
		if n > 0 && n <= config.MaxProviderPerPage {
			c.perPage = n
		}
	}
}

// NewClient creates a BDL HTTP client with rate limiting.
func NewClient(baseURL, apiKey string, requestsPerMinute int, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 600
	}
	rps := float64(requestsPerMinute) / 60.0
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		perPage:    config.MaxProviderPerPage,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// paginatedResponse is the common BDL response wrapper. next_cursor is kept
// raw because it is opaque: numbers and strings are both valid.
type paginatedResponse struct {
	Data json.RawMessage `json:"data"`
	Meta struct {
		NextCursor json.RawMessage `json:"next_cursor"`
	} `json:"meta"`
}

// FetchPage requests one page of entity e starting at cursor.
func (c *Client) FetchPage(ctx context.Context, e provider.EntityType, f provider.Filters, cursor *string) (*Page, error) {
	res, err := ResourceFor(e)
	if err != nil {
		return nil, err
	}
	params, err := res.Params(e, f)
	if err != nil {
		return nil, errors.Mark(err, ErrPermanent)
	}
	params.Set("per_page", strconv.Itoa(c.perPage))
	if cursor != nil && *cursor != "" {
		params.Set("cursor", *cursor)
	}

	body, err := c.getWithRetry(ctx, res.Path+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp paginatedResponse
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrapf(err, "decode %s response", res.Path)
	}

	page := &Page{NextCursor: decodeCursor(resp.Meta.NextCursor)}
	data := bytes.TrimSpace(resp.Data)
	if len(data) > 0 && !bytes.Equal(data, []byte("null")) {
		if err := sonic.Unmarshal(data, &page.Items); err != nil {
			return nil, errors.Wrapf(err, "decode %s data", res.Path)
		}
	}
	return page, nil
}

// getWithRetry performs a rate-limited GET, retrying transient failures.
func (c *Client) getWithRetry(ctx context.Context, pathAndQuery string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		body, wait, err := c.get(ctx, pathAndQuery)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !errors.Is(err, ErrTransient) || attempt == c.maxRetries {
			break
		}

		if wait <= 0 {
			wait = time.Duration(attempt+1) * c.backoff
		}
		c.logger.Warn("Provider request failed, retrying",
			"path", pathAndQuery, "attempt", attempt+1, "backoff", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

// get performs a single rate-limited GET. The returned duration is the
// provider's Retry-After hint, if any.
func (c *Client) get(ctx context.Context, pathAndQuery string) ([]byte, time.Duration, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, errors.Wrap(err, "rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathAndQuery, nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		if isNetworkError(err) {
			return nil, 0, errors.Mark(errors.Wrapf(err, "http request %s", pathAndQuery), ErrTransient)
		}
		return nil, 0, errors.Wrapf(err, "http request %s", pathAndQuery)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, errors.Mark(errors.Wrap(err, "read response body"), ErrTransient)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := errors.Newf("BDL %s returned %d: %s", pathAndQuery, resp.StatusCode, truncate(body, 200))
		if isRetryableStatus(resp.StatusCode) {
			return nil, retryAfter(resp.Header.Get("Retry-After")), errors.Mark(statusErr, ErrTransient)
		}
		return nil, 0, errors.Mark(statusErr, ErrPermanent)
	}

	return body, 0, nil
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}

// decodeCursor normalizes next_cursor. Absent, null and empty values end the
// stream.
func decodeCursor(raw json.RawMessage) *string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var s string
	if raw[0] == '"' {
		if err := sonic.Unmarshal(raw, &s); err != nil {
			return nil
		}
	} else {
		s = string(raw)
	}
	if s == "" {
		return nil
	}
	return &s
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
