// Package scryfall provides the rate-limited client for the remote card
// catalog API. All outbound catalog traffic, from single-card lookups to bulk
// dataset downloads, goes through one shared Client so the source's rate
// limit is respected globally.
package scryfall

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

	"go.uber.org/zap"

	"github.com/arbiter-ai/arbiter-engine/pkg/apperrors"
)

// defaultRateLimitWait is used when a 429 response carries no Retry-After.
const defaultRateLimitWait = time.Second

// Config holds configuration for creating a catalog client.
type Config struct {
	BaseURL        string        // e.g. "https://api.scryfall.com"
	MinInterval    time.Duration // minimum spacing between requests
	RequestTimeout time.Duration // per-request deadline
	UserAgent      string
}

// Client provides throttled, retrying access to the remote catalog API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	timeout    time.Duration
	throttle   *throttle
	policy     RetryPolicy
	logger     *zap.Logger
}

// NewClient creates a catalog client. The retry policy governs transient
// failures only; explicit rate-limit responses are always honored and never
// consume an attempt.
func NewClient(cfg *Config, policy RetryPolicy, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "arbiter-engine"
	}

	return &Client{
		httpClient: &http.Client{},
		baseURL:    cfg.BaseURL,
		userAgent:  userAgent,
		timeout:    timeout,
		throttle:   newThrottle(cfg.MinInterval),
		policy:     policy,
		logger:     logger.Named("scryfall"),
	}, nil
}

// BulkData fetches the manifest of downloadable bulk dataset blobs.
func (c *Client) BulkData(ctx context.Context) ([]BulkDatum, error) {
	body, err := c.get(ctx, c.baseURL+"/bulk-data")
	if err != nil {
		return nil, err
	}

	var resp bulkListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode bulk data manifest: %w", err)
	}
	return resp.Data, nil
}

// CardByName fetches a single card by name. With fuzzy set, the remote source
// applies its own spelling correction. Returns apperrors.ErrNotFound when the
// source has no match.
func (c *Client) CardByName(ctx context.Context, name string, fuzzy bool) (*Card, error) {
	mode := "exact"
	if fuzzy {
		mode = "fuzzy"
	}
	endpoint := c.baseURL + "/cards/named?" + url.Values{mode: {name}}.Encode()

	body, err := c.get(ctx, endpoint)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	var card Card
	if err := json.Unmarshal(body, &card); err != nil {
		return nil, fmt.Errorf("failed to decode card: %w", err)
	}
	return &card, nil
}

// Rulings fetches all rulings for a card by its catalog id.
func (c *Client) Rulings(ctx context.Context, cardID string) ([]Ruling, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/cards/%s/rulings", c.baseURL, url.PathEscape(cardID)))
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	var resp rulingsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode rulings: %w", err)
	}
	return resp.Data, nil
}

// Autocomplete fetches name completion suggestions for a partial name.
func (c *Client) Autocomplete(ctx context.Context, query string) ([]string, error) {
	endpoint := c.baseURL + "/cards/autocomplete?" + url.Values{"q": {query}}.Encode()

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var resp autocompleteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode autocomplete response: %w", err)
	}
	return resp.Data, nil
}

// OpenBulkStream opens a byte stream for a bulk dataset blob. The caller owns
// the returned body. The per-request timeout deliberately does not apply:
// bulk downloads outlive it by design and are bounded by ctx instead.
func (c *Client) OpenBulkStream(ctx context.Context, downloadURI string) (io.ReadCloser, error) {
	resp, err := c.doWithRetry(ctx, downloadURI, 0)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// get performs a throttled, retried GET and returns the response body.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	resp, err := c.doWithRetry(ctx, endpoint, c.timeout)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Message: "failed to read response body", Retryable: true, Cause: err}
	}
	return body, nil
}

// doWithRetry is the shared request loop: throttle, issue, classify, retry.
// A zero timeout disables the per-request deadline (bulk streams).
func (c *Client) doWithRetry(ctx context.Context, endpoint string, timeout time.Duration) (*http.Response, error) {
	attempt := 1
	for {
		resp, err := c.doOnce(ctx, endpoint, timeout)
		if err == nil {
			return resp, nil
		}

		// Timeouts and context cancellation surface immediately.
		if IsTimeout(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		// An explicit rate-limit response means back off for the server's
		// suggested wait and try again without spending an attempt.
		var clientErr *Error
		if errors.As(err, &clientErr) && clientErr.StatusCode == http.StatusTooManyRequests {
			c.logger.Warn("Rate limited by catalog API",
				zap.Duration("wait", clientErr.RetryAfter),
				zap.String("endpoint", endpoint))
			if sleepErr := sleep(ctx, clientErr.RetryAfter); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		if errors.As(err, &clientErr) && !clientErr.Retryable {
			return nil, err
		}

		if attempt >= c.policy.MaxAttempts {
			c.logger.Error("Catalog request failed after retries",
				zap.Int("attempts", attempt),
				zap.String("endpoint", endpoint),
				zap.Error(err))
			return nil, err
		}

		delay := c.policy.Delay(attempt)
		c.logger.Warn("Catalog request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
		attempt++
	}
}

// doOnce issues a single throttled request. On a non-2xx status it drains and
// closes the body and returns a classified *Error; rate-limit responses carry
// the server's Retry-After on the error.
func (c *Client) doOnce(ctx context.Context, endpoint string, timeout time.Duration) (*http.Response, error) {
	if err := c.throttle.wait(ctx); err != nil {
		return nil, err
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, &Error{Message: "failed to build request", Cause: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // closed by callers on success paths
	if err != nil {
		if cancel != nil {
			cancel()
		}
		if reqCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &Error{Message: "request exceeded deadline", Timeout: true, Cause: err}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Message: "request failed", Retryable: true, Cause: err}
	}

	// Tie the body's lifetime to the request deadline cancel.
	if cancel != nil {
		resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	}

	c.logger.Debug("Catalog request",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		clientErr := &Error{
			StatusCode: resp.StatusCode,
			Message:    "rate limited",
			Retryable:  true,
			RetryAfter: retryAfter(resp),
		}
		drainAndClose(resp)
		return nil, clientErr
	case resp.StatusCode >= 500:
		clientErr := &Error{StatusCode: resp.StatusCode, Message: "server error", Retryable: true}
		drainAndClose(resp)
		return nil, clientErr
	default:
		clientErr := &Error{StatusCode: resp.StatusCode, Message: "request rejected"}
		drainAndClose(resp)
		return nil, clientErr
	}
}

// retryAfter reads the server-suggested wait from a 429 response, defaulting
// to one second when absent or unparseable.
func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return defaultRateLimitWait
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return defaultRateLimitWait
	}
	return time.Duration(seconds) * time.Second
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

func isStatus(err error, status int) bool {
	var clientErr *Error
	return errors.As(err, &clientErr) && clientErr.StatusCode == status
}

// cancelReadCloser releases the request's timeout context when the body is
// closed.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}
