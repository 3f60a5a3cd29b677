package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/meritorder/pkg/logger"
)

// Limiter is satisfied by the shared Redis limiter
type Limiter interface {
	Wait(ctx context.Context) error
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d for %s", e.StatusCode, e.URL)
}

// Temporary reports whether the status is worth retrying
func (e *StatusError) Temporary() bool {
	return IsRetryableStatus(e.StatusCode)
}

// Client is an HTTP client wrapper with retry logic and logging
// ⭐ SSOT: 모든 HTTP 요청은 이 클라이언트를 통해서만 수행
type Client struct {
	httpClient  *http.Client
	logger      *logger.Logger
	retryConfig RetryConfig
	pacer       *rate.Limiter
	shared      Limiter
	sleep       func(ctx context.Context, d time.Duration) error
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Jitter       float64 // fraction of the delay, 0.2 = ±20%
	Enabled      bool
}

// New creates a new HTTP client with a per-request timeout
// ⭐ SSOT: http.Client 인스턴스는 여기서만 생성
func New(log *logger.Logger, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.WithComponent("httputil"),
		retryConfig: RetryConfig{
			MaxRetries:   3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     10 * time.Second,
			Jitter:       0.2,
			Enabled:      true,
		},
		sleep: sleepContext,
	}
}

// WithRetry configures retry behavior
func (c *Client) WithRetry(maxRetries int, initialDelay, maxDelay time.Duration) *Client {
	c.retryConfig.MaxRetries = maxRetries
	c.retryConfig.InitialDelay = initialDelay
	if maxDelay > 0 {
		c.retryConfig.MaxDelay = maxDelay
	}
	c.retryConfig.Enabled = true
	return c
}

// DisableRetry disables automatic retry
func (c *Client) DisableRetry() *Client {
	c.retryConfig.Enabled = false
	return c
}

// WithRate paces requests from this process with a token bucket
func (c *Client) WithRate(perSecond float64, burst int) *Client {
	if perSecond > 0 {
		c.pacer = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return c
}

// WithSharedLimiter adds a cross-process limiter (Redis)
func (c *Client) WithSharedLimiter(l Limiter) *Client {
	c.shared = l
	return c
}

// Get performs a GET request. Non-2xx responses that survive the retry loop are
// returned as-is; the caller owns the body.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req)
}

// GetJSON performs a GET request and decodes a 200 response into dest
func (c *Client) GetJSON(ctx context.Context, url string, dest interface{}) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// do executes the request with pacing, retry logic and logging
func (c *Client) do(req *http.Request) (*http.Response, error) {
	startTime := time.Now()
	url := req.URL.String()

	var resp *http.Response
	var err error
	if c.retryConfig.Enabled {
		resp, err = c.doWithRetry(req)
	} else {
		resp, err = c.attempt(req)
	}

	duration := time.Since(startTime)

	if err != nil {
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"method":   req.Method,
			"url":      url,
			"duration": duration,
		}).Error("HTTP request failed")
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"method":      req.Method,
		"url":         url,
		"status_code": resp.StatusCode,
		"duration":    duration,
	}).Debug("HTTP request completed")

	return resp, nil
}

// attempt waits for both limiters then performs a single round trip
func (c *Client) attempt(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}
	}
	if c.shared != nil {
		if err := c.shared.Wait(ctx); err != nil {
			return nil, fmt.Errorf("shared rate limit wait failed: %w", err)
		}
	}
	return c.httpClient.Do(req)
}

// doWithRetry executes the request with exponential backoff and jitter.
// Network errors, 429 and 5xx are retried; anything else is returned immediately.
func (c *Client) doWithRetry(req *http.Request) (*http.Response, error) {
	var lastErr error
	delay := c.retryConfig.InitialDelay

	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		resp, err := c.attempt(req)
		if err == nil && !IsRetryableStatus(resp.StatusCode) {
			return resp, nil
		}

		if ctxErr := req.Context().Err(); ctxErr != nil {
			if resp != nil {
				resp.Body.Close()
			}
			return nil, ctxErr
		}

		wait := delay
		if err != nil {
			lastErr = err
		} else {
			lastErr = &StatusError{StatusCode: resp.StatusCode, URL: req.URL.String()}
			if ra := retryAfter(resp); ra > 0 {
				wait = ra
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		if attempt == c.retryConfig.MaxRetries {
			break
		}

		// Retry-After도 MaxDelay를 넘지 않음
		wait = c.withJitter(wait)
		if ceiling := c.retryConfig.MaxDelay; ceiling > 0 && wait > ceiling {
			wait = ceiling
		}
		c.logger.WithFields(map[string]interface{}{
			"attempt": attempt + 1,
			"delay":   wait,
			"url":     req.URL.String(),
			"cause":   lastErr.Error(),
		}).Warn("Retrying HTTP request")

		if err := c.sleep(req.Context(), wait); err != nil {
			return nil, err
		}

		delay *= 2
		if delay > c.retryConfig.MaxDelay {
			delay = c.retryConfig.MaxDelay
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.retryConfig.MaxRetries+1, lastErr)
}

// ErrRetriesExhausted marks a request that never succeeded within the retry budget
var ErrRetriesExhausted = errors.New("retries exhausted")

func (c *Client) withJitter(d time.Duration) time.Duration {
	j := c.retryConfig.Jitter
	if j <= 0 {
		return d
	}
	factor := 1 + j*(2*rand.Float64()-1)
	return time.Duration(float64(d) * factor)
}

// retryAfter parses a Retry-After header given in seconds
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsRetryableStatus checks if a status code should be retried
func IsRetryableStatus(statusCode int) bool {
	return statusCode >= 500 || statusCode == http.StatusTooManyRequests
}
