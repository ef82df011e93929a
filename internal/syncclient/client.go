// Package syncclient sends queued envelopes to the retailsync server.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"retailsync/internal/model"
	"retailsync/pkg/apierror"
	"retailsync/pkg/response"
	"retailsync/pkg/uid"

	"golang.org/x/time/rate"
)

const maxResponseBytes = 1 << 20

// Config holds client settings.
type Config struct {
	BaseURL  string
	APIKey   string
	ClientID string

	// Timeout bounds one request. Default: 10s
	Timeout time.Duration

	// RequestsPerSec paces requests during a drain. Zero disables pacing.
	RequestsPerSec float64

	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client
}

// Client talks to the sync endpoint.
type Client struct {
	baseURL  string
	apiKey   string
	clientID string
	timeout  time.Duration
	http     *http.Client
	limiter  *rate.Limiter
}

// New creates a sync client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSec > 0 {
		burst := int(cfg.RequestsPerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst)
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		clientID: cfg.ClientID,
		timeout:  cfg.Timeout,
		http:     httpClient,
		limiter:  limiter,
	}
}

// TransientError is a failure that may succeed when retried: the request
// did not complete, or the server was unavailable or throttling.
type TransientError struct {
	StatusCode int // 0 when no response arrived
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient failure (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Temporary marks the error as retryable.
func (e *TransientError) Temporary() bool { return true }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Send posts one envelope. A returned error wraps a model error class for
// rejections the server will repeat, or is a *TransientError.
func (c *Client) Send(ctx context.Context, env *model.Envelope) (*model.ApplyResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if env.ClientID == "" {
		env.ClientID = c.clientID
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/sync", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransientError{StatusCode: resp.StatusCode, Err: err}
	}

	var result model.ApplyResult
	apiErr, err := response.Decode(resp.StatusCode, raw, &result)
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	switch {
	case ok && err == nil && apiErr == nil:
		return &result, nil
	case ok:
		// A proxy or captive portal answered instead of the server.
		return nil, &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unreadable response: %s", truncate(raw))}
	case apiErr == nil:
		apiErr = &apierror.Error{StatusCode: resp.StatusCode, Message: truncate(raw)}
	}
	return nil, classify(apiErr)
}

// Ping checks that the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode != http.StatusOK {
		return &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("health check returned %s", resp.Status)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uid.New())
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.clientID != "" {
		req.Header.Set("X-Client-ID", c.clientID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		// The caller gave up; leave the entry untouched.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: err}
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the request context once the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// classify maps an error response onto the domain error classes.
func classify(apiErr *apierror.Error) error {
	status := apiErr.StatusCode
	msg := apiErr.Summary()

	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, model.ErrNotFound)
	case status == http.StatusConflict:
		return fmt.Errorf("%s: %w", msg, model.ErrConflict)
	case status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%s: %w", msg, model.ErrInvalidOperation)
	case status == http.StatusBadRequest:
		return fmt.Errorf("%s: %w", msg, model.ErrValidation)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		// A bad key is fixed in config, not per entry, so keep retrying.
		return &TransientError{StatusCode: status, Err: errors.New(msg)}
	case status == http.StatusTooManyRequests, status >= 500:
		return &TransientError{StatusCode: status, Err: errors.New(msg)}
	default:
		return fmt.Errorf("unexpected HTTP %d: %s: %w", status, msg, model.ErrValidation)
	}
}

func truncate(raw []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(raw))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
