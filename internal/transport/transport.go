// Package transport fetches feed documents over HTTP under the feed's
// rate-limit contract.
//
// Requests are strictly serialized: one request in flight at a time, and
// every request is followed by a cooldown of Delay before the next one may
// start. The delay is shorter when an API key is configured. A Client is
// safe for concurrent use; concurrent callers queue behind the cooldown.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

// Defaults matching the feed operator's published limits.
const (
	DefaultTimeout      = 60 * time.Second
	DefaultDelay        = 7 * time.Second
	DefaultDelayWithKey = 700 * time.Millisecond

	// APIKeyHeader carries the credential when one is configured.
	APIKeyHeader = "apiKey"
)

// ErrTransport matches every failure returned by Client.Fetch.
var ErrTransport = errors.New("transport failure")

// StatusError is returned for non-200 responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Is makes errors.Is(err, ErrTransport) true for status errors.
func (e *StatusError) Is(target error) bool {
	return target == ErrTransport
}

// Config holds transport configuration.
type Config struct {
	// APIKey is attached to every request when non-empty.
	APIKey string

	// Timeout bounds a single request, including reading the body.
	Timeout time.Duration

	// Delay is the minimum spacing between requests without an API key.
	Delay time.Duration

	// DelayWithKey is the minimum spacing when APIKey is set.
	DelayWithKey time.Duration

	// HTTPClient overrides the default client. Its Timeout is ignored in
	// favor of Timeout.
	HTTPClient *http.Client

	// Logger for request activity
	Logger *log.Logger
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout:      DefaultTimeout,
		Delay:        DefaultDelay,
		DelayWithKey: DefaultDelayWithKey,
		Logger:       log.New(os.Stderr, "[transport] ", log.LstdFlags),
	}
}

// Client is a rate-limited HTTP fetcher.
type Client struct {
	httpClient *http.Client
	apiKey     string
	timeout    time.Duration
	delay      time.Duration
	logger     *log.Logger

	// mu serializes requests so at most one is in flight.
	mu sync.Mutex
	// ready is the earliest start time for the next request.
	ready time.Time
}

// New creates a Client. A nil config uses DefaultConfig.
func New(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Delay < 0 {
		config.Delay = defaults.Delay
	}
	if config.DelayWithKey < 0 {
		config.DelayWithKey = defaults.DelayWithKey
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	delay := config.Delay
	if config.APIKey != "" {
		delay = config.DelayWithKey
	}

	return &Client{
		httpClient: httpClient,
		apiKey:     config.APIKey,
		timeout:    config.Timeout,
		delay:      delay,
		logger:     config.Logger,
	}
}

// Delay returns the effective minimum spacing between requests.
func (c *Client) Delay() time.Duration {
	return c.delay
}

// Fetch downloads url and returns the body. Any non-200 status, network
// error, or timeout is returned as an error matching ErrTransport.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.cooldown(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer func() { c.ready = time.Now().Add(c.delay) }()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request: %v", ErrTransport, err)
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	c.logger.Printf("Downloading: %s", url)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrTransport, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrTransport, url, err)
	}

	c.logger.Printf("Downloaded %s (%d bytes in %v)", url, len(body), time.Since(start).Round(time.Millisecond))
	return body, nil
}

// cooldown blocks until the delay after the previous request has elapsed.
// Callers must hold c.mu.
func (c *Client) cooldown(ctx context.Context) error {
	wait := time.Until(c.ready)
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTimeout reports whether err came from a request deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
