package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRedirects = 10
)

// ErrTooManyRedirects is returned once the redirect chain exceeds MaxRedirects.
var ErrTooManyRedirects = errors.New("too many redirects")

// Options tunes a Client. Zero values fall back to the defaults above.
type Options struct {
	Timeout      time.Duration
	MaxRedirects int
}

// Response is a fully read reply. Non-2xx statuses are not errors here.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client posts a payload exactly once over HTTP/1.1. The caller owns retries.
type Client struct {
	http   *http.Client
	logger *zap.Logger
}

func NewClientWithLogger(logger *zap.Logger, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := opts.MaxRedirects
	if limit <= 0 {
		limit = DefaultMaxRedirects
	}

	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				// empty, non-nil: never negotiate h2
				TLSNextProto:        map[string]func(string, *tls.Conn) http.RoundTripper{},
				MaxIdleConnsPerHost: 1,
				IdleConnTimeout:     90 * time.Second,
			},
			CheckRedirect: redirectLimit(limit),
		},
		logger: logger,
	}
}

func redirectLimit(limit int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		if len(via) < limit {
			return nil
		}
		return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, limit)
	}
}

// Post sends body to url with the given headers and reads the whole reply.
// Only a failure to reach the server or drain the body is an error.
func (c *Client) Post(ctx context.Context, url string, headers map[string]string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	started := time.Now()
	reply, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("POST failed",
			zap.String("url", url),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
		return nil, err
	}
	defer reply.Body.Close()

	raw, err := io.ReadAll(reply.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug("POST completed",
		zap.String("url", url),
		zap.Int("status_code", reply.StatusCode),
		zap.Int("bytes", len(raw)),
		zap.Duration("elapsed", time.Since(started)))

	return &Response{StatusCode: reply.StatusCode, Body: raw}, nil
}

// CloseIdleConnections forgets pooled connections so the next Post dials again.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}
