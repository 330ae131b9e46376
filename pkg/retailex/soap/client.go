package soap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/natserract/retailex/pkg/config"
	httpclient "github.com/natserract/retailex/pkg/http"
	"go.uber.org/zap"
)

const (
	// MaxAttempts bounds the physical calls made for one logical call.
	MaxAttempts = 2
	// LogResponseChars is how much of each response is written to the log.
	LogResponseChars = 1024
)

// Client talks to one Retail Express node. Calls on a Client are serialised;
// use one Client per node.
type Client struct {
	config  *config.Config
	builder Builder
	timeout time.Duration
	session session
	mu      sync.Mutex
	logger  *zap.Logger
}

type Option func(*Client)

// WithTimeout overrides the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRawValues disables escaping of scalar values.
func WithRawValues() Option {
	return func(c *Client) { c.builder.Raw = true }
}

func NewClient(cfg *config.Config, opts ...Option) *Client {
	logger, _ := zap.NewProduction()
	return NewClientWithLogger(cfg, logger, opts...)
}

// NewClientWithLogger creates a new soap client with a custom logger
func NewClientWithLogger(cfg *config.Config, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		config:  cfg,
		timeout: httpclient.DefaultTimeout,
		logger:  logger.With(zap.Int("node_id", cfg.NodeID)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call performs operation with payload and returns the parsed body on success.
// A failure whose text reports an expired session is retried once after the
// session is rebuilt; nothing else is retried.
func (c *Client) Call(ctx context.Context, operation string, payload Fields) (*xmlquery.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	callID := uuid.NewString()
	attempt := 0

	attemptCall := func() (*xmlquery.Node, error) {
		attempt++
		outcome := c.execute(ctx, callID, attempt, operation, payload)
		err := outcome.Err()
		if err == nil {
			return outcome.Body, nil
		}
		if IsSessionExpired(err) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	body, err := backoff.Retry(ctx, attemptCall,
		backoff.WithBackOff(&backoff.ZeroBackOff{}),
		backoff.WithMaxTries(MaxAttempts),
		backoff.WithNotify(func(err error, _ time.Duration) {
			c.logger.Warn("Session expired, re-initialising before retry",
				zap.String("operation", operation),
				zap.String("call_id", callID),
				zap.Error(err))
			c.resetSession()
		}),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		return nil, fmt.Errorf("%s failed: %w", operation, err)
	}
	return body, nil
}

// Execute performs exactly one attempt and returns its classification.
func (c *Client) Execute(ctx context.Context, operation string, payload Fields) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.execute(ctx, uuid.NewString(), 1, operation, payload)
}

func (c *Client) execute(ctx context.Context, callID string, attempt int, operation string, payload Fields) Outcome {
	header, handle, err := c.ensureSession()
	if err != nil {
		return Outcome{Kind: OutcomeMalformed, Operation: operation, Code: "prepare", Reason: err.Error()}
	}

	envelope := Envelope{Operation: operation, Header: header, Body: payload}
	body := c.builder.Serialize(payload)
	request := envelope.Render(c.builder)

	resp, err := handle.Post(ctx, c.config.Endpoint(), map[string]string{
		"cache-control": "no-cache",
		"content-type":  "text/xml",
	}, []byte(request))

	var raw []byte
	if resp != nil {
		raw = resp.Body
	}
	outcome := Classify(operation, raw, err)

	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("call_id", callID),
		zap.Int("attempt", attempt),
		zap.String("outcome", outcome.Kind.String()),
		zap.String("payload", body),
		zap.String("response", httpclient.TruncateRunes(outcome.Raw, LogResponseChars)),
	}
	switch outcome.Kind {
	case OutcomeSuccess:
		c.logger.Debug("Soap call succeeded", fields...)
	case OutcomeTransportError:
		c.logger.Error("Soap call transport error", append(fields, zap.Error(outcome.Transport))...)
	default:
		c.logger.Error("Soap call failed", append(fields,
			zap.String("code", outcome.Code),
			zap.String("reason", outcome.Reason))...)
	}
	return outcome
}

// Close releases the connection handle. The next call opens a new one.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetSession()
}
