package soap

import (
	"fmt"
	"sync"
	"time"

	"github.com/natserract/retailex/pkg/config"
	httpclient "github.com/natserract/retailex/pkg/http"
	"go.uber.org/zap"
)

// session caches what a call needs besides its payload: the header block and
// the reusable HTTP handle. It is cleared when the backend reports an expired
// session.
type session struct {
	mu          sync.RWMutex
	header      Fields
	handle      *httpclient.Client
	initialised time.Time
}

// ensureSession returns the cached header block and handle, building them on
// first use.
func (c *Client) ensureSession() (Fields, *httpclient.Client, error) {
	c.session.mu.RLock()
	if c.session.handle != nil {
		header, handle := c.session.header, c.session.handle
		c.session.mu.RUnlock()
		return header, handle, nil
	}
	c.session.mu.RUnlock()

	header, err := buildHeader(c.config)
	if err != nil {
		c.logger.Error("Failed to prepare soap header", zap.Error(err))
		return nil, nil, err
	}

	c.session.mu.Lock()
	defer c.session.mu.Unlock()
	if c.session.handle == nil {
		c.session.handle = httpclient.NewClientWithLogger(c.logger, httpclient.Options{
			Timeout:      c.timeout,
			MaxRedirects: httpclient.DefaultMaxRedirects,
		})
		c.session.header = header
		c.session.initialised = time.Now()
		c.logger.Info("Initialised soap session", zap.String("endpoint", c.config.Endpoint()))
	}
	return c.session.header, c.session.handle, nil
}

// resetSession drops the cached header and closes pooled connections.
func (c *Client) resetSession() {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()
	if c.session.handle == nil {
		return
	}
	c.session.handle.CloseIdleConnections()
	age := time.Since(c.session.initialised)
	c.session.handle = nil
	c.session.header = nil
	c.logger.Info("Cleared soap session", zap.Duration("age", age))
}

func buildHeader(cfg *config.Config) (Fields, error) {
	headers := cfg.Headers()
	fields := make(Fields, 0, len(headers))
	for _, h := range headers {
		value := cfg.Get(h.Key)
		if value == "" {
			return nil, fmt.Errorf("%w: header %s (%s) is empty", ErrPreparation, h.Element, h.Key)
		}
		fields = append(fields, F(h.Element, value))
	}
	return fields, nil
}
