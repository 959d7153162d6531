// Package netcheck provides a cheap connectivity pre-check against the
// backend. Probing walks several candidate endpoints per operation, so
// a dead network is detected once here instead of timing out on every
// candidate in turn.
package netcheck

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"astrolink/pkg/apperr"
	"astrolink/pkg/logger"
)

const (
	checkTimeout = 2 * time.Second
	// a verdict is reused for this long before re-checking
	verdictTTL = 5 * time.Second
)

// Checker pings the backend health endpoint with a short-deadline
// fasthttp request and caches the verdict briefly.
type Checker struct {
	client *fasthttp.Client
	url    string

	mu        sync.Mutex
	checkedAt time.Time
	lastErr   error
}

// New builds a Checker for the given API base URL. The health endpoint
// lives on the host root, not under /api.
func New(apiBase string) *Checker {
	base := strings.TrimSuffix(strings.TrimRight(apiBase, "/"), "/api")
	return &Checker{
		client: &fasthttp.Client{
			ReadTimeout:  checkTimeout,
			WriteTimeout: checkTimeout,
		},
		url: base + "/healthz",
	}
}

// Check returns nil when the backend answered the health probe
// recently, or apperr.ErrNetworkUnavailable wrapping the transport
// error otherwise.
func (c *Checker) Check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.checkedAt) < verdictTTL {
		return c.lastErr
	}
	c.checkedAt = time.Now()
	c.lastErr = c.probe()
	return c.lastErr
}

func (c *Checker) probe() error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	if err := c.client.DoTimeout(req, resp, checkTimeout); err != nil {
		logger.Warn("connectivity_check_failed", "url", c.url, "error", err)
		return fmt.Errorf("%w: %v", apperr.ErrNetworkUnavailable, err)
	}
	// Any HTTP answer proves the network path; even a 404 means the
	// host is reachable.
	logger.Debug("connectivity_check_ok", "url", c.url, "status", resp.StatusCode())
	return nil
}
