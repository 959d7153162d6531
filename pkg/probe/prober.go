// Package probe implements first-successful-responder probing over the
// backend's candidate endpoint lists. Every call walks its operation's
// static candidate order from the top and accepts the first response
// that is both 2xx and a well-formed success envelope.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"astrolink/pkg/apperr"
	"astrolink/pkg/logger"
	"astrolink/pkg/models"
	"astrolink/pkg/telemetry"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 4 << 20

// Params carries per-call inputs: placeholder values for candidate
// paths and an optional JSON body.
type Params struct {
	Path map[string]string
	Body any
}

// Auth supplies the credentials attached to every request.
type Auth interface {
	// Token returns the bearer session token.
	Token() (string, error)
	// ActorID returns the resolved astrologer id, empty if unresolved.
	ActorID() string
}

// ConnectivityChecker short-circuits probing when the network is down.
type ConnectivityChecker interface {
	Check() error
}

// Prober walks candidate endpoints for logical operations.
type Prober struct {
	base       string
	appID      string
	client     *http.Client
	auth       Auth
	check      ConnectivityChecker
	metrics    *telemetry.Metrics
	candidates map[Operation][]string
}

// Option tweaks a Prober at construction.
type Option func(*Prober)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Prober) { p.client = c }
}

// WithConnectivityChecker installs a pre-check consulted before any
// candidate is attempted.
func WithConnectivityChecker(c ConnectivityChecker) Option {
	return func(p *Prober) { p.check = c }
}

// WithMetrics records attempts and outcomes on the given collectors.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Prober) { p.metrics = m }
}

// WithCandidates overrides the candidate list for one operation.
// Used by tests and as an escape hatch when the backend changes shape.
func WithCandidates(op Operation, paths []string) Option {
	return func(p *Prober) {
		p.candidates[op] = append([]string(nil), paths...)
	}
}

// New builds a Prober rooted at the normalized /api base URL.
func New(apiBase, appID string, auth Auth, opts ...Option) *Prober {
	p := &Prober{
		base:       strings.TrimRight(apiBase, "/"),
		appID:      appID,
		client:     &http.Client{},
		auth:       auth,
		candidates: make(map[Operation][]string, len(defaultCandidates)),
	}
	for op, list := range defaultCandidates {
		p.candidates[op] = list
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Call attempts the operation's candidates in order and returns the
// first well-formed success envelope. 404 means "wrong path, try the
// next"; 403 is an authorization mismatch and terminates probing; any
// other failure is recorded and probing continues until the list is
// exhausted, at which point the last error is surfaced wrapped in
// apperr.ErrExhausted.
func (p *Prober) Call(ctx context.Context, op Operation, params Params) (*models.Envelope, error) {
	if p.check != nil {
		if err := p.check.Check(); err != nil {
			p.outcome(op, "network_unavailable")
			return nil, err
		}
	}
	list := p.candidates[op]
	if len(list) == 0 {
		return nil, fmt.Errorf("no candidates for operation %s", op)
	}

	var lastErr error
	tried := 0
	for _, tmpl := range list {
		path, ok := expand(tmpl, params.Path)
		if !ok {
			// candidate needs a parameter this call doesn't have
			continue
		}
		tried++
		p.attempt(op)
		env, err := p.request(ctx, methods[op], path, params.Body)
		if err == nil {
			p.outcome(op, "ok")
			return env, nil
		}
		if errors.Is(err, apperr.ErrPermissionDenied) {
			logger.Warn("probe_permission_denied", "op", string(op), "path", path)
			p.outcome(op, "denied")
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			p.outcome(op, "timeout")
			return nil, fmt.Errorf("%w: %s %s", apperr.ErrTimeout, string(op), path)
		}
		if errors.Is(err, apperr.ErrNotFound) {
			logger.Debug("probe_candidate_missing", "op", string(op), "path", path)
		} else {
			logger.Debug("probe_candidate_failed", "op", string(op), "path", path, "error", err)
			lastErr = err
		}
	}
	if tried == 0 {
		return nil, fmt.Errorf("no usable candidates for operation %s", op)
	}
	p.outcome(op, "exhausted")
	if lastErr == nil {
		lastErr = apperr.ErrNotFound
	}
	return nil, fmt.Errorf("%w: %s: %w", apperr.ErrExhausted, string(op), lastErr)
}

func (p *Prober) request(ctx context.Context, method, path string, body any) (*models.Envelope, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.base+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.appID != "" {
		req.Header.Set("X-App-ID", p.appID)
	}
	if p.auth != nil {
		tok, err := p.auth.Token()
		if err == nil && tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		if id := p.auth.ActorID(); id != "" {
			req.Header.Set("X-Astrologer-ID", id)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.ErrNotFound
	case resp.StatusCode == http.StatusForbidden:
		return nil, apperr.ErrPermissionDenied
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	env, ok := models.DecodeEnvelope(raw)
	if !ok || !env.OK() {
		return nil, fmt.Errorf("malformed success envelope (status %d)", resp.StatusCode)
	}
	return env, nil
}

func (p *Prober) attempt(op Operation) {
	p.metrics.ProbeAttempt(string(op))
}

func (p *Prober) outcome(op Operation, outcome string) {
	p.metrics.ProbeOutcome(string(op), outcome)
}

// expand substitutes {name} placeholders from vals. It reports false
// when a placeholder has no value, which drops the candidate.
func expand(tmpl string, vals map[string]string) (string, bool) {
	out := tmpl
	for {
		start := strings.Index(out, "{")
		if start < 0 {
			return out, true
		}
		end := strings.Index(out[start:], "}")
		if end < 0 {
			return out, true
		}
		name := out[start+1 : start+end]
		v, ok := vals[name]
		if !ok || v == "" {
			return "", false
		}
		out = out[:start] + v + out[start+end+1:]
	}
}
