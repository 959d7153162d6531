// Package realtime manages the single persistent event connection to
// the backend: auth handshake, event dispatch, reconnect with backoff
// and a one-shot transport fallback.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"astrolink/pkg/apperr"
	"astrolink/pkg/logger"
	"astrolink/pkg/telemetry"
)

// State is the channel lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateGivenUp
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateGivenUp:
		return "given_up"
	}
	return "unknown"
}

const (
	// DefaultMaxReconnectAttempts caps automatic reconnection; after
	// that the channel is GivenUp until an explicit Connect.
	DefaultMaxReconnectAttempts = 5

	// defaultConnectInterval throttles near-simultaneous Connect calls.
	defaultConnectInterval = 2 * time.Second

	handshakeTimeout = 10 * time.Second
	backoffBase      = 500 * time.Millisecond
	backoffCap       = 30 * time.Second
)

// AuthSource supplies handshake credentials.
type AuthSource interface {
	Token() (string, error)
	ActorID() string
}

// Handler receives the raw payload of a named event.
type Handler func(data json.RawMessage)

// Channel is the process-wide realtime connection. At most one live
// connection exists at a time; reconnect attempts are serialized in a
// single goroutine.
type Channel struct {
	url         string
	appID       string
	auth        AuthSource
	transport   Transport
	fallback    Transport
	maxAttempts int
	limiter     *rate.Limiter
	metrics     *telemetry.Metrics

	mu          sync.Mutex
	state       State
	conn        Conn
	attempts    int
	intentional bool
	lastErr     error
	joined      map[string]bool
	handlers    map[string]map[int]Handler
	nextID      int
}

// Option tweaks a Channel at construction.
type Option func(*Channel)

func WithTransport(t Transport) Option { return func(c *Channel) { c.transport = t } }

// WithFallback sets the transport substituted when the preferred
// transport's handshake fails for transport-specific reasons. Nil
// disables fallback.
func WithFallback(t Transport) Option { return func(c *Channel) { c.fallback = t } }

func WithMaxReconnectAttempts(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithConnectInterval sets the minimum interval between Connect
// attempts. This is a best-effort throttle, not a mutex.
func WithConnectInterval(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option { return func(c *Channel) { c.metrics = m } }

// New builds a Channel for the given realtime URL (the API base minus
// /api, ws scheme).
func New(url, appID string, auth AuthSource, opts ...Option) *Channel {
	c := &Channel{
		url:         url,
		appID:       appID,
		auth:        auth,
		transport:   NewWebsocketTransport(),
		fallback:    NewPollingTransport(),
		maxAttempts: DefaultMaxReconnectAttempts,
		limiter:     rate.NewLimiter(rate.Every(defaultConnectInterval), 1),
		joined:      make(map[string]bool),
		handlers:    make(map[string]map[int]Handler),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect establishes the connection and performs the auth handshake.
// It is a no-op when already connected or when another connect is in
// flight, and is rate-limited to one attempt per interval. Auth
// failures surface as apperr.ErrAuth and are never retried here.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected, StateConnecting, StateReconnecting:
		c.mu.Unlock()
		return nil
	}
	if !c.limiter.Allow() {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.intentional = false
	c.mu.Unlock()

	conn, err := c.establish(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.lastErr = err
		c.mu.Unlock()
		return err
	}
	c.adopt(conn)
	return nil
}

// establish dials the preferred transport and runs the handshake,
// substituting the fallback transport once when the preferred one
// fails for non-auth reasons.
func (c *Channel) establish(ctx context.Context) (Conn, error) {
	conn, err := c.dialAndShake(ctx, c.transport)
	if err == nil {
		return conn, nil
	}
	if errors.Is(err, apperr.ErrAuth) || c.fallback == nil {
		return nil, err
	}
	logger.Warn("realtime_transport_fallback", "from", c.transport.Name(), "to", c.fallback.Name(), "error", err)
	return c.dialAndShake(ctx, c.fallback)
}

func (c *Channel) dialAndShake(ctx context.Context, t Transport) (Conn, error) {
	conn, err := t.Dial(ctx, c.url)
	if err != nil {
		return nil, err
	}
	if err := c.handshake(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Info("realtime_connected", "transport", t.Name())
	return conn, nil
}

// handshake sends the auth event and waits for the application-level
// acknowledgment. Transport-level connect alone does not count as
// Connected.
func (c *Channel) handshake(conn Conn) error {
	tok, err := c.auth.Token()
	if err != nil || tok == "" {
		return fmt.Errorf("%w: no session token", apperr.ErrAuth)
	}
	payload := map[string]string{
		"token":        tok,
		"astrologerId": c.auth.ActorID(),
		"appId":        c.appID,
	}
	b, _ := json.Marshal(payload)
	if err := conn.WriteEvent(Event{Name: EvAuth, Data: b}); err != nil {
		return fmt.Errorf("handshake write failed: %w", err)
	}

	type result struct {
		ev  Event
		err error
	}
	ch := make(chan result, 1)
	go func() {
		for {
			ev, err := conn.ReadEvent()
			if err != nil {
				ch <- result{err: err}
				return
			}
			if ev.Name == EvAuthAck || ev.Name == EvAuthError {
				ch <- result{ev: ev}
				return
			}
			// events before the ack are dropped; the server replays
			// relevant state after auth
		}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("handshake read failed: %w", r.err)
		}
		if r.ev.Name == EvAuthError {
			return fmt.Errorf("%w: %s", apperr.ErrAuth, string(r.ev.Data))
		}
		return nil
	case <-time.After(handshakeTimeout):
		return fmt.Errorf("%w: handshake ack", apperr.ErrTimeout)
	}
}

// adopt installs a handshaken connection, resets the attempt counter
// and starts the read loop.
func (c *Channel) adopt(conn Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.lastErr = nil
	c.mu.Unlock()
	c.metrics.SetConnected(true)
	go c.readLoop(conn)
}

func (c *Channel) readLoop(conn Conn) {
	for {
		ev, err := conn.ReadEvent()
		if err != nil {
			c.onReadError(conn, err)
			return
		}
		c.dispatch(ev)
	}
}

func (c *Channel) dispatch(ev Event) {
	if ev.Name == EvChatJoined {
		var d struct {
			ChatID string `json:"chatId"`
		}
		if json.Unmarshal(ev.Data, &d) == nil && d.ChatID != "" {
			c.mu.Lock()
			c.joined[d.ChatID] = true
			c.mu.Unlock()
		}
	}
	c.mu.Lock()
	var hs []Handler
	for _, h := range c.handlers[ev.Name] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(ev.Data)
	}
}

func (c *Channel) onReadError(conn Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// a newer connection superseded this one
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.joined = make(map[string]bool)
	if c.intentional {
		c.state = StateDisconnected
		c.mu.Unlock()
		c.metrics.SetConnected(false)
		return
	}
	c.state = StateReconnecting
	c.lastErr = err
	c.mu.Unlock()
	c.metrics.SetConnected(false)
	logger.Warn("realtime_disconnected", "error", err)
	go c.reconnectLoop()
}

// reconnectLoop retries with exponential backoff up to maxAttempts,
// then gives up until the application calls Connect again. Auth
// failures stop the loop immediately.
func (c *Channel) reconnectLoop() {
	for attempt := 1; ; attempt++ {
		if attempt > c.maxAttempts {
			c.mu.Lock()
			c.state = StateGivenUp
			c.mu.Unlock()
			logger.Error("realtime_gave_up", "attempts", c.maxAttempts)
			return
		}
		c.mu.Lock()
		c.attempts = attempt
		c.mu.Unlock()
		c.metrics.Reconnect()
		time.Sleep(backoff(attempt))

		c.mu.Lock()
		if c.intentional {
			c.state = StateDisconnected
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		conn, err := c.establish(context.Background())
		if err == nil {
			logger.Info("realtime_reconnected", "attempt", attempt)
			c.adopt(conn)
			return
		}
		if errors.Is(err, apperr.ErrAuth) {
			c.mu.Lock()
			c.state = StateDisconnected
			c.lastErr = err
			c.mu.Unlock()
			logger.Error("realtime_auth_failed", "error", err)
			return
		}
		logger.Warn("realtime_reconnect_failed", "attempt", attempt, "error", err)
	}
}

func backoff(attempt int) time.Duration {
	d := backoffBase << (attempt - 1)
	if d > backoffCap || d <= 0 {
		return backoffCap
	}
	return d
}

// Emit sends a named event over the live connection.
func (c *Channel) Emit(name string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("realtime channel not connected (state %s)", c.State())
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", name, err)
	}
	return conn.WriteEvent(Event{Name: name, Data: b})
}

// On registers a handler for a named event and returns a removal func.
func (c *Channel) On(name string, h Handler) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[name] == nil {
		c.handlers[name] = make(map[int]Handler)
	}
	id := c.nextID
	c.nextID++
	c.handlers[name][id] = h
	return func() {
		c.mu.Lock()
		delete(c.handlers[name], id)
		c.mu.Unlock()
	}
}

// JoinChat emits a join for the chat session and waits for the
// server's joined acknowledgment (or chat error) within the context
// deadline. Joining an already-joined session is a no-op.
func (c *Channel) JoinChat(ctx context.Context, chatID string) error {
	c.mu.Lock()
	if c.joined[chatID] {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ack := make(chan error, 1)
	offJoined := c.On(EvChatJoined, func(data json.RawMessage) {
		var d struct {
			ChatID string `json:"chatId"`
		}
		if json.Unmarshal(data, &d) == nil && d.ChatID == chatID {
			select {
			case ack <- nil:
			default:
			}
		}
	})
	defer offJoined()
	offErr := c.On(EvChatError, func(data json.RawMessage) {
		var d struct {
			ChatID  string `json:"chatId"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &d) == nil && (d.ChatID == "" || d.ChatID == chatID) {
			select {
			case ack <- fmt.Errorf("chat join rejected: %s", d.Message):
			default:
			}
		}
	})
	defer offErr()

	if err := c.Emit(EvJoinChat, map[string]string{"chatId": chatID}); err != nil {
		return err
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: join chat %s", apperr.ErrTimeout, chatID)
	}
}

// Joined reports whether the chat session has been joined on the
// current connection.
func (c *Channel) Joined(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined[chatID]
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastErr returns the most recent connection error, if any.
func (c *Channel) LastErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Attempts returns the current reconnect attempt counter.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Disconnect closes the connection intentionally; no reconnection is
// attempted until the next Connect.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.joined = make(map[string]bool)
	c.mu.Unlock()
	c.metrics.SetConnected(false)
	if conn != nil {
		_ = conn.Close()
	}
	logger.Info("realtime_disconnect_requested")
}
