package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"astrolink/pkg/apperr"
)

type staticAuth struct {
	token string
	actor string
}

func (a staticAuth) Token() (string, error) { return a.token, nil }
func (a staticAuth) ActorID() string        { return a.actor }

// fakeConn is a scriptable in-memory connection. onWrite runs for every
// written event and usually replies through c.in.
type fakeConn struct {
	in      chan Event
	closed  chan struct{}
	once    sync.Once
	onWrite func(c *fakeConn, ev Event)

	mu      sync.Mutex
	written []Event
}

func newFakeConn(onWrite func(c *fakeConn, ev Event)) *fakeConn {
	return &fakeConn{
		in:      make(chan Event, 16),
		closed:  make(chan struct{}),
		onWrite: onWrite,
	}
}

// ackAuth replies auth_ack to the auth event, the usual happy path.
func ackAuth(c *fakeConn, ev Event) {
	if ev.Name == EvAuth {
		c.in <- Event{Name: EvAuthAck}
	}
}

func (c *fakeConn) ReadEvent() (Event, error) {
	select {
	case ev := <-c.in:
		return ev, nil
	case <-c.closed:
		return Event{}, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteEvent(ev Event) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	c.written = append(c.written, ev)
	c.mu.Unlock()
	if c.onWrite != nil {
		c.onWrite(c, ev)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) writes(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.written {
		if ev.Name == name {
			n++
		}
	}
	return n
}

// fakeTransport dials scripted connections via next.
type fakeTransport struct {
	name string
	next func() (Conn, error)

	mu    sync.Mutex
	dials int
}

func (t *fakeTransport) Name() string { return t.name }

func (t *fakeTransport) Dial(ctx context.Context, url string) (Conn, error) {
	t.mu.Lock()
	t.dials++
	t.mu.Unlock()
	return t.next()
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func alwaysConn(c *fakeConn) func() (Conn, error) {
	return func() (Conn, error) { return c, nil }
}

func waitForState(t *testing.T, c *Channel, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.State(), want)
}

func TestConnectPerformsAuthHandshake(t *testing.T) {
	conn := newFakeConn(ackAuth)
	tr := &fakeTransport{name: "fake", next: alwaysConn(conn)}
	ch := New("ws://test", "astro", staticAuth{token: "tok", actor: "64f1b2c3d4e5f60718293a4b"},
		WithTransport(tr), WithFallback(nil))

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if ch.State() != StateConnected {
		t.Fatalf("state = %s, want connected", ch.State())
	}

	conn.mu.Lock()
	first := conn.written[0]
	conn.mu.Unlock()
	if first.Name != EvAuth {
		t.Fatalf("first write = %s, want %s", first.Name, EvAuth)
	}
	var creds map[string]string
	if err := json.Unmarshal(first.Data, &creds); err != nil {
		t.Fatalf("auth payload: %v", err)
	}
	if creds["token"] != "tok" || creds["astrologerId"] != "64f1b2c3d4e5f60718293a4b" {
		t.Fatalf("auth payload = %v", creds)
	}
}

func TestConnectAuthErrorSkipsFallback(t *testing.T) {
	primary := &fakeTransport{name: "primary", next: alwaysConn(newFakeConn(func(c *fakeConn, ev Event) {
		if ev.Name == EvAuth {
			c.in <- Event{Name: EvAuthError, Data: json.RawMessage(`"bad token"`)}
		}
	}))}
	fallback := &fakeTransport{name: "fallback", next: alwaysConn(newFakeConn(ackAuth))}
	ch := New("ws://test", "astro", staticAuth{token: "tok"},
		WithTransport(primary), WithFallback(fallback))

	err := ch.Connect(context.Background())
	if !errors.Is(err, apperr.ErrAuth) {
		t.Fatalf("expected ErrAuth; got %v", err)
	}
	if fallback.dialCount() != 0 {
		t.Fatalf("fallback dialed %d times on an auth failure", fallback.dialCount())
	}
	if ch.State() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", ch.State())
	}
}

func TestConnectFallsBackOnce(t *testing.T) {
	primary := &fakeTransport{name: "primary", next: func() (Conn, error) {
		return nil, errors.New("dial refused")
	}}
	fallback := &fakeTransport{name: "fallback", next: alwaysConn(newFakeConn(ackAuth))}
	ch := New("ws://test", "astro", staticAuth{token: "tok"},
		WithTransport(primary), WithFallback(fallback))

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if ch.State() != StateConnected {
		t.Fatalf("state = %s, want connected", ch.State())
	}
	if primary.dialCount() != 1 || fallback.dialCount() != 1 {
		t.Fatalf("dials primary=%d fallback=%d, want 1/1", primary.dialCount(), fallback.dialCount())
	}
}

func TestConnectIsThrottled(t *testing.T) {
	tr := &fakeTransport{name: "fake", next: func() (Conn, error) {
		return nil, errors.New("dial refused")
	}}
	ch := New("ws://test", "astro", staticAuth{token: "tok"},
		WithTransport(tr), WithFallback(nil), WithConnectInterval(time.Hour))

	if err := ch.Connect(context.Background()); err == nil {
		t.Fatalf("expected dial error")
	}
	// inside the interval the second attempt is silently dropped
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("throttled Connect returned error: %v", err)
	}
	if tr.dialCount() != 1 {
		t.Fatalf("dials = %d, want 1", tr.dialCount())
	}
}

func TestDispatchAndEmit(t *testing.T) {
	conn := newFakeConn(ackAuth)
	tr := &fakeTransport{name: "fake", next: alwaysConn(conn)}
	ch := New("ws://test", "astro", staticAuth{token: "tok"},
		WithTransport(tr), WithFallback(nil))
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	got := make(chan json.RawMessage, 1)
	remove := ch.On(EvChatMessage, func(data json.RawMessage) { got <- data })
	defer remove()

	conn.in <- Event{Name: EvChatMessage, Data: json.RawMessage(`{"message":"hi"}`)}
	select {
	case data := <-got:
		var m struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &m) != nil || m.Message != "hi" {
			t.Fatalf("handler payload = %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler never fired")
	}

	if err := ch.Emit(EvTyping, map[string]string{"chatId": "C1"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if conn.writes(EvTyping) != 1 {
		t.Fatalf("typing writes = %d, want 1", conn.writes(EvTyping))
	}
}

func TestJoinChatWaitsForAck(t *testing.T) {
	conn := newFakeConn(func(c *fakeConn, ev Event) {
		switch ev.Name {
		case EvAuth:
			c.in <- Event{Name: EvAuthAck}
		case EvJoinChat:
			c.in <- Event{Name: EvChatJoined, Data: json.RawMessage(`{"chatId":"C1"}`)}
		}
	})
	tr := &fakeTransport{name: "fake", next: alwaysConn(conn)}
	ch := New("ws://test", "astro", staticAuth{token: "tok"},
		WithTransport(tr), WithFallback(nil))
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ch.JoinChat(ctx, "C1"); err != nil {
		t.Fatalf("JoinChat: %v", err)
	}
	if !ch.Joined("C1") {
		t.Fatalf("chat not marked joined")
	}
	// joining again is a no-op
	if err := ch.JoinChat(ctx, "C1"); err != nil {
		t.Fatalf("second JoinChat: %v", err)
	}
	if conn.writes(EvJoinChat) != 1 {
		t.Fatalf("join writes = %d, want 1", conn.writes(EvJoinChat))
	}
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	conn := newFakeConn(ackAuth)
	first := true
	tr := &fakeTransport{name: "fake"}
	tr.next = func() (Conn, error) {
		if first {
			first = false
			return conn, nil
		}
		return nil, errors.New("dial refused")
	}
	ch := New("ws://test", "astro", staticAuth{token: "tok"},
		WithTransport(tr), WithFallback(nil), WithMaxReconnectAttempts(2))
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_ = conn.Close()
	waitForState(t, ch, StateGivenUp)
	// initial dial plus two failed reconnects
	if tr.dialCount() != 3 {
		t.Fatalf("dials = %d, want 3", tr.dialCount())
	}
}

func TestReconnectStopsOnAuthError(t *testing.T) {
	goodConn := newFakeConn(ackAuth)
	first := true
	tr := &fakeTransport{name: "fake"}
	tr.next = func() (Conn, error) {
		if first {
			first = false
			return goodConn, nil
		}
		return newFakeConn(func(c *fakeConn, ev Event) {
			if ev.Name == EvAuth {
				c.in <- Event{Name: EvAuthError, Data: json.RawMessage(`"expired"`)}
			}
		}), nil
	}
	ch := New("ws://test", "astro", staticAuth{token: "tok"},
		WithTransport(tr), WithFallback(nil), WithMaxReconnectAttempts(5))
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_ = goodConn.Close()
	waitForState(t, ch, StateDisconnected)
	if !errors.Is(ch.LastErr(), apperr.ErrAuth) {
		t.Fatalf("LastErr = %v, want ErrAuth", ch.LastErr())
	}
	// one initial dial plus exactly one auth-failed reconnect
	if tr.dialCount() != 2 {
		t.Fatalf("dials = %d, want 2", tr.dialCount())
	}
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	conn := newFakeConn(ackAuth)
	tr := &fakeTransport{name: "fake", next: alwaysConn(conn)}
	ch := New("ws://test", "astro", staticAuth{token: "tok"},
		WithTransport(tr), WithFallback(nil))
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ch.Disconnect()
	waitForState(t, ch, StateDisconnected)
	time.Sleep(100 * time.Millisecond)
	if tr.dialCount() != 1 {
		t.Fatalf("dials = %d after intentional disconnect, want 1", tr.dialCount())
	}
	if ch.Joined("C1") {
		t.Fatalf("join state survived disconnect")
	}
}
