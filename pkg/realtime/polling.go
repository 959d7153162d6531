package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const pollWait = 25 * time.Second

// PollingTransport is the degraded fallback: events are fetched with
// long-poll GETs against /events and emitted with POSTs. It exists for
// networks that break websocket upgrades; the channel substitutes it
// at most once per connect sequence.
type PollingTransport struct {
	Client *http.Client
}

func NewPollingTransport() *PollingTransport {
	return &PollingTransport{Client: &http.Client{Timeout: pollWait + 5*time.Second}}
}

func (t *PollingTransport) Name() string { return "polling" }

func (t *PollingTransport) Dial(ctx context.Context, url string) (Conn, error) {
	base := strings.Replace(strings.Replace(url, "wss://", "https://", 1), "ws://", "http://", 1)
	c := &pollConn{
		client: t.Client,
		base:   base + "/events",
		events: make(chan Event, 32),
		done:   make(chan struct{}),
	}
	go c.pollLoop()
	return c, nil
}

type pollConn struct {
	client *http.Client
	base   string
	cursor int64
	events chan Event
	done   chan struct{}
	err    error
}

func (c *pollConn) pollLoop() {
	defer close(c.events)
	for {
		select {
		case <-c.done:
			return
		default:
		}
		evs, next, err := c.fetch()
		if err != nil {
			c.err = err
			return
		}
		c.cursor = next
		for _, ev := range evs {
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
	}
}

func (c *pollConn) fetch() ([]Event, int64, error) {
	req, err := http.NewRequest(http.MethodGet, c.base+"?since="+strconv.FormatInt(c.cursor, 10), nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("poll failed: status %d", resp.StatusCode)
	}
	var out struct {
		Events []Event `json:"events"`
		Next   int64   `json:"next"`
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, 0, fmt.Errorf("invalid poll payload: %w", err)
	}
	return out.Events, out.Next, nil
}

func (c *pollConn) ReadEvent() (Event, error) {
	ev, ok := <-c.events
	if !ok {
		if c.err != nil {
			return Event{}, c.err
		}
		return Event{}, fmt.Errorf("polling connection closed")
	}
	return ev, nil
}

func (c *pollConn) WriteEvent(ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	resp, err := c.client.Post(c.base, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("emit failed: status %d", resp.StatusCode)
	}
	// Auth/handshake replies arrive through the poll loop; writes are
	// fire-and-forget here.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *pollConn) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return nil
}
