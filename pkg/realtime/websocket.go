package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

// WebsocketTransport dials the backend's /ws endpoint with JSON frames.
type WebsocketTransport struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func NewWebsocketTransport() *WebsocketTransport {
	return &WebsocketTransport{
		Dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (t *WebsocketTransport) Name() string { return "websocket" }

func (t *WebsocketTransport) Dial(ctx context.Context, url string) (Conn, error) {
	d := t.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	ws, resp, err := d.DialContext(ctx, url+"/ws", t.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
	// gorilla allows one concurrent writer; serialize here
	wmu sync.Mutex
}

func (c *wsConn) ReadEvent() (Event, error) {
	var ev Event
	if err := c.ws.ReadJSON(&ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func (c *wsConn) WriteEvent(ev Event) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteJSON(ev)
}

func (c *wsConn) Close() error {
	c.wmu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.ws.Close()
}
