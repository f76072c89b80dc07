// Package client follows the collector's /ws live feed.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/agent-racer/chrome-logs/internal/server"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// WSClient manages the WebSocket connection to the collector.
type WSClient struct {
	url string

	mu      sync.Mutex
	writeMu sync.Mutex // serialises pings
	conn    *websocket.Conn
	seq     uint64
	gaps    int
	pingCtx context.CancelFunc // cancels the active ping goroutine
}

// NewWSClient creates a client for the feed at rawURL. A non-empty token is
// sent as the token query parameter.
func NewWSClient(rawURL, token string) (*WSClient, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("feed url %q: unsupported scheme %q", rawURL, u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return &WSClient{url: u.String()}, nil
}

func (c *WSClient) URL() string { return c.url }

// --- Bubble Tea messages ---

// WSConnectedMsg is sent when the WebSocket connects.
type WSConnectedMsg struct{}

// WSDisconnectedMsg is sent when the connection drops.
type WSDisconnectedMsg struct{ Err error }

// WSRetryMsg reports a failed dial; Listen keeps trying.
type WSRetryMsg struct {
	Err   error
	Delay time.Duration
}

type WSSnapshotMsg struct{ Payload server.SnapshotPayload }

type WSDeltaMsg struct{ Payload server.DeltaPayload }

type WSStatusMsg struct{ Payload server.StatusPayload }

type wireMessage struct {
	Type    server.MessageType `json:"type"`
	Seq     uint64             `json:"seq"`
	Payload json.RawMessage    `json:"payload"`
}

// Listen returns a Bubble Tea command that makes one connection attempt
// after delay. On failure it returns WSRetryMsg carrying the next delay.
func (c *WSClient) Listen(ctx context.Context, delay time.Duration) tea.Cmd {
	return func() tea.Msg {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			return WSRetryMsg{Err: err, Delay: NextDelay(delay)}
		}

		c.mu.Lock()
		if c.pingCtx != nil {
			c.pingCtx()
		}
		pingCtx, pingCancel := context.WithCancel(ctx)
		c.conn = conn
		c.seq = 0
		c.pingCtx = pingCancel
		c.mu.Unlock()

		go c.pingLoop(pingCtx, conn)

		return WSConnectedMsg{}
	}
}

// NextDelay doubles d within [reconnectBaseDelay, reconnectMaxDelay].
func NextDelay(d time.Duration) time.Duration {
	if d < reconnectBaseDelay {
		return reconnectBaseDelay
	}
	return min(d*2, reconnectMaxDelay)
}

// ReadLoop returns a Bubble Tea command that reads messages from the connection.
// It should be started after receiving WSConnectedMsg.
func (c *WSClient) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return WSDisconnectedMsg{Err: fmt.Errorf("no connection")}
		}

		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			return nil
		})
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
				}
				c.mu.Unlock()
				conn.Close()
				return WSDisconnectedMsg{Err: err}
			}

			var msg wireMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			c.track(msg.Seq)

			if teaMsg := dispatch(msg); teaMsg != nil {
				return teaMsg
			}
		}
	}
}

// track records seq and counts gaps in the sequence.
func (c *WSClient) track(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq != 0 && seq != c.seq+1 {
		c.gaps++
	}
	c.seq = seq
}

// Seq returns the last seen sequence number.
func (c *WSClient) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Gaps returns how many times the sequence skipped ahead.
func (c *WSClient) Gaps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gaps
}

// Close drops the current connection, if any.
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pingCtx != nil {
		c.pingCtx()
		c.pingCtx = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// pingLoop sends periodic pings on the given connection. It exits when the
// context is cancelled or the connection changes.
func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func dispatch(msg wireMessage) tea.Msg {
	switch msg.Type {
	case server.MsgSnapshot:
		var p server.SnapshotPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSSnapshotMsg{Payload: p}
		}
	case server.MsgDelta:
		var p server.DeltaPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSDeltaMsg{Payload: p}
		}
	case server.MsgStatus:
		var p server.StatusPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSStatusMsg{Payload: p}
		}
	}
	return nil
}
