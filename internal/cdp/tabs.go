package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// Tab is one entry of the endpoint's /json/list response.
type Tab struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl,omitempty"`
}

// Endpoint is the remote-debugging HTTP/websocket endpoint of a browser,
// e.g. localhost:9222.
type Endpoint struct {
	Host string
	Port int

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// NewEndpoint returns an endpoint whose HTTP and websocket handshakes are
// bounded by timeout.
func NewEndpoint(host string, port int, timeout time.Duration) *Endpoint {
	return &Endpoint{
		Host:       host,
		Port:       port,
		HTTPClient: &http.Client{Timeout: timeout},
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
	}
}

func (e *Endpoint) addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ListTabs fetches the targets currently exposed by the browser. An empty
// list is a valid result.
func (e *Endpoint) ListTabs(ctx context.Context) ([]Tab, error) {
	u := url.URL{Scheme: "http", Host: e.addr(), Path: "/json/list"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	client := e.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("list tabs: GET %s: %d %s", u.Path, resp.StatusCode, string(body))
	}

	tabs := []Tab{}
	if err := json.NewDecoder(resp.Body).Decode(&tabs); err != nil {
		return nil, fmt.Errorf("list tabs: decode: %w", err)
	}
	if tabs == nil {
		tabs = []Tab{}
	}
	return tabs, nil
}

// Dial opens a protocol session attached to tab.
func (e *Endpoint) Dial(ctx context.Context, tab Tab) (*Conn, error) {
	target := tab.WebSocketDebuggerURL
	if target == "" {
		u := url.URL{Scheme: "ws", Host: e.addr(), Path: "/devtools/page/" + tab.ID}
		target = u.String()
	}

	dialer := e.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return newConn(ws), nil
}
