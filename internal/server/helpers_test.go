package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agent-racer/chrome-logs/internal/cdp"
	"github.com/agent-racer/chrome-logs/internal/history"
	"github.com/agent-racer/chrome-logs/internal/ingest"
	"github.com/agent-racer/chrome-logs/internal/session"
	"github.com/agent-racer/chrome-logs/internal/tools"
)

type fakeTabs struct {
	tabs []cdp.Tab
	err  error
}

func (f *fakeTabs) ListTabs(ctx context.Context) ([]cdp.Tab, error) {
	return f.tabs, f.err
}

// fakeSessions stands in for session.Manager.
type fakeSessions struct {
	tabs  []cdp.Tab
	err   error
	title string
}

func (f *fakeSessions) Start(ctx context.Context, title string) error {
	f.title = ""
	if f.err != nil {
		return f.err
	}
	for _, t := range f.tabs {
		if strings.Contains(t.Title, title) {
			f.title = t.Title
			return nil
		}
	}
	return fmt.Errorf("%w: no tab title contains %q", session.ErrTabNotFound, title)
}

func (f *fakeSessions) Stop() error {
	f.title = ""
	return nil
}

func (f *fakeSessions) CurrentTabTitle() (string, bool) {
	return f.title, f.title != ""
}

func (f *fakeSessions) Snapshot() session.Snapshot {
	if f.title == "" {
		return session.Snapshot{State: session.Disconnected}
	}
	return session.Snapshot{SessionID: "s-1", TabTitle: f.title, State: session.Connected}
}

var testTabs = []cdp.Tab{{ID: "1", Type: "page", Title: "My App", URL: "http://localhost:5173/"}}

type fixture struct {
	tabs     *fakeTabs
	sessions *fakeSessions
	norm     *ingest.Normalizer
	svc      *tools.Service
}

func newFixture() *fixture {
	f := &fixture{
		tabs:     &fakeTabs{tabs: testTabs},
		sessions: &fakeSessions{tabs: testTabs},
		norm: ingest.NewNormalizer(
			ingest.NewFrameFilter(ingest.DefaultIgnoredPatterns),
			history.New[ingest.LogEntry](100),
			history.New[ingest.ErrorEntry](100),
			nil,
		),
	}
	f.svc = tools.NewService(f.tabs, f.sessions, f.norm)
	return f
}

func (f *fixture) broadcaster(maxClients int) *Broadcaster {
	return NewBroadcaster(f.svc, f.sessions, 10*time.Millisecond, time.Hour, 20, maxClients, nil)
}

// dialTestWS creates a test HTTP server that upgrades to WebSocket and returns
// the server-side connection. The caller must close both the server and the
// returned connection.
func dialTestWS(t *testing.T) (*httptest.Server, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	// Only the server-side conn is needed; keep the client open until cleanup.
	t.Cleanup(func() { clientConn.Close() })

	select {
	case serverConn := <-connCh:
		return srv, serverConn
	case <-time.After(2 * time.Second):
		srv.Close()
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil
	}
}
