package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/agent-racer/chrome-logs/internal/cdp"
	"github.com/agent-racer/chrome-logs/internal/history"
	"github.com/agent-racer/chrome-logs/internal/ingest"
)

type fakeDialer struct {
	mu        sync.Mutex
	tabs      []cdp.Tab
	listErr   error
	dialErr   error
	enableErr error
	closeErr  error
	block     bool
	dialing   chan struct{}

	dials int
	conns []*fakeConn
}

func (d *fakeDialer) ListTabs(ctx context.Context) ([]cdp.Tab, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	return append([]cdp.Tab(nil), d.tabs...), nil
}

func (d *fakeDialer) Dial(ctx context.Context, tab cdp.Tab) (Conn, error) {
	d.mu.Lock()
	d.dials++
	block, dialing := d.block, d.dialing
	dialErr := d.dialErr
	d.mu.Unlock()

	if block {
		if dialing != nil {
			dialing <- struct{}{}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if dialErr != nil {
		return nil, dialErr
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	c := &fakeConn{
		tab:       tab,
		enableErr: d.enableErr,
		closeErr:  d.closeErr,
		handlers:  make(map[string]map[int]func(json.RawMessage)),
		done:      make(chan struct{}),
	}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) set(fn func(d *fakeDialer)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

type fakeConn struct {
	tab       cdp.Tab
	enableErr error
	closeErr  error

	mu       sync.Mutex
	calls    []string
	handlers map[string]map[int]func(json.RawMessage)
	nextSub  int
	closed   bool

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

func (c *fakeConn) Call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	c.calls = append(c.calls, method)
	c.mu.Unlock()
	if c.enableErr != nil && method == cdp.EnableCommands[1] {
		return c.enableErr
	}
	return nil
}

func (c *fakeConn) Subscribe(method string, fn func(json.RawMessage)) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	if c.handlers[method] == nil {
		c.handlers[method] = make(map[int]func(json.RawMessage))
	}
	c.handlers[method][c.nextSub] = fn
	return &fakeSub{conn: c, method: method, id: c.nextSub}
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.finish(cdp.ErrClosed)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.closeErr
}

// lose simulates the browser dropping the websocket.
func (c *fakeConn) lose() {
	c.finish(io.ErrUnexpectedEOF)
}

func (c *fakeConn) finish(err error) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *fakeConn) emit(method string, params string) {
	c.mu.Lock()
	fns := make([]func(json.RawMessage), 0, len(c.handlers[method]))
	for _, fn := range c.handlers[method] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(json.RawMessage(params))
	}
}

func (c *fakeConn) subscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, hs := range c.handlers {
		n += len(hs)
	}
	return n
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) callLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type fakeSub struct {
	conn   *fakeConn
	method string
	id     int
}

func (s *fakeSub) Unsubscribe() {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	delete(s.conn.handlers[s.method], s.id)
}

var (
	testNow     = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	errRefused  = errors.New("connect: connection refused")
	defaultTabs = []cdp.Tab{
		{ID: "1", Type: "page", Title: "Inbox", URL: "https://mail.example.com"},
		{ID: "2", Type: "page", Title: "My App - Dashboard", URL: "http://localhost:5173/"},
	}
)

func newTestManager(t *testing.T) (*Manager, *fakeDialer, *ingest.Normalizer) {
	t.Helper()
	d := &fakeDialer{tabs: defaultTabs}
	norm := ingest.NewNormalizer(
		ingest.NewFrameFilter(ingest.DefaultIgnoredPatterns),
		history.New[ingest.LogEntry](100),
		history.New[ingest.ErrorEntry](100),
		nil,
	)
	m := NewManager(d, norm, Options{
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		Now:                  func() time.Time { return testNow },
	})
	return m, d, norm
}

func (m *Manager) generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}
