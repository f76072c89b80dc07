package session

import (
	"context"
	"encoding/json"

	"github.com/agent-racer/chrome-logs/internal/cdp"
)

// Dialer lists the browser's tabs and opens protocol sessions to them.
type Dialer interface {
	ListTabs(ctx context.Context) ([]cdp.Tab, error)
	Dial(ctx context.Context, tab cdp.Tab) (Conn, error)
}

// Conn is the part of a protocol session the Manager drives.
type Conn interface {
	Call(ctx context.Context, method string, params, result any) error
	Subscribe(method string, fn func(params json.RawMessage)) Subscription
	Done() <-chan struct{}
	Err() error
	Close() error
}

type Subscription interface {
	Unsubscribe()
}

// EndpointDialer adapts a cdp.Endpoint to Dialer.
type EndpointDialer struct {
	Endpoint *cdp.Endpoint
}

func (d EndpointDialer) ListTabs(ctx context.Context) ([]cdp.Tab, error) {
	return d.Endpoint.ListTabs(ctx)
}

func (d EndpointDialer) Dial(ctx context.Context, tab cdp.Tab) (Conn, error) {
	c, err := d.Endpoint.Dial(ctx, tab)
	if err != nil {
		return nil, err
	}
	return cdpConn{c}, nil
}

type cdpConn struct {
	*cdp.Conn
}

func (c cdpConn) Subscribe(method string, fn func(params json.RawMessage)) Subscription {
	return c.Conn.Subscribe(method, fn)
}
