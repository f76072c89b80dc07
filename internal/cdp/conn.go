package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

var (
	// ErrClosed is reported by Err after Close was called.
	ErrClosed = errors.New("cdp: connection closed")
	// ErrNotConnected is returned by Call once the transport is gone.
	ErrNotConnected = errors.New("cdp: not connected")
)

// ProtocolError is the error member of a command reply.
type ProtocolError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *ProtocolError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("cdp error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

type message struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ProtocolError  `json:"error,omitempty"`
}

type handler struct {
	id uint64
	fn func(json.RawMessage)
}

// Conn is a live protocol session with a single tab. Events are dispatched
// on one read goroutine, so handlers observe each stream in arrival order.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex // serialises all ws writes
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan *message

	handlersMu sync.RWMutex // held for reading while a handler runs
	handlers   map[string][]handler
	nextSub    uint64

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func newConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:       ws,
		pending:  make(map[int64]chan *message),
		handlers: make(map[string][]handler),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Done is closed when the connection stops, either because the transport
// was lost or because Close was called.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection stopped. It is nil while the connection is
// live and ErrClosed after a local Close.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Call sends a command and waits for its reply. When result is non-nil the
// reply's result object is decoded into it.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	msg := message{ID: c.nextID.Add(1), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("%s: encode params: %w", method, err)
		}
		msg.Params = raw
	}

	reply := make(chan *message, 1)
	c.mu.Lock()
	c.pending[msg.ID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}()

	if err := c.write(msg); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case <-c.done:
		return fmt.Errorf("%s: %w", method, ErrNotConnected)
	case r := <-reply:
		if r.Error != nil {
			return fmt.Errorf("%s: %w", method, r.Error)
		}
		if result != nil && len(r.Result) > 0 {
			if err := json.Unmarshal(r.Result, result); err != nil {
				return fmt.Errorf("%s: decode result: %w", method, err)
			}
		}
		return nil
	}
}

func (c *Conn) write(msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Subscription detaches an event handler.
type Subscription struct {
	conn   *Conn
	method string
	id     uint64
	once   sync.Once
}

// Unsubscribe removes the handler. It returns only after any in-flight
// invocation of the handler has finished; the handler is never called again.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		c := s.conn
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		hs := c.handlers[s.method]
		for i, h := range hs {
			if h.id == s.id {
				c.handlers[s.method] = append(hs[:i:i], hs[i+1:]...)
				break
			}
		}
		if len(c.handlers[s.method]) == 0 {
			delete(c.handlers, s.method)
		}
	})
}

// Subscribe registers fn for every event named method. fn runs on the read
// goroutine and must not block for long or call Unsubscribe.
func (c *Conn) Subscribe(method string, fn func(params json.RawMessage)) *Subscription {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.nextSub++
	c.handlers[method] = append(c.handlers[method], handler{id: c.nextSub, fn: fn})
	return &Subscription{conn: c, method: method, id: c.nextSub}
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		if msg.ID != 0 {
			c.mu.Lock()
			reply, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if ok {
				reply <- &msg
			}
			continue
		}
		if msg.Method != "" {
			c.dispatch(msg.Method, msg.Params)
		}
	}
}

func (c *Conn) dispatch(method string, params json.RawMessage) {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	for _, h := range c.handlers[method] {
		h.fn(params)
	}
}

// shutdown records the first terminal error and releases the transport.
func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		c.ws.Close()
	})
}

// Close ends the session. It is safe to call more than once; only the first
// call on a live connection can return an error.
func (c *Conn) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.err = ErrClosed
		close(c.done)

		c.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		werr := c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()

		if err := c.ws.Close(); err != nil {
			closeErr = err
		} else if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			closeErr = werr
		}
	})
	return closeErr
}
