package server

import (
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agent-racer/chrome-logs/internal/history"
	"github.com/agent-racer/chrome-logs/internal/ingest"
	"github.com/agent-racer/chrome-logs/internal/session"
)

var ErrTooManyConnections = errors.New("too many websocket connections")

// FeedSource supplies the entries ingested before the broadcaster was
// attached.
type FeedSource interface {
	GetLogs(count, from int) []ingest.LogEntry
	GetErrors(count, from int) []ingest.ErrorEntry
}

type StatusSource interface {
	Snapshot() session.Snapshot
}

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// Broadcaster fans newly ingested entries out to websocket viewers. It is an
// ingest.Observer; entries are batched for the throttle interval.
//
// Snapshots are built from the entries the broadcaster has already sent, not
// from the live histories, so an entry reaches a viewer exactly once: either
// in its snapshot or in a later delta. Every broadcast and every snapshot
// happens under feedMu, which keeps each viewer's seq sequence contiguous.
type Broadcaster struct {
	status       StatusSource
	throttle     time.Duration
	snapshotSize int
	maxClients   int
	logger       *zap.Logger

	mu      sync.RWMutex
	clients map[*client]bool

	seq atomic.Uint64

	feedMu        sync.Mutex // lock order: feedMu, then mu
	pendingLogs   []ingest.LogEntry
	pendingErrors []ingest.ErrorEntry
	sentLogs      *history.History[ingest.LogEntry]
	sentErrors    *history.History[ingest.ErrorEntry]
	flushTimer    *time.Timer

	statusTicker *time.Ticker
	stop         chan struct{}
	stopOnce     sync.Once
}

// NewBroadcaster seeds the snapshot window from feed. It must be attached
// as an observer before ingestion starts.
func NewBroadcaster(feed FeedSource, status StatusSource, throttle, statusInterval time.Duration, snapshotSize, maxClients int, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Broadcaster{
		status:       status,
		throttle:     throttle,
		snapshotSize: snapshotSize,
		maxClients:   maxClients,
		logger:       logger,
		clients:      make(map[*client]bool),
		sentLogs:     history.New[ingest.LogEntry](snapshotSize),
		sentErrors:   history.New[ingest.ErrorEntry](snapshotSize),
		statusTicker: time.NewTicker(statusInterval),
		stop:         make(chan struct{}),
	}
	if feed != nil && snapshotSize > 0 {
		for _, e := range feed.GetLogs(snapshotSize, 0) {
			b.sentLogs.PushFront(e)
		}
		for _, e := range feed.GetErrors(snapshotSize, 0) {
			b.sentErrors.PushFront(e)
		}
	}
	go b.statusLoop()
	return b
}

// AddClient registers conn and queues its initial snapshot. The snapshot
// carries the seq of the last broadcast, so the client's next message is
// exactly one higher. A refused client consumes no seq.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, 64),
	}
	sess := b.status.Snapshot()

	b.feedMu.Lock()
	defer b.feedMu.Unlock()

	b.mu.Lock()
	if b.maxClients > 0 && len(b.clients) >= b.maxClients {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	data, err := encode(MsgSnapshot, b.seq.Load(), b.snapshot(sess))
	if err != nil {
		b.logger.Error("snapshot marshal", zap.Error(err))
	} else {
		c.send <- data // buffer is empty
	}
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) ObserveLog(e ingest.LogEntry) {
	b.feedMu.Lock()
	defer b.feedMu.Unlock()
	b.pendingLogs = append(b.pendingLogs, e)
	b.scheduleFlush()
}

func (b *Broadcaster) ObserveError(e ingest.ErrorEntry) {
	b.feedMu.Lock()
	defer b.feedMu.Unlock()
	b.pendingErrors = append(b.pendingErrors, e)
	b.scheduleFlush()
}

// scheduleFlush must be called with feedMu held.
func (b *Broadcaster) scheduleFlush() {
	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) flush() {
	b.feedMu.Lock()
	defer b.feedMu.Unlock()

	logs, errs := b.pendingLogs, b.pendingErrors
	b.pendingLogs, b.pendingErrors = nil, nil
	b.flushTimer = nil
	if len(logs) == 0 && len(errs) == 0 {
		return
	}

	for _, e := range logs {
		b.sentLogs.PushFront(e)
	}
	for _, e := range errs {
		b.sentErrors.PushFront(e)
	}
	b.broadcast(MsgDelta, DeltaPayload{Logs: logs, Errors: errs})
}

func (b *Broadcaster) statusLoop() {
	for {
		select {
		case <-b.stop:
			return
		case <-b.statusTicker.C:
			payload := StatusPayload{Session: b.status.Snapshot()}
			b.feedMu.Lock()
			b.broadcast(MsgStatus, payload)
			b.feedMu.Unlock()
		}
	}
}

// snapshot returns the already-sent window, oldest first. Caller holds feedMu.
func (b *Broadcaster) snapshot(sess session.Snapshot) SnapshotPayload {
	logs := b.sentLogs.Slice(0, b.snapshotSize)
	errs := b.sentErrors.Slice(0, b.snapshotSize)
	slices.Reverse(logs)
	slices.Reverse(errs)
	return SnapshotPayload{Session: sess, Logs: logs, Errors: errs}
}

func encode(typ MessageType, seq uint64, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{Type: typ, Seq: seq, Payload: payload})
}

// broadcast must be called with feedMu held.
func (b *Broadcaster) broadcast(typ MessageType, payload any) {
	data, err := encode(typ, b.seq.Add(1), payload)
	if err != nil {
		b.logger.Error("broadcast marshal", zap.Error(err))
		return
	}

	// Sends happen under the read lock so RemoveClient cannot close a
	// channel mid-send.
	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		b.logger.Warn("ws client too slow, disconnecting", zap.String("remote", c.conn.RemoteAddr().String()))
		b.RemoveClient(c)
	}
}

// Stop halts the status loop and disconnects every client.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		b.statusTicker.Stop()

		b.feedMu.Lock()
		if b.flushTimer != nil {
			b.flushTimer.Stop()
			b.flushTimer = nil
		}
		b.feedMu.Unlock()

		b.mu.Lock()
		for c := range b.clients {
			delete(b.clients, c)
			close(c.send)
		}
		b.mu.Unlock()
	})
}
