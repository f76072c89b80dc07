// Package session owns the single live connection to an instrumented tab.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agent-racer/chrome-logs/internal/cdp"
	"github.com/agent-racer/chrome-logs/internal/ingest"
)

// DefaultMaxReconnectAttempts bounds recovery when Options leaves it unset.
const DefaultMaxReconnectAttempts = 3

// Options configures a Manager. The zero value is usable.
type Options struct {
	// MaxReconnectAttempts is how many consecutive reconnects are tried
	// after a lost transport. Zero means DefaultMaxReconnectAttempts; a
	// negative value disables recovery.
	MaxReconnectAttempts int
	Logger               *zap.Logger // defaults to a no-op logger
	Now                  func() time.Time
}

func (o Options) maxReconnectAttempts() int {
	switch {
	case o.MaxReconnectAttempts == 0:
		return DefaultMaxReconnectAttempts
	case o.MaxReconnectAttempts < 0:
		return 0
	}
	return o.MaxReconnectAttempts
}

// Snapshot is a point-in-time view of the manager's state.
type Snapshot struct {
	SessionID         string    `json:"sessionId,omitempty"`
	TabTitle          string    `json:"tabTitle,omitempty"`
	TabURL            string    `json:"tabUrl,omitempty"`
	ConnectedAt       time.Time `json:"connectedAt"`
	State             State     `json:"state"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
}

type activeSession struct {
	id          string
	tab         cdp.Tab
	conn        Conn
	subs        []Subscription
	connectedAt time.Time
}

// Manager starts, stops and recovers the collector's session. Every
// connection is tagged with a generation; Start and Stop advance it, so a
// lost-transport signal or an in-flight reconnect from an older generation
// is discarded instead of resurrecting a superseded session.
type Manager struct {
	dialer Dialer
	norm   *ingest.Normalizer
	logger *zap.Logger
	now    func() time.Time

	opMu sync.Mutex // serialises connection I/O

	mu              sync.RWMutex
	active          *activeSession
	policy          *Policy
	epoch           uint64
	lastTitle       string // substring used to find the tab; empty when recovery is off
	cancelReconnect context.CancelFunc

	lost chan uint64
}

// NewManager returns a manager with no session. Call Run to enable
// reconnects after a lost transport.
func NewManager(dialer Dialer, norm *ingest.Normalizer, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		dialer: dialer,
		norm:   norm,
		logger: logger,
		now:    now,
		policy: NewPolicy(opts.maxReconnectAttempts()),
		lost:   make(chan uint64, 8),
	}
}

// Start replaces any current session with one attached to the first tab
// whose title contains title. A failed Start leaves no session behind: the
// previous one is always stopped first.
func (m *Manager) Start(ctx context.Context, title string) error {
	epoch := m.advance()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.teardown()
	m.mu.Lock()
	m.policy.Reset()
	m.mu.Unlock()

	return m.open(ctx, title, epoch)
}

// Stop closes the current session, if any, and cancels a pending reconnect.
// State is cleared even when closing fails; the close error is returned
// wrapped in ErrCloseFailed for reporting only.
func (m *Manager) Stop() error {
	m.advance()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	err := m.teardown()
	m.mu.Lock()
	m.policy.Reset()
	m.mu.Unlock()
	return err
}

// advance starts a new generation and cancels any reconnect in progress.
func (m *Manager) advance() uint64 {
	m.mu.Lock()
	m.epoch++
	epoch := m.epoch
	m.lastTitle = ""
	cancel := m.cancelReconnect
	m.cancelReconnect = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return epoch
}

// CurrentTabTitle returns the title of the connected tab.
func (m *Manager) CurrentTabTitle() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return "", false
	}
	return m.active.tab.Title, true
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := Snapshot{
		State:             m.policy.State(),
		ReconnectAttempts: m.policy.Attempts(),
	}
	if s := m.active; s != nil {
		snap.SessionID = s.id
		snap.TabTitle = s.tab.Title
		snap.TabURL = s.tab.URL
		snap.ConnectedAt = s.connectedAt
	}
	return snap
}

// Run consumes transport-lost signals until ctx is done. It is the only
// place automatic reconnects happen.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case epoch := <-m.lost:
			m.handleLost(ctx, epoch)
		}
	}
}

func (m *Manager) handleLost(ctx context.Context, epoch uint64) {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if epoch != m.epoch || m.lastTitle == "" {
		m.mu.Unlock()
		m.logger.Debug("ignoring stale transport-lost signal", zap.Uint64("generation", epoch))
		return
	}
	title := m.lastTitle
	attempt, ok := m.policy.Trigger()
	if !ok {
		m.lastTitle = ""
		m.mu.Unlock()
		m.logger.Error("max reconnect attempts reached",
			zap.String("title", title), zap.Int("attempts", attempt))
		m.opMu.Lock()
		m.teardown()
		m.opMu.Unlock()
		return
	}
	m.cancelReconnect = cancel
	m.mu.Unlock()

	m.logger.Warn("attempting reconnect", zap.String("title", title), zap.Int("attempt", attempt))

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.teardown()

	m.mu.Lock()
	if epoch != m.epoch {
		// Start or Stop got in while we waited for the lock.
		m.mu.Unlock()
		return
	}
	m.epoch++
	next := m.epoch
	m.lastTitle = title
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancelReconnect = nil
		m.mu.Unlock()
	}()

	if err := m.open(rctx, title, next); err != nil {
		m.mu.Lock()
		if next == m.epoch {
			m.policy.Failed()
		}
		m.mu.Unlock()
		m.logger.Error("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
	}
}

// open connects to the tab matching title and installs it as the active
// session of generation epoch. The caller holds opMu.
func (m *Manager) open(ctx context.Context, title string, epoch uint64) error {
	tabs, err := m.dialer.ListTabs(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	tab, ok := findTab(tabs, title)
	if !ok {
		return fmt.Errorf("%w: no tab title contains %q", ErrTabNotFound, title)
	}

	conn, err := m.dialer.Dial(ctx, tab)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Subscribe before enabling so messages replayed by Runtime.enable land.
	subs := m.subscribe(conn)

	g, gctx := errgroup.WithContext(ctx)
	for _, method := range cdp.EnableCommands {
		g.Go(func() error {
			return conn.Call(gctx, method, nil, nil)
		})
	}
	if err := g.Wait(); err != nil {
		release(subs, conn)
		return fmt.Errorf("%w: enable domains: %w", ErrConnectionFailed, err)
	}

	s := &activeSession{
		id:          uuid.NewString(),
		tab:         tab,
		conn:        conn,
		subs:        subs,
		connectedAt: m.now(),
	}

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		release(subs, conn)
		return fmt.Errorf("%w: superseded by a newer session", ErrConnectionFailed)
	}
	m.active = s
	m.lastTitle = title
	m.policy.Connected()
	m.mu.Unlock()

	m.logger.Info("connected",
		zap.String("session", s.id),
		zap.String("tab", tab.Title),
		zap.String("url", tab.URL))

	go m.watch(conn, epoch)
	return nil
}

func (m *Manager) subscribe(conn Conn) []Subscription {
	streams := m.norm.Streams()
	subs := make([]Subscription, 0, len(streams))
	for _, st := range streams {
		subs = append(subs, conn.Subscribe(st.Method, func(params json.RawMessage) {
			if err := st.Handle(params); err != nil {
				m.logger.Warn("dropping malformed event", zap.String("method", st.Method), zap.Error(err))
			}
		}))
	}
	return subs
}

// watch reports a transport loss of conn. Local closes are not reported.
func (m *Manager) watch(conn Conn, epoch uint64) {
	<-conn.Done()
	err := conn.Err()
	if errors.Is(err, cdp.ErrClosed) {
		return
	}
	m.logger.Warn("transport lost", zap.Uint64("generation", epoch), zap.Error(err))
	select {
	case m.lost <- epoch:
	default:
		m.logger.Warn("transport-lost signal dropped, control loop busy")
	}
}

// teardown unsubscribes and closes the active session. The caller holds
// opMu. The policy is left alone.
func (m *Manager) teardown() error {
	m.mu.RLock()
	s := m.active
	m.mu.RUnlock()
	if s == nil {
		return nil
	}

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	err := s.conn.Close()

	m.mu.Lock()
	m.active = nil
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("error while disconnecting", zap.String("session", s.id), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrCloseFailed, err)
	}
	m.logger.Info("disconnected", zap.String("session", s.id), zap.String("tab", s.tab.Title))
	return nil
}

func release(subs []Subscription, conn Conn) {
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	conn.Close()
}

func findTab(tabs []cdp.Tab, title string) (cdp.Tab, bool) {
	for _, t := range tabs {
		if strings.Contains(t.Title, title) {
			return t, true
		}
	}
	return cdp.Tab{}, false
}
