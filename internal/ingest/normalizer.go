// Package ingest turns protocol events into log and error entries and
// records them in bounded histories.
package ingest

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agent-racer/chrome-logs/internal/cdp"
	"github.com/agent-racer/chrome-logs/internal/history"
)

// Observer is notified after an entry has been stored. Calls arrive on the
// connection's read goroutine and must not block.
type Observer interface {
	ObserveLog(LogEntry)
	ObserveError(ErrorEntry)
}

// Stream binds one upstream event name to its handler.
type Stream struct {
	Method string
	Handle func(params json.RawMessage) error
}

type Normalizer struct {
	filter FrameFilter
	logs   *history.History[LogEntry]
	errors *history.History[ErrorEntry]
	now    func() time.Time
	logger *zap.Logger

	mu        sync.RWMutex
	observers []Observer
}

func NewNormalizer(filter FrameFilter, logs *history.History[LogEntry], errs *history.History[ErrorEntry], logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		filter: filter,
		logs:   logs,
		errors: errs,
		now:    time.Now,
		logger: logger,
	}
}

func (n *Normalizer) Logs() *history.History[LogEntry]     { return n.logs }
func (n *Normalizer) Errors() *history.History[ErrorEntry] { return n.errors }

func (n *Normalizer) AddObserver(o Observer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observers = append(n.observers, o)
}

// Streams lists the three event streams a session subscribes to.
func (n *Normalizer) Streams() []Stream {
	return []Stream{
		{Method: cdp.EventConsoleAPICalled, Handle: decodeInto(n.HandleConsoleAPICalled)},
		{Method: cdp.EventExceptionThrown, Handle: decodeInto(n.HandleExceptionThrown)},
		{Method: cdp.EventLogEntryAdded, Handle: decodeInto(n.HandleLogEntryAdded)},
	}
}

func decodeInto[E any](handle func(E)) func(json.RawMessage) error {
	return func(params json.RawMessage) error {
		var ev E
		if err := json.Unmarshal(params, &ev); err != nil {
			return fmt.Errorf("decode %T: %w", ev, err)
		}
		handle(ev)
		return nil
	}
}

func (n *Normalizer) HandleConsoleAPICalled(ev cdp.ConsoleAPICalled) {
	message := ev.Message()
	if ev.Type == cdp.ConsoleError || ev.Type == cdp.ConsoleWarning {
		stack, top := n.filter.FormatStack(ev.StackTrace)
		n.addError(message, stack, top)
		return
	}
	n.addLog(message)
}

func (n *Normalizer) HandleExceptionThrown(ev cdp.ExceptionThrown) {
	d := ev.ExceptionDetails
	stack, top := n.filter.FormatStack(d.StackTrace)
	n.addError("[EXCEPTION] "+d.Message(), stack, top)
}

func (n *Normalizer) HandleLogEntryAdded(ev cdp.LogEntryAdded) {
	e := ev.Entry
	message := fmt.Sprintf("[LOG][%s] %s: %s", e.Level, e.Source, e.Text)
	if e.Level == cdp.LevelError || e.Level == cdp.LevelWarning {
		stack, top := n.filter.FormatStack(e.StackTrace)
		n.addError(message, stack, top)
		return
	}
	n.addLog(message)
}

func (n *Normalizer) addLog(message string) {
	entry := LogEntry{Message: message, Timestamp: n.now().UnixMilli()}
	n.logger.Debug("console", zap.String("message", message))
	n.logs.PushFront(entry)

	for _, o := range n.snapshotObservers() {
		o.ObserveLog(entry)
	}
}

func (n *Normalizer) addError(message string, stack []string, topURL string) {
	topFrame := ""
	if len(stack) > 0 {
		topFrame = stack[0]
	}
	source := topURL
	if source == "" {
		source = UnknownSource
	}

	entry := ErrorEntry{
		Message:    message,
		Timestamp:  n.now().UnixMilli(),
		Stack:      stack,
		ErrorID:    Fingerprint(message + topFrame),
		FrameHash:  Fingerprint(topFrame),
		SourceFile: source,
	}
	n.logger.Debug("error", zap.String("message", message), zap.String("errorId", entry.ErrorID))
	n.errors.PushFront(entry)

	for _, o := range n.snapshotObservers() {
		o.ObserveError(entry)
	}
}

func (n *Normalizer) snapshotObservers() []Observer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.observers
}
