// Package tools is the query and control surface over the collector: the
// operations exposed to MCP clients, the HTTP API and the CLI.
package tools

import (
	"context"
	"slices"

	"github.com/agent-racer/chrome-logs/internal/cdp"
	"github.com/agent-racer/chrome-logs/internal/history"
	"github.com/agent-racer/chrome-logs/internal/ingest"
)

// Paging defaults applied when a caller omits count or from.
const (
	DefaultCount = 10
	DefaultFrom  = 0
)

type TabLister interface {
	ListTabs(ctx context.Context) ([]cdp.Tab, error)
}

// Sessions is the part of session.Manager the tools drive.
type Sessions interface {
	Start(ctx context.Context, title string) error
	Stop() error
	CurrentTabTitle() (string, bool)
}

type TabInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

type Service struct {
	tabs     TabLister
	sessions Sessions
	logs     *history.History[ingest.LogEntry]
	errors   *history.History[ingest.ErrorEntry]
}

func NewService(tabs TabLister, sessions Sessions, norm *ingest.Normalizer) *Service {
	return &Service{
		tabs:     tabs,
		sessions: sessions,
		logs:     norm.Logs(),
		errors:   norm.Errors(),
	}
}

// ListTabs returns every target the browser exposes. No tabs is not an error.
func (s *Service) ListTabs(ctx context.Context) ([]TabInfo, error) {
	return ListTabInfo(ctx, s.tabs)
}

// ListTabInfo lists tabs without a session behind it.
func ListTabInfo(ctx context.Context, lister TabLister) ([]TabInfo, error) {
	tabs, err := lister.ListTabs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TabInfo, len(tabs))
	for i, t := range tabs {
		out[i] = TabInfo{ID: t.ID, Title: t.Title, URL: t.URL}
	}
	return out, nil
}

// Connect replaces the current session. Errors wrap session.ErrTabNotFound
// or session.ErrConnectionFailed.
func (s *Service) Connect(ctx context.Context, title string) error {
	return s.sessions.Start(ctx, title)
}

// Disconnect stops the current session. A returned error wraps
// session.ErrCloseFailed; the session is gone either way.
func (s *Service) Disconnect() error {
	return s.sessions.Stop()
}

func (s *Service) CurrentTab() (string, bool) {
	return s.sessions.CurrentTabTitle()
}

// GetLogs returns up to count logs starting from index from of the
// newest-first history, ordered oldest first.
func (s *Service) GetLogs(count, from int) []ingest.LogEntry {
	return chronological(s.logs.Slice(from, count))
}

// GetErrors is GetLogs for the error history.
func (s *Service) GetErrors(count, from int) []ingest.ErrorEntry {
	return chronological(s.errors.Slice(from, count))
}

func chronological[T any](newestFirst []T) []T {
	slices.Reverse(newestFirst)
	return newestFirst
}
