// Package server exposes the collector over HTTP: a JSON API, the MCP
// streamable and SSE endpoints and a websocket live feed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/agent-racer/chrome-logs/internal/session"
	"github.com/agent-racer/chrome-logs/internal/tools"
)

type Options struct {
	Service        *tools.Service
	Status         StatusSource
	Broadcaster    *Broadcaster
	MCP            *mcp.Server
	UI             http.Handler // dashboard assets, optional
	AuthToken      string
	AllowedOrigins []string
	Logger         *zap.Logger
}

type Server struct {
	svc            *tools.Service
	status         StatusSource
	broadcaster    *Broadcaster
	mcp            *mcp.Server
	ui             http.Handler
	authToken      string
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	logger         *zap.Logger
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:            opts.Service,
		status:         opts.Status,
		broadcaster:    opts.Broadcaster,
		mcp:            opts.MCP,
		ui:             opts.UI,
		authToken:      opts.AuthToken,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		logger:         logger,
	}

	for _, origin := range opts.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	return s
}

// Handler returns the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tabs", s.handleTabs)
	mux.HandleFunc("POST /api/connect", s.handleConnect)
	mux.HandleFunc("POST /api/disconnect", s.handleDisconnect)
	mux.HandleFunc("GET /api/current", s.handleCurrent)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/errors", s.handleErrors)
	if s.broadcaster != nil {
		mux.HandleFunc("GET /ws", s.handleWS)
	}
	if s.mcp != nil {
		mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return s.mcp
		}, nil))

		// SSE transport (protocol 2024-11-05). The endpoint event points
		// back at /sse; /messages keeps clients that post there working.
		sse := mcp.NewSSEHandler(func(*http.Request) *mcp.Server {
			return s.mcp
		}, nil)
		mux.Handle("GET /sse", sse)
		mux.Handle("POST /sse", sse)
		mux.Handle("POST /messages", legacySessionParam(sse))
	}
	if s.ui != nil {
		for _, pattern := range []string{"GET /{$}", "GET /app.js", "GET /app.css"} {
			mux.Handle(pattern, s.ui)
		}
	}
	return securityHeaders(s.requireAuth(mux))
}

// legacySessionParam accepts the sessionId spelling older SSE clients send.
func legacySessionParam(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("sessionid") == "" && q.Get("sessionId") != "" {
			q.Set("sessionid", q.Get("sessionId"))
			q.Del("sessionId")
			r = r.Clone(r.Context())
			r.URL.RawQuery = q.Encode()
		}
		next.ServeHTTP(w, r)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleTabs(w http.ResponseWriter, r *http.Request) {
	tabs, err := s.svc.ListTabs(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tools.ListTabsOutput{Tabs: tabs})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var body tools.ConnectInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.Title == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}

	if err := s.svc.Connect(r.Context(), body.Title); err != nil {
		s.writeError(w, err)
		return
	}
	title, ok := s.svc.CurrentTab()
	writeJSON(w, http.StatusOK, tools.ConnectOutput{Connected: ok, Title: title})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Disconnect(); err != nil {
		// The session is cleared regardless; report and carry on.
		s.logger.Warn("disconnect", zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

type currentResponse struct {
	tools.CurrentTabOutput
	Session session.Snapshot `json:"session"`
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	title, ok := s.svc.CurrentTab()
	resp := currentResponse{CurrentTabOutput: tools.CurrentTabOutput{Connected: ok, Title: title}}
	if s.status != nil {
		resp.Session = s.status.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	count, from, err := pageParams(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, tools.LogsOutput{Logs: s.svc.GetLogs(count, from)})
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	count, from, err := pageParams(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, tools.ErrorsOutput{Errors: s.svc.GetErrors(count, from)})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade", zap.Error(err))
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		s.logger.Warn("ws client rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	s.logger.Info("ws client connected", zap.String("remote", r.RemoteAddr))

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.logger.Info("ws client disconnected", zap.String("remote", r.RemoteAddr))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrTabNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrConnectionFailed):
		status = http.StatusBadGateway
	default:
		// Listing tabs talks to the browser directly.
		var netErr net.Error
		if errors.As(err, &netErr) {
			status = http.StatusBadGateway
		}
	}
	if status >= 500 {
		s.logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func pageParams(q url.Values) (count, from int, err error) {
	count, from = tools.DefaultCount, tools.DefaultFrom
	if v := q.Get("count"); v != "" {
		if count, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("invalid count %q", v)
		}
	}
	if v := q.Get("from"); v != "" {
		if from, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("invalid from %q", v)
		}
	}
	return count, from, nil
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Chrome-Logs-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts
// down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
