package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agent-racer/chrome-logs/internal/frontend"
	"github.com/agent-racer/chrome-logs/internal/history"
	"github.com/agent-racer/chrome-logs/internal/ingest"
	"github.com/agent-racer/chrome-logs/internal/server"
	"github.com/agent-racer/chrome-logs/internal/session"
	"github.com/agent-racer/chrome-logs/internal/tools"
)

type serveFlags struct {
	title          string
	stdio          bool
	allowedOrigins []string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Attach to a tab and serve its logs over HTTP, /ws and MCP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.title == "" {
				return errors.New("--title is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root, flags)
		},
	}
	cmd.Flags().StringVar(&flags.title, "title", "", "connect to the first tab whose title contains this text")
	cmd.Flags().BoolVar(&flags.stdio, "stdio", false, "also serve MCP over stdin/stdout")
	cmd.Flags().StringSliceVar(&flags.allowedOrigins, "allowed-origin", nil, "extra browser origins allowed to open /ws")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, flags *serveFlags) error {
	cfg, logger := root.cfg, root.logger
	endpoint := root.endpoint()

	norm := ingest.NewNormalizer(
		ingest.NewFrameFilter(cfg.Session.IgnoredStackPatterns),
		history.New[ingest.LogEntry](cfg.History.LogCapacity),
		history.New[ingest.ErrorEntry](cfg.History.ErrorCapacity),
		logger.Named("ingest"),
	)
	mgr := session.NewManager(session.EndpointDialer{Endpoint: endpoint}, norm, session.Options{
		MaxReconnectAttempts: reconnectAttempts(cfg.Session.MaxReconnectAttempts),
		Logger:               logger.Named("session"),
	})
	svc := tools.NewService(endpoint, mgr, norm)

	broadcaster := server.NewBroadcaster(svc, mgr,
		cfg.Feed.BroadcastThrottle, cfg.Feed.StatusInterval,
		cfg.Feed.SnapshotSize, cfg.Feed.MaxClients,
		logger.Named("feed"))
	defer broadcaster.Stop()
	norm.AddObserver(broadcaster)

	mcpServer := tools.NewMCPServer(svc, version)

	// A collector without a tab is useless; refuse to start.
	if err := mgr.Start(ctx, flags.title); err != nil {
		return fmt.Errorf("connect to tab %q: %w", flags.title, err)
	}
	defer func() {
		if err := mgr.Stop(); err != nil {
			logger.Warn("stop session", zap.Error(err))
		}
	}()

	srv := server.NewServer(server.Options{
		Service:        svc,
		Status:         mgr,
		Broadcaster:    broadcaster,
		MCP:            mcpServer,
		UI:             frontend.Handler(),
		AuthToken:      cfg.Server.AuthToken,
		AllowedOrigins: flags.allowedOrigins,
		Logger:         logger.Named("server"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		mgr.Run(gctx)
		return nil
	})
	g.Go(func() error {
		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
		err := server.ListenAndServe(gctx, addr, srv.Handler(), logger.Named("http"))
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	if flags.stdio {
		g.Go(func() error {
			return mcpServer.Run(gctx, &mcp.StdioTransport{})
		})
	}

	err := g.Wait()
	logger.Info("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// reconnectAttempts maps the config value, where 0 disables recovery, onto
// session.Options, where 0 means the default.
func reconnectAttempts(configured int) int {
	if configured == 0 {
		return -1
	}
	return configured
}
