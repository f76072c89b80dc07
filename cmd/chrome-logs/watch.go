package main

import (
	"fmt"
	"net"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/agent-racer/chrome-logs/internal/tui"
	"github.com/agent-racer/chrome-logs/internal/tui/client"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	var feedURL, token string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a running collector's live feed in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if feedURL == "" {
				host := root.cfg.Server.Host
				if host == "" || host == "0.0.0.0" {
					host = "127.0.0.1"
				}
				feedURL = "ws://" + net.JoinHostPort(host, strconv.Itoa(root.cfg.Server.Port)) + "/ws"
			}
			if token == "" {
				token = root.cfg.Server.AuthToken
			}

			ws, err := client.NewWSClient(feedURL, token)
			if err != nil {
				return err
			}
			p := tea.NewProgram(tui.New(ws), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("viewer: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&feedURL, "url", "", "feed URL (default derived from server config)")
	cmd.Flags().StringVar(&token, "token", "", "auth token (default server.auth_token)")
	return cmd
}
