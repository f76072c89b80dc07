package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agent-racer/chrome-logs/internal/tools"
)

func newTabsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tabs",
		Short: "List the tabs of the configured browser",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tabs, err := tools.ListTabInfo(cmd.Context(), root.endpoint())
			if err != nil {
				return fmt.Errorf("list tabs at %s: %w", root.cfg.ChromeAddr(), err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tools.FormatTabs(tabs))
			return nil
		},
	}
}
