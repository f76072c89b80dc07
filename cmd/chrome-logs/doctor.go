package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agent-racer/chrome-logs/internal/browser"
	"github.com/agent-racer/chrome-logs/internal/tools"
)

func newDoctorCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Find debuggable browsers and check the configured endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			fmt.Fprintf(out, "config_path=%s\n", root.configPath)
			fmt.Fprintf(out, "chrome_endpoint=%s\n", root.cfg.ChromeAddr())

			procs, err := browser.Discover(ctx)
			if err != nil {
				fmt.Fprintf(out, "process_scan_error=%s\n", err)
			} else {
				printProcesses(out, procs, root.cfg.Chrome.Port)
			}

			tabs, err := tools.ListTabInfo(ctx, root.endpoint())
			if err != nil {
				fmt.Fprintf(out, "endpoint_error=%s\n", err)
				fmt.Fprintf(out, "hint=start the browser with --remote-debugging-port=%d\n", root.cfg.Chrome.Port)
				return nil
			}
			fmt.Fprintf(out, "endpoint_tabs=%d\n", len(tabs))
			return nil
		},
	}
}

func printProcesses(out io.Writer, procs []browser.Process, wantPort int) {
	fmt.Fprintf(out, "debuggable_browsers=%d\n", len(procs))
	if len(procs) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PID\tPORT\tEXECUTABLE\tSTARTED\tPROFILE")
	for _, p := range procs {
		port := fmt.Sprint(p.Port)
		if p.Port == wantPort {
			port += "*"
		}
		started := "-"
		if !p.StartTime.IsZero() {
			started = p.StartTime.Format(time.DateTime)
		}
		profile := p.UserDataDir
		if profile == "" {
			profile = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", p.PID, port, p.Executable, started, profile)
	}
	w.Flush()
}
