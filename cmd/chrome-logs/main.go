package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agent-racer/chrome-logs/internal/cdp"
	"github.com/agent-racer/chrome-logs/internal/config"
	"github.com/agent-racer/chrome-logs/internal/logging"
)

var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
	logJSON    bool

	cfg    *config.Config
	logger *zap.Logger
}

func (r *rootOptions) prepare() error {
	cfg, err := config.LoadOrDefault(r.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(r.logLevel, r.logJSON)
	if err != nil {
		return err
	}
	r.cfg = cfg
	r.logger = logger
	return nil
}

func (r *rootOptions) endpoint() *cdp.Endpoint {
	return cdp.NewEndpoint(r.cfg.Chrome.Host, r.cfg.Chrome.Port, r.cfg.Chrome.DialTimeout)
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "chrome-logs",
		Short:         "Collect console output and errors from a Chrome tab",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to config file (defaults apply when it does not exist)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "emit JSON logs")
	rootCmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		return opts.prepare()
	}
	rootCmd.PersistentPostRun = func(*cobra.Command, []string) {
		if opts.logger != nil {
			_ = opts.logger.Sync()
		}
	}

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newTabsCmd(opts))
	rootCmd.AddCommand(newDoctorCmd(opts))
	rootCmd.AddCommand(newWatchCmd(opts))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
