// Package main provides the toolbelt command: a tool dispatcher for
// agents that can be driven from the shell, over HTTP, over MCP or as a
// long-running gateway with channels, cron jobs and a heartbeat.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/entrhq/toolbelt/pkg/bootstrap"
	"github.com/entrhq/toolbelt/pkg/config"
	"github.com/entrhq/toolbelt/pkg/llm/tokenizer"
	"github.com/entrhq/toolbelt/pkg/logging"
)

const version = "0.1.0"

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	workspace  string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "toolbelt",
		Short:         "toolbelt - tools for agents: files, shell, web, browser, vision, messaging, cron",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.toolbelt/config.yaml)")
	root.PersistentFlags().StringVar(&opts.workspace, "workspace", "", "workspace directory (overrides config)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newVersionCmd(),
		newToolsCmd(opts),
		newInvokeCmd(opts),
		newServeCmd(opts),
		newMCPCmd(opts),
		newCronCmd(opts),
		newGatewayCmd(opts),
		newConsoleCmd(opts),
		newTUICmd(opts),
		newHeartbeatCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the toolbelt version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "toolbelt v%s\n", version)
		},
	}
}

// loadConfig reads the configuration and applies flag overrides.
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.workspace != "" {
		cfg.Workspace.Path = o.workspace
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

// runtime loads the configuration and builds the runtime. Long-running
// commands also load the tokenizer for subagent context budgets; one-shot
// commands estimate. The caller closes the runtime.
func (o *options) runtime(ctx context.Context, longRunning bool) (*bootstrap.Runtime, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logging.SetLevel(level)
	if cfg.Logging.Dir != "" {
		logging.SetDirectory(cfg.Logging.Dir)
	}

	logger := logging.MustLogger("toolbelt")
	var tok *tokenizer.Tokenizer
	if longRunning {
		if tok, err = tokenizer.New(); err != nil {
			logger.Warnf("token counting falls back to estimates: %v", err)
		}
	}

	rt, err := bootstrap.Build(ctx, cfg, bootstrap.Options{Logger: logger, Tokenizer: tok})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return rt, nil
}
