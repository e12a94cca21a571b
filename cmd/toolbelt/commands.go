package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/entrhq/toolbelt/pkg/channels"
	"github.com/entrhq/toolbelt/pkg/executor/console"
	"github.com/entrhq/toolbelt/pkg/executor/tui"
	"github.com/entrhq/toolbelt/pkg/gateway"
	"github.com/entrhq/toolbelt/pkg/server/httpapi"
	"github.com/entrhq/toolbelt/pkg/server/mcpserver"
	"github.com/entrhq/toolbelt/pkg/tools"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	nameStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")).Width(14)
	effectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// errToolFailed makes the process exit non-zero after the result has been
// printed.
var errToolFailed = errors.New("tool invocation failed")

func newToolsCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the registered tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.runtime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			descs := rt.Dispatcher.Descriptors()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(descs)
			}
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d tools", len(descs))))
			for _, d := range descs {
				fmt.Fprintf(out, "%s%s%s\n", nameStyle.Render(d.Name), effectStyle.Render(string(d.SideEffect)), firstLine(d.Description))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print descriptors as JSON")
	return cmd
}

func newInvokeCmd(opts *options) *cobra.Command {
	var argsJSON, xmlCall, channel, chatID string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "invoke [tool]",
		Short: "Invoke one tool and print its result",
		Long: `Invoke one tool. Arguments come from --args as a JSON object, or the whole
call comes from --xml as a <tool> block ("-" reads the block from stdin).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := invocationFrom(cmd.InOrStdin(), args, argsJSON, xmlCall)
			if err != nil {
				return err
			}

			rt, err := opts.runtime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			if channel != "" {
				ctx = tools.WithOrigin(ctx, tools.Origin{Channel: channel, ChatID: chatID})
			}
			res := rt.Dispatcher.Dispatch(ctx, inv)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else if res.Failed() {
				fmt.Fprintln(out, failStyle.Render(res.Text()))
			} else {
				fmt.Fprintln(out, res.Text())
			}
			if res.Failed() {
				return errToolFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", "arguments as a JSON object")
	cmd.Flags().StringVar(&xmlCall, "xml", "", `a <tool> block, or "-" to read it from stdin`)
	cmd.Flags().StringVar(&channel, "channel", "", "origin channel for message, spawn and cron")
	cmd.Flags().StringVar(&chatID, "chat-id", "", "origin chat ID")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

// invocationFrom builds the invocation from the positional tool name and
// --args, or from an XML block.
func invocationFrom(stdin io.Reader, args []string, argsJSON, xmlCall string) (tools.Invocation, error) {
	if xmlCall != "" {
		if len(args) > 0 || argsJSON != "" {
			return tools.Invocation{}, fmt.Errorf("--xml cannot be combined with a tool name or --args")
		}
		if xmlCall == "-" {
			data, err := io.ReadAll(stdin)
			if err != nil {
				return tools.Invocation{}, fmt.Errorf("failed to read stdin: %w", err)
			}
			xmlCall = string(data)
		}
		tc, _, err := tools.ParseToolCall(xmlCall)
		if err != nil {
			return tools.Invocation{}, err
		}
		return tc.Invocation()
	}

	if len(args) == 0 {
		return tools.Invocation{}, fmt.Errorf("a tool name or --xml is required")
	}
	inv := tools.Invocation{Tool: args[0]}
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &inv.Args); err != nil {
			return tools.Invocation{}, fmt.Errorf("--args must be a JSON object: %w", err)
		}
	}
	return inv, nil
}

func newServeCmd(opts *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tools over HTTP and websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := opts.runtime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			chs, err := channels.NewManager(rt.Config.Channels, rt.Bus, channels.ManagerOptions{
				ConsoleOut: cmd.OutOrStdout(),
				Logger:     rt.Logger.With("channels"),
			})
			if err != nil {
				return err
			}
			go rt.Bus.DispatchOutbound(ctx)
			if err := chs.StartAll(ctx); err != nil {
				return err
			}
			defer chs.StopAll()

			if addr == "" {
				addr = rt.Config.Server.Addr
			}
			router := httpapi.NewRouter(rt.Dispatcher, httpapi.Options{
				JWTSecret:      rt.Config.Server.JWTSecret,
				AllowedOrigins: rt.Config.Server.AllowedOrigins,
				Logger:         rt.Logger.With("http"),
			})
			fmt.Fprintf(cmd.ErrOrStderr(), "toolbelt listening on http://%s\n", addr)
			return httpapi.NewServer(addr, router, rt.Logger.With("http")).Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func newMCPCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tools over MCP on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := opts.runtime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			server := mcpserver.New(rt.Dispatcher, mcpserver.Options{
				Version: version,
				Logger:  rt.Logger.With("mcp"),
			})
			return mcpserver.Serve(ctx, server)
		},
	}
}

func newCronCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}

	var name, message, expr, at string
	var every int
	var agent bool
	add := &cobra.Command{
		Use:   "add",
		Short: "Schedule a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs := map[string]interface{}{"action": "add", "message": message, "agent": agent}
			if name != "" {
				callArgs["name"] = name
			}
			if expr != "" {
				callArgs["cron_expr"] = expr
			}
			if at != "" {
				callArgs["at"] = at
			}
			if every != 0 {
				callArgs["every_seconds"] = every
			}
			return runCronTool(cmd, opts, callArgs)
		},
	}
	add.Flags().StringVar(&name, "name", "", "job name (default: the message)")
	add.Flags().StringVarP(&message, "message", "m", "", "message to deliver or task for the agent")
	add.Flags().StringVar(&expr, "cron", "", "cron expression, e.g. \"0 9 * * *\"")
	add.Flags().IntVar(&every, "every", 0, "interval in seconds")
	add.Flags().StringVar(&at, "at", "", "one-shot RFC3339 time")
	add.Flags().BoolVar(&agent, "agent", false, "run the message as an agent task")
	_ = add.MarkFlagRequired("message")

	list := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCronTool(cmd, opts, map[string]interface{}{"action": "list"})
		},
	}

	remove := &cobra.Command{
		Use:   "remove [job-id]",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCronTool(cmd, opts, map[string]interface{}{"action": "remove", "job_id": args[0]})
		},
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}

// runCronTool goes through the cron tool so the shell gets the same
// validation as agents do.
func runCronTool(cmd *cobra.Command, opts *options, args map[string]interface{}) error {
	rt, err := opts.runtime(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer rt.Close()

	res := rt.Dispatcher.Dispatch(cmd.Context(), tools.Invocation{Tool: "cron", Args: args})
	if res.Failed() {
		fmt.Fprintln(cmd.OutOrStdout(), failStyle.Render(res.Text()))
		return errToolFailed
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Text())
	return nil
}

func newGatewayCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run channels, cron and heartbeat with an agent answering inbound messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := opts.runtime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			chs, err := channels.NewManager(rt.Config.Channels, rt.Bus, channels.ManagerOptions{
				ConsoleOut: cmd.OutOrStdout(),
				ConsoleIn:  os.Stdin,
				Logger:     rt.Logger.With("channels"),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "toolbelt gateway running with channels: %s\n", strings.Join(chs.Names(), ", "))
			return gateway.New(rt, chs).Run(ctx)
		},
	}
}

func newConsoleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Invoke tools interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := opts.runtime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			go rt.Bus.DispatchOutbound(ctx)
			chs, err := channels.NewManager(rt.Config.Channels, rt.Bus, channels.ManagerOptions{
				ConsoleOut: cmd.OutOrStdout(),
				Logger:     rt.Logger.With("channels"),
			})
			if err != nil {
				return err
			}
			if err := chs.StartAll(ctx); err != nil {
				return err
			}
			defer chs.StopAll()

			exec := console.NewExecutor(rt.Dispatcher,
				console.WithReader(cmd.InOrStdin()),
				console.WithWriter(cmd.OutOrStdout()),
			)
			return exec.Run(ctx)
		},
	}
}

func newTUICmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Invoke tools and ask the agent in a full-screen terminal UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := opts.runtime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			tuiOpts := []tui.Option{tui.WithWorkspace(rt.Guard.WorkspaceDir())}
			if rt.Provider != nil {
				tuiOpts = append(tuiOpts, tui.WithAsk(rt.Subagents.Run))
			}
			return tui.NewExecutor(rt.Dispatcher, tuiOpts...).Run(ctx)
		},
	}
}

func newHeartbeatCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat",
		Short: "Run the HEARTBEAT.md check once and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.runtime(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()

			reply, err := rt.Heartbeat.TriggerNow(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
}

func newTokenCmd(opts *options) *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			token, err := httpapi.IssueToken(cfg.Server.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "toolbelt", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
