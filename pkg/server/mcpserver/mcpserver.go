// Package mcpserver publishes every registered tool over the Model Context
// Protocol. Failed invocations come back as IsError results whose text is
// "Error (<kind>): <message>".
package mcpserver

import (
	"bytes"
	"context"

	jsoniter "github.com/json-iterator/go"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/entrhq/toolbelt/pkg/dispatch"
	"github.com/entrhq/toolbelt/pkg/logging"
	"github.com/entrhq/toolbelt/pkg/tools"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configures the server.
type Options struct {
	Name    string
	Version string
	// Origin is attached to every invocation so that message and spawn
	// know where to answer.
	Origin tools.Origin
	Logger *logging.Logger
}

// New builds an MCP server exposing the tools of d.
func New(d *dispatch.Dispatcher, opts Options) *mcp.Server {
	if opts.Name == "" {
		opts.Name = "toolbelt"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	server := mcp.NewServer(&mcp.Implementation{Name: opts.Name, Version: opts.Version}, nil)
	for _, desc := range d.Descriptors() {
		server.AddTool(toolFor(desc), handlerFor(d, desc.Name, opts.Origin, logger))
	}
	return server
}

// Serve runs the server on stdin/stdout until the client disconnects or
// ctx is done.
func Serve(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

func toolFor(desc tools.Descriptor) *mcp.Tool {
	openWorld := desc.SideEffect == tools.SideEffectNetwork
	return &mcp.Tool{
		Name:        desc.Name,
		Description: desc.Description,
		InputSchema: desc.Parameters,
		Annotations: &mcp.ToolAnnotations{
			ReadOnlyHint:  desc.SideEffect == tools.SideEffectReadOnly,
			OpenWorldHint: &openWorld,
		},
	}
}

func handlerFor(d *dispatch.Dispatcher, name string, origin tools.Origin, logger *logging.Logger) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]interface{}
		if raw := req.Params.Arguments; len(bytes.TrimSpace(raw)) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return errorResult(tools.InvalidArguments("arguments must be a JSON object: %v", err)), nil
			}
		}

		if origin.Channel != "" {
			ctx = tools.WithOrigin(ctx, origin)
		}
		res := d.Dispatch(ctx, tools.Invocation{Tool: name, Args: args})
		if res.Failed() {
			logger.Debugf("mcp %s: %v", name, res.Error)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: res.Text()}},
			IsError: res.Failed(),
		}, nil
	}
}

func errorResult(err *tools.Error) *mcp.CallToolResult {
	res := &tools.Result{Error: err}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: res.Text()}},
		IsError: true,
	}
}
