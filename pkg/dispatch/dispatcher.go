package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/entrhq/toolbelt/pkg/logging"
	"github.com/entrhq/toolbelt/pkg/tools"
)

// Dispatcher runs invocations against a registry.
type Dispatcher struct {
	registry   *Registry
	logger     *logging.Logger
	defaultMax int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for per-invocation entries.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithDefaultMaxOutput caps the output of tools that do not declare their
// own maximum. Zero leaves them uncapped.
func WithDefaultMaxOutput(n int) Option {
	return func(d *Dispatcher) {
		d.defaultMax = n
	}
}

// New creates a dispatcher over registry.
func New(registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the underlying registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Descriptors lists the registered tools sorted by name.
func (d *Dispatcher) Descriptors() []tools.Descriptor {
	return d.registry.Descriptors()
}

// Restricted returns a dispatcher with the same settings over a registry
// without the named tools.
func (d *Dispatcher) Restricted(names ...string) *Dispatcher {
	clone := *d
	clone.registry = d.registry.Without(names...)
	return &clone
}

// Dispatch validates and runs one invocation. It always returns a Result;
// failures are carried in Result.Error and never escape as panics.
func (d *Dispatcher) Dispatch(ctx context.Context, inv tools.Invocation) *tools.Result {
	start := time.Now()
	res := &tools.Result{Tool: inv.Tool}

	tool, desc, ok := d.registry.Lookup(inv.Tool)
	if !ok {
		res.Error = &tools.Error{
			Kind:    tools.KindUnknownTool,
			Tool:    inv.Tool,
			Message: fmt.Sprintf("unknown tool %q (available: %v)", inv.Tool, d.registry.Names()),
		}
		d.logger.Warnf("unknown tool requested: %s", inv.Tool)
		return res
	}

	args, err := desc.Validate(inv.Args)
	if err != nil {
		res.Error = tools.Classify(inv.Tool, err)
		d.logger.Warnf("%s: %v", inv.Tool, err)
		return res
	}

	output, metadata, err := d.execute(ctx, tool, args)
	res.Duration = time.Since(start)
	res.Metadata = metadata
	if err != nil {
		res.Error = tools.Classify(inv.Tool, err)
		d.logger.Infof("%s failed after %s: %s: %v", inv.Tool, res.Duration, res.Error.Kind, res.Error)
		return res
	}

	limit := d.defaultMax
	if tr, ok := tool.(tools.Truncator); ok {
		limit = tr.MaxOutputChars()
	}
	res.Output, res.Truncated = tools.Truncate(output, limit)
	if res.Truncated {
		res.OriginalLength = utf8.RuneCountInString(output)
	}
	if flagged, _ := metadata["truncated"].(bool); flagged {
		res.Truncated = true
	}

	d.logger.Debugf("%s completed in %s (%d chars, truncated=%v)", inv.Tool, res.Duration, len(res.Output), res.Truncated)
	return res
}

func (d *Dispatcher) execute(ctx context.Context, tool tools.Tool, args map[string]interface{}) (out string, meta map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("%s panicked: %v\n%s", tool.Name(), r, debug.Stack())
			err = tools.External(fmt.Errorf("panic: %v", r), "%s failed unexpectedly", tool.Name())
		}
	}()
	return tool.Execute(ctx, args)
}
