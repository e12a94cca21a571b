// Package bootstrap assembles a runnable toolbelt from configuration: the
// workspace guard, the tool registry and dispatcher, the message bus, the
// cron service, the subagent manager and the heartbeat.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/entrhq/toolbelt/pkg/bus"
	"github.com/entrhq/toolbelt/pkg/config"
	"github.com/entrhq/toolbelt/pkg/cron"
	"github.com/entrhq/toolbelt/pkg/dispatch"
	"github.com/entrhq/toolbelt/pkg/heartbeat"
	"github.com/entrhq/toolbelt/pkg/llm"
	"github.com/entrhq/toolbelt/pkg/llm/gemini"
	"github.com/entrhq/toolbelt/pkg/llm/ollama"
	"github.com/entrhq/toolbelt/pkg/llm/openai"
	"github.com/entrhq/toolbelt/pkg/llm/tokenizer"
	"github.com/entrhq/toolbelt/pkg/logging"
	"github.com/entrhq/toolbelt/pkg/security/workspace"
	"github.com/entrhq/toolbelt/pkg/subagent"
	"github.com/entrhq/toolbelt/pkg/tools"
	"github.com/entrhq/toolbelt/pkg/tools/browser"
	crontool "github.com/entrhq/toolbelt/pkg/tools/cron"
	"github.com/entrhq/toolbelt/pkg/tools/fs"
	"github.com/entrhq/toolbelt/pkg/tools/image"
	"github.com/entrhq/toolbelt/pkg/tools/message"
	"github.com/entrhq/toolbelt/pkg/tools/shell"
	"github.com/entrhq/toolbelt/pkg/tools/spawn"
	"github.com/entrhq/toolbelt/pkg/tools/web"
)

const busBufferSize = 100

// Options carries collaborators that tests or embedders replace.
type Options struct {
	Logger *logging.Logger

	// Provider overrides the provider built from cfg.LLM.
	Provider llm.Provider
	// Store overrides the cron store selected by cfg.Cron.
	Store cron.Store
	// BrowserLauncher replaces the playwright launcher.
	BrowserLauncher browser.Launcher
	// HTTPClient is used by web tools and LLM providers.
	HTTPClient *http.Client
	// Tokenizer counts subagent context tokens; nil estimates.
	Tokenizer *tokenizer.Tokenizer
}

// Runtime is the assembled toolbelt.
type Runtime struct {
	Config     *config.Config
	Logger     *logging.Logger
	Guard      *workspace.Guard
	Bus        *bus.MessageBus
	Registry   *dispatch.Registry
	Dispatcher *dispatch.Dispatcher
	Provider   llm.Provider
	Cron       *cron.Service
	Subagents  *subagent.Manager
	Heartbeat  *heartbeat.Service

	store   cron.Store
	browser *browser.Tool
}

// Build wires every component from cfg. Nothing is started; the caller
// decides which services run. A missing LLM key is not fatal: image,
// spawn and agent cron jobs then fail with llm.ErrNoProvider.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	if err := os.MkdirAll(cfg.Workspace.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	guard, err := workspace.NewGuard(cfg.Workspace.Path,
		workspace.WithRestrict(cfg.Workspace.Restrict),
		workspace.WithIgnorePatterns(cfg.Workspace.IgnorePatterns),
	)
	if err != nil {
		return nil, err
	}
	if dir := cfg.Browser.ScreenshotDir; dir != "" {
		if err := guard.AddWhitelist(dir); err != nil {
			return nil, err
		}
	}

	provider := opts.Provider
	if provider == nil {
		provider, err = NewProvider(ctx, cfg.LLM, opts.HTTPClient)
		switch {
		case errors.Is(err, llm.ErrNoProvider):
			logger.Warnf("no LLM provider configured; image and spawn are unavailable")
		case err != nil:
			return nil, err
		}
	}

	store := opts.Store
	if store == nil {
		store, err = NewStore(ctx, cfg.Cron)
		if err != nil {
			return nil, err
		}
	}

	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		Guard:    guard,
		Bus:      bus.New(busBufferSize, logger.With("bus")),
		Registry: dispatch.NewRegistry(),
		Provider: provider,
		Cron:     cron.NewService(store, logger.With("cron")),
		store:    store,
	}
	rt.Dispatcher = dispatch.New(rt.Registry, dispatch.WithLogger(logger.With("dispatch")))

	gen, err := NewImageGenerator(ctx, cfg, opts.HTTPClient)
	switch {
	case errors.Is(err, llm.ErrNoProvider):
		logger.Debugf("no Gemini key configured; generate_image is unavailable")
	case err != nil:
		store.Close()
		return nil, err
	}

	if err := rt.registerTools(opts, gen); err != nil {
		store.Close()
		return nil, err
	}

	// Workers snapshot the registry here, so spawn registered below is
	// only visible to Run.
	rt.Subagents = subagent.NewManager(provider, rt.Dispatcher, rt.Bus, subagent.Options{
		MaxIterations:    cfg.Subagent.MaxIterations,
		Timeout:          cfg.Subagent.Timeout,
		MaxContextTokens: cfg.Subagent.MaxContextTokens,
		Workspace:        guard.WorkspaceDir(),
		Tokenizer:        opts.Tokenizer,
		Logger:           logger.With("subagent"),
	})
	if err := rt.Registry.Register(spawn.New(rt.Subagents, rt.defaultOrigin())); err != nil {
		store.Close()
		return nil, err
	}

	rt.Cron.OnJob = rt.runJob

	rt.Heartbeat = heartbeat.New(guard.WorkspaceDir(), rt.Subagents.Run, cfg.Heartbeat.Interval, logger.With("heartbeat"))
	rt.Heartbeat.OnResult = func(reply string) {
		origin := rt.defaultOrigin()
		err := rt.Bus.PublishOutbound(context.Background(), bus.OutboundMessage{
			Channel: origin.Channel,
			ChatID:  origin.ChatID,
			Content: reply,
		})
		if err != nil {
			logger.Warnf("heartbeat delivery failed: %v", err)
		}
	}

	return rt, nil
}

func (rt *Runtime) registerTools(opts Options, gen llm.ImageGenerator) error {
	cfg := rt.Config

	deny, err := shell.NewDenyList(cfg.Exec.DenyPatterns...)
	if err != nil {
		return fmt.Errorf("invalid exec deny pattern: %w", err)
	}
	shellOpts := []shell.Option{
		shell.WithTimeout(cfg.Exec.Timeout),
		shell.WithMaxOutput(cfg.Exec.MaxOutputChars),
		shell.WithDenyList(deny),
	}
	if len(cfg.Exec.AllowCommands) > 0 {
		shellOpts = append(shellOpts, shell.WithAllowList(shell.NewAllowList(cfg.Exec.AllowCommands)))
	}
	execTool, err := shell.NewExecTool(rt.Guard, shellOpts...)
	if err != nil {
		return err
	}

	fetchOpts := []web.FetchOption{web.WithUserAgent(cfg.Web.UserAgent)}
	searchOpts := []web.SearchOption{
		web.WithEndpoint(cfg.Web.SearchURL),
		web.WithMaxResults(cfg.Web.MaxResults),
	}
	tavilyOpts := []web.TavilyOption{web.WithTavilyEndpoint(cfg.Web.TavilyURL)}
	if opts.HTTPClient != nil {
		fetchOpts = append(fetchOpts, web.WithFetchClient(opts.HTTPClient))
		searchOpts = append(searchOpts, web.WithSearchClient(opts.HTTPClient))
		tavilyOpts = append(tavilyOpts, web.WithTavilyClient(opts.HTTPClient))
	}

	browserOpts := []browser.Option{
		browser.WithHeadless(cfg.Browser.Headless),
		browser.WithDefaultTimeout(cfg.Browser.Timeout),
		browser.WithViewport(cfg.Browser.ViewportWidth, cfg.Browser.ViewportHeight),
		browser.WithScreenshotDir(cfg.Browser.ScreenshotDir),
		browser.WithLogger(rt.Logger.With("browser")),
	}
	if opts.BrowserLauncher != nil {
		browserOpts = append(browserOpts, browser.WithLauncher(opts.BrowserLauncher))
	}
	rt.browser = browser.New(rt.Guard, browserOpts...)

	vision := rt.Provider
	if vision != nil && cfg.LLM.VisionModel != "" {
		vision = llm.WithModel(vision, cfg.LLM.VisionModel)
	}

	all := fs.Tools(rt.Guard)
	all = append(all,
		execTool,
		web.NewSearchTool(cfg.Web.BraveAPIKey, cfg.Web.Timeout, searchOpts...),
		web.NewTavilyTool(cfg.Web.TavilyAPIKey, cfg.Web.MaxResults, cfg.Web.Timeout, tavilyOpts...),
		web.NewFetchTool(cfg.Web.FetchMaxChars, cfg.Web.Timeout, fetchOpts...),
		rt.browser,
		image.New(rt.Guard, vision),
		image.NewGenerate(rt.Guard, gen),
		message.New(rt.Bus, cfg.Channels.DefaultChannel, cfg.Channels.DefaultChatID),
		crontool.New(rt.Cron),
	)
	for _, t := range all {
		if err := rt.Registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func (rt *Runtime) defaultOrigin() tools.Origin {
	return tools.Origin{
		Channel: rt.Config.Channels.DefaultChannel,
		ChatID:  rt.Config.Channels.DefaultChatID,
	}
}

// runJob handles a due cron job. Agent jobs run the message as a task and
// deliver the answer when asked to; plain jobs deliver the message itself.
func (rt *Runtime) runJob(ctx context.Context, job cron.Job) (string, error) {
	reply := job.Payload.Message
	if job.Payload.Agent {
		out, err := rt.Subagents.Run(ctx, job.Payload.Message)
		if err != nil {
			return "", err
		}
		reply = out
		if !job.Payload.Deliver {
			return reply, nil
		}
	}

	origin := rt.defaultOrigin()
	if job.Payload.Channel != "" {
		origin = tools.Origin{Channel: job.Payload.Channel, ChatID: job.Payload.To}
	}
	if origin.Channel == "" || reply == "" {
		return reply, nil
	}
	err := rt.Bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel: origin.Channel,
		ChatID:  origin.ChatID,
		Content: reply,
	})
	if err != nil {
		return "", fmt.Errorf("deliver job %s: %w", job.ID, err)
	}
	return reply, nil
}

// Close stops background work and releases the browser and the job store.
func (rt *Runtime) Close() error {
	rt.Cron.Stop()
	rt.Subagents.Shutdown()
	rt.Bus.Close()

	var errs []error
	if err := rt.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	if err := rt.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close job store: %w", err))
	}
	return errors.Join(errs...)
}

// NewProvider builds the provider named by cfg.Provider. It returns
// llm.ErrNoProvider when the provider needs a key and none is set.
func NewProvider(ctx context.Context, cfg config.LLMConfig, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		opts := []gemini.ProviderOption{gemini.WithModel(cfg.Model)}
		if httpClient != nil {
			opts = append(opts, gemini.WithHTTPClient(httpClient))
		}
		p, err := gemini.NewProvider(ctx, cfg.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.ProviderOllama:
		p, err := ollama.NewProvider(cfg.BaseURL, httpClient, ollama.WithModel(cfg.Model))
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		opts := []openai.ProviderOption{openai.WithModel(cfg.Model), openai.WithBaseURL(cfg.BaseURL)}
		if httpClient != nil {
			opts = append(opts, openai.WithHTTPClient(httpClient))
		}
		p, err := openai.NewProvider(cfg.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// NewImageGenerator builds the Gemini client behind generate_image. The
// LLM key is reused when the LLM provider is Gemini and no image key is
// set. It returns llm.ErrNoProvider when there is no key at all.
func NewImageGenerator(ctx context.Context, cfg *config.Config, httpClient *http.Client) (llm.ImageGenerator, error) {
	key := cfg.ImageGen.APIKey
	if key == "" && cfg.LLM.Provider == config.ProviderGemini {
		key = cfg.LLM.APIKey
	}
	model := cfg.ImageGen.Model
	if model == "" {
		model = gemini.DefaultImageModel
	}
	opts := []gemini.ProviderOption{
		gemini.WithModel(model),
		gemini.WithBaseURL(cfg.ImageGen.BaseURL),
	}
	if httpClient != nil {
		opts = append(opts, gemini.WithHTTPClient(httpClient))
	}
	p, err := gemini.NewProvider(ctx, key, opts...)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// NewStore opens the job store named by cfg.Store.
func NewStore(ctx context.Context, cfg config.CronConfig) (cron.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		return cron.NewSQLiteStore(cfg.Path)
	case config.StoreRedis:
		return cron.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisKey)
	default:
		return cron.NewFileStore(cfg.Path), nil
	}
}
