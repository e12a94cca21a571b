package browser

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightLauncher launches Chromium through Playwright. The driver is
// installed and started on first launch and reused afterwards.
type PlaywrightLauncher struct {
	mu         sync.Mutex
	playwright *playwright.Playwright
}

// NewPlaywrightLauncher creates a launcher. No driver work happens until Launch.
func NewPlaywrightLauncher() *PlaywrightLauncher {
	return &PlaywrightLauncher{}
}

func (l *PlaywrightLauncher) initialize() error {
	if l.playwright != nil {
		return nil
	}

	// driver output would interleave with tool output on stdio surfaces
	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}
	l.playwright = pw
	return nil
}

// Launch starts Chromium with a fresh context.
func (l *PlaywrightLauncher) Launch(opts LaunchOptions) (Engine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.initialize(); err != nil {
		return nil, err
	}

	browser, err := l.playwright.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
	})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	bctx.SetDefaultTimeout(opts.Timeout)

	return &playwrightEngine{browser: browser, context: bctx}, nil
}

// Shutdown stops the Playwright driver.
func (l *PlaywrightLauncher) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.playwright == nil {
		return nil
	}
	err := l.playwright.Stop()
	l.playwright = nil
	if err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

type playwrightEngine struct {
	browser playwright.Browser
	context playwright.BrowserContext
}

func (e *playwrightEngine) NewPage() (Page, error) {
	page, err := e.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &playwrightPage{page: page}, nil
}

func (e *playwrightEngine) Close() error {
	_ = e.context.Close()
	if err := e.browser.Close(); err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

type playwrightPage struct {
	page playwright.Page
}

// wrap marks Playwright timeouts with ErrTimeout.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%s: %w: %v", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

func (p *playwrightPage) Goto(url string, timeout float64) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(timeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return wrap("navigation", err)
}

func (p *playwrightPage) URL() string { return p.page.URL() }

func (p *playwrightPage) Title() (string, error) { return p.page.Title() }

func (p *playwrightPage) Content() (string, error) {
	html, err := p.page.Content()
	return html, wrap("content", err)
}

func (p *playwrightPage) Click(selector string, timeout float64) error {
	err := p.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(timeout),
	})
	return wrap("click", err)
}

func (p *playwrightPage) Fill(selector, text string, timeout float64) error {
	err := p.page.Locator(selector).First().Fill(text, playwright.LocatorFillOptions{
		Timeout: playwright.Float(timeout),
	})
	return wrap("fill", err)
}

func (p *playwrightPage) IsChecked(selector string, timeout float64) (bool, error) {
	checked, err := p.page.Locator(selector).First().IsChecked(playwright.LocatorIsCheckedOptions{
		Timeout: playwright.Float(timeout),
	})
	return checked, wrap("read checked state", err)
}

func (p *playwrightPage) Press(key string) error {
	return wrap("press", p.page.Keyboard().Press(key))
}

func (p *playwrightPage) WaitForSelector(selector string, timeout float64) error {
	err := p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		Timeout: playwright.Float(timeout),
	})
	return wrap("wait", err)
}

func (p *playwrightPage) Wait(ms float64) { p.page.WaitForTimeout(ms) }

func (p *playwrightPage) Screenshot(path string) error {
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return wrap("screenshot", err)
}

func (p *playwrightPage) Evaluate(script string) (interface{}, error) {
	v, err := p.page.Evaluate(script)
	return v, wrap("evaluate", err)
}

func (p *playwrightPage) BringToFront() error {
	return wrap("bring to front", p.page.BringToFront())
}

func (p *playwrightPage) Close() error {
	return wrap("close page", p.page.Close())
}
