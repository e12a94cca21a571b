package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/entrhq/toolbelt/pkg/logging"
	"github.com/entrhq/toolbelt/pkg/security/workspace"
	"github.com/entrhq/toolbelt/pkg/tools"
	"github.com/entrhq/toolbelt/pkg/tools/web"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultTimeout is the per-action timeout in milliseconds.
	DefaultTimeout = 30000
	// MaxOutputChars caps every browser result.
	MaxOutputChars = 10000

	defaultViewportWidth  = 1280
	defaultViewportHeight = 720
)

// Actions understood by the browser tool.
var Actions = []string{
	"start", "stop", "status",
	"navigate", "open", "new_tab", "tabs", "switch_tab", "close_tab",
	"snapshot", "click", "type", "check", "uncheck", "press", "wait",
	"get_text", "screenshot", "evaluate",
}

// Tool is the browser tool. It owns the single browser session; actions
// hold mu for their whole duration so at most one command is in flight.
type Tool struct {
	mu sync.Mutex

	launcher      Launcher
	launch        LaunchOptions
	guard         *workspace.Guard
	screenshotDir string
	logger        *logging.Logger
	now           func() time.Time

	engine  Engine
	pages   []Page
	current int
	refs    map[string]string
}

// Option configures a Tool.
type Option func(*Tool)

// WithLauncher replaces the Playwright launcher.
func WithLauncher(l Launcher) Option {
	return func(t *Tool) { t.launcher = l }
}

// WithHeadless sets whether Chromium runs without a window.
func WithHeadless(headless bool) Option {
	return func(t *Tool) { t.launch.Headless = headless }
}

// WithViewport sets the page viewport.
func WithViewport(width, height int) Option {
	return func(t *Tool) {
		if width > 0 && height > 0 {
			t.launch.ViewportWidth = width
			t.launch.ViewportHeight = height
		}
	}
}

// WithDefaultTimeout sets the default operation timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(t *Tool) {
		if d > 0 {
			t.launch.Timeout = float64(d.Milliseconds())
		}
	}
}

// WithScreenshotDir sets where screenshots go when no path is given.
func WithScreenshotDir(dir string) Option {
	return func(t *Tool) { t.screenshotDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Tool) { t.logger = l }
}

// New creates the browser tool. Nothing is launched until the first action
// that needs a page.
func New(guard *workspace.Guard, opts ...Option) *Tool {
	t := &Tool{
		launcher: NewPlaywrightLauncher(),
		launch: LaunchOptions{
			Headless:       true,
			Timeout:        DefaultTimeout,
			ViewportWidth:  defaultViewportWidth,
			ViewportHeight: defaultViewportHeight,
		},
		guard:  guard,
		logger: logging.Discard(),
		now:    time.Now,
		refs:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.screenshotDir == "" && guard != nil {
		t.screenshotDir = filepath.Join(guard.WorkspaceDir(), "screenshots")
	}
	return t
}

func (t *Tool) Name() string { return "browser" }

func (t *Tool) Description() string {
	return `Control a persistent Chromium session. Typical flow: navigate → snapshot → click/type by ref (e1, e2…) → snapshot again.
Use check/uncheck for checkboxes: they click only when the state differs and verify the result.
Session state (cookies, history, tabs) persists until action=stop.`
}

func (t *Tool) Schema() map[string]interface{} {
	return tools.BaseToolSchema(
		map[string]interface{}{
			"action":   tools.EnumProp("Browser action", Actions...),
			"url":      tools.Prop("string", "URL for navigate/open/new_tab"),
			"path":     tools.Prop("string", "Output path for screenshot"),
			"selector": tools.Prop("string", "CSS selector (alternative to ref)"),
			"ref":      tools.Prop("string", "Element ref from the last snapshot, e.g. e3"),
			"text":     tools.Prop("string", "Text for type"),
			"key":      tools.Prop("string", "Key for press, e.g. Enter or Control+A"),
			"script":   tools.Prop("string", "JavaScript for evaluate"),
			"tab":      tools.Prop("string", "Tab for switch_tab/close_tab (t2 or 2)"),
			"timeout":  tools.Prop("integer", fmt.Sprintf("Timeout in milliseconds (default %d); for wait without selector, the time to wait", DefaultTimeout)),
		},
		[]string{"action"},
	)
}

func (t *Tool) SideEffect() tools.SideEffect { return tools.SideEffectNetwork }

func (t *Tool) MaxOutputChars() int { return MaxOutputChars }

// Running reports whether a session is alive.
func (t *Tool) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.engine != nil
}

// Close stops the session. It is safe to call on a stopped tool.
func (t *Tool) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop()
}

func (t *Tool) Execute(ctx context.Context, args map[string]interface{}) (string, map[string]interface{}, error) {
	action, err := tools.RequiredString(args, "action")
	if err != nil {
		return "", nil, err
	}
	timeout, err := tools.Int(args, "timeout", int(t.launch.Timeout))
	if err != nil {
		return "", nil, err
	}
	if timeout <= 0 {
		return "", nil, tools.InvalidArguments("timeout must be positive")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	switch action {
	case "start":
		if t.engine != nil {
			return "[BROWSER RUNNING] Session already started", nil, nil
		}
		if err := t.start(); err != nil {
			return "", nil, err
		}
		return "[VERIFIED] Browser started", nil, nil
	case "stop":
		if t.engine == nil {
			return "[BROWSER OFFLINE] No session to stop", nil, nil
		}
		if err := t.stop(); err != nil {
			return "", nil, tools.External(err, "failed to stop browser")
		}
		return "[VERIFIED] Browser stopped", nil, nil
	case "status":
		return t.status(), map[string]interface{}{"running": t.engine != nil}, nil
	}

	if t.engine == nil {
		if err := t.start(); err != nil {
			return "", nil, err
		}
	}

	op := &operation{tool: t, args: args, timeout: float64(timeout)}
	out, err := op.run(action)
	if err != nil {
		return "", nil, err
	}
	return out, map[string]interface{}{"action": action, "url": t.page().URL()}, nil
}

func (t *Tool) start() error {
	engine, err := t.launcher.Launch(t.launch)
	if err != nil {
		return tools.External(err, "failed to start browser")
	}
	page, err := engine.NewPage()
	if err != nil {
		engine.Close()
		return tools.External(err, "failed to open tab")
	}
	t.engine = engine
	t.pages = []Page{page}
	t.current = 0
	t.refs = make(map[string]string)
	t.logger.Infof("browser session started (headless=%v)", t.launch.Headless)
	return nil
}

func (t *Tool) stop() error {
	if t.engine == nil {
		return nil
	}
	err := t.engine.Close()
	t.engine = nil
	t.pages = nil
	t.current = 0
	t.refs = make(map[string]string)
	t.logger.Infof("browser session stopped")
	return err
}

func (t *Tool) status() string {
	if t.engine == nil {
		return "[BROWSER OFFLINE] Use action=start to launch browser"
	}
	return fmt.Sprintf("[BROWSER RUNNING] %d tab(s), current t%d: %s", len(t.pages), t.current+1, t.page().URL())
}

func (t *Tool) page() Page {
	return t.pages[t.current]
}

// operation is one page-level action against the running session.
type operation struct {
	tool    *Tool
	args    map[string]interface{}
	timeout float64
}

func (o *operation) run(action string) (string, error) {
	switch action {
	case "navigate", "open":
		return o.navigate()
	case "new_tab":
		return o.newTab()
	case "tabs":
		return o.tabs()
	case "switch_tab":
		return o.switchTab()
	case "close_tab":
		return o.closeTab()
	case "snapshot":
		return o.snapshot()
	case "click":
		return o.click()
	case "type":
		return o.typeText()
	case "check":
		return o.setChecked(true)
	case "uncheck":
		return o.setChecked(false)
	case "press":
		return o.press()
	case "wait":
		return o.wait()
	case "get_text":
		return o.getText()
	case "screenshot":
		return o.screenshot()
	case "evaluate":
		return o.evaluate()
	default:
		return "", tools.InvalidArguments("unknown browser action %q", action)
	}
}

func (o *operation) navigate() (string, error) {
	raw, err := tools.RequiredString(o.args, "url")
	if err != nil {
		return "", err
	}
	target, err := normalizeURL(raw)
	if err != nil {
		return "", err
	}
	page := o.tool.page()
	if err := page.Goto(target, o.timeout); err != nil {
		return "", o.fail(err, "navigate to %s", target)
	}
	o.tool.refs = make(map[string]string)
	title, _ := page.Title()
	return fmt.Sprintf("[VERIFIED] Navigated to: %s\n%s", page.URL(), title), nil
}

func (o *operation) newTab() (string, error) {
	page, err := o.tool.engine.NewPage()
	if err != nil {
		return "", tools.External(err, "failed to open tab")
	}
	o.tool.pages = append(o.tool.pages, page)
	o.tool.current = len(o.tool.pages) - 1
	o.tool.refs = make(map[string]string)

	if raw := tools.String(o.args, "url"); raw != "" {
		target, err := normalizeURL(raw)
		if err != nil {
			return "", err
		}
		if err := page.Goto(target, o.timeout); err != nil {
			return "", o.fail(err, "navigate to %s", target)
		}
	}
	return fmt.Sprintf("[VERIFIED] Opened tab t%d: %s", o.tool.current+1, page.URL()), nil
}

func (o *operation) tabs() (string, error) {
	var b strings.Builder
	b.WriteString("[TABS]")
	for i, p := range o.tool.pages {
		title, _ := p.Title()
		fmt.Fprintf(&b, "\nt%d: %s (%s)", i+1, title, p.URL())
		if i == o.tool.current {
			b.WriteString(" ←")
		}
	}
	return b.String(), nil
}

func (o *operation) tabIndex() (int, error) {
	raw, err := tools.RequiredString(o.args, "tab")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "t"))
	if err != nil || n < 1 || n > len(o.tool.pages) {
		return 0, tools.InvalidArguments("no such tab %q (have %d)", raw, len(o.tool.pages))
	}
	return n - 1, nil
}

func (o *operation) switchTab() (string, error) {
	idx, err := o.tabIndex()
	if err != nil {
		return "", err
	}
	page := o.tool.pages[idx]
	if err := page.BringToFront(); err != nil {
		return "", o.fail(err, "switch tab")
	}
	o.tool.current = idx
	o.tool.refs = make(map[string]string)
	return fmt.Sprintf("[VERIFIED] Switched to t%d: %s", idx+1, page.URL()), nil
}

func (o *operation) closeTab() (string, error) {
	idx, err := o.tabIndex()
	if err != nil {
		return "", err
	}
	if len(o.tool.pages) == 1 {
		return "", tools.InvalidArguments("cannot close the last tab; use action=stop")
	}
	if err := o.tool.pages[idx].Close(); err != nil {
		return "", o.fail(err, "close tab")
	}
	o.tool.pages = append(o.tool.pages[:idx], o.tool.pages[idx+1:]...)
	if o.tool.current >= idx && o.tool.current > 0 {
		o.tool.current--
	}
	o.tool.refs = make(map[string]string)
	return fmt.Sprintf("[VERIFIED] Closed tab t%d, current t%d", idx+1, o.tool.current+1), nil
}

func (o *operation) snapshot() (string, error) {
	page := o.tool.page()
	v, err := page.Evaluate(snapshotScript)
	if err != nil {
		return "", o.fail(err, "snapshot")
	}
	elems := parseElements(v)
	o.tool.refs = make(map[string]string, len(elems))
	for _, e := range elems {
		o.tool.refs[e.Ref] = refSelector(e.Ref)
	}
	title, _ := page.Title()
	return formatSnapshot(page.URL(), title, elems), nil
}

// target returns the selector addressed by ref or selector.
func (o *operation) target() (string, string, error) {
	if ref := strings.TrimSpace(tools.String(o.args, "ref")); ref != "" {
		sel, ok := o.tool.refs[ref]
		if !ok {
			return "", "", tools.InvalidArguments("unknown ref %q; take a snapshot first", ref)
		}
		return sel, ref, nil
	}
	if sel := strings.TrimSpace(tools.String(o.args, "selector")); sel != "" {
		return sel, sel, nil
	}
	return "", "", tools.InvalidArguments("ref or selector is required")
}

func (o *operation) click() (string, error) {
	sel, label, err := o.target()
	if err != nil {
		return "", err
	}
	if err := o.tool.page().Click(sel, o.timeout); err != nil {
		return "", o.fail(err, "click %s", label)
	}
	return fmt.Sprintf("[VERIFIED] Clicked %s", label), nil
}

func (o *operation) typeText() (string, error) {
	sel, label, err := o.target()
	if err != nil {
		return "", err
	}
	if _, ok := o.args["text"]; !ok {
		return "", tools.InvalidArguments("text is required")
	}
	text := tools.String(o.args, "text")
	if err := o.tool.page().Fill(sel, text, o.timeout); err != nil {
		return "", o.fail(err, "type into %s", label)
	}
	return fmt.Sprintf("[VERIFIED] Typed %d chars into %s", len([]rune(text)), label), nil
}

// setChecked clicks the element only when its state differs from want,
// then reads the state back.
func (o *operation) setChecked(want bool) (string, error) {
	sel, label, err := o.target()
	if err != nil {
		return "", err
	}
	page := o.tool.page()

	state, err := page.IsChecked(sel, o.timeout)
	if err != nil {
		return "", o.fail(err, "read state of %s", label)
	}
	if state == want {
		return fmt.Sprintf("[VERIFIED] %s already %s", label, checkedWord(want)), nil
	}
	if err := page.Click(sel, o.timeout); err != nil {
		return "", o.fail(err, "click %s", label)
	}
	state, err = page.IsChecked(sel, o.timeout)
	if err != nil {
		return "", o.fail(err, "verify state of %s", label)
	}
	if state != want {
		return "", tools.External(nil, "%s is still %s after click", label, checkedWord(state))
	}
	return fmt.Sprintf("[VERIFIED] %s is now %s", label, checkedWord(want)), nil
}

func checkedWord(checked bool) string {
	if checked {
		return "checked"
	}
	return "unchecked"
}

func (o *operation) press() (string, error) {
	key, err := tools.RequiredString(o.args, "key")
	if err != nil {
		return "", err
	}
	if err := o.tool.page().Press(key); err != nil {
		return "", o.fail(err, "press %s", key)
	}
	return fmt.Sprintf("[VERIFIED] Pressed %s", key), nil
}

func (o *operation) wait() (string, error) {
	page := o.tool.page()
	if sel := strings.TrimSpace(tools.String(o.args, "selector")); sel != "" {
		if err := page.WaitForSelector(sel, o.timeout); err != nil {
			return "", o.fail(err, "wait for %s", sel)
		}
		return fmt.Sprintf("[VERIFIED] %s is visible", sel), nil
	}
	if _, ok := o.args["timeout"]; !ok {
		return "", tools.InvalidArguments("wait needs selector or timeout")
	}
	page.Wait(o.timeout)
	return fmt.Sprintf("Waited %dms", int(o.timeout)), nil
}

func (o *operation) getText() (string, error) {
	page := o.tool.page()
	html, err := page.Content()
	if err != nil {
		return "", o.fail(err, "read page")
	}
	base, _ := url.Parse(page.URL())
	doc, err := web.Extract(html, web.ModeText, base)
	if err != nil {
		return "", tools.External(err, "failed to extract page text")
	}
	var b strings.Builder
	b.WriteString("[PAGE CONTENT]\n")
	fmt.Fprintf(&b, "URL: %s\n", page.URL())
	if doc.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", doc.Title)
	}
	b.WriteByte('\n')
	b.WriteString(doc.Content)
	return b.String(), nil
}

func (o *operation) screenshot() (string, error) {
	path, err := o.screenshotPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", tools.External(err, "failed to create screenshot directory")
	}
	if err := o.tool.page().Screenshot(path); err != nil {
		return "", o.fail(err, "screenshot")
	}
	return fmt.Sprintf("Screenshot saved to %s", path), nil
}

func (o *operation) screenshotPath() (string, error) {
	if p := tools.String(o.args, "path"); p != "" {
		if o.tool.guard == nil {
			return filepath.Abs(p)
		}
		resolved, err := o.tool.guard.Resolve(p)
		if errors.Is(err, workspace.ErrOutsideWorkspace) {
			return "", tools.OutsideWorkspace(err, "screenshot path %s is outside the workspace", p)
		}
		if err != nil {
			return "", tools.InvalidArguments("invalid path %s: %v", p, err)
		}
		return resolved, nil
	}
	name := fmt.Sprintf("screenshot_%s.png", o.tool.now().Format("20060102_150405"))
	return filepath.Join(o.tool.screenshotDir, name), nil
}

func (o *operation) evaluate() (string, error) {
	script, err := tools.RequiredString(o.args, "script")
	if err != nil {
		return "", err
	}
	v, err := o.tool.page().Evaluate(script)
	if err != nil {
		return "", o.fail(err, "evaluate")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v), nil
	}
	return string(data), nil
}

// fail maps engine errors onto tool error kinds.
func (o *operation) fail(err error, format string, args ...interface{}) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, ErrTimeout) {
		return tools.Timeout("%s timed out after %dms", what, int(o.timeout))
	}
	return tools.External(err, "failed to %s", what)
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "about:blank" {
		return raw, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", tools.InvalidArguments("invalid url %q", raw)
	}
	switch u.Scheme {
	case "http", "https":
		return u.String(), nil
	default:
		return "", tools.InvalidArguments("unsupported url scheme %q", u.Scheme)
	}
}
