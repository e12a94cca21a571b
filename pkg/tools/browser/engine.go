package browser

import "errors"

// ErrTimeout is wrapped by engines when a browser operation hits its deadline.
var ErrTimeout = errors.New("browser operation timed out")

// LaunchOptions configures a new browser.
type LaunchOptions struct {
	Headless       bool
	Timeout        float64 // default operation timeout in milliseconds
	ViewportWidth  int
	ViewportHeight int
}

// Launcher starts browsers.
type Launcher interface {
	Launch(opts LaunchOptions) (Engine, error)
}

// Engine is a running browser with one isolated context.
type Engine interface {
	NewPage() (Page, error)
	Close() error
}

// Page is a single tab. Timeouts are in milliseconds.
type Page interface {
	Goto(url string, timeout float64) error
	URL() string
	Title() (string, error)
	Content() (string, error)
	Click(selector string, timeout float64) error
	Fill(selector, text string, timeout float64) error
	IsChecked(selector string, timeout float64) (bool, error)
	Press(key string) error
	WaitForSelector(selector string, timeout float64) error
	Wait(ms float64)
	Screenshot(path string) error
	Evaluate(script string) (interface{}, error)
	BringToFront() error
	Close() error
}
