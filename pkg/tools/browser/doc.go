// Package browser provides the browser tool: one action-dispatch tool
// over a single Chromium session driven through Playwright.
//
// # Session
//
// The session is owned by the tool and persists (history, cookies, tabs)
// until the stop action. Actions are serialized: one command is in
// flight at a time and the rest queue on a mutex. Any action other than
// start, status and stop starts the session lazily.
//
// # Actions
//
//	start, stop, status          lifecycle; status never starts a session
//	navigate (open), new_tab     load a URL in the current or a new tab
//	tabs, switch_tab, close_tab  tabs are addressed as t1..tN
//	snapshot                     list interactive elements as refs e1..eN
//	click, type, press, wait     interact by ref or CSS selector
//	check, uncheck               click only when the state differs, then verify
//	get_text, screenshot         read the page
//	evaluate                     run JavaScript and return the JSON value
//
// Results of mutating actions carry a [VERIFIED] prefix once the browser
// confirmed the effect.
//
// # Engines
//
// The tool talks to the browser through the Launcher and Page interfaces.
// NewPlaywrightLauncher returns the Playwright implementation; tests use
// an in-memory fake.
package browser
