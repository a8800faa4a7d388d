package browser

import (
	"errors"
	"time"
)

// ErrNotReady marks the known-transient failure class: an element that has
// not appeared yet, a detached node, an action that timed out while the page
// was still settling. Retry policies only ever retry errors wrapping it.
var ErrNotReady = errors.New("browser: element not ready")

// Page is the narrow driver surface every workflow component talks to.
// Selectors use the playwright selector syntax, including chained
// ">> nth=N" suffixes. Actions that target a selector operate on its first
// match.
type Page interface {
	// URL returns the address currently shown
	URL() string

	// Title returns the document title
	Title() (string, error)

	// Content returns the serialized DOM
	Content() (string, error)

	// Goto navigates directly. Only entry pages may be reached this way;
	// see Guard.
	Goto(url string) error

	// Click clicks the first element matching selector
	Click(selector string, opts ClickOptions) error

	// Count returns the number of elements matching selector
	Count(selector string) (int, error)

	// IsVisible reports whether the first match is visible. A missing
	// element is not visible and not an error.
	IsVisible(selector string) (bool, error)

	// InnerText returns the rendered text of the first match
	InnerText(selector string) (string, error)

	// AllInnerTexts returns the rendered text of every match in DOM order
	AllInnerTexts(selector string) ([]string, error)

	// Fill replaces the value of an input
	Fill(selector, value string) error

	// TypeText types into an input one key at a time
	TypeText(selector, text string, delay time.Duration) error

	// PressKey presses a key on the focused element (e.g. "Tab", "Enter")
	PressKey(key string) error

	// KeyboardType types text into whatever currently has focus
	KeyboardType(text string, delay time.Duration) error

	// SelectOption picks an option of a select element by value or label
	SelectOption(selector, value string) error

	// SetInputFiles assigns files to a file input
	SetInputFiles(selector string, files ...string) error

	// WaitForSelector waits until the first match is visible
	WaitForSelector(selector string, timeout time.Duration) error

	// WaitForNetworkIdle waits until the page has no network activity
	WaitForNetworkIdle(timeout time.Duration) error

	// Evaluate runs a script in the page context
	Evaluate(script string, args ...interface{}) (interface{}, error)

	// ExpectDownload runs trigger and returns the download it starts
	ExpectDownload(trigger func() error, timeout time.Duration) (Download, error)

	// Screenshot writes a full-page PNG to path
	Screenshot(path string) error

	// MouseMove moves the pointer to the given viewport coordinates
	MouseMove(x, y float64) error
}

// Download is a file transfer started by the page.
type Download interface {
	SuggestedFilename() string
	SaveAs(path string) error
	Cancel() error
}

// ClickOptions configures element clicking behavior.
type ClickOptions struct {
	// Force skips actionability checks (used for overlays that are
	// visible but covered)
	Force bool

	// Timeout bounds the click; 0 means DefaultActionTimeout
	Timeout time.Duration
}

// Default values for various operations
const (
	DefaultEndpoint      = "http://127.0.0.1:9222"
	DefaultProbeTimeout  = 3 * time.Second
	DefaultActionTimeout = 10 * time.Second
	DefaultWaitTimeout   = 15 * time.Second
)
