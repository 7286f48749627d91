// internal/browser/driver.go
package browser

import (
	"context"
	"errors"

	"github.com/chromedp/cdproto/cdp"
)

// ErrNoMatch is returned by Find when no node satisfied the expression in time.
var ErrNoMatch = errors.New("no element matched")

// WaitMode selects what Find waits for.
type WaitMode int

const (
	// WaitPresent accepts any node in the document.
	WaitPresent WaitMode = iota
	// WaitInteractable additionally requires a rendered box.
	WaitInteractable
)

func (m WaitMode) String() string {
	if m == WaitInteractable {
		return "interactable"
	}
	return "present"
}

// Element is a handle to a node found in the current document.
type Element struct {
	NodeID cdp.NodeID
	Tag    string
	Expr   string
}

// Cookie is a cookie to install before the authenticated navigation.
type Cookie struct {
	// URL scopes the cookie like a response from that URL would; when set it
	// takes precedence over Domain.
	URL      string
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
}

// Driver is everything the worklog automation asks of a browser. Each call is
// bounded by ctx; none of them retry.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	// ReadyState returns document.readyState.
	ReadyState(ctx context.Context) (string, error)
	StopLoading(ctx context.Context) error

	ClearCookies(ctx context.Context) error
	SetCookie(ctx context.Context, c Cookie) error

	// Find polls expr until a node satisfies mode or ctx is done. With several
	// matches the first in document order wins.
	Find(ctx context.Context, expr string, mode WaitMode) (*Element, error)
	// FindAll returns the current matches without waiting.
	FindAll(ctx context.Context, expr string) ([]*Element, error)

	Click(ctx context.Context, el *Element) error
	ScrollIntoView(ctx context.Context, el *Element) error
	InnerHTML(ctx context.Context, el *Element) (string, error)
	// SetInnerHTML replaces the element's content and dispatches input and change
	// events so editors with their own document model pick the change up.
	SetInnerHTML(ctx context.Context, el *Element, html string) error
	// SelectOption picks the first option of a native select whose label
	// contains label and dispatches change. It reports whether one matched.
	SelectOption(ctx context.Context, el *Element, label string) (bool, error)

	Screenshot(ctx context.Context) ([]byte, error)
}

// Instance is a running, run-owned browser.
type Instance interface {
	Driver
	// Close tears the browser down. Every stage is attempted even if an earlier
	// one failed; the report says what actually happened.
	Close(ctx context.Context) (TeardownReport, error)
}

// Launcher starts a fresh Instance.
type Launcher interface {
	Launch(ctx context.Context) (Instance, error)
}
