package worklog

import (
	"errors"
	"fmt"
	"strings"
)

// errNothingPending ends a run early and successfully.
var errNothingPending = errors.New("no pending worklog")

// ElementNotFoundError means every candidate locator for a target failed.
type ElementNotFoundError struct {
	Target string
	Label  string
	Tried  []string
	Err    error
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("%s not found after trying %d locator(s) [%s]: %v",
		e.Label, len(e.Tried), strings.Join(e.Tried, ", "), e.Err)
}

func (e *ElementNotFoundError) Unwrap() error { return e.Err }

// NavigationFailedError means a page never became ready within the attempts.
type NavigationFailedError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NavigationFailedError) Error() string {
	return fmt.Sprintf("navigation to %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *NavigationFailedError) Unwrap() error { return e.Err }

// CookieInjectionFailedError names the cookie that could not be installed.
type CookieInjectionFailedError struct {
	Cookie   string
	Attempts int
	Err      error
}

func (e *CookieInjectionFailedError) Error() string {
	return fmt.Sprintf("cookie %s could not be set after %d attempt(s): %v", e.Cookie, e.Attempts, e.Err)
}

func (e *CookieInjectionFailedError) Unwrap() error { return e.Err }

// DropdownSelectionError is recovered from: the run continues with a warning.
type DropdownSelectionError struct {
	Option string
	Err    error
}

func (e *DropdownSelectionError) Error() string {
	return fmt.Sprintf("could not select %q: %v", e.Option, e.Err)
}

func (e *DropdownSelectionError) Unwrap() error { return e.Err }
