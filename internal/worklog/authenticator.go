package worklog

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/worklog-cli/internal/browser"
	"go.uber.org/multierr"
)

// Authenticator installs the session cookies on a loaded page.
type Authenticator struct {
	driver  browser.Driver
	domain  string
	retries int
	delay   time.Duration
	sleep   sleeper
	now     func() time.Time
}

// Inject clears every cookie, then sets the six session cookies. A cookie that
// cannot be set after the configured retries aborts with its name.
func (a *Authenticator) Inject(ctx context.Context, ev *Evidence, creds Credentials) error {
	state, err := a.driver.ReadyState(ctx)
	if err != nil {
		return fmt.Errorf("page not ready for cookie injection: %w", err)
	}
	if state != "complete" && state != "interactive" {
		return fmt.Errorf("page not ready for cookie injection: readyState %q", state)
	}

	if err := a.driver.ClearCookies(ctx); err != nil {
		return fmt.Errorf("clearing existing cookies: %w", err)
	}
	ev.Step("Cleared existing cookies")

	retries := a.retries
	if retries < 1 {
		retries = 1
	}
	set := 0
	for _, tok := range creds.Tokens() {
		clean := SanitizeToken(tok.Value, a.now())
		switch clean.Verdict {
		case TokenTruncated:
			ev.Step("Sanitized %s: %s", tok.Name, clean.Note)
		case TokenJWT:
			ev.Step("%s: %s", tok.Name, clean.Note)
		case TokenFlagged:
			ev.Warn("%s: %s", tok.Name, clean.Note)
		}
		if clean.Value == "" {
			ev.Warn("%s is empty; not set", tok.Name)
			continue
		}

		cookie := browser.Cookie{
			Name:   tok.Name,
			Value:  clean.Value,
			Domain: a.domain,
			Path:   "/",
			Secure: true,
		}
		var errs error
		ok := false
		for attempt := 1; attempt <= retries; attempt++ {
			err := a.driver.SetCookie(ctx, cookie)
			if err == nil {
				ok = true
				break
			}
			errs = multierr.Append(errs, err)
			if attempt < retries {
				if serr := a.sleep(ctx, a.delay); serr != nil {
					errs = multierr.Append(errs, serr)
					return &CookieInjectionFailedError{Cookie: tok.Name, Attempts: attempt, Err: errs}
				}
			}
		}
		if !ok {
			return &CookieInjectionFailedError{Cookie: tok.Name, Attempts: retries, Err: errs}
		}
		set++
	}
	ev.Step("Set %d session cookies for %s", set, a.domain)
	return nil
}
