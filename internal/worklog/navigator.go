package worklog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/worklog-cli/internal/browser"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// sleeper waits for d or until ctx is done.
type sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var errNotReady = errors.New("document did not become ready")

// Navigator loads pages, retrying with a fixed backoff.
type Navigator struct {
	driver    browser.Driver
	timeout   time.Duration
	readyWait time.Duration
	poll      time.Duration
	backoff   time.Duration
	sleep     sleeper
	logger    *zap.Logger
}

// NavigateWithRetry makes up to attempts tries at loading url. Each attempt is
// bounded by the navigation timeout, then polls readiness for a short while.
// A failed attempt stops any in-flight loading before the next one.
func (n *Navigator) NavigateWithRetry(ctx context.Context, ev *Evidence, url string, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	var errs error
	for i := 1; i <= attempts; i++ {
		err := n.attempt(ctx, url)
		if err == nil {
			if i > 1 {
				ev.Step("Loaded %s on attempt %d/%d", url, i, attempts)
			} else {
				ev.Step("Loaded %s", url)
			}
			return nil
		}
		errs = multierr.Append(errs, fmt.Errorf("attempt %d: %w", i, err))

		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if serr := n.driver.StopLoading(stopCtx); serr != nil {
			n.logger.Debug("Stop loading failed.", zap.Error(serr))
		}
		cancel()

		if i == attempts {
			break
		}
		ev.Warn("Navigation to %s failed (attempt %d/%d): %v; retrying in %s", url, i, attempts, err, n.backoff)
		if serr := n.sleep(ctx, n.backoff); serr != nil {
			errs = multierr.Append(errs, serr)
			return &NavigationFailedError{URL: url, Attempts: i, Err: errs}
		}
	}
	return &NavigationFailedError{URL: url, Attempts: attempts, Err: errs}
}

func (n *Navigator) attempt(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.driver.Navigate(navCtx, url); err != nil {
		return err
	}
	return n.waitReady(ctx)
}

// waitReady polls document.readyState. "complete" is accepted at once;
// "interactive" is accepted if that is where the page sits when the wait runs
// out, since long-polling pages never reach "complete".
func (n *Navigator) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(n.readyWait)
	var last string
	for {
		state, err := n.driver.ReadyState(ctx)
		if err != nil {
			return fmt.Errorf("reading ready state: %w", err)
		}
		last = state
		if state == "complete" {
			return nil
		}
		if !time.Now().Before(deadline) {
			break
		}
		if err := sleepCtx(ctx, n.poll); err != nil {
			return err
		}
	}
	if last == "interactive" {
		return nil
	}
	return fmt.Errorf("%w: readyState %q", errNotReady, last)
}
