package worklog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/worklog-cli/internal/browser"
	"github.com/xkilldash9x/worklog-cli/internal/locators"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Human readable names used in step logs and error messages.
var targetLabels = map[string]string{
	locators.TargetWorklogsSection: "My Worklogs section",
	locators.TargetPendingToggle:   "Pending tab",
	locators.TargetPendingRows:     "pending worklog rows",
	locators.TargetCompleteButton:  "Complete button",
	locators.TargetFormHeading:     "worklog form",
	locators.TargetStatusNative:    "work status select",
	locators.TargetStatusTrigger:   "work status dropdown",
	locators.TargetStatusOption:    "work status option",
	locators.TargetEditor:          "rich-text editor",
	locators.TargetSubmitButton:    "Submit button",
}

func label(target string) string {
	if l, ok := targetLabels[target]; ok {
		return l
	}
	return target
}

// Resolution is the element a target resolved to and which candidate found it.
type Resolution struct {
	Element *browser.Element
	Index   int
	Locator locators.Locator
}

// Resolver tries a target's candidates in order until one yields an element.
type Resolver struct {
	driver   browser.Driver
	registry *locators.Registry
	vars     map[string]string
	// wait bounds the first candidate; later candidates get fallbackWait since
	// the page has had the first wait to settle.
	wait         time.Duration
	fallbackWait time.Duration
	logger       *zap.Logger
}

func newResolver(d browser.Driver, reg *locators.Registry, vars map[string]string, wait time.Duration, logger *zap.Logger) *Resolver {
	fallback := wait / 4
	if fallback < 500*time.Millisecond {
		fallback = 500 * time.Millisecond
	}
	if fallback > wait {
		fallback = wait
	}
	return &Resolver{
		driver:       d,
		registry:     reg,
		vars:         vars,
		wait:         wait,
		fallbackWait: fallback,
		logger:       logger,
	}
}

// Resolve returns the first candidate for target that matches within its
// wait. A candidate that matches nothing is not an error; only running out of
// candidates is.
func (r *Resolver) Resolve(ctx context.Context, ev *Evidence, target string, mode browser.WaitMode) (Resolution, error) {
	return r.resolve(ctx, ev, target, mode, r.wait)
}

// ResolveQuick is Resolve with the short wait for every candidate, for
// elements whose absence is expected on some layouts.
func (r *Resolver) ResolveQuick(ctx context.Context, ev *Evidence, target string, mode browser.WaitMode) (Resolution, error) {
	return r.resolve(ctx, ev, target, mode, r.fallbackWait)
}

func (r *Resolver) resolve(ctx context.Context, ev *Evidence, target string, mode browser.WaitMode, firstWait time.Duration) (Resolution, error) {
	candidates, err := r.registry.Candidates(target)
	if err != nil {
		return Resolution{}, err
	}

	var (
		tried []string
		errs  error
	)
	for i, loc := range candidates {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		wait := r.fallbackWait
		if i == 0 {
			wait = firstWait
		}
		tried = append(tried, loc.Key)

		findCtx, cancel := context.WithTimeout(ctx, wait)
		el, err := r.driver.Find(findCtx, loc.Render(r.vars), mode)
		cancel()
		if err == nil {
			if i > 0 {
				ev.Step("Found %s using fallback locator %s", label(target), loc)
			} else {
				ev.Step("Found %s", label(target))
			}
			return Resolution{Element: el, Index: i, Locator: loc}, nil
		}
		r.logger.Debug("Locator candidate missed.",
			zap.String("target", target),
			zap.String("key", loc.Key),
			zap.Duration("wait", wait),
			zap.Error(err))
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", loc.Key, err))
	}

	return Resolution{}, &ElementNotFoundError{
		Target: target,
		Label:  label(target),
		Tried:  tried,
		Err:    errs,
	}
}

// Count polls each candidate in order and returns the matches of the first one
// that finds any. Zero matches everywhere is a valid answer, not an error.
func (r *Resolver) Count(ctx context.Context, target string, wait time.Duration, poll time.Duration) ([]*browser.Element, int, error) {
	candidates, err := r.registry.Candidates(target)
	if err != nil {
		return nil, -1, err
	}
	var errs error
	for i, loc := range candidates {
		expr := loc.Render(r.vars)
		deadline := time.Now().Add(wait)
		for {
			els, err := r.driver.FindAll(ctx, expr)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", loc.Key, err))
				break
			}
			if len(els) > 0 {
				return els, i, nil
			}
			if !time.Now().Before(deadline) {
				break
			}
			if err := sleepCtx(ctx, poll); err != nil {
				return nil, -1, err
			}
		}
	}
	// Every candidate erroring is a broken page, not an empty list.
	if errs != nil && len(multierr.Errors(errs)) == len(candidates) {
		return nil, -1, errors.Join(fmt.Errorf("counting %s", label(target)), errs)
	}
	return nil, -1, nil
}
