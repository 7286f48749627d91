package worklog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xkilldash9x/worklog-cli/internal/browser"
	"github.com/xkilldash9x/worklog-cli/internal/config"
	"github.com/xkilldash9x/worklog-cli/internal/locators"
	"go.uber.org/zap"
)

// State is a position in the submission state machine.
type State int

const (
	StateIdle State = iota
	StateBrowserLaunched
	StateAuthenticated
	StatePendingItemLocated
	StateFormOpened
	StateFormFilled
	StateSubmitted
	StateTearingDown
	StateDone
)

var stateNames = [...]string{
	"Idle",
	"BrowserLaunched",
	"Authenticated",
	"PendingItemLocated",
	"FormOpened",
	"FormFilled",
	"Submitted",
	"TearingDown",
	"Done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

const (
	msgSubmitted = "Worklog submitted successfully"
	msgNothing   = "No pending worklog to submit"

	screenshotTimeout = 15 * time.Second
)

// ScreenshotSink persists screenshots as they are taken.
type ScreenshotSink interface {
	SaveScreenshot(ctx context.Context, userKey, description string, png []byte) error
}

// Option customizes a Runner.
type Option func(*Runner)

// WithScreenshotSink forwards every captured screenshot to sink.
func WithScreenshotSink(sink ScreenshotSink) Option {
	return func(r *Runner) { r.sink = sink }
}

// WithClock replaces time.Now, which feeds the {{today}} locator variable.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner performs single worklog submissions. Each Run owns its own browser
// and evidence, so a Runner may be reused; Batch serializes the runs.
type Runner struct {
	cfg      config.Interface
	launcher browser.Launcher
	locators locators.Source
	sink     ScreenshotSink
	logger   *zap.Logger
	now      func() time.Time
	sleep    sleeper
}

// NewRunner wires a Runner.
func NewRunner(cfg config.Interface, launcher browser.Launcher, source locators.Source, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if cfg == nil || launcher == nil || source == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize runner with nil dependencies")
	}
	r := &Runner{
		cfg:      cfg,
		launcher: launcher,
		locators: source,
		logger:   logger.Named("worklog"),
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes one complete submission attempt and always returns a Result;
// failures are reported in it, never raised. Cancelling ctx does not stop a
// run in progress: every wait inside it is bounded by its own timeout.
func (r *Runner) Run(ctx context.Context, creds Credentials) *Result {
	runID := uuid.NewString()
	logger := r.logger.With(zap.String("run_id", runID), zap.String("user", creds.MaskedKey()))
	res := r.run(browser.Detach(ctx), creds, newEvidence(logger))
	res.RunID = runID
	return res
}

func (r *Runner) run(ctx context.Context, creds Credentials, ev *Evidence) *Result {
	a := &attempt{
		r:      r,
		ev:     ev,
		creds:  creds.WithDefaults(r.cfg.Worklog().Defaults),
		net:    r.cfg.Network(),
		wl:     r.cfg.Worklog(),
		logger: ev.logger,
		state:  StateIdle,
	}

	started := r.now()
	status, msg := a.drive(ctx)
	reached := a.state
	a.teardown(ctx)

	res := NewResult(status, msg, ev.Steps(), ev.Screenshots())
	res.User = creds.MaskedKey()
	res.Reached = reached
	res.Nothing = a.nothing
	res.StartedAt = started
	res.FinishedAt = r.now()
	a.state = StateDone

	ev.Reset()
	if settle := r.cfg.Browser().TeardownSettle; settle > 0 {
		_ = r.sleep(ctx, settle)
	}

	fields := []zap.Field{
		zap.String("status", string(res.Status)),
		zap.Stringer("reached", reached),
		zap.Int("steps", len(res.Steps)),
		zap.Int("screenshots", len(res.Screenshots)),
	}
	if res.Succeeded() {
		a.logger.Info("Run finished.", fields...)
	} else {
		a.logger.Warn("Run finished with an error.", append(fields, zap.String("message", res.Message))...)
	}
	return res
}

// attempt is the mutable state of one run.
type attempt struct {
	r      *Runner
	ev     *Evidence
	creds  Credentials
	net    config.NetworkConfig
	wl     config.WorklogConfig
	logger *zap.Logger

	state    State
	nothing  bool
	inst     browser.Instance
	resolver *Resolver
	nav      *Navigator
	complete *browser.Element
}

type phase struct {
	name string
	next State
	fn   func(context.Context) error
}

func (a *attempt) drive(ctx context.Context) (status Status, msg string) {
	defer func() {
		if p := recover(); p != nil {
			a.logger.Error("Run panicked.", zap.Any("panic", p), zap.Stack("stack"))
			msg = fmt.Sprintf("unexpected failure: %v", p)
			a.ev.Fail("%s", msg)
			a.captureError(ctx)
			status = StatusError
		}
	}()

	if err := a.creds.Validate(); err != nil {
		a.ev.Fail("%v", err)
		return StatusError, err.Error()
	}

	phases := []phase{
		{"launch browser", StateBrowserLaunched, a.launch},
		{"authenticate", StateAuthenticated, a.authenticate},
		{"locate pending worklog", StatePendingItemLocated, a.locate},
		{"open form", StateFormOpened, a.openForm},
		{"fill form", StateFormFilled, a.fill},
		{"submit form", StateSubmitted, a.submit},
	}
	for _, p := range phases {
		if err := p.fn(ctx); err != nil {
			if errors.Is(err, errNothingPending) {
				a.nothing = true
				a.ev.Step(msgNothing)
				return StatusSuccess, msgNothing
			}
			a.ev.Fail("%s: %v", p.name, err)
			a.captureError(ctx)
			return StatusError, err.Error()
		}
		a.state = p.next
		a.logger.Debug("Run advanced.", zap.Stringer("state", a.state))
	}
	a.ev.Step(msgSubmitted)
	return StatusSuccess, msgSubmitted
}

func (a *attempt) settle(ctx context.Context) error {
	return a.r.sleep(ctx, a.net.PostActionWait)
}

func (a *attempt) launch(ctx context.Context) error {
	a.ev.Step("Launching browser")
	launchCtx, cancel := context.WithTimeout(ctx, a.net.NavigationTimeout)
	defer cancel()
	inst, err := a.r.launcher.Launch(launchCtx)
	if err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}
	a.inst = inst

	vars := map[string]string{
		locators.VarToday:  a.r.now().Format(locators.TodayLayout),
		locators.VarStatus: a.wl.StatusOption,
	}
	a.resolver = newResolver(inst, a.r.locators.Current(), vars, a.net.ElementTimeout, a.logger)
	a.nav = &Navigator{
		driver:    inst,
		timeout:   a.net.NavigationTimeout,
		readyWait: a.net.ReadyWait,
		poll:      250 * time.Millisecond,
		backoff:   a.net.RetryBackoff,
		sleep:     a.r.sleep,
		logger:    a.logger,
	}
	a.ev.Step("Browser launched")
	return nil
}

func (a *attempt) authenticate(ctx context.Context) error {
	if err := a.nav.NavigateWithRetry(ctx, a.ev, a.wl.BaseURL, a.net.MaxRetries); err != nil {
		return err
	}
	a.capture(ctx, "Homepage loaded")

	auth := &Authenticator{
		driver:  a.inst,
		domain:  a.wl.CookieDomain,
		retries: a.net.CookieRetries,
		delay:   a.net.CookieRetryDelay,
		sleep:   a.r.sleep,
		now:     a.r.now,
	}
	if err := auth.Inject(ctx, a.ev, a.creds); err != nil {
		return err
	}
	a.ev.Step("Authenticated")
	return nil
}

// locate finds the Complete button of the first pending row. An empty pending
// list only counts as nothing to do once the worklogs page itself was
// recognized; a sign-in page or any other layout is an error.
func (a *attempt) locate(ctx context.Context) error {
	a.ev.Step("Locating pending worklog")
	if err := a.nav.NavigateWithRetry(ctx, a.ev, a.wl.FormURL(), a.net.MaxRetries); err != nil {
		return err
	}
	if err := a.settle(ctx); err != nil {
		return err
	}
	a.capture(ctx, "Internships page loaded")

	section, sectionErr := a.resolver.ResolveQuick(ctx, a.ev, locators.TargetWorklogsSection, browser.WaitPresent)
	toggle, toggleErr := a.resolver.ResolveQuick(ctx, a.ev, locators.TargetPendingToggle, browser.WaitInteractable)
	if sectionErr != nil && toggleErr != nil {
		return sectionErr
	}

	if sectionErr == nil {
		if err := a.inst.ScrollIntoView(ctx, section.Element); err != nil {
			a.logger.Debug("Scrolling to worklogs failed.", zap.Error(err))
		}
	} else {
		a.ev.Warn("My Worklogs section not found, continuing")
	}

	if toggleErr == nil {
		if err := a.inst.Click(ctx, toggle.Element); err != nil {
			a.ev.Warn("Could not open the Pending tab: %v", err)
		} else if err := a.settle(ctx); err != nil {
			return err
		}
	} else {
		a.ev.Warn("Pending tab not found, continuing")
	}

	rows, _, err := a.resolver.Count(ctx, locators.TargetPendingRows, a.resolver.fallbackWait, 250*time.Millisecond)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errNothingPending
	}
	a.ev.Step("Found %d pending worklog row(s)", len(rows))

	res, err := a.resolver.Resolve(ctx, a.ev, locators.TargetCompleteButton, browser.WaitInteractable)
	if err != nil {
		return err
	}
	a.complete = res.Element
	a.ev.Step("Pending worklog located")
	return nil
}

func (a *attempt) openForm(ctx context.Context) error {
	if err := a.inst.ScrollIntoView(ctx, a.complete); err != nil {
		a.logger.Debug("Scrolling to Complete failed.", zap.Error(err))
	}
	if err := a.inst.Click(ctx, a.complete); err != nil {
		return fmt.Errorf("clicking Complete: %w", err)
	}
	a.ev.Step("Clicked Complete")
	if err := a.settle(ctx); err != nil {
		return err
	}
	if _, err := a.resolver.Resolve(ctx, a.ev, locators.TargetFormHeading, browser.WaitPresent); err != nil {
		return err
	}
	a.capture(ctx, "Worklog form opened")
	return nil
}

func (a *attempt) fill(ctx context.Context) error {
	f := &Filler{
		driver:       a.inst,
		resolver:     a.resolver,
		status:       a.wl.StatusOption,
		placeholders: a.wl.Placeholders,
		settle:       a.net.PostActionWait,
		sleep:        a.r.sleep,
	}
	if err := f.SelectStatus(ctx, a.ev); err != nil {
		a.ev.Warn("%v; continuing without a work status", err)
	}

	editor, err := a.resolver.Resolve(ctx, a.ev, locators.TargetEditor, browser.WaitInteractable)
	if err != nil {
		return err
	}
	if err := f.Fill(ctx, a.ev, editor.Element, a.creds.Content); err != nil {
		return err
	}
	if err := a.settle(ctx); err != nil {
		return err
	}
	a.capture(ctx, "Worklog form filled")
	return nil
}

func (a *attempt) submit(ctx context.Context) error {
	btn, err := a.resolver.Resolve(ctx, a.ev, locators.TargetSubmitButton, browser.WaitInteractable)
	if err != nil {
		return err
	}
	if err := a.inst.Click(ctx, btn.Element); err != nil {
		return fmt.Errorf("clicking Submit: %w", err)
	}
	a.ev.Step("Clicked Submit")
	if err := a.settle(ctx); err != nil {
		return err
	}
	a.capture(ctx, "After submission")
	return nil
}

// capture is best effort: a failed screenshot is noted and the run goes on.
func (a *attempt) capture(ctx context.Context, description string) {
	if a.inst == nil {
		return
	}
	shotCtx, cancel := context.WithTimeout(ctx, screenshotTimeout)
	defer cancel()
	png, err := a.inst.Screenshot(shotCtx)
	if err != nil {
		a.ev.Warn("Screenshot %q failed: %v", description, err)
		return
	}
	a.ev.Capture(description, png)

	if a.r.sink == nil {
		return
	}
	if err := a.r.sink.SaveScreenshot(ctx, a.creds.Key(), description, png); err != nil {
		a.logger.Warn("Persisting screenshot failed.", zap.String("description", description), zap.Error(err))
	}
}

func (a *attempt) captureError(ctx context.Context) {
	a.capture(ctx, "Error state")
}

func (a *attempt) teardown(ctx context.Context) {
	a.state = StateTearingDown
	if a.inst == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			a.logger.Error("Browser teardown panicked.", zap.Any("panic", p), zap.Stack("stack"))
			a.ev.Warn("Browser teardown incomplete: unexpected failure: %v", p)
		}
		a.inst = nil
	}()
	report, err := a.inst.Close(ctx)
	switch {
	case err != nil:
		a.ev.Warn("Browser teardown incomplete: %v", err)
	case report.Graceful:
		a.ev.Step("Browser closed")
	default:
		a.ev.Step("Browser closed forcefully")
	}
}
