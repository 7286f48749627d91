// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/worklog-cli/internal/config"
	"go.uber.org/zap"
)

const defaultPollInterval = 250 * time.Millisecond

// ChromeLauncher starts one isolated Chrome per Launch call.
type ChromeLauncher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// NewLauncher creates a launcher for cfg.
func NewLauncher(cfg config.BrowserConfig, logger *zap.Logger) *ChromeLauncher {
	return &ChromeLauncher{cfg: cfg, logger: logger.Named("browser")}
}

// Launch creates a throwaway profile directory, starts Chrome on it and returns
// the session that owns both. The browser's lifetime is independent of ctx,
// which only bounds the start-up; the session ends with Close.
func (l *ChromeLauncher) Launch(ctx context.Context) (Instance, error) {
	profileDir, err := os.MkdirTemp("", "worklog-profile-*")
	if err != nil {
		return nil, fmt.Errorf("creating profile directory: %w", err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), DefaultAllocatorOptions(l.cfg, profileDir)...)
	sugar := l.logger.Sugar()
	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	s := &Session{
		cfg:          l.cfg,
		logger:       l.logger,
		ctx:          browserCtx,
		cancel:       cancel,
		allocCancel:  allocCancel,
		profileDir:   profileDir,
		started:      time.Now(),
		pollInterval: defaultPollInterval,
		reaper:       newReaper(l.cfg, l.logger),
	}

	if err := s.start(ctx); err != nil {
		_, cerr := s.Close(Detach(ctx))
		return nil, errors.Join(fmt.Errorf("starting browser: %w", err), cerr)
	}

	if c := chromedp.FromContext(browserCtx); c != nil && c.Browser != nil {
		s.process = c.Browser.Process()
	}
	l.logger.Debug("Browser launched.",
		zap.String("profile", profileDir),
		zap.Int("pid", s.PID()),
		zap.Bool("headless", l.cfg.Headless))
	return s, nil
}

// start spawns the browser process. chromedp ties the process and its event
// loop to the context of the first Run, so that Run must get the session
// context itself; ctx only decides how long to wait for it.
func (s *Session) start(ctx context.Context) error {
	done := make(chan error, 1)
	// Running no actions forces the allocator to spawn the process.
	go func() { done <- chromedp.Run(s.ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.cancel()
		s.allocCancel()
		<-done
		return ctx.Err()
	}
}

// Session is a chromedp backed Instance.
type Session struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	process     *os.Process
	profileDir  string
	started     time.Time

	pollInterval time.Duration
	reaper       *reaper

	closeOnce   sync.Once
	closeReport TeardownReport
	closeErr    error
}

var _ Instance = (*Session)(nil)

// PID returns the browser process id, or 0 if unknown.
func (s *Session) PID() int {
	if s.process == nil {
		return 0
	}
	return s.process.Pid
}

// run executes actions on the session's CDP target, bounded by the caller's ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *Session) ReadyState(ctx context.Context) (string, error) {
	var state string
	err := s.run(ctx, chromedp.Evaluate(`document.readyState`, &state))
	return state, err
}

func (s *Session) StopLoading(ctx context.Context) error {
	return s.run(ctx, page.StopLoading())
}

func (s *Session) ClearCookies(ctx context.Context) error {
	return s.run(ctx, network.ClearBrowserCookies())
}

func (s *Session) SetCookie(ctx context.Context, c Cookie) error {
	path := c.Path
	if path == "" {
		path = "/"
	}
	params := network.SetCookie(c.Name, c.Value).
		WithPath(path).
		WithSecure(c.Secure).
		WithHTTPOnly(c.HTTPOnly)
	if c.URL != "" {
		params = params.WithURL(c.URL)
	} else {
		params = params.WithDomain(c.Domain)
	}
	return s.run(ctx, params)
}

func (s *Session) Find(ctx context.Context, expr string, mode WaitMode) (*Element, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var (
		seen    int
		lastErr error
	)
	for {
		el, n, err := s.firstMatch(ctx, expr, mode)
		if el != nil {
			return el, nil
		}
		seen, lastErr = n, err

		select {
		case <-ctx.Done():
			msg := fmt.Sprintf("%s (%s, %d matched but none usable)", expr, mode, seen)
			if lastErr != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrNoMatch, msg, lastErr)
			}
			return nil, fmt.Errorf("%w: %s: %w", ErrNoMatch, msg, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Session) firstMatch(ctx context.Context, expr string, mode WaitMode) (*Element, int, error) {
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(expr, &nodes, chromedp.BySearch, chromedp.AtLeast(0))); err != nil {
		return nil, 0, err
	}
	for _, n := range nodes {
		if mode == WaitInteractable && !s.interactable(ctx, n.NodeID) {
			continue
		}
		return &Element{NodeID: n.NodeID, Tag: strings.ToLower(n.NodeName), Expr: expr}, len(nodes), nil
	}
	return nil, len(nodes), nil
}

// interactable reports whether the node has a layout box, i.e. is rendered.
func (s *Session) interactable(ctx context.Context, id cdp.NodeID) bool {
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := dom.GetBoxModel().WithNodeID(id).Do(ctx)
		return err
	}))
	return err == nil
}

func (s *Session) FindAll(ctx context.Context, expr string) ([]*Element, error) {
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(expr, &nodes, chromedp.BySearch, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	out := make([]*Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &Element{NodeID: n.NodeID, Tag: strings.ToLower(n.NodeName), Expr: expr})
	}
	return out, nil
}

func (s *Session) Click(ctx context.Context, el *Element) error {
	err := s.run(ctx, chromedp.Click([]cdp.NodeID{el.NodeID}, chromedp.ByNodeID))
	if err == nil {
		return nil
	}
	// Overlays can swallow the synthetic mouse event; fall back to a DOM click.
	s.logger.Debug("Mouse click failed, dispatching DOM click.", zap.String("expr", el.Expr), zap.Error(err))
	var ok bool
	if jsErr := s.callOn(ctx, el, `function() { this.click(); return true; }`, &ok); jsErr != nil {
		return errors.Join(err, jsErr)
	}
	return nil
}

func (s *Session) ScrollIntoView(ctx context.Context, el *Element) error {
	return s.run(ctx, chromedp.ScrollIntoView([]cdp.NodeID{el.NodeID}, chromedp.ByNodeID))
}

func (s *Session) InnerHTML(ctx context.Context, el *Element) (string, error) {
	var html string
	err := s.run(ctx, chromedp.InnerHTML([]cdp.NodeID{el.NodeID}, &html, chromedp.ByNodeID))
	return html, err
}

const setInnerHTMLFunc = `function(html) {
	this.innerHTML = html;
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

func (s *Session) SetInnerHTML(ctx context.Context, el *Element, html string) error {
	var ok bool
	return s.callOn(ctx, el, setInnerHTMLFunc, &ok, html)
}

const selectOptionFunc = `function(label) {
	if (!this.options) { return false; }
	for (const opt of this.options) {
		if (opt.text.includes(label)) {
			this.value = opt.value;
			opt.selected = true;
			this.dispatchEvent(new Event('input', { bubbles: true }));
			this.dispatchEvent(new Event('change', { bubbles: true }));
			return true;
		}
	}
	return false;
}`

func (s *Session) SelectOption(ctx context.Context, el *Element, label string) (bool, error) {
	var ok bool
	err := s.callOn(ctx, el, selectOptionFunc, &ok, label)
	return ok, err
}

// callOn invokes fn with the element bound to this.
func (s *Session) callOn(ctx context.Context, el *Element, fn string, res interface{}, args ...interface{}) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(el.NodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolving node: %w", err)
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

		withThis := func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
			return p.WithObjectID(obj.ObjectID)
		}
		return chromedp.CallFunctionOn(fn, res, withThis, args...).Do(ctx)
	}))
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}
