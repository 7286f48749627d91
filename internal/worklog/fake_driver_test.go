package worklog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"github.com/chromedp/cdproto/cdp"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/worklog-cli/internal/browser"
)

const (
	homeURL        = "https://kalvium.community"
	internshipsURL = "https://kalvium.community/internships"
)

const homePage = `<html><head><title>Kalvium</title></head><body><h1>Welcome</h1></body></html>`

const internshipsPage = `<html><body>
<h2>My Worklogs</h2>
<div><span>Pending</span></div>
<table>
  <tr><td>07 Mar 2026</td><td><button data-go="form">Complete</button></td></tr>
</table>
</body></html>`

const internshipsNothingPending = `<html><body>
<h2>My Worklogs</h2>
<div><span>Pending</span></div>
<table><tr><td>All caught up</td></tr></table>
</body></html>`

const internshipsHiddenComplete = `<html><body>
<h2>My Worklogs</h2>
<div><span>Pending</span></div>
<table>
  <tr><td>07 Mar 2026</td><td><button hidden data-go="form">Complete</button></td></tr>
</table>
</body></html>`

// Where an expired session lands instead of the worklogs page.
const internshipsSignIn = `<html><body>
<h1>Sign in to Kalvium</h1>
<form><input name="username"><input name="password" type="password"><button type="submit">Sign in</button></form>
</body></html>`

const formEditor = `<ul><li><p>Describe the tasks you completed today</p></li><li><p>Describe the tasks you completed today</p></li></ul>` +
	`<p>Challenges</p><ul><li><p>Describe the challenges you encountered</p></li></ul>` +
	`<p>Blockers</p><ul><li><p>Describe the blockers you faced</p></li></ul>`

const formPage = `<html><body><div role="dialog">
<h2>My Worklog</h2>
<p>What is your work status?</p>
<select><option value="">Select your response</option><option value="k">Working out of the Kalvium environment (Classroom)</option></select>
<div contenteditable="true">` + formEditor + `</div>
<button type="submit" data-go="done">Submit</button>
</div></body></html>`

// Custom dropdown instead of a native select.
const formPageCustomDropdown = `<html><body><div role="dialog">
<h2>My Worklog</h2>
<p>What is your work status?</p>
<div class="select-box" data-open="menu">Select your response</div>
<ul id="menu" hidden><li role="option">Working out of the Kalvium environment (Classroom)</li></ul>
<div contenteditable="true">` + formEditor + `</div>
<button type="submit" data-go="done">Submit</button>
</div></body></html>`

// No status control at all.
const formPageNoStatus = `<html><body><div role="dialog">
<h2>My Worklog</h2>
<div contenteditable="true">` + formEditor + `</div>
<button type="submit" data-go="done">Submit</button>
</div></body></html>`

const donePage = `<html><body><p>Worklog submitted</p></body></html>`

func sitePages() map[string]string {
	return map[string]string{
		homeURL:        homePage,
		internshipsURL: internshipsPage,
		"form":         formPage,
		"done":         donePage,
	}
}

// fakeDriver serves static pages through htmlquery. Clicking an element with
// data-go loads that page; data-open unhides the element with that id.
type fakeDriver struct {
	mu sync.Mutex

	pages   map[string]string
	doc     *html.Node
	current string
	ids     map[*html.Node]cdp.NodeID
	nodes   map[cdp.NodeID]*html.Node

	cookies      map[string]browser.Cookie
	cookieOrder  []string
	clearedTimes int
	selected     string
	editorHTML   string
	visited      []string
	clicks       []string
	shots        int
	closed       int

	navFailures map[string]int
	cookieFail  map[string]error
	cookieFlaky map[string]int
	shotErr     error
	panicOn     string
	closeReport browser.TeardownReport
	closeErr    error
}

func newFakeDriver(pages map[string]string) *fakeDriver {
	return &fakeDriver{
		pages:       pages,
		cookies:     map[string]browser.Cookie{},
		navFailures: map[string]int{},
		cookieFail:  map[string]error{},
		cookieFlaky: map[string]int{},
		closeReport: browser.TeardownReport{Graceful: true},
	}
}

var _ browser.Instance = (*fakeDriver)(nil)

func (f *fakeDriver) maybePanic(op string) {
	if f.panicOn == op {
		panic(fmt.Sprintf("fake driver: %s exploded", op))
	}
}

func (f *fakeDriver) load(key string) error {
	src, ok := f.pages[key]
	if !ok {
		return fmt.Errorf("net::ERR_NAME_NOT_RESOLVED %s", key)
	}
	doc, err := htmlquery.Parse(strings.NewReader(src))
	if err != nil {
		return err
	}
	f.doc = doc
	f.current = key
	f.ids = map[*html.Node]cdp.NodeID{}
	f.nodes = map[cdp.NodeID]*html.Node{}
	f.visited = append(f.visited, key)
	return nil
}

func (f *fakeDriver) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maybePanic("Navigate")
	if n := f.navFailures[url]; n != 0 {
		if n > 0 {
			f.navFailures[url] = n - 1
		}
		return fmt.Errorf("net::ERR_TIMED_OUT %s", url)
	}
	return f.load(url)
}

func (f *fakeDriver) ReadyState(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.doc == nil {
		return "loading", nil
	}
	return "complete", nil
}

func (f *fakeDriver) StopLoading(ctx context.Context) error { return nil }

func (f *fakeDriver) ClearCookies(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cookies = map[string]browser.Cookie{}
	f.cookieOrder = nil
	f.clearedTimes++
	return nil
}

func (f *fakeDriver) SetCookie(ctx context.Context, c browser.Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.cookieFail[c.Name]; err != nil {
		return err
	}
	if n := f.cookieFlaky[c.Name]; n > 0 {
		f.cookieFlaky[c.Name] = n - 1
		return errors.New("cdp: target busy")
	}
	f.cookies[c.Name] = c
	f.cookieOrder = append(f.cookieOrder, c.Name)
	return nil
}

func (f *fakeDriver) element(n *html.Node, expr string) *browser.Element {
	id, ok := f.ids[n]
	if !ok {
		id = cdp.NodeID(len(f.ids) + 1)
		f.ids[n] = id
		f.nodes[id] = n
	}
	return &browser.Element{NodeID: id, Tag: n.Data, Expr: expr}
}

func hidden(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		for _, a := range p.Attr {
			if a.Key == "hidden" {
				return true
			}
			if a.Key == "style" && strings.Contains(strings.ReplaceAll(a.Val, " ", ""), "display:none") {
				return true
			}
		}
	}
	return false
}

func (f *fakeDriver) query(expr string) ([]*html.Node, error) {
	if f.doc == nil {
		return nil, errors.New("no document loaded")
	}
	return htmlquery.QueryAll(f.doc, expr)
}

func (f *fakeDriver) Find(ctx context.Context, expr string, mode browser.WaitMode) (*browser.Element, error) {
	f.maybePanic("Find")
	f.mu.Lock()
	nodes, err := f.query(expr)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	for _, n := range nodes {
		if mode == browser.WaitInteractable && hidden(n) {
			continue
		}
		el := f.element(n, expr)
		f.mu.Unlock()
		return el, nil
	}
	f.mu.Unlock()

	// Static pages never change while waiting.
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %s: %w", browser.ErrNoMatch, expr, ctx.Err())
}

func (f *fakeDriver) FindAll(ctx context.Context, expr string) ([]*browser.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nodes, err := f.query(expr)
	if err != nil {
		return nil, err
	}
	out := make([]*browser.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, f.element(n, expr))
	}
	return out, nil
}

func (f *fakeDriver) node(el *browser.Element) (*html.Node, error) {
	n, ok := f.nodes[el.NodeID]
	if !ok {
		return nil, fmt.Errorf("node %d is stale", el.NodeID)
	}
	return n, nil
}

func (f *fakeDriver) Click(ctx context.Context, el *browser.Element) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maybePanic("Click")
	n, err := f.node(el)
	if err != nil {
		return err
	}
	f.clicks = append(f.clicks, strings.TrimSpace(htmlquery.InnerText(n)))
	if id := htmlquery.SelectAttr(n, "data-open"); id != "" {
		if menu := htmlquery.FindOne(f.doc, fmt.Sprintf("//*[@id='%s']", id)); menu != nil {
			attrs := menu.Attr[:0]
			for _, a := range menu.Attr {
				if a.Key != "hidden" {
					attrs = append(attrs, a)
				}
			}
			menu.Attr = attrs
		}
	}
	if htmlquery.SelectAttr(n, "role") == "option" {
		f.selected = strings.TrimSpace(htmlquery.InnerText(n))
	}
	if target := htmlquery.SelectAttr(n, "data-go"); target != "" {
		return f.load(target)
	}
	return nil
}

func (f *fakeDriver) ScrollIntoView(ctx context.Context, el *browser.Element) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.node(el)
	return err
}

func (f *fakeDriver) InnerHTML(ctx context.Context, el *browser.Element) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.node(el)
	if err != nil {
		return "", err
	}
	return htmlquery.OutputHTML(n, false), nil
}

func (f *fakeDriver) SetInnerHTML(ctx context.Context, el *browser.Element, fragment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.node(el)
	if err != nil {
		return err
	}
	children, err := html.ParseFragment(strings.NewReader(fragment), n)
	if err != nil {
		return err
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	for _, c := range children {
		n.AppendChild(c)
	}
	f.editorHTML = fragment
	return nil
}

func (f *fakeDriver) SelectOption(ctx context.Context, el *browser.Element, label string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.node(el)
	if err != nil {
		return false, err
	}
	for _, opt := range htmlquery.Find(n, ".//option") {
		text := htmlquery.InnerText(opt)
		if strings.Contains(text, label) {
			f.selected = text
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shotErr != nil {
		return nil, f.shotErr
	}
	f.shots++
	return []byte(fmt.Sprintf("\x89PNG-%d-%s", f.shots, f.current)), nil
}

func (f *fakeDriver) Close(ctx context.Context) (browser.TeardownReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.maybePanic("Close")
	return f.closeReport, f.closeErr
}

// fakeLauncher hands out the same driver on every launch.
type fakeLauncher struct {
	mu       sync.Mutex
	driver   *fakeDriver
	err      error
	launches int
}

func (l *fakeLauncher) Launch(ctx context.Context) (browser.Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	if l.err != nil {
		return nil, l.err
	}
	return l.driver, nil
}
