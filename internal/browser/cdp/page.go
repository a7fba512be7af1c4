// File: internal/browser/cdp/page.go
package cdp

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shadowfox-mcp/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// defaultOpTimeout bounds element-level operations that carry no explicit
// timeout of their own.
const defaultOpTimeout = 30 * time.Second

// networkIdleQuiet is how long the network must stay free of in-flight
// requests before a networkidle navigation is considered settled.
const networkIdleQuiet = 500 * time.Millisecond

// Page is a single browser tab. It satisfies browser.Page. All methods are
// safe to call from the session manager's serialized operation path; the
// struct itself is not safe for unsynchronized concurrent use.
type Page struct {
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	humanize    bool
	humanizeMax time.Duration
	navTimeout  time.Duration
	enableCache bool
}

// opContext derives an operation context from the tab context, bounded by
// the given timeout and cancelled early if the caller's ctx is.
func (p *Page) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(p.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// queryOption maps a selector to the matching chromedp query strategy.
func queryOption(sel browser.Selector) chromedp.QueryOption {
	if sel.IsXPath() {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// humanDelay sleeps a small random interval when humanized pacing is on.
func (p *Page) humanDelay() {
	if !p.humanize || p.humanizeMax <= 0 {
		return
	}
	time.Sleep(time.Duration(rand.Int63n(int64(p.humanizeMax))))
}

// Navigate loads the URL and waits for the requested lifecycle milestone.
func (p *Page) Navigate(ctx context.Context, url, waitUntil string) (browser.NavigationResult, error) {
	timeout := p.navTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	opCtx, cancel := p.opContext(ctx, timeout)
	defer cancel()

	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCacheDisabled(!p.enableCache).Do(ctx)
		}),
		chromedp.Navigate(url),
	}
	switch waitUntil {
	case browser.WaitUntilDOMContentLoaded:
		// chromedp's Navigate already blocks until the load event; DOM
		// content is guaranteed by then.
	case browser.WaitUntilNetworkIdle:
		tasks = append(tasks, waitNetworkIdle(networkIdleQuiet))
	default:
		tasks = append(tasks, chromedp.WaitReady("body", chromedp.ByQuery))
	}

	var result browser.NavigationResult
	tasks = append(tasks,
		chromedp.Location(&result.URL),
		chromedp.Title(&result.Title),
	)

	if err := chromedp.Run(opCtx, tasks); err != nil {
		return browser.NavigationResult{}, fmt.Errorf("navigation to %q failed: %w", url, err)
	}
	return result, nil
}

// networkIdleTracker counts in-flight requests from network domain events.
type networkIdleTracker struct {
	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
}

func newNetworkIdleTracker() *networkIdleTracker {
	return &networkIdleTracker{inflight: make(map[network.RequestID]struct{})}
}

func (t *networkIdleTracker) handle(ev any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.inflight[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(t.inflight, e.RequestID)
	case *network.EventLoadingFailed:
		delete(t.inflight, e.RequestID)
	}
}

func (t *networkIdleTracker) idle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight) == 0
}

// settle blocks until the tracker reads idle at the end of a quiet window.
func (t *networkIdleTracker) settle(ctx context.Context, quiet time.Duration) error {
	timer := time.NewTimer(quiet)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if t.idle() {
				return nil
			}
			timer.Reset(quiet)
		}
	}
}

// waitNetworkIdle waits until no requests have been in flight for a full
// quiet window. Requests already running when the listener attaches are not
// seen, so the first window may pass early on a busy page.
func waitNetworkIdle(quiet time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		tracker := newNetworkIdleTracker()
		lctx, cancel := context.WithCancel(ctx)
		defer cancel()
		chromedp.ListenTarget(lctx, tracker.handle)
		return tracker.settle(ctx, quiet)
	})
}

// Click dispatches a click on the first element matching the selector.
func (p *Page) Click(ctx context.Context, sel browser.Selector, button string) error {
	opCtx, cancel := p.opContext(ctx, defaultOpTimeout)
	defer cancel()

	p.humanDelay()

	q, opt := sel.Query(), queryOption(sel)

	var action chromedp.Action
	if button == "" || button == browser.ButtonLeft {
		action = chromedp.Click(q, opt, chromedp.NodeVisible)
	} else {
		// chromedp.Click only knows the left button; other buttons go
		// through MouseClickNode on the resolved node.
		action = chromedp.QueryAfter(q, func(ctx context.Context, execCtx cdpruntime.ExecutionContextID, nodes ...*cdp.Node) error {
			if len(nodes) == 0 {
				return fmt.Errorf("no element matches %q", sel.Raw)
			}
			return chromedp.MouseClickNode(nodes[0], chromedp.Button(button)).Do(ctx)
		}, opt, chromedp.NodeVisible)
	}

	if err := chromedp.Run(opCtx, action); err != nil {
		return fmt.Errorf("click on %q failed: %w", sel.Raw, err)
	}
	return nil
}

// Type focuses the element and sends the text, optionally clearing first and
// pacing individual keystrokes.
func (p *Page) Type(ctx context.Context, sel browser.Selector, text string, delay time.Duration, clear bool) error {
	opCtx, cancel := p.opContext(ctx, defaultOpTimeout)
	defer cancel()

	q, opt := sel.Query(), queryOption(sel)

	tasks := chromedp.Tasks{chromedp.WaitVisible(q, opt)}
	if clear {
		tasks = append(tasks, chromedp.Clear(q, opt))
	}

	if delay <= 0 && p.humanize {
		delay = time.Duration(rand.Int63n(int64(p.humanizeMax)+1)) / 2
	}
	if delay > 0 {
		tasks = append(tasks, chromedp.Focus(q, opt))
		for _, r := range text {
			key := string(r)
			tasks = append(tasks,
				chromedp.SendKeys(q, key, opt),
				chromedp.Sleep(delay),
			)
		}
	} else {
		tasks = append(tasks, chromedp.SendKeys(q, text, opt))
	}

	if err := chromedp.Run(opCtx, tasks); err != nil {
		return fmt.Errorf("typing into %q failed: %w", sel.Raw, err)
	}
	return nil
}

// WaitFor blocks until the element reaches the requested state.
func (p *Page) WaitFor(ctx context.Context, sel browser.Selector, state string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	opCtx, cancel := p.opContext(ctx, timeout)
	defer cancel()

	q, opt := sel.Query(), queryOption(sel)

	var action chromedp.Action
	switch state {
	case browser.StateHidden:
		action = chromedp.WaitNotVisible(q, opt)
	case browser.StateAttached:
		action = chromedp.WaitReady(q, opt)
	case browser.StateDetached:
		action = chromedp.WaitNotPresent(q, opt)
	default:
		action = chromedp.WaitVisible(q, opt)
	}

	if err := chromedp.Run(opCtx, action); err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("timed out after %v waiting for %q to be %s", timeout, sel.Raw, state)
		}
		return fmt.Errorf("waiting for %q failed: %w", sel.Raw, err)
	}
	return nil
}

// Content extracts page or element content. With no selector it returns the
// body text, or the full document HTML when InnerHTML is requested.
func (p *Page) Content(ctx context.Context, req browser.ContentRequest) (string, error) {
	opCtx, cancel := p.opContext(ctx, defaultOpTimeout)
	defer cancel()

	if req.Selector == nil {
		if req.InnerHTML {
			var html string
			if err := chromedp.Run(opCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
				return "", fmt.Errorf("reading document HTML failed: %w", err)
			}
			return html, nil
		}
		var text string
		if err := chromedp.Run(opCtx, chromedp.Text("body", &text, chromedp.ByQuery)); err != nil {
			return "", fmt.Errorf("reading page text failed: %w", err)
		}
		return text, nil
	}

	sel := *req.Selector
	q, opt := sel.Query(), queryOption(sel)

	switch {
	case req.Attribute != "":
		var value string
		var ok bool
		if err := chromedp.Run(opCtx, chromedp.AttributeValue(q, req.Attribute, &value, &ok, opt)); err != nil {
			return "", fmt.Errorf("reading attribute %q of %q failed: %w", req.Attribute, sel.Raw, err)
		}
		if !ok {
			return "", fmt.Errorf("element %q has no attribute %q", sel.Raw, req.Attribute)
		}
		return value, nil
	case req.InnerHTML:
		var html string
		if err := chromedp.Run(opCtx, chromedp.InnerHTML(q, &html, opt)); err != nil {
			return "", fmt.Errorf("reading inner HTML of %q failed: %w", sel.Raw, err)
		}
		return html, nil
	default:
		var text string
		if err := chromedp.Run(opCtx, chromedp.Text(q, &text, opt)); err != nil {
			return "", fmt.Errorf("reading text of %q failed: %w", sel.Raw, err)
		}
		return text, nil
	}
}

// Screenshot captures the viewport, the full page, or a single element as PNG.
func (p *Page) Screenshot(ctx context.Context, req browser.ScreenshotRequest) ([]byte, error) {
	opCtx, cancel := p.opContext(ctx, defaultOpTimeout)
	defer cancel()

	var buf []byte
	var err error
	switch {
	case req.Selector != nil:
		sel := *req.Selector
		err = chromedp.Run(opCtx, chromedp.Screenshot(sel.Query(), &buf, queryOption(sel)))
	case req.FullPage:
		err = chromedp.Run(opCtx, chromedp.FullScreenshot(&buf, 90))
	default:
		err = chromedp.Run(opCtx, chromedp.CaptureScreenshot(&buf))
	}
	if err != nil {
		return nil, fmt.Errorf("screenshot capture failed: %w", err)
	}
	return buf, nil
}

// Evaluate runs JavaScript and returns its JSON-decoded result. With
// mainWorld false the code runs in a fresh isolated world so page scripts
// cannot observe or tamper with it.
func (p *Page) Evaluate(ctx context.Context, code string, mainWorld bool) (any, error) {
	opCtx, cancel := p.opContext(ctx, defaultOpTimeout)
	defer cancel()

	var raw []byte
	var runErr error
	if mainWorld {
		runErr = chromedp.Run(opCtx,
			chromedp.Evaluate(code, &raw, func(ep *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
				return ep.WithReturnByValue(true).WithAwaitPromise(true)
			}),
		)
	} else {
		runErr = chromedp.Run(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := cdppage.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("resolving main frame: %w", err)
			}
			worldID, err := cdppage.CreateIsolatedWorld(tree.Frame.ID).
				WithWorldName("shadowfox").
				Do(ctx)
			if err != nil {
				return fmt.Errorf("creating isolated world: %w", err)
			}
			obj, exc, err := cdpruntime.Evaluate(code).
				WithContextID(worldID).
				WithReturnByValue(true).
				WithAwaitPromise(true).
				Do(ctx)
			if err != nil {
				return err
			}
			if exc != nil {
				return exc
			}
			if obj != nil {
				raw = obj.Value
			}
			return nil
		}))
	}
	if runErr != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", runErr)
	}

	if len(raw) == 0 {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding script result: %w", err)
	}
	return result, nil
}

// SetGeolocation grants the geolocation permission and overrides the
// reported coordinates for all subsequent reads.
func (p *Page) SetGeolocation(ctx context.Context, latitude, longitude, accuracy float64) error {
	opCtx, cancel := p.opContext(ctx, defaultOpTimeout)
	defer cancel()

	err := chromedp.Run(opCtx,
		cdpbrowser.GrantPermissions([]cdpbrowser.PermissionType{cdpbrowser.PermissionTypeGeolocation}),
		emulation.SetGeolocationOverride().
			WithLatitude(latitude).
			WithLongitude(longitude).
			WithAccuracy(accuracy),
	)
	if err != nil {
		return fmt.Errorf("geolocation override failed: %w", err)
	}
	return nil
}

// Close releases the tab. The owning browser process stays up.
func (p *Page) Close(ctx context.Context) error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	if err != nil {
		return fmt.Errorf("closing page: %w", err)
	}
	return nil
}
