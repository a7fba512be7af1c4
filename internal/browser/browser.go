// File: internal/browser/browser.go
package browser

import (
	"context"
	"time"
)

// WaitUntil values accepted by Navigate.
const (
	WaitUntilLoad             = "load"
	WaitUntilDOMContentLoaded = "domcontentloaded"
	WaitUntilNetworkIdle      = "networkidle"
)

// Element states accepted by WaitFor.
const (
	StateVisible  = "visible"
	StateHidden   = "hidden"
	StateAttached = "attached"
	StateDetached = "detached"
)

// Mouse buttons accepted by Click.
const (
	ButtonLeft   = "left"
	ButtonRight  = "right"
	ButtonMiddle = "middle"
)

// NavigationResult reports where a navigation actually landed.
type NavigationResult struct {
	URL   string
	Title string
}

// ContentRequest selects what Content extracts. A nil Selector targets the
// whole page: body text, or the full document HTML when InnerHTML is set.
type ContentRequest struct {
	Selector  *Selector
	Attribute string
	InnerHTML bool
}

// ScreenshotRequest selects what Screenshot captures. A nil Selector captures
// the viewport, or the full scrollable page when FullPage is set.
type ScreenshotRequest struct {
	Selector *Selector
	FullPage bool
}

// Page is the single active tab owned by a Session. Implementations wrap the
// underlying automation library; callers only ever reach a Page through
// Session.Perform, never holding one across a suspension boundary.
type Page interface {
	Navigate(ctx context.Context, url, waitUntil string) (NavigationResult, error)
	Click(ctx context.Context, sel Selector, button string) error
	Type(ctx context.Context, sel Selector, text string, delay time.Duration, clear bool) error
	WaitFor(ctx context.Context, sel Selector, state string, timeout time.Duration) error
	Content(ctx context.Context, req ContentRequest) (string, error)
	Screenshot(ctx context.Context, req ScreenshotRequest) ([]byte, error)
	Evaluate(ctx context.Context, code string, mainWorld bool) (any, error)
	SetGeolocation(ctx context.Context, latitude, longitude, accuracy float64) error
	Close(ctx context.Context) error
}

// Browser is an opaque handle to a running browser process. Exclusively owned
// by the Session; released page-first on Close.
type Browser interface {
	// NewPage opens the session's single tab.
	NewPage(ctx context.Context) (Page, error)
	Close(ctx context.Context) error
}

// Launcher starts a browser process from the captured launch configuration.
// The chromedp implementation lives in the cdp subpackage; tests substitute
// fakes.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}
