// File: internal/mcp/tools.go
package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shadowfox-mcp/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// opCause unwraps the operation-level cause for display, leaving lifecycle
// errors untouched.
func opCause(err error) error {
	var op *browser.OperationError
	if errors.As(err, &op) {
		return op.Err
	}
	return err
}

// registerTools wires every browser tool into the given SDK server. The
// captcha tool is only exposed when the solver is enabled in config.
func (s *Server) registerTools(srv *mcpsdk.Server) {
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "browser_navigate",
		Description: "Navigate to a URL with stealth capabilities",
	}, s.handleNavigate)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "browser_click",
		Description: "Click on an element with human-like movement",
	}, s.handleClick)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "browser_type",
		Description: "Type text into an element with human-like timing",
	}, s.handleType)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "browser_wait_for",
		Description: "Wait for elements, text, or conditions",
	}, s.handleWaitFor)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "browser_get_content",
		Description: "Get page content or element text",
	}, s.handleGetContent)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "browser_screenshot",
		Description: "Take a screenshot of the page or element",
	}, s.handleScreenshot)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "browser_execute_js",
		Description: "Execute JavaScript code in the page",
	}, s.handleExecuteJS)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "browser_set_geolocation",
		Description: "Set browser geolocation",
	}, s.handleSetGeolocation)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "browser_close",
		Description: "Close the browser and clean up resources",
	}, s.handleClose)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "get_server_version",
		Description: "Get the current version of the shadowfox MCP server implementation.",
	}, s.handleVersion)

	if s.cfg.Browser.CaptchaSolver {
		mcpsdk.AddTool(srv, &mcpsdk.Tool{
			Name:        "browser_solve_captcha",
			Description: "Automatically solve CAPTCHA on current page",
		}, s.handleSolveCaptcha)
	}
}

// -- browser_navigate --

type NavigateArgs struct {
	URL       string `json:"url" jsonschema:"The URL to navigate to"`
	WaitUntil string `json:"wait_until,omitempty" jsonschema:"When to consider navigation finished: load, domcontentloaded or networkidle"`
}

func (s *Server) handleNavigate(ctx context.Context, _ *mcpsdk.ServerSession, params *mcpsdk.CallToolParamsFor[NavigateArgs]) (*toolResult, error) {
	args := params.Arguments
	s.logger.Info("Tool call: navigate", zap.String("url", args.URL))

	waitUntil := args.WaitUntil
	if waitUntil == "" {
		waitUntil = browser.WaitUntilLoad
	}
	// data: URLs never fire a proper load event in some engines.
	if strings.HasPrefix(strings.TrimSpace(args.URL), "data:") {
		waitUntil = browser.WaitUntilDOMContentLoaded
	}

	var result browser.NavigationResult
	err := s.session.Perform(ctx, "navigate", func(ctx context.Context, p browser.Page) error {
		var err error
		result, err = p.Navigate(ctx, args.URL, waitUntil)
		return err
	})
	if err != nil {
		if res := lifecycleResult(err); res != nil {
			return res, nil
		}
		return errorResult("❌ Navigation failed for %s: %v", args.URL, opCause(err)), nil
	}

	return textResult("✅ Navigated to: %s\n📄 Title: %s\n🛡️ Stealth mode active", result.URL, result.Title), nil
}

// -- browser_click --

type ClickArgs struct {
	Selector string `json:"selector" jsonschema:"CSS selector, XPath (prefix with //), or text content"`
	Button   string `json:"button,omitempty" jsonschema:"Mouse button to click: left, right or middle"`
}

func (s *Server) handleClick(ctx context.Context, _ *mcpsdk.ServerSession, params *mcpsdk.CallToolParamsFor[ClickArgs]) (*toolResult, error) {
	args := params.Arguments
	s.logger.Info("Tool call: click", zap.String("selector", args.Selector))

	sel := browser.ParseSelector(args.Selector)
	button := args.Button
	if button == "" {
		button = browser.ButtonLeft
	}

	err := s.session.Perform(ctx, "click", func(ctx context.Context, p browser.Page) error {
		return p.Click(ctx, sel, button)
	})
	if err != nil {
		if res := lifecycleResult(err); res != nil {
			return res, nil
		}
		return errorResult("❌ Click failed %s: %v", args.Selector, opCause(err)), nil
	}

	return textResult("🖱️ Clicked: %s (human-like)", args.Selector), nil
}

// -- browser_type --

type TypeArgs struct {
	Selector string  `json:"selector" jsonschema:"CSS selector or XPath of the input element"`
	Text     string  `json:"text" jsonschema:"Text to type"`
	Delay    float64 `json:"delay,omitempty" jsonschema:"Delay between keystrokes in ms"`
	Clear    bool    `json:"clear,omitempty" jsonschema:"Clear existing text first"`
}

func (s *Server) handleType(ctx context.Context, _ *mcpsdk.ServerSession, params *mcpsdk.CallToolParamsFor[TypeArgs]) (*toolResult, error) {
	args := params.Arguments
	s.logger.Info("Tool call: type", zap.String("selector", args.Selector))

	sel := browser.ParseStrictSelector(args.Selector)
	delay := time.Duration(args.Delay * float64(time.Millisecond))
	if args.Delay == 0 {
		delay = 100 * time.Millisecond
	}

	err := s.session.Perform(ctx, "type", func(ctx context.Context, p browser.Page) error {
		return p.Type(ctx, sel, args.Text, delay, args.Clear)
	})
	if err != nil {
		if res := lifecycleResult(err); res != nil {
			return res, nil
		}
		return errorResult("❌ Typing failed %s: %v", args.Selector, opCause(err)), nil
	}

	return textResult("⌨️ Typed '%s' into %s (human-like timing)", args.Text, args.Selector), nil
}

// -- browser_wait_for --

type WaitForArgs struct {
	Selector string  `json:"selector,omitempty" jsonschema:"CSS selector or XPath to wait for"`
	Text     string  `json:"text,omitempty" jsonschema:"Text content to wait for"`
	Timeout  float64 `json:"timeout,omitempty" jsonschema:"Timeout in milliseconds"`
	State    string  `json:"state,omitempty" jsonschema:"Element state to wait for: attached, detached, visible or hidden"`
}

func (s *Server) handleWaitFor(ctx context.Context, _ *mcpsdk.ServerSession, params *mcpsdk.CallToolParamsFor[WaitForArgs]) (*toolResult, error) {
	args := params.Arguments
	s.logger.Info("Tool call: wait_for",
		zap.String("selector", args.Selector),
		zap.String("text", args.Text),
	)

	if args.Selector == "" && args.Text == "" {
		return errorResult("❌ Must specify either selector or text"), nil
	}

	state := args.State
	if state == "" {
		state = browser.StateVisible
	}
	timeout := time.Duration(args.Timeout * float64(time.Millisecond))
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var sel browser.Selector
	if args.Text != "" {
		sel = browser.ParseTextSelector(args.Text)
	} else {
		sel = browser.ParseStrictSelector(args.Selector)
	}

	err := s.session.Perform(ctx, "wait_for", func(ctx context.Context, p browser.Page) error {
		return p.WaitFor(ctx, sel, state, timeout)
	})
	if err != nil {
		if res := lifecycleResult(err); res != nil {
			return res, nil
		}
		return errorResult("❌ Wait failed: %v", opCause(err)), nil
	}

	if args.Text != "" {
		return textResult("✅ Found text: '%s'", args.Text), nil
	}
	return textResult("✅ Element found: %s", args.Selector), nil
}

// -- browser_get_content --

type GetContentArgs struct {
	Selector  string `json:"selector,omitempty" jsonschema:"CSS selector (optional, gets full page if not provided)"`
	Attribute string `json:"attribute,omitempty" jsonschema:"Get specific attribute instead of text content"`
	InnerHTML bool   `json:"inner_html,omitempty" jsonschema:"Get innerHTML instead of text"`
}

func (s *Server) handleGetContent(ctx context.Context, _ *mcpsdk.ServerSession, params *mcpsdk.CallToolParamsFor[GetContentArgs]) (*toolResult, error) {
	args := params.Arguments
	s.logger.Info("Tool call: get_content", zap.String("selector", args.Selector))

	creq := browser.ContentRequest{
		Attribute: args.Attribute,
		InnerHTML: args.InnerHTML,
	}
	if args.Selector != "" {
		sel := browser.ParseStrictSelector(args.Selector)
		creq.Selector = &sel
	}

	var content string
	err := s.session.Perform(ctx, "get_content", func(ctx context.Context, p browser.Page) error {
		var err error
		content, err = p.Content(ctx, creq)
		return err
	})
	if err != nil {
		if res := lifecycleResult(err); res != nil {
			return res, nil
		}
		return errorResult("❌ Error get_content: %v", opCause(err)), nil
	}

	return textResult("%s", content), nil
}

// -- browser_screenshot --

type ScreenshotArgs struct {
	Filename string `json:"filename,omitempty" jsonschema:"Optional filename for screenshot"`
	Selector string `json:"selector,omitempty" jsonschema:"CSS selector to screenshot specific element"`
	FullPage bool   `json:"full_page,omitempty" jsonschema:"Capture full page including scrollable content"`
}

func (s *Server) handleScreenshot(ctx context.Context, _ *mcpsdk.ServerSession, params *mcpsdk.CallToolParamsFor[ScreenshotArgs]) (*toolResult, error) {
	args := params.Arguments
	s.logger.Info("Tool call: screenshot", zap.String("selector", args.Selector), zap.Bool("full_page", args.FullPage))

	sreq := browser.ScreenshotRequest{FullPage: args.FullPage}
	if args.Selector != "" {
		sel := browser.ParseStrictSelector(args.Selector)
		sreq.Selector = &sel
	}

	var data []byte
	err := s.session.Perform(ctx, "screenshot", func(ctx context.Context, p browser.Page) error {
		var err error
		data, err = p.Screenshot(ctx, sreq)
		return err
	})
	if err != nil {
		if res := lifecycleResult(err); res != nil {
			return res, nil
		}
		return errorResult("❌ Err screenshot: %v", opCause(err)), nil
	}

	filename := args.Filename
	if filename == "" {
		filename = fmt.Sprintf("shadowfox_screenshot_%d.png", time.Now().Unix())
	}
	outputDir := s.cfg.Browser.OutputDir
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return errorResult("❌ Err screenshot: creating output dir: %v", err), nil
	}
	filepath_ := filepath.Join(outputDir, filename)
	if err := os.WriteFile(filepath_, data, 0o644); err != nil {
		return errorResult("❌ Err screenshot: writing %s: %v", filepath_, err), nil
	}

	// Return the same bytes that hit the disk.
	saved, err := os.ReadFile(filepath_)
	if err != nil {
		return errorResult("❌ Err screenshot: reading back %s: %v", filepath_, err), nil
	}

	return imageResult(saved, fmt.Sprintf("📸 Screenshot saved: %s", filepath_)), nil
}

// -- browser_execute_js --

type ExecuteJSArgs struct {
	Code      string `json:"code" jsonschema:"JavaScript code to execute"`
	MainWorld bool   `json:"main_world,omitempty" jsonschema:"Execute in main world (can modify DOM but detectable)"`
}

func (s *Server) handleExecuteJS(ctx context.Context, _ *mcpsdk.ServerSession, params *mcpsdk.CallToolParamsFor[ExecuteJSArgs]) (*toolResult, error) {
	args := params.Arguments
	s.logger.Info("Tool call: execute_js", zap.Bool("main_world", args.MainWorld))

	var result any
	err := s.session.Perform(ctx, "execute_js", func(ctx context.Context, p browser.Page) error {
		var err error
		result, err = p.Evaluate(ctx, args.Code, args.MainWorld)
		return err
	})
	if err != nil {
		if res := lifecycleResult(err); res != nil {
			return res, nil
		}
		return errorResult("❌ JavaScript execution failed: %v", opCause(err)), nil
	}

	var resultStr string
	switch v := result.(type) {
	case nil:
		resultStr = "undefined"
	case map[string]any, []any:
		pretty, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			resultStr = fmt.Sprintf("%v", v)
		} else {
			resultStr = string(pretty)
		}
	default:
		resultStr = fmt.Sprintf("%v", v)
	}

	world := "isolated world"
	if args.MainWorld {
		world = "main world"
	}
	return textResult("🔧 JavaScript executed (%s):\n```\n%s\n```", world, resultStr), nil
}

// -- browser_set_geolocation --

type SetGeolocationArgs struct {
	Latitude  float64 `json:"latitude" jsonschema:"Latitude in decimal degrees"`
	Longitude float64 `json:"longitude" jsonschema:"Longitude in decimal degrees"`
	Accuracy  float64 `json:"accuracy,omitempty" jsonschema:"Accuracy radius in meters"`
}

func (s *Server) handleSetGeolocation(ctx context.Context, _ *mcpsdk.ServerSession, params *mcpsdk.CallToolParamsFor[SetGeolocationArgs]) (*toolResult, error) {
	args := params.Arguments
	s.logger.Info("Tool call: set_geolocation",
		zap.Float64("latitude", args.Latitude),
		zap.Float64("longitude", args.Longitude),
	)

	accuracy := args.Accuracy
	if accuracy == 0 {
		accuracy = 100
	}

	err := s.session.Perform(ctx, "set_geolocation", func(ctx context.Context, p browser.Page) error {
		return p.SetGeolocation(ctx, args.Latitude, args.Longitude, accuracy)
	})
	if err != nil {
		if res := lifecycleResult(err); res != nil {
			return res, nil
		}
		return errorResult("❌ Failed to set geolocation: %v", opCause(err)), nil
	}

	return textResult("🌍 Geolocation set: %v, %v (±%vm)", args.Latitude, args.Longitude, accuracy), nil
}

// -- browser_close --

type CloseArgs struct{}

func (s *Server) handleClose(ctx context.Context, _ *mcpsdk.ServerSession, _ *mcpsdk.CallToolParamsFor[CloseArgs]) (*toolResult, error) {
	s.logger.Info("Tool call: close")

	if err := s.session.Close(ctx); err != nil {
		return errorResult("❌ Error closing browser: %v", err), nil
	}
	return textResult("🔒 Browser closed and resources cleaned up."), nil
}

// -- get_server_version --

type VersionArgs struct{}

// VersionInfo is the structured payload of get_server_version.
type VersionInfo struct {
	Version string `json:"version"`
}

func (s *Server) handleVersion(ctx context.Context, _ *mcpsdk.ServerSession, _ *mcpsdk.CallToolParamsFor[VersionArgs]) (*mcpsdk.CallToolResultFor[VersionInfo], error) {
	return &mcpsdk.CallToolResultFor[VersionInfo]{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: Version},
		},
		StructuredContent: VersionInfo{Version: Version},
	}, nil
}

// -- browser_solve_captcha --

type SolveCaptchaArgs struct {
	CaptchaType string  `json:"captcha_type,omitempty" jsonschema:"Type of CAPTCHA to solve: recaptcha, hcaptcha, turnstile or auto"`
	Timeout     float64 `json:"timeout,omitempty" jsonschema:"Timeout in seconds"`
}

// captchaDetectScript reports which challenge widget is present on the page.
const captchaDetectScript = `(() => {
    const widgets = [
        { type: 'recaptcha', sel: '.g-recaptcha, iframe[src*="recaptcha"]' },
        { type: 'hcaptcha', sel: '.h-captcha, iframe[src*="hcaptcha"]' },
        { type: 'turnstile', sel: '.cf-turnstile, iframe[src*="challenges.cloudflare.com"]' },
    ];
    for (const widget of widgets) {
        if (document.querySelector(widget.sel)) return widget.type;
    }
    return '';
})()`

// captchaTokenScript reports whether a response token has been issued yet.
const captchaTokenScript = `(() => {
    const fields = [
        'textarea[name="g-recaptcha-response"]',
        'textarea[name="h-captcha-response"]',
        'input[name="cf-turnstile-response"]',
    ];
    return fields.some((sel) => {
        const el = document.querySelector(sel);
        return el && el.value && el.value.length > 0;
    });
})()`

func (s *Server) handleSolveCaptcha(ctx context.Context, _ *mcpsdk.ServerSession, params *mcpsdk.CallToolParamsFor[SolveCaptchaArgs]) (*toolResult, error) {
	args := params.Arguments
	s.logger.Info("Tool call: solve_captcha", zap.String("captcha_type", args.CaptchaType))

	wanted := args.CaptchaType
	if wanted == "" {
		wanted = "auto"
	}
	timeout := time.Duration(args.Timeout * float64(time.Second))
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var detected string
	err := s.session.Perform(ctx, "solve_captcha", func(ctx context.Context, p browser.Page) error {
		result, err := p.Evaluate(ctx, captchaDetectScript, true)
		if err != nil {
			return err
		}
		detected, _ = result.(string)
		if detected == "" {
			return fmt.Errorf("no CAPTCHA detected on the current page")
		}
		if wanted != "auto" && wanted != detected {
			return fmt.Errorf("page shows a %s challenge, not %s", detected, wanted)
		}

		// The stealth profile does the heavy lifting; here we wait for the
		// challenge to issue its response token.
		deadline := time.Now().Add(timeout)
		for time.Now().Before(deadline) {
			solved, err := p.Evaluate(ctx, captchaTokenScript, true)
			if err != nil {
				return err
			}
			if ok, _ := solved.(bool); ok {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
		return fmt.Errorf("timed out after %v waiting for %s token", timeout, detected)
	})
	if err != nil {
		if res := lifecycleResult(err); res != nil {
			return res, nil
		}
		return errorResult("❌ Err CAPTCHA: %v", opCause(err)), nil
	}

	return textResult("🤖 CAPTCHA solved: %s challenge passed", detected), nil
}
