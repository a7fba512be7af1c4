// File: internal/browser/cdp/launcher.go

// Package cdp drives a real Chromium process over the DevTools protocol. It
// is the only package that imports chromedp; everything above it works
// against the browser package interfaces.
package cdp

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shadowfox-mcp/internal/browser"
	"github.com/xkilldash9x/shadowfox-mcp/internal/browser/stealth"
	"github.com/xkilldash9x/shadowfox-mcp/internal/config"
)

// Launcher starts Chromium processes configured from a BrowserConfig
// snapshot. It satisfies the browser.Launcher interface.
type Launcher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// NewLauncher returns a launcher bound to the given config snapshot.
func NewLauncher(cfg config.BrowserConfig, logger *zap.Logger) *Launcher {
	return &Launcher{
		cfg:    cfg,
		logger: logger.Named("cdp"),
	}
}

// Launch starts the browser process and confirms it is responsive. The
// allocator lives until Browser.Close; the caller's ctx only bounds the
// launch itself.
func (l *Launcher) Launch(ctx context.Context) (browser.Browser, error) {
	l.logger.Info("Initializing browser allocator...")

	opts := l.buildAllocatorOptions()

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	// Verify the browser starts and responds before handing it out.
	testCtx, cancelTest := mergeDeadline(allocCtx, ctx)
	testCtx, cancelTestCtx := chromedp.NewContext(testCtx)
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		cancelTestCtx()
		cancelTest()
		allocCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}
	cancelTestCtx()
	cancelTest()

	l.logger.Info("Browser launched successfully and is responsive.")
	return &Browser{
		cfg:         l.cfg,
		logger:      l.logger,
		persona:     stealth.NewPersona(l.cfg),
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// mergeDeadline derives a child of parent that also honors the deadline of
// bound, if it has one.
func mergeDeadline(parent, bound context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := bound.Deadline(); ok {
		return context.WithDeadline(parent, deadline)
	}
	return context.WithCancel(parent)
}

// buildAllocatorOptions assembles the flags for a stealthy, configurable browser instance.
func (l *Launcher) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	cfg := l.cfg

	// Start with the default options, then override enable-automation to
	// false: flags live in a map, and false booleans never reach the
	// command line.
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("enable-automation", false))

	headless := cfg.Headless != config.HeadlessFalse
	// The "new" headless mode is much closer to a headed browser than the
	// legacy one; "virtual" headless also maps here.
	var headlessFlag any = false
	if headless {
		headlessFlag = "new"
	}
	opts = append(opts,
		chromedp.Flag("headless", headlessFlag),
		chromedp.Flag("ignore-certificate-errors", cfg.IgnoreTLSErrors),
		// Disable the Blink feature used to detect automation (navigator.webdriver).
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-gpu", headless && cfg.Headless != config.HeadlessVirtual),
	)

	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.Window.Set() {
		opts = append(opts, chromedp.WindowSize(cfg.Window.Width, cfg.Window.Height))
	}

	if cfg.Proxy.Enabled() {
		opts = append(opts, chromedp.ProxyServer(cfg.Proxy.Server))
	}

	if cfg.BlockWebRTC {
		opts = append(opts,
			chromedp.Flag("webrtc-ip-handling-policy", "disable_non_proxied_udp"),
			chromedp.Flag("enforce-webrtc-ip-permission-check", true),
		)
	}
	if cfg.BlockImages {
		opts = append(opts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}
	if cfg.BlockWebGL {
		opts = append(opts, chromedp.Flag("disable-webgl", true))
	}
	if cfg.DisableCOOP {
		opts = append(opts, chromedp.Flag("disable-features", "CrossOriginOpenerPolicy,CrossOriginEmbedderPolicy"))
	}

	if len(cfg.Addons) > 0 {
		joined := strings.Join(cfg.Addons, ",")
		opts = append(opts,
			chromedp.Flag("load-extension", joined),
			chromedp.Flag("disable-extensions-except", joined),
		)
	} else {
		opts = append(opts, chromedp.Flag("disable-extensions", true))
	}

	if !cfg.EnableCache {
		opts = append(opts, chromedp.Flag("disk-cache-size", "0"))
	}
	if cfg.PersistentContext && cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}

	// Raw extra flags from config, "--name=value" or "--name".
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Flags required for running inside containers (e.g., Docker on Linux).
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}

// Browser owns a running Chromium process. It satisfies browser.Browser.
type Browser struct {
	cfg     config.BrowserConfig
	logger  *zap.Logger
	persona stealth.Persona

	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewPage opens a fresh tab with the stealth profile applied.
func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.allocCtx)

	initCtx, cancelInit := mergeDeadline(tabCtx, ctx)
	defer cancelInit()

	if err := chromedp.Run(initCtx, stealth.Apply(b.persona, b.logger)); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to apply stealth profile: %w", err)
	}

	return &Page{
		logger:      b.logger.Named("page"),
		ctx:         tabCtx,
		cancel:      tabCancel,
		humanize:    b.cfg.Humanize,
		humanizeMax: b.cfg.HumanizeMaxDelay,
		navTimeout:  b.cfg.NavigationTimeout,
		enableCache: b.cfg.EnableCache,
	}, nil
}

// Close terminates the browser process and waits for it to exit.
func (b *Browser) Close(ctx context.Context) error {
	if b.allocCancel == nil {
		return nil
	}
	b.logger.Info("Shutting down browser process...")
	b.allocCancel()

	select {
	case <-b.allocCtx.Done():
	case <-ctx.Done():
		return fmt.Errorf("browser did not exit in time: %w", ctx.Err())
	case <-time.After(30 * time.Second):
		return fmt.Errorf("browser did not exit in time")
	}
	return nil
}
