// File: internal/browser/stealth/stealth.go
package stealth

import (
	"context"
	_ "embed" // Required for the go:embed directive
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shadowfox-mcp/internal/config"
)

//go:embed evasions.js
var evasionsScript string

// ScreenProperties defines the resolution and depth of the display.
type ScreenProperties struct {
	Width      int64 `json:"width"`
	Height     int64 `json:"height"`
	ColorDepth int   `json:"colorDepth,omitempty"`
	PixelDepth int   `json:"pixelDepth,omitempty"`
}

// Persona defines a consistent profile to be spoofed across the JS
// environment, HTTP headers, and CDP emulation overrides.
type Persona struct {
	UserAgent string   `json:"userAgent"`
	Platform  string   `json:"platform"` // navigator.platform (e.g., Win32)
	Languages []string `json:"languages"`
	Locale    string   `json:"locale,omitempty"`

	WebGLVendor         string           `json:"webGLVendor,omitempty"`
	WebGLRenderer       string           `json:"webGLRenderer,omitempty"`
	HardwareConcurrency int              `json:"hardwareConcurrency,omitempty"`
	Fonts               []string         `json:"fonts,omitempty"`
	Screen              ScreenProperties `json:"screen"`
}

var personaDefaults = map[string]struct {
	userAgent string
	platform  string
	vendor    string
	renderer  string
}{
	"windows": {
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:128.0) Gecko/20100101 Firefox/128.0",
		platform:  "Win32",
		vendor:    "Google Inc. (NVIDIA)",
		renderer:  "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0, D3D11)",
	},
	"macos": {
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:128.0) Gecko/20100101 Firefox/128.0",
		platform:  "MacIntel",
		vendor:    "Apple Inc.",
		renderer:  "Apple M2",
	},
	"linux": {
		userAgent: "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
		platform:  "Linux x86_64",
		vendor:    "Mesa",
		renderer:  "Mesa Intel(R) UHD Graphics 620 (KBL GT2)",
	},
}

// NewPersona derives a consistent persona from the browser configuration.
// Explicit config values (user agent, locale, fonts, window) always win over
// the per-OS defaults.
func NewPersona(cfg config.BrowserConfig) Persona {
	osKey := strings.ToLower(cfg.OS)
	defaults, ok := personaDefaults[osKey]
	if !ok {
		defaults = personaDefaults["windows"]
	}

	p := Persona{
		UserAgent:           defaults.userAgent,
		Platform:            defaults.platform,
		Languages:           []string{"en-US", "en"},
		WebGLVendor:         defaults.vendor,
		WebGLRenderer:       defaults.renderer,
		HardwareConcurrency: 8,
		Fonts:               cfg.Fonts,
		Screen:              ScreenProperties{Width: 1920, Height: 1080, ColorDepth: 24, PixelDepth: 24},
	}

	if cfg.UserAgent != "" {
		p.UserAgent = cfg.UserAgent
	}
	if cfg.Locale != "" {
		p.Locale = cfg.Locale
		normalized := strings.ReplaceAll(cfg.Locale, "_", "-")
		p.Languages = []string{normalized}
		if base, _, found := strings.Cut(normalized, "-"); found {
			p.Languages = append(p.Languages, base)
		}
	}
	if cfg.Window.Set() {
		p.Screen.Width = int64(cfg.Window.Width)
		p.Screen.Height = int64(cfg.Window.Height)
	}
	return p
}

// Apply orchestrates the stealth actions using chromedp.Tasks for sequential execution.
func Apply(persona Persona, logger *zap.Logger) chromedp.Action {
	l := logger.Named("stealth")
	return chromedp.Tasks{
		network.Enable(),
		setExtraHTTPHeaders(persona, l),

		setUserAgentOverride(persona, l),
		setDeviceMetrics(persona, l),
		setLocaleOverride(persona, l),

		injectEvasionScript(persona, l),

		page.SetWebLifecycleState(page.SetWebLifecycleStateStateActive),

		chromedp.ActionFunc(func(ctx context.Context) error {
			l.Debug("Stealth profile applied successfully", zap.String("UserAgent", persona.UserAgent))
			return nil
		}),
	}
}

// injectEvasionScript prepares and registers the JS evasion script.
func injectEvasionScript(persona Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		personaJSON, err := json.Marshal(persona)
		if err != nil {
			logger.Error("Failed to marshal Persona configuration", zap.Error(err))
			return fmt.Errorf("stealth: failed to marshal persona: %w", err)
		}

		scriptWithPersona := fmt.Sprintf(
			"const SHADOWFOX_PERSONA = %s;\n%s",
			string(personaJSON),
			evasionsScript,
		)

		if _, err = page.AddScriptToEvaluateOnNewDocument(scriptWithPersona).Do(ctx); err != nil {
			logger.Error("Failed to register evasion script with CDP", zap.Error(err))
			return fmt.Errorf("stealth: failed to add script on new document: %w", err)
		}
		return nil
	})
}

// setUserAgentOverride configures the UserAgent string and Accept-Language.
func setUserAgentOverride(persona Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		err := emulation.SetUserAgentOverride(persona.UserAgent).
			WithPlatform(persona.Platform).
			WithAcceptLanguage(strings.Join(persona.Languages, ",")).
			Do(ctx)
		if err != nil {
			logger.Error("Failed to set UserAgent override via CDP", zap.Error(err))
			return fmt.Errorf("stealth: failed to set user agent override: %w", err)
		}
		return nil
	})
}

// setExtraHTTPHeaders configures persistent HTTP headers.
func setExtraHTTPHeaders(persona Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if len(persona.Languages) == 0 {
			return nil
		}
		formattedLanguage := persona.Languages[0]
		for i := 1; i < len(persona.Languages); i++ {
			qValue := 1.0 - float64(i)*0.1
			if qValue < 0.7 {
				qValue = 0.7
			}
			formattedLanguage += fmt.Sprintf(",%s;q=%.1f", persona.Languages[i], qValue)
		}
		headers := map[string]interface{}{"Accept-Language": formattedLanguage}
		if err := network.SetExtraHTTPHeaders(network.Headers(headers)).Do(ctx); err != nil {
			logger.Error("Failed to set extra HTTP headers via CDP", zap.Error(err))
			return fmt.Errorf("stealth: failed to set extra http headers: %w", err)
		}
		return nil
	})
}

// setDeviceMetrics configures the viewport and resolution.
func setDeviceMetrics(persona Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if persona.Screen.Width <= 0 || persona.Screen.Height <= 0 {
			return nil
		}
		orientation := emulation.OrientationTypeLandscapePrimary
		if persona.Screen.Height > persona.Screen.Width {
			orientation = emulation.OrientationTypePortraitPrimary
		}
		err := emulation.SetDeviceMetricsOverride(persona.Screen.Width, persona.Screen.Height, 1.0, false).
			WithScreenOrientation(&emulation.ScreenOrientation{
				Type:  orientation,
				Angle: 0,
			}).Do(ctx)
		if err != nil {
			logger.Error("Failed to set device metrics override via CDP", zap.Error(err))
			return fmt.Errorf("stealth: failed to set device metrics: %w", err)
		}
		return nil
	})
}

// setLocaleOverride ensures locale consistency with the Accept-Language headers.
func setLocaleOverride(persona Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		locale := persona.Locale
		if locale == "" && len(persona.Languages) > 0 {
			locale = persona.Languages[0]
		}
		if locale == "" {
			return nil
		}
		normalized := strings.ReplaceAll(locale, "_", "-")
		if err := emulation.SetLocaleOverride().WithLocale(normalized).Do(ctx); err != nil {
			logger.Error("Failed to set locale override via CDP", zap.Error(err))
			return fmt.Errorf("stealth: failed to set locale: %w", err)
		}
		return nil
	})
}
