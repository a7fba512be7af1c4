// File: internal/browser/stealth/stealth_test.go
package stealth

import (
	"fmt"
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shadowfox-mcp/internal/config"
)

func TestNewPersonaOSDefaults(t *testing.T) {
	tests := []struct {
		os       string
		platform string
	}{
		{"windows", "Win32"},
		{"macos", "MacIntel"},
		{"linux", "Linux x86_64"},
		{"beos", "Win32"}, // unknown OS falls back to windows
	}
	for _, tc := range tests {
		t.Run(tc.os, func(t *testing.T) {
			cfg := config.NewDefaultConfig().Browser
			cfg.OS = tc.os
			p := NewPersona(cfg)
			assert.Equal(t, tc.platform, p.Platform)
			assert.NotEmpty(t, p.UserAgent)
			assert.NotEmpty(t, p.WebGLVendor)
			assert.Equal(t, []string{"en-US", "en"}, p.Languages)
		})
	}
}

func TestNewPersonaConfigOverrides(t *testing.T) {
	cfg := config.NewDefaultConfig().Browser
	cfg.UserAgent = "CustomAgent/1.0"
	cfg.Locale = "de_DE"
	cfg.Fonts = []string{"Comic Sans MS"}
	cfg.Window = config.WindowConfig{Width: 800, Height: 600}

	p := NewPersona(cfg)
	assert.Equal(t, "CustomAgent/1.0", p.UserAgent)
	assert.Equal(t, "de_DE", p.Locale)
	assert.Equal(t, []string{"de-DE", "de"}, p.Languages)
	assert.Equal(t, []string{"Comic Sans MS"}, p.Fonts)
	assert.Equal(t, int64(800), p.Screen.Width)
	assert.Equal(t, int64(600), p.Screen.Height)
}

func TestApplyBuildsTaskPipeline(t *testing.T) {
	p := NewPersona(config.NewDefaultConfig().Browser)

	action := Apply(p, zap.NewNop())
	tasks, ok := action.(chromedp.Tasks)
	require.True(t, ok, "Apply must return a sequential task list")
	assert.Len(t, tasks, 8)
	for i, task := range tasks {
		assert.NotNil(t, task, "task %d", i)
	}
}

// Every persona field whose only consumer is the injected script must
// actually be read by it, or the payload leaks dead configuration.
func TestEvasionScriptReadsPersonaFields(t *testing.T) {
	fields := []string{
		"platform",
		"languages",
		"hardwareConcurrency",
		"fonts",
		"screen",
		"webGLVendor",
		"webGLRenderer",
	}
	for _, field := range fields {
		assert.Contains(t, evasionsScript, fmt.Sprintf("persona.%s", field), field)
	}
}
