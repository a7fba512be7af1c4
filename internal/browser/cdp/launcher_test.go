// File: internal/browser/cdp/launcher_test.go
package cdp

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shadowfox-mcp/internal/config"
)

// The assembled option list must apply to an allocator without launching
// anything. This exercises every flag path in one pass.
func TestBuildAllocatorOptionsApplyCleanly(t *testing.T) {
	cfg := config.NewDefaultConfig().Browser
	cfg.UserAgent = "TestAgent/1.0"
	cfg.Window = config.WindowConfig{Width: 1280, Height: 720}
	cfg.Proxy = config.ProxyConfig{Server: "http://proxy.local:3128"}
	cfg.BlockImages = true
	cfg.BlockWebGL = true
	cfg.DisableCOOP = true
	cfg.Addons = []string{"/tmp/ext-a", "/tmp/ext-b"}
	cfg.Args = []string{"--custom-flag=on", "--bare-flag"}

	l := NewLauncher(cfg, zap.NewNop())
	opts := l.buildAllocatorOptions()
	require.NotEmpty(t, opts)

	ctx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	defer cancel()
	require.NotNil(t, ctx)
}

func TestBuildAllocatorOptionsHeadlessModes(t *testing.T) {
	for _, mode := range []string{config.HeadlessTrue, config.HeadlessFalse, config.HeadlessVirtual} {
		t.Run(mode, func(t *testing.T) {
			cfg := config.NewDefaultConfig().Browser
			cfg.Headless = mode
			l := NewLauncher(cfg, zap.NewNop())
			assert.NotEmpty(t, l.buildAllocatorOptions())
		})
	}
}

func TestMergeDeadline(t *testing.T) {
	parent := context.Background()

	bound, cancelBound := context.WithTimeout(context.Background(), time.Minute)
	defer cancelBound()
	merged, cancel := mergeDeadline(parent, bound)
	defer cancel()
	deadline, ok := merged.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)

	merged, cancel = mergeDeadline(parent, context.Background())
	defer cancel()
	_, ok = merged.Deadline()
	assert.False(t, ok)
}
