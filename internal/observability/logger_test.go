// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/shadowfox-mcp/internal/config"
)

func testLoggerConfig() config.LoggerConfig {
	return config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "shadowfox-test",
	}
}

func TestInitializeWritesToProvidedSink(t *testing.T) {
	ResetForTest()
	var buf bytes.Buffer

	Initialize(testLoggerConfig(), zapcore.AddSync(&buf))
	logger := GetLogger()
	require.NotNil(t, logger)

	logger.Info("session ready", zap.String("session_id", "abc123"))
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.Contains(t, out, "session ready")
	assert.Contains(t, out, "abc123")
	assert.Contains(t, out, "shadowfox-test")
}

func TestInitializeRespectsLevel(t *testing.T) {
	ResetForTest()
	var buf bytes.Buffer

	cfg := testLoggerConfig()
	cfg.Level = "warn"
	Initialize(cfg, zapcore.AddSync(&buf))
	logger := GetLogger()

	logger.Debug("should be dropped")
	logger.Info("should be dropped too")
	logger.Warn("kept")
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "should be dropped")
	assert.Contains(t, out, "kept")
}

func TestInitializeJSONFormat(t *testing.T) {
	ResetForTest()
	var buf bytes.Buffer

	cfg := testLoggerConfig()
	cfg.Format = "json"
	Initialize(cfg, zapcore.AddSync(&buf))
	GetLogger().Info("structured entry")
	require.NoError(t, GetLogger().Sync())

	line := strings.TrimSpace(buf.String())
	assert.True(t, strings.HasPrefix(line, "{"), "json format should emit JSON lines, got %q", line)
	assert.Contains(t, line, `"structured entry"`)
}

func TestInitializeIsIdempotent(t *testing.T) {
	ResetForTest()
	var first, second bytes.Buffer

	Initialize(testLoggerConfig(), zapcore.AddSync(&first))
	Initialize(testLoggerConfig(), zapcore.AddSync(&second))

	GetLogger().Info("only once")
	require.NoError(t, GetLogger().Sync())

	assert.Contains(t, first.String(), "only once")
	assert.Empty(t, second.String(), "second Initialize must be a no-op")
}

func TestGetLoggerFallsBackBeforeInit(t *testing.T) {
	ResetForTest()
	logger := GetLogger()
	require.NotNil(t, logger)
	// Must be safe to use even before initialization.
	logger.Info("pre-init message")
}
