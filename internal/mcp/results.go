// File: internal/mcp/results.go
package mcp

import (
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/xkilldash9x/shadowfox-mcp/internal/browser"
)

// toolResult is the result shape shared by every tool without structured output.
type toolResult = mcpsdk.CallToolResultFor[struct{}]

// textResult builds a successful single-text-block result.
func textResult(format string, args ...any) *toolResult {
	return &toolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

// errorResult builds a failed result. Tool failures travel inside the result
// envelope with IsError set; Go errors never cross the dispatch boundary.
func errorResult(format string, args ...any) *toolResult {
	return &toolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: fmt.Sprintf(format, args...)},
		},
		IsError: true,
	}
}

// imageResult pairs PNG bytes with a text caption, image first.
func imageResult(data []byte, caption string) *toolResult {
	return &toolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.ImageContent{Data: data, MIMEType: "image/png"},
			&mcpsdk.TextContent{Text: caption},
		},
	}
}

// lifecycleResult renders session lifecycle failures uniformly; operation
// failures fall through to nil so callers can phrase them per tool.
func lifecycleResult(err error) *toolResult {
	var startup *browser.StartupError
	switch {
	case errors.Is(err, browser.ErrStartupTimeout):
		return errorResult("❌ Timed out waiting for the browser to start. Please retry.")
	case errors.As(err, &startup):
		return errorResult("❌ Browser startup failed: %v", startup.Cause)
	case errors.Is(err, browser.ErrNotInitialized):
		return errorResult("❌ Browser not initialized")
	}
	return nil
}
