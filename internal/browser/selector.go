// File: internal/browser/selector.go
package browser

import (
	"fmt"
	"strings"
)

// SelectorKind distinguishes how a raw selector string should be interpreted.
type SelectorKind int

const (
	// SelectorCSS is a regular CSS selector.
	SelectorCSS SelectorKind = iota
	// SelectorXPath is an XPath expression (raw string starts with "//").
	SelectorXPath
	// SelectorText matches elements by visible text content.
	SelectorText
)

func (k SelectorKind) String() string {
	switch k {
	case SelectorXPath:
		return "xpath"
	case SelectorText:
		return "text"
	default:
		return "css"
	}
}

// Selector is a parsed element selector ready for dispatch to the automation
// library.
type Selector struct {
	Raw  string
	Kind SelectorKind
}

// cssMetaChars are the characters whose presence marks a string as a CSS
// selector rather than plain text content.
const cssMetaChars = ".#[>"

// ParseSelector classifies a raw selector string: a leading "//" means XPath,
// a string with no CSS metacharacters is treated as a visible-text match,
// anything else is CSS.
func ParseSelector(raw string) Selector {
	if strings.HasPrefix(raw, "//") {
		return Selector{Raw: raw, Kind: SelectorXPath}
	}
	if !strings.ContainsAny(raw, cssMetaChars) {
		return Selector{Raw: raw, Kind: SelectorText}
	}
	return Selector{Raw: raw, Kind: SelectorCSS}
}

// ParseTextSelector forces text-content matching regardless of shape.
func ParseTextSelector(raw string) Selector {
	return Selector{Raw: raw, Kind: SelectorText}
}

// ParseStrictSelector classifies only CSS vs XPath, never text. Used by the
// operations (type, wait-for, content, screenshot) that take element
// selectors rather than free text.
func ParseStrictSelector(raw string) Selector {
	if strings.HasPrefix(raw, "//") {
		return Selector{Raw: raw, Kind: SelectorXPath}
	}
	return Selector{Raw: raw, Kind: SelectorCSS}
}

// Query returns the string to hand to the automation library, converting
// text-content selectors into an XPath contains() expression.
func (s Selector) Query() string {
	if s.Kind == SelectorText {
		return fmt.Sprintf(`//*[contains(normalize-space(.), %s)]`, xpathLiteral(s.Raw))
	}
	return s.Raw
}

// IsXPath reports whether Query() yields an XPath expression.
func (s Selector) IsXPath() bool {
	return s.Kind == SelectorXPath || s.Kind == SelectorText
}

// xpathLiteral quotes an arbitrary string for embedding in an XPath
// expression. Strings containing both quote characters are stitched together
// with concat().
func xpathLiteral(s string) string {
	switch {
	case !strings.Contains(s, `"`):
		return `"` + s + `"`
	case !strings.Contains(s, `'`):
		return `'` + s + `'`
	default:
		parts := strings.Split(s, `"`)
		quoted := make([]string, 0, len(parts)*2)
		for i, p := range parts {
			if i > 0 {
				quoted = append(quoted, `'"'`)
			}
			if p != "" {
				quoted = append(quoted, `"`+p+`"`)
			}
		}
		return "concat(" + strings.Join(quoted, ", ") + ")"
	}
}
