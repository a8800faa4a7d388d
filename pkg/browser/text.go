package browser

import (
	"strings"

	"golang.org/x/net/html"
)

// VisibleText flattens a node tree into the text a user would read: script,
// style and embedded content are dropped and whitespace runs collapse to a
// single space. Output is cut at maxLength bytes; truncated reports whether
// anything was dropped.
func VisibleText(n *html.Node, maxLength int) (text string, truncated bool) {
	var builder strings.Builder
	truncated = collectText(n, &builder, maxLength)
	return strings.TrimSpace(builder.String()), truncated
}

func collectText(n *html.Node, builder *strings.Builder, maxLength int) bool {
	if maxLength > 0 && builder.Len() >= maxLength {
		return true
	}

	switch n.Type {
	case html.CommentNode:
		return false
	case html.ElementNode:
		if isSkippedElement(strings.ToLower(n.Data)) {
			return false
		}
	case html.TextNode:
		text := strings.Join(strings.Fields(n.Data), " ")
		if text == "" {
			return false
		}
		if builder.Len() > 0 {
			builder.WriteByte(' ')
		}
		if maxLength > 0 && builder.Len()+len(text) > maxLength {
			builder.WriteString(text[:maxLength-builder.Len()])
			builder.WriteString("...")
			return true
		}
		builder.WriteString(text)
		return false
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if collectText(c, builder, maxLength) {
			return true
		}
	}
	return false
}

// isSkippedElement returns true for elements whose content is never read
func isSkippedElement(tagName string) bool {
	skipped := map[string]bool{
		"script":   true,
		"style":    true,
		"noscript": true,
		"iframe":   true,
		"embed":    true,
		"object":   true,
		"svg":      true,
		"template": true,
		"head":     true,
	}
	return skipped[tagName]
}

// NormalizeText collapses whitespace in UI text so the same row renders to
// the same key across runs.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
