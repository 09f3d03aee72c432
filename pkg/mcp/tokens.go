package mcp

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// charsPerToken is the approximate number of characters per token for
// English text. Used for threshold estimation only — not exact counting.
const charsPerToken = 4

// DefaultStorageMaxTokens is the maximum token count for truncated tool
// output. Protects the conversation and the audit trail from massive blobs.
const DefaultStorageMaxTokens = 8000

// truncateAtLineBoundary is the shared truncation logic. It cuts at the
// last newline before the limit to avoid splitting mid-line — important
// when the content is indented JSON, YAML, or log output.
//
// maxChars is a byte limit. The cut point is adjusted backwards to avoid
// splitting multi-byte UTF-8 characters, then further adjusted to the last
// newline when possible.
func truncateAtLineBoundary(content string, maxChars int, marker string) string {
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	truncated := content[:cut]
	if idx := strings.LastIndex(truncated, "\n"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + fmt.Sprintf(
		"\n\n[TRUNCATED: %s — Original size: %s, limit: %s]",
		marker, formatSize(len(content)), formatSize(maxChars),
	)
}

// formatSize returns a human-readable size string. Uses bytes for values
// under 1KB to avoid confusing "0KB" output on small content.
func formatSize(bytes int) string {
	if bytes < 1024 {
		return fmt.Sprintf("%dB", bytes)
	}
	return fmt.Sprintf("%dKB", bytes/1024)
}

// TruncateForStorage truncates tool output before it enters the
// conversation and the MCPInteraction record.
func TruncateForStorage(content string) string {
	return truncateAtLineBoundary(content, DefaultStorageMaxTokens*charsPerToken,
		"Output exceeded storage display limit")
}
