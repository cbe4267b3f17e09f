package scanner

import (
	"strings"

	"github.com/yourorg/vulnscan/internal/language"
	"github.com/yourorg/vulnscan/pkg/types"
)

const (
	defaultMaxFileChars = 12000
	truncationMarker    = "\n... [content truncated for analysis]"
)

// ContextBuilder turns raw file content into an analysis context. Oversized
// files are cut at a structural boundary so line numbers in findings stay
// meaningful for the surviving prefix.
type ContextBuilder struct {
	MaxChars int
	Mapper   language.Mapper
}

// Build returns the context and true, or false for files that should be
// skipped (empty or whitespace-only).
func (b ContextBuilder) Build(path, content string) (types.FileAnalysisContext, bool) {
	if strings.TrimSpace(content) == "" {
		return types.FileAnalysisContext{}, false
	}
	maxChars := b.MaxChars
	if maxChars <= 0 {
		maxChars = defaultMaxFileChars
	}

	truncated := false
	if len(content) > maxChars {
		content = truncateAtBoundary(content, maxChars) + truncationMarker
		truncated = true
	}

	lang := b.Mapper.DetectLanguage(path)
	complexity := b.Mapper.ComplexityScore(path, content)
	return types.FileAnalysisContext{
		Path:       path,
		Content:    content,
		Language:   lang,
		Size:       len(content),
		Complexity: complexity,
		Priority:   priorityFor(complexity),
		Truncated:  truncated,
	}, true
}

// priorityFor ranks a file for analysis ordering: 1 is highest. Complex
// files surface first so the riskiest results arrive early in a long scan.
func priorityFor(complexity float64) int {
	switch {
	case complexity >= 0.66:
		return 1
	case complexity >= 0.33:
		return 2
	default:
		return 3
	}
}

// boundary markers recognized when looking for a safe cut point.
func isBoundaryLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	switch trimmed {
	case "}", "};", "end":
		return true
	}
	for _, pref := range []string{"func ", "def ", "class ", "function "} {
		if strings.HasPrefix(trimmed, pref) {
			return true
		}
	}
	return false
}

// truncateAtBoundary cuts content at the nearest structural boundary (blank
// line or definition/closing-brace line) found within the last 20% of the
// limit; failing that it cuts hard at the limit.
func truncateAtBoundary(content string, limit int) string {
	if len(content) <= limit {
		return content
	}
	window := content[:limit]
	floor := limit * 8 / 10

	if idx := strings.LastIndex(window, "\n\n"); idx >= floor {
		return window[:idx]
	}

	end := len(window)
	for end > floor {
		nl := strings.LastIndex(window[:end], "\n")
		if nl < floor {
			break
		}
		if isBoundaryLine(window[nl+1 : end]) {
			return window[:nl]
		}
		end = nl
	}
	return window
}
