// Package language maps file paths to languages and scores file complexity.
// Both operations are pure and synchronous.
package language

import (
	"path/filepath"
	"strings"

	"github.com/yourorg/vulnscan/pkg/types"
)

var extLanguages = map[string]types.Language{
	".go":    types.LangGo,
	".py":    types.LangPython,
	".pyw":   types.LangPython,
	".js":    types.LangJavaScript,
	".jsx":   types.LangJavaScript,
	".mjs":   types.LangJavaScript,
	".ts":    types.LangTypeScript,
	".tsx":   types.LangTypeScript,
	".java":  types.LangJava,
	".rb":    types.LangRuby,
	".rs":    types.LangRust,
	".c":     types.LangC,
	".h":     types.LangC,
	".cc":    types.LangCPP,
	".cpp":   types.LangCPP,
	".cxx":   types.LangCPP,
	".hpp":   types.LangCPP,
	".cs":    types.LangCSharp,
	".php":   types.LangPHP,
	".sh":    types.LangShell,
	".bash":  types.LangShell,
	".sql":   types.LangSQL,
}

// Mapper resolves languages and complexity scores from file names.
type Mapper struct{}

// DetectLanguage maps a file path to a language by extension.
func (Mapper) DetectLanguage(path string) types.Language {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := extLanguages[ext]; ok {
		return lang
	}
	base := strings.ToLower(filepath.Base(path))
	switch base {
	case "dockerfile", "makefile":
		return types.LangShell
	}
	return types.LangUnknown
}

// branchMarkers are rough indicators of control-flow density. The score is a
// heuristic, only used for coarse bucketing of batches.
var branchMarkers = []string{"if ", "if(", "for ", "for(", "while ", "while(", "case ", "catch ", "except", "switch"}

// ComplexityScore estimates how complex a file is on a 0..1 scale from its
// size, nesting depth, and branching density.
func (Mapper) ComplexityScore(path, content string) float64 {
	if content == "" {
		return 0
	}
	lines := strings.Split(content, "\n")

	sizeScore := float64(len(lines)) / 500.0
	if sizeScore > 1 {
		sizeScore = 1
	}

	maxDepth := 0
	branches := 0
	for _, line := range lines {
		depth := 0
		for _, r := range line {
			if r == ' ' {
				depth++
			} else if r == '\t' {
				depth += 4
			} else {
				break
			}
		}
		if depth > maxDepth {
			maxDepth = depth
		}
		trimmed := strings.TrimSpace(line)
		for _, m := range branchMarkers {
			if strings.Contains(trimmed, m) {
				branches++
				break
			}
		}
	}

	depthScore := float64(maxDepth) / 24.0
	if depthScore > 1 {
		depthScore = 1
	}
	branchScore := float64(branches) / float64(len(lines)) * 4
	if branchScore > 1 {
		branchScore = 1
	}

	score := 0.4*sizeScore + 0.3*depthScore + 0.3*branchScore
	if score > 1 {
		score = 1
	}
	return score
}
