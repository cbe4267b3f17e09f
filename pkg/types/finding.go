package types

import "strings"

// Severity classifies the impact of a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Rank orders severities, critical first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// ParseSeverity normalizes a free-form severity string. Unrecognized
// values map to low rather than being rejected.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "crit":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium", "moderate", "med":
		return SeverityMedium
	case "low":
		return SeverityLow
	case "info", "informational", "note":
		return SeverityInfo
	default:
		return SeverityLow
	}
}

// Finding is one detected vulnerability. Never mutated after creation.
type Finding struct {
	Type           string   `json:"type"`
	Severity       Severity `json:"severity"`
	Description    string   `json:"description"`
	FilePath       string   `json:"file_path"`
	LineNumber     int      `json:"line_number"`
	CodeSnippet    string   `json:"code_snippet,omitempty"`
	Confidence     float64  `json:"confidence"`
	Recommendation string   `json:"recommendation,omitempty"`
	CWEID          string   `json:"cwe_id,omitempty"`
	OWASPID        string   `json:"owasp_id,omitempty"`
}
