package scanner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yourorg/vulnscan/pkg/types"
)

// RenderMarkdown renders a scan report as a markdown document.
func RenderMarkdown(report *types.ScanReport) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "# Security Scan Report\n\n")
	fmt.Fprintf(b, "Scan ID: %s\n\n", report.ID)
	fmt.Fprintf(b, "Files scanned: %d, findings: %d, duration: %s\n\n",
		report.FilesScanned, len(report.Findings), report.Duration.Round(10*time.Millisecond))
	if report.UnitsFailed > 0 {
		fmt.Fprintf(b, "Warning: %d of %d analysis units failed; results are partial.\n\n",
			report.UnitsFailed, report.UnitsFailed+report.UnitsSucceeded)
	}

	fmt.Fprintln(b, "## Summary")
	counts := report.SeverityCounts()
	for _, sev := range []types.Severity{types.SeverityCritical, types.SeverityHigh, types.SeverityMedium, types.SeverityLow, types.SeverityInfo} {
		if counts[sev] > 0 {
			fmt.Fprintf(b, "- %s: %d\n", sev, counts[sev])
		}
	}

	findings := make([]types.Finding, len(report.Findings))
	copy(findings, report.Findings)
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Severity.Rank() != findings[j].Severity.Rank() {
			return findings[i].Severity.Rank() < findings[j].Severity.Rank()
		}
		return findings[i].FilePath < findings[j].FilePath
	})

	for _, f := range findings {
		fmt.Fprintf(b, "\n## [%s] %s\n", strings.ToUpper(string(f.Severity)), f.Type)
		fmt.Fprintf(b, "**Location:** %s:%d\n\n", f.FilePath, f.LineNumber)
		if f.Description != "" {
			fmt.Fprintf(b, "%s\n\n", f.Description)
		}
		if f.CodeSnippet != "" {
			fmt.Fprintf(b, "```\n%s\n```\n\n", f.CodeSnippet)
		}
		if f.Recommendation != "" {
			fmt.Fprintf(b, "**Recommendation:** %s\n\n", f.Recommendation)
		}
		meta := make([]string, 0, 3)
		if f.CWEID != "" {
			meta = append(meta, f.CWEID)
		}
		if f.OWASPID != "" {
			meta = append(meta, f.OWASPID)
		}
		meta = append(meta, fmt.Sprintf("confidence %.2f", f.Confidence))
		fmt.Fprintf(b, "_%s_\n", strings.Join(meta, ", "))
	}
	return b.String()
}
