package scanner

import (
	"fmt"
	"strings"

	"github.com/yourorg/vulnscan/pkg/types"
)

const systemPrompt = `You are a security code auditor. You will receive one or more source files.

Your task:
1. Analyze each file for security vulnerabilities: injection flaws, broken
   authentication, sensitive data exposure, path traversal, insecure
   deserialization, hardcoded secrets, SSRF, unsafe cryptography, and
   similar issues.
2. Report only real, locatable issues in the provided code. Do not invent
   findings for code you cannot see.
3. For every finding include the exact file_path as given in the input and
   the 1-indexed line number of the offending code.

Output strictly valid JSON with this schema and nothing else. No markdown
code fences, no commentary:
{
  "findings": [
    {
      "type": "string, short snake_case vulnerability class",
      "severity": "critical|high|medium|low|info",
      "description": "string",
      "file_path": "string, path exactly as given",
      "line_number": 1,
      "code_snippet": "string, the offending line(s)",
      "confidence": 0.0,
      "recommendation": "string",
      "cwe_id": "optional CWE identifier",
      "owasp_id": "optional OWASP category"
    }
  ]
}

Return {"findings": []} when a file has no issues.`

// BuildSystemPrompt returns the static system prompt.
func BuildSystemPrompt() string {
	return systemPrompt
}

// BuildFilePrompt builds the user prompt for a single-file analysis.
func BuildFilePrompt(fc types.FileAnalysisContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following file for security vulnerabilities.\n\n")
	writeFileSection(&b, fc)
	return b.String()
}

// BuildBatchPrompt builds the user prompt for a batch of files.
func BuildBatchPrompt(batch *types.Batch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following %d files for security vulnerabilities.\n", len(batch.Contexts))
	fmt.Fprintf(&b, "Report the file_path of each finding exactly as written in its header.\n\n")
	for _, fc := range batch.Contexts {
		writeFileSection(&b, fc)
	}
	return b.String()
}

func writeFileSection(b *strings.Builder, fc types.FileAnalysisContext) {
	fmt.Fprintf(b, "### File: %s (language: %s)\n", fc.Path, fc.Language)
	fmt.Fprintf(b, "```%s\n%s\n```\n\n", fc.Language, fc.Content)
}
