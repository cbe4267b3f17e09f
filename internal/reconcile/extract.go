// Package reconcile turns free-form LLM output into structured findings and
// re-associates each finding with its source file. The bias throughout is
// "surface with best-effort attribution" over "silently discard".
package reconcile

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// looseInt tolerates numbers the model quotes as strings.
type looseInt int

func (n *looseInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = looseInt(v)
	return nil
}

// looseFloat tolerates confidences the model quotes as strings.
type looseFloat float64

func (f *looseFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = looseFloat(v)
	return nil
}

// RawFinding is one finding as the model reported it, before validation.
type RawFinding struct {
	Type           string     `json:"type"`
	Title          string     `json:"title"`
	Severity       string     `json:"severity"`
	Description    string     `json:"description"`
	FilePath       string     `json:"file_path"`
	LineNumber     looseInt   `json:"line_number"`
	CodeSnippet    string     `json:"code_snippet"`
	Confidence     looseFloat `json:"confidence"`
	Recommendation string     `json:"recommendation"`
	CWEID          string     `json:"cwe_id"`
	OWASPID        string     `json:"owasp_id"`
}

type llmResponse struct {
	Findings        []RawFinding `json:"findings"`
	Vulnerabilities []RawFinding `json:"vulnerabilities"`
}

// repairFn attempts one recovery transformation. ok means the input changed.
type repairFn func(string) (string, bool)

// repairs run in order after a parse failure; each result is re-parsed and
// the pipeline stops at the first success. Kept as data so new strategies
// can be appended without touching call sites.
var repairs = []repairFn{
	removeTrailingCommas,
	quoteBareKeys,
	extractBalancedObject,
}

// Extract recovers a finding list from raw model output.
func Extract(raw string) ([]RawFinding, error) {
	s := stripCodeFence(raw)
	s = sanitizeEscapes(s)

	findings, err := tryParse(s)
	if err == nil {
		return unwrapNested(findings), nil
	}

	firstErr := err
	for _, repair := range repairs {
		repaired, ok := repair(s)
		if !ok {
			continue
		}
		s = repaired
		if findings, err = tryParse(s); err == nil {
			return unwrapNested(findings), nil
		}
	}
	return nil, newAnalysisError(raw, firstErr)
}

func tryParse(s string) ([]RawFinding, error) {
	var resp llmResponse
	if err := json.Unmarshal([]byte(s), &resp); err == nil {
		if resp.Findings != nil {
			return resp.Findings, nil
		}
		if resp.Vulnerabilities != nil {
			return resp.Vulnerabilities, nil
		}
		return []RawFinding{}, nil
	}
	var arr []RawFinding
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return nil, err
	}
	return arr, nil
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if m := fenceRe.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	// unterminated opening fence
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.Index(trimmed, "\n"); idx != -1 {
			trimmed = trimmed[idx+1:]
		}
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}

func isValidEscape(c byte) bool {
	switch c {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
		return true
	}
	return false
}

// sanitizeEscapes escapes any backslash inside a string value that is not
// followed by a recognized JSON escape character.
func sanitizeEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' {
			inString = !inString
			b.WriteByte(c)
			continue
		}
		if inString && c == '\\' {
			if i+1 < len(s) && isValidEscape(s[i+1]) {
				b.WriteByte(c)
				b.WriteByte(s[i+1])
				i++
				continue
			}
			b.WriteString(`\\`)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

func removeTrailingCommas(s string) (string, bool) {
	out := trailingCommaRe.ReplaceAllString(s, "$1")
	return out, out != s
}

var bareKeyRe = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_-]*)\s*:`)

func quoteBareKeys(s string) (string, bool) {
	out := bareKeyRe.ReplaceAllString(s, `$1"$2":`)
	return out, out != s
}

// extractBalancedObject returns the first balanced {...} substring,
// respecting string literals and escapes.
func extractBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return s, false
	}
	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				out := s[start : i+1]
				return out, out != s
			}
		}
	}
	return s, false
}

// unwrapNested handles a known model quirk: a single "finding" whose
// description is itself a JSON blob listing vulnerabilities.
func unwrapNested(findings []RawFinding) []RawFinding {
	if len(findings) != 1 {
		return findings
	}
	desc := findings[0].Description
	if !strings.Contains(desc, `"vulnerabilities"`) {
		return findings
	}
	blob, ok := extractBalancedObject(desc)
	if !ok {
		blob = desc
	}
	var nested struct {
		Vulnerabilities []struct {
			Title             string     `json:"title"`
			Type              string     `json:"type"`
			Severity          string     `json:"severity"`
			Description       string     `json:"description"`
			FilePath          string     `json:"file_path"`
			LineNumber        looseInt   `json:"line_number"`
			CodeSnippet       string     `json:"code_snippet"`
			RemediationAdvice string     `json:"remediation_advice"`
			Confidence        looseFloat `json:"confidence"`
		} `json:"vulnerabilities"`
	}
	if err := json.Unmarshal([]byte(blob), &nested); err != nil || len(nested.Vulnerabilities) == 0 {
		return findings
	}
	out := make([]RawFinding, 0, len(nested.Vulnerabilities))
	for _, v := range nested.Vulnerabilities {
		typ := v.Type
		if typ == "" {
			typ = v.Title
		}
		conf := v.Confidence
		if conf == 0 {
			conf = 0.8
		}
		out = append(out, RawFinding{
			Type:           typ,
			Severity:       v.Severity,
			Description:    v.Description,
			FilePath:       v.FilePath,
			LineNumber:     v.LineNumber,
			CodeSnippet:    v.CodeSnippet,
			Confidence:     conf,
			Recommendation: v.RemediationAdvice,
		})
	}
	return out
}
