package types

import "time"

// Language identifies the programming language of a source file.
type Language string

const (
	LangGo         Language = "go"
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangJava       Language = "java"
	LangRuby       Language = "ruby"
	LangRust       Language = "rust"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangCSharp     Language = "csharp"
	LangPHP        Language = "php"
	LangShell      Language = "shell"
	LangSQL        Language = "sql"
	LangUnknown    Language = "unknown"
)

// FileAnalysisContext is one file queued for analysis. Immutable once built.
type FileAnalysisContext struct {
	Path       string   `json:"path"`
	Content    string   `json:"content"`
	Language   Language `json:"language"`
	Size       int      `json:"size"`
	Complexity float64  `json:"complexity"`
	Priority   int      `json:"priority"`
	Truncated  bool     `json:"truncated,omitempty"`
}

// Batch is a group of contexts submitted to the LLM in one call.
type Batch struct {
	Contexts        []FileAnalysisContext `json:"contexts"`
	EstimatedTokens int                   `json:"estimated_tokens"`
	Languages       []Language            `json:"languages"`
}

// Paths returns the file paths of all contexts in submission order.
func (b *Batch) Paths() []string {
	out := make([]string, 0, len(b.Contexts))
	for _, c := range b.Contexts {
		out = append(out, c.Path)
	}
	return out
}

// Usage reports token consumption for one LLM call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ScanReport aggregates the outcome of one analysis run.
type ScanReport struct {
	ID             string        `json:"id"`
	Findings       []Finding     `json:"findings"`
	FilesScanned   int           `json:"files_scanned"`
	UnitsSucceeded int           `json:"units_succeeded"`
	UnitsFailed    int           `json:"units_failed"`
	CacheHits      int           `json:"cache_hits"`
	Duration       time.Duration `json:"duration"`
	StartedAt      time.Time     `json:"started_at"`
}

// SeverityCounts tallies findings per severity.
func (r *ScanReport) SeverityCounts() map[Severity]int {
	out := make(map[Severity]int)
	for _, f := range r.Findings {
		out[f.Severity]++
	}
	return out
}
