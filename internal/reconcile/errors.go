package reconcile

import "fmt"

const previewLen = 200

// AnalysisError reports a response that stayed unparseable after every
// recovery stage. It is not retried; callers may choose to re-prompt.
type AnalysisError struct {
	Preview string
	Err     error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("llm response unparseable after recovery: %v (preview: %q)", e.Err, e.Preview)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

func newAnalysisError(raw string, err error) *AnalysisError {
	preview := raw
	if len(preview) > previewLen {
		preview = preview[:previewLen] + "..."
	}
	return &AnalysisError{Preview: preview, Err: err}
}
