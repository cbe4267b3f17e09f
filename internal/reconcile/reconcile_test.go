package reconcile

import (
	"strings"
	"testing"

	"github.com/yourorg/vulnscan/pkg/types"
)

func testBatch() *types.Batch {
	return &types.Batch{
		Contexts: []types.FileAnalysisContext{
			{Path: "src/auth/login.py", Content: "import os\n\ndef login(user, pw):\n    query = \"SELECT * FROM users WHERE name='\" + user + \"'\"\n    return query\n", Language: types.LangPython},
			{Path: "src/web/views.py", Content: "def render(req):\n    return req.GET['next']\n", Language: types.LangPython},
		},
	}
}

func TestReconcileExactPath(t *testing.T) {
	r := NewReconciler(nil)
	got := r.Reconcile([]RawFinding{
		{Type: "sql_injection", Severity: "HIGH", FilePath: "src/auth/login.py", LineNumber: 4, Confidence: 0.9},
	}, testBatch())
	if len(got) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(got))
	}
	f := got[0]
	if f.FilePath != "src/auth/login.py" || f.Severity != types.SeverityHigh {
		t.Fatalf("unexpected finding: %+v", f)
	}
}

func TestReconcileClampsLineAndConfidence(t *testing.T) {
	r := NewReconciler(nil)
	got := r.Reconcile([]RawFinding{
		{Type: "xss", FilePath: "src/web/views.py", LineNumber: 0, Confidence: 1.7},
		{Type: "xss", FilePath: "src/web/views.py", LineNumber: -3, Confidence: -0.2},
	}, testBatch())
	for _, f := range got {
		if f.LineNumber < 1 {
			t.Fatalf("line number must be >= 1, got %d", f.LineNumber)
		}
		if f.Confidence < 0 || f.Confidence > 1 {
			t.Fatalf("confidence must be in [0,1], got %v", f.Confidence)
		}
	}
}

func TestReconcileFilenameSuffixMatch(t *testing.T) {
	r := NewReconciler(nil)
	got := r.Reconcile([]RawFinding{
		{Type: "sql_injection", Severity: "high", FilePath: "login.py", LineNumber: 4},
	}, testBatch())
	if got[0].FilePath != "src/auth/login.py" {
		t.Fatalf("expected suffix match, got %q", got[0].FilePath)
	}
}

func TestReconcileSnippetMatch(t *testing.T) {
	r := NewReconciler(nil)
	got := r.Reconcile([]RawFinding{
		{Type: "open_redirect", Severity: "medium", CodeSnippet: "return req.GET['next']", LineNumber: 2},
	}, testBatch())
	if got[0].FilePath != "src/web/views.py" {
		t.Fatalf("expected snippet match, got %q", got[0].FilePath)
	}
}

func TestReconcileSnippetMatchIgnoresFarLine(t *testing.T) {
	// Snippet present but the claimed line is far off; the containing file is
	// still accepted as a weak match rather than dropping the finding.
	r := NewReconciler(nil)
	got := r.Reconcile([]RawFinding{
		{Type: "open_redirect", CodeSnippet: "return req.GET['next']", LineNumber: 500},
	}, testBatch())
	if got[0].FilePath != "src/web/views.py" {
		t.Fatalf("expected weak snippet match, got %q", got[0].FilePath)
	}
}

func TestReconcilePlaceholdersAreUnique(t *testing.T) {
	r := NewReconciler(nil)
	got := r.Reconcile([]RawFinding{
		{Type: "mystery", Severity: "low"},
		{Type: "mystery2", Severity: "low", FilePath: "no/such/file.rb", CodeSnippet: "not present anywhere"},
	}, testBatch())
	if len(got) != 2 {
		t.Fatalf("findings must never be dropped, got %d", len(got))
	}
	for _, f := range got {
		if !strings.HasPrefix(f.FilePath, "<unknown-file-") {
			t.Fatalf("expected placeholder path, got %q", f.FilePath)
		}
	}
	if got[0].FilePath == got[1].FilePath {
		t.Fatalf("placeholder paths must be unique: %q", got[0].FilePath)
	}
}

func TestReconcileEmptyTypeDefaults(t *testing.T) {
	r := NewReconciler(nil)
	got := r.Reconcile([]RawFinding{{Title: "Weak Hash", Severity: "low", FilePath: "src/web/views.py"}}, testBatch())
	if got[0].Type != "Weak Hash" {
		t.Fatalf("title should back-fill type, got %q", got[0].Type)
	}
}
