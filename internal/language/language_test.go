package language

import (
	"strings"
	"testing"

	"github.com/yourorg/vulnscan/pkg/types"
)

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		path string
		want types.Language
	}{
		{"cmd/main.go", types.LangGo},
		{"app/views.py", types.LangPython},
		{"src/index.TS", types.LangTypeScript},
		{"Dockerfile", types.LangShell},
		{"README", types.LangUnknown},
	}
	var m Mapper
	for _, c := range cases {
		if got := m.DetectLanguage(c.path); got != c.want {
			t.Fatalf("DetectLanguage(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestComplexityScoreRange(t *testing.T) {
	var m Mapper
	if got := m.ComplexityScore("a.go", ""); got != 0 {
		t.Fatalf("empty file score = %v, want 0", got)
	}

	simple := "package main\n\nfunc main() {}\n"
	nested := strings.Repeat("if x {\n\tfor i := 0; i < n; i++ {\n\t\tif y {\n\t\t\twork()\n\t\t}\n\t}\n}\n", 80)

	s1 := m.ComplexityScore("a.go", simple)
	s2 := m.ComplexityScore("b.go", nested)
	if s1 < 0 || s1 > 1 || s2 < 0 || s2 > 1 {
		t.Fatalf("scores out of range: %v, %v", s1, s2)
	}
	if s2 <= s1 {
		t.Fatalf("expected nested file to score higher: simple=%v nested=%v", s1, s2)
	}
}
