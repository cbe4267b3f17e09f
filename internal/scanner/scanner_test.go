package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/yourorg/vulnscan/internal/cache"
	"github.com/yourorg/vulnscan/internal/config"
	"github.com/yourorg/vulnscan/internal/llm"
	"github.com/yourorg/vulnscan/internal/resilience"
	"github.com/yourorg/vulnscan/pkg/types"
)

func testScanConfig() *config.Config {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.LLM.APIKey = "test-key"
	// keep failing tests fast
	cfg.Resilience.MaxRetryAttempts = 0
	cfg.Resilience.BaseDelaySeconds = 0
	cfg.Resilience.MaxDelaySeconds = 0
	return cfg
}

func writeSourceFiles(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		var p string
		if i%2 == 0 {
			p = filepath.Join(dir, fmt.Sprintf("handler%02d.go", i))
		} else {
			p = filepath.Join(dir, fmt.Sprintf("view%02d.py", i))
		}
		content := fmt.Sprintf("query = \"SELECT * FROM users WHERE id = \" + input_%d\n", i)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
		paths = append(paths, p)
	}
	return paths
}

var filePathRe = regexp.MustCompile(`### File: (\S+) `)

// newAnalysisServer answers chat completion requests with one finding per
// file mentioned in the user prompt, echoing the path exactly.
func newAnalysisServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var user string
		for _, m := range req.Messages {
			if m.Role == "user" {
				user = m.Content
			}
		}

		findings := []map[string]interface{}{}
		for _, m := range filePathRe.FindAllStringSubmatch(user, -1) {
			findings = append(findings, map[string]interface{}{
				"type":        "sql_injection",
				"severity":    "high",
				"description": "string concatenation into SQL query",
				"file_path":   m[1],
				"line_number": 1,
				"confidence":  0.9,
			})
		}
		body, _ := json.Marshal(map[string]interface{}{"findings": findings})
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": string(body)}},
			},
			"usage": map[string]int{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestAnalyzeFilesBatchedEndToEnd(t *testing.T) {
	var calls int32
	srv := newAnalysisServer(t, &calls)
	defer srv.Close()

	cfg := testScanConfig()
	client := &llm.HTTPClient{BaseURL: srv.URL, APIKey: "test-key", ModelName: "test-model"}
	s := New(cfg, client, nil, nil, nil)

	paths := writeSourceFiles(t, 30)
	report, err := s.AnalyzeFiles(context.Background(), paths, 0)
	if err != nil {
		t.Fatalf("AnalyzeFiles: %v", err)
	}

	if report.FilesScanned != 30 {
		t.Fatalf("expected 30 files scanned, got %d", report.FilesScanned)
	}
	if report.UnitsFailed != 0 {
		t.Fatalf("expected no failed units, got %d", report.UnitsFailed)
	}
	if len(report.Findings) != 30 {
		t.Fatalf("expected one finding per file, got %d", len(report.Findings))
	}

	valid := make(map[string]bool, len(paths))
	for _, p := range paths {
		valid[p] = true
	}
	for _, f := range report.Findings {
		if !valid[f.FilePath] {
			t.Fatalf("finding attributed to unknown path %q", f.FilePath)
		}
		if f.Severity != types.SeverityHigh {
			t.Fatalf("unexpected severity %q", f.Severity)
		}
	}
	if report.ID == "" {
		t.Fatalf("report must carry an id")
	}
}

func TestAnalyzeFilesCacheAvoidsRepeatCalls(t *testing.T) {
	var calls int32
	srv := newAnalysisServer(t, &calls)
	defer srv.Close()

	cfg := testScanConfig()
	client := &llm.HTTPClient{BaseURL: srv.URL, APIKey: "test-key", ModelName: "test-model"}
	s := New(cfg, client, cache.NewMemoryCache(128), nil, nil)

	paths := writeSourceFiles(t, 30)
	first, err := s.AnalyzeFiles(context.Background(), paths, 0)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.CacheHits != 0 {
		t.Fatalf("first run should miss, got %d hits", first.CacheHits)
	}
	callsAfterFirst := atomic.LoadInt32(&calls)

	second, err := s.AnalyzeFiles(context.Background(), paths, 0)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.CacheHits == 0 {
		t.Fatalf("second run should hit the cache")
	}
	if got := atomic.LoadInt32(&calls); got != callsAfterFirst {
		t.Fatalf("cached run must not call upstream: %d -> %d", callsAfterFirst, got)
	}
	if len(second.Findings) != len(first.Findings) {
		t.Fatalf("cached findings differ: %d vs %d", len(second.Findings), len(first.Findings))
	}
}

type fakeClient struct {
	fn func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)
}

func (f *fakeClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	return f.fn(ctx, req)
}
func (f *fakeClient) Provider() string { return "openai" }
func (f *fakeClient) Model() string    { return "test-model" }

func TestAnalyzeFilesDegradesToEmptyOnOutage(t *testing.T) {
	cfg := testScanConfig()
	client := &fakeClient{fn: func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{}, &resilience.UpstreamError{Kind: resilience.KindServerError, Status: 503, Msg: "down"}
	}}
	s := New(cfg, client, nil, nil, nil)

	paths := writeSourceFiles(t, 4)
	report, err := s.AnalyzeFiles(context.Background(), paths, 0)
	if err != nil {
		t.Fatalf("AnalyzeFiles: %v", err)
	}
	if report.UnitsSucceeded != 4 || report.UnitsFailed != 0 {
		t.Fatalf("degraded units should still succeed: %+v", report)
	}
	if len(report.Findings) != 0 {
		t.Fatalf("degraded run must yield no findings, got %d", len(report.Findings))
	}
}

func TestAnalyzeFilesMalformedResponseFailsUnit(t *testing.T) {
	cfg := testScanConfig()
	client := &fakeClient{fn: func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{Content: "I found nothing of interest in this code."}, nil
	}}
	s := New(cfg, client, nil, nil, nil)

	paths := writeSourceFiles(t, 1)
	report, err := s.AnalyzeFiles(context.Background(), paths, 0)
	if err != nil {
		t.Fatalf("AnalyzeFiles: %v", err)
	}
	if report.UnitsFailed != 1 || report.UnitsSucceeded != 0 {
		t.Fatalf("unparseable response must fail the unit: %+v", report)
	}
}

func TestAnalyzeFilesBatchFailureDegradesToPerFile(t *testing.T) {
	var batchCalls, fileCalls int32
	client := &fakeClient{fn: func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
		if strings.Count(req.UserPrompt, "### File: ") > 1 {
			atomic.AddInt32(&batchCalls, 1)
			return llm.CompletionResponse{}, &resilience.UpstreamError{Kind: resilience.KindServerError, Status: 500, Msg: "batch too large"}
		}
		atomic.AddInt32(&fileCalls, 1)
		m := filePathRe.FindStringSubmatch(req.UserPrompt)
		if m == nil {
			return llm.CompletionResponse{}, fmt.Errorf("no file header in prompt")
		}
		content := fmt.Sprintf(`{"findings":[{"type":"sql_injection","severity":"medium","description":"d","file_path":%q,"line_number":1,"confidence":0.8}]}`, m[1])
		return llm.CompletionResponse{Content: content}, nil
	}}

	cfg := testScanConfig()
	s := New(cfg, client, nil, nil, nil)

	paths := writeSourceFiles(t, 30)
	report, err := s.AnalyzeFiles(context.Background(), paths, 0)
	if err != nil {
		t.Fatalf("AnalyzeFiles: %v", err)
	}
	if atomic.LoadInt32(&batchCalls) == 0 {
		t.Fatalf("expected batch attempts")
	}
	if atomic.LoadInt32(&fileCalls) != 30 {
		t.Fatalf("expected per-file degradation for all 30 files, got %d calls", atomic.LoadInt32(&fileCalls))
	}
	if report.UnitsFailed != 0 {
		t.Fatalf("degraded batches should not count as failed: %+v", report)
	}
	if len(report.Findings) != 30 {
		t.Fatalf("expected 30 findings after degradation, got %d", len(report.Findings))
	}
}

func TestAnalyzeFilesCapsFindingsPerFile(t *testing.T) {
	client := &fakeClient{fn: func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
		m := filePathRe.FindStringSubmatch(req.UserPrompt)
		content := fmt.Sprintf(`{"findings":[
			{"type":"a","severity":"low","description":"d","file_path":%[1]q,"line_number":1,"confidence":0.5},
			{"type":"b","severity":"critical","description":"d","file_path":%[1]q,"line_number":2,"confidence":0.9},
			{"type":"c","severity":"medium","description":"d","file_path":%[1]q,"line_number":3,"confidence":0.7}
		]}`, m[1])
		return llm.CompletionResponse{Content: content}, nil
	}}

	cfg := testScanConfig()
	s := New(cfg, client, nil, nil, nil)

	paths := writeSourceFiles(t, 1)
	report, err := s.AnalyzeFiles(context.Background(), paths, 2)
	if err != nil {
		t.Fatalf("AnalyzeFiles: %v", err)
	}
	if len(report.Findings) != 2 {
		t.Fatalf("expected cap of 2 findings, got %d", len(report.Findings))
	}
	if report.Findings[0].Severity != types.SeverityCritical {
		t.Fatalf("cap must keep the most severe finding first, got %q", report.Findings[0].Severity)
	}
	if report.Findings[1].Severity != types.SeverityMedium {
		t.Fatalf("cap must drop the weakest finding, got %q", report.Findings[1].Severity)
	}
}

func TestAnalyzeDirectoryWalks(t *testing.T) {
	var calls int32
	srv := newAnalysisServer(t, &calls)
	defer srv.Close()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"main.go":        "package main\n\nfunc main() {}\n",
		"src/handler.go": "package src\n\nvar token = \"hardcoded\"\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := testScanConfig()
	client := &llm.HTTPClient{BaseURL: srv.URL, APIKey: "test-key", ModelName: "test-model"}
	s := New(cfg, client, nil, nil, nil)

	report, err := s.AnalyzeDirectory(context.Background(), dir, true, 0)
	if err != nil {
		t.Fatalf("AnalyzeDirectory: %v", err)
	}
	if report.FilesScanned != 2 {
		t.Fatalf("expected 2 files scanned, got %d", report.FilesScanned)
	}
}

func TestAnalyzeFilesAbortsOnAuthError(t *testing.T) {
	cfg := testScanConfig()
	cfg.Resilience.FailureThreshold = 3
	var calls int32
	client := &fakeClient{fn: func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
		atomic.AddInt32(&calls, 1)
		return llm.CompletionResponse{}, &resilience.UpstreamError{Kind: resilience.KindAuth, Status: 401, Msg: "invalid api key"}
	}}
	s := New(cfg, client, nil, nil, nil)

	paths := writeSourceFiles(t, 10)
	report, err := s.AnalyzeFiles(context.Background(), paths, 0)
	if err == nil {
		t.Fatalf("auth failure must abort the scan")
	}
	var ue *resilience.UpstreamError
	if !errors.As(err, &ue) || ue.Kind != resilience.KindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	if report != nil {
		t.Fatalf("aborted scan must not produce a report")
	}
	// no file may be silently absorbed by the circuit-open fallback
	if got := atomic.LoadInt32(&calls); got > 10 {
		t.Fatalf("expected at most one call per file, got %d", got)
	}
}
