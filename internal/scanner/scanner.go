// Package scanner orchestrates the analysis pipeline: build file contexts,
// plan batches, schedule LLM calls through the resilience layer, reconcile
// responses, and aggregate findings.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/vulnscan/internal/cache"
	"github.com/yourorg/vulnscan/internal/config"
	"github.com/yourorg/vulnscan/internal/filter"
	"github.com/yourorg/vulnscan/internal/llm"
	"github.com/yourorg/vulnscan/internal/metrics"
	"github.com/yourorg/vulnscan/internal/reconcile"
	"github.com/yourorg/vulnscan/internal/resilience"
	"github.com/yourorg/vulnscan/pkg/types"
)

const (
	circuitFile  = "llm_service"
	circuitBatch = "llm_batch_service"
)

// Scanner is the adaptive batch analysis engine.
type Scanner struct {
	cfg     *config.Config
	client  llm.Client
	cache   cache.Cache
	exec    *resilience.Executor
	recon   *reconcile.Reconciler
	metrics metrics.Collector
	logger  *slog.Logger
	builder ContextBuilder
}

// New wires a scanner. cache, collector, and logger may be nil.
func New(cfg *config.Config, client llm.Client, c cache.Cache, collector metrics.Collector, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = cache.Nop{}
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Scanner{
		cfg:     cfg,
		client:  client,
		cache:   c,
		exec:    resilience.NewExecutor(cfg.Resilience, client.Provider(), collector, logger),
		recon:   reconcile.NewReconciler(logger),
		metrics: collector,
		logger:  logger,
		builder: ContextBuilder{MaxChars: cfg.Batch.MaxFileChars},
	}
}

// AnalyzeDirectory walks root and analyzes every eligible file.
func (s *Scanner) AnalyzeDirectory(ctx context.Context, root string, recursive bool, maxFindingsPerFile int) (*types.ScanReport, error) {
	paths, err := filter.Walk(root, recursive, s.cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return s.AnalyzeFiles(ctx, paths, maxFindingsPerFile)
}

// AnalyzeFiles analyzes the given files. maxFindingsPerFile <= 0 means no
// cap. Failed units contribute zero findings; the run itself errors only on
// setup problems and fatal upstream errors (bad credentials, rejected
// request shape), which abort remaining units.
func (s *Scanner) AnalyzeFiles(ctx context.Context, paths []string, maxFindingsPerFile int) (*types.ScanReport, error) {
	start := time.Now()
	paths = filter.Apply(paths, s.cfg.Filter)

	contexts := make([]types.FileAnalysisContext, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			s.logger.Warn("skipping unreadable file", "path", p, "error", err)
			continue
		}
		if fc, ok := s.builder.Build(p, string(data)); ok {
			contexts = append(contexts, fc)
		}
	}

	// riskiest files first; stable so planner output stays deterministic
	sort.SliceStable(contexts, func(i, j int) bool {
		return contexts[i].Priority < contexts[j].Priority
	})

	var cacheHits atomic.Int64
	sched := NewScheduler(s.cfg.Batch, s.logger, func(completed, total int) {
		s.logger.Info("batch completed", "completed", completed, "total", total)
	})
	findings, succeeded, failed, err := sched.Run(ctx, contexts,
		func(ctx context.Context, fc types.FileAnalysisContext) ([]types.Finding, error) {
			return s.analyzeFile(ctx, fc, &cacheHits)
		},
		func(ctx context.Context, b *types.Batch) ([]types.Finding, error) {
			return s.analyzeBatch(ctx, b, &cacheHits)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("analysis aborted: %w", err)
	}

	if maxFindingsPerFile > 0 {
		findings = capPerFile(findings, maxFindingsPerFile)
	}

	duration := time.Since(start)
	s.metrics.RecordHistogram("scan.duration_seconds", duration.Seconds(), nil)
	s.metrics.RecordMetric("scan.findings", float64(len(findings)), nil)
	s.logger.Info("scan finished",
		"files", len(contexts), "findings", len(findings),
		"succeeded", succeeded, "failed", failed, "cache_hits", cacheHits.Load())

	return &types.ScanReport{
		ID:             uuid.NewString(),
		Findings:       findings,
		FilesScanned:   len(contexts),
		UnitsSucceeded: succeeded,
		UnitsFailed:    failed,
		CacheHits:      int(cacheHits.Load()),
		Duration:       duration,
		StartedAt:      start,
	}, nil
}

func (s *Scanner) keyParams(system, user string) cache.KeyParams {
	return cache.KeyParams{
		Model:        s.client.Model(),
		SystemPrompt: system,
		UserPrompt:   user,
		Temperature:  s.cfg.LLM.Temperature,
		MaxTokens:    s.cfg.LLM.MaxTokens,
	}
}

func (s *Scanner) complete(ctx context.Context, circuit, system, user string, fallback resilience.Fallback[llm.CompletionResponse]) resilience.Result[llm.CompletionResponse] {
	return resilience.Execute(ctx, s.exec, circuit, func(ctx context.Context) (llm.CompletionResponse, error) {
		return s.client.Complete(ctx, llm.CompletionRequest{
			SystemPrompt:   system,
			UserPrompt:     user,
			Temperature:    s.cfg.LLM.Temperature,
			MaxTokens:      s.cfg.LLM.MaxTokens,
			ResponseFormat: "json_object",
		})
	}, fallback)
}

// analyzeFile is one single-file analysis unit: read-through cache, one
// resilient LLM call with an empty-result fallback, reconciliation, and a
// best-effort cache write.
func (s *Scanner) analyzeFile(ctx context.Context, fc types.FileAnalysisContext, cacheHits *atomic.Int64) ([]types.Finding, error) {
	system := BuildSystemPrompt()
	user := BuildFilePrompt(fc)
	key := cache.Key(fc.Content, s.keyParams(system, user))

	if cached, ok := s.cache.Get(key); ok {
		cacheHits.Add(1)
		s.metrics.RecordMetric("scan.cache_hit", 1, nil)
		return cached, nil
	}

	res := s.complete(ctx, circuitFile, system, user, func(ctx context.Context, cause error) (llm.CompletionResponse, error) {
		s.logger.Warn("degrading to empty result", "path", fc.Path, "error", cause)
		return llm.CompletionResponse{Content: `{"findings":[]}`}, nil
	})
	if !res.Success {
		return nil, res.Err
	}
	s.recordUsage(res.Value.Usage)

	raws, err := reconcile.Extract(res.Value.Content)
	if err != nil {
		return nil, err
	}
	findings := s.recon.Reconcile(raws, &types.Batch{Contexts: []types.FileAnalysisContext{fc}})

	// degraded results are not worth remembering
	if !res.UsedFallback {
		s.cache.Put(key, findings, s.cfg.Cache.TTL())
	}
	return findings, nil
}

// analyzeBatch is one batch unit. When the resilient batch call cannot
// complete, the unit degrades to serial per-file analysis instead of
// failing outright.
func (s *Scanner) analyzeBatch(ctx context.Context, b *types.Batch, cacheHits *atomic.Int64) ([]types.Finding, error) {
	system := BuildSystemPrompt()
	user := BuildBatchPrompt(b)

	var joined strings.Builder
	for _, fc := range b.Contexts {
		joined.WriteString(fc.Path)
		joined.WriteByte(0)
		joined.WriteString(fc.Content)
		joined.WriteByte(0)
	}
	key := cache.Key(joined.String(), s.keyParams(system, user))

	if cached, ok := s.cache.Get(key); ok {
		cacheHits.Add(1)
		s.metrics.RecordMetric("scan.cache_hit", 1, nil)
		return cached, nil
	}

	res := s.complete(ctx, circuitBatch, system, user, nil)
	if !res.Success {
		if resilience.Fatal(res.Err) {
			return nil, res.Err
		}
		s.logger.Warn("batch call failed, degrading to per-file analysis",
			"files", len(b.Contexts), "error", res.Err)
		return s.analyzeBatchPerFile(ctx, b, cacheHits)
	}
	s.recordUsage(res.Value.Usage)

	raws, err := reconcile.Extract(res.Value.Content)
	if err != nil {
		return nil, err
	}
	findings := s.recon.Reconcile(raws, b)
	s.cache.Put(key, findings, s.cfg.Cache.TTL())
	return findings, nil
}

// analyzeBatchPerFile runs the batch's files one at a time. Calls inside a
// unit stay serialized; individual failures are logged and skipped, fatal
// errors propagate.
func (s *Scanner) analyzeBatchPerFile(ctx context.Context, b *types.Batch, cacheHits *atomic.Int64) ([]types.Finding, error) {
	var out []types.Finding
	for _, fc := range b.Contexts {
		findings, err := s.analyzeFile(ctx, fc, cacheHits)
		if err != nil {
			if resilience.Fatal(err) {
				return nil, err
			}
			s.logger.Warn("per-file degradation failed", "path", fc.Path, "error", err)
			continue
		}
		out = append(out, findings...)
	}
	return out, nil
}

func (s *Scanner) recordUsage(u types.Usage) {
	if u.TotalTokens == 0 {
		return
	}
	s.metrics.RecordHistogram("llm.tokens_total", float64(u.TotalTokens), nil)
}

// capPerFile keeps the top n findings per file, ordered by severity then
// confidence. Files keep their first-seen order.
func capPerFile(findings []types.Finding, n int) []types.Finding {
	byFile := make(map[string][]types.Finding)
	order := make([]string, 0)
	for _, f := range findings {
		if _, ok := byFile[f.FilePath]; !ok {
			order = append(order, f.FilePath)
		}
		byFile[f.FilePath] = append(byFile[f.FilePath], f)
	}

	out := make([]types.Finding, 0, len(findings))
	for _, path := range order {
		group := byFile[path]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Severity.Rank() != group[j].Severity.Rank() {
				return group[i].Severity.Rank() < group[j].Severity.Rank()
			}
			return group[i].Confidence > group[j].Confidence
		})
		if len(group) > n {
			group = group[:n]
		}
		out = append(out, group...)
	}
	return out
}
