package scanner

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yourorg/vulnscan/internal/resilience"
	"github.com/yourorg/vulnscan/pkg/types"
)

const (
	// singleFileThreshold selects the per-file strategy for small sets,
	// favoring latency over batching savings.
	singleFileThreshold = 25
	// maxFileWorkers caps concurrent individual-file analyses.
	maxFileWorkers = 10
)

// ProgressFunc reports completed vs total units during a batched run.
type ProgressFunc func(completed, total int)

// AnalyzeFileFunc analyzes one file. Calls within a unit are serialized.
type AnalyzeFileFunc func(ctx context.Context, fc types.FileAnalysisContext) ([]types.Finding, error)

// AnalyzeBatchFunc analyzes one planned batch.
type AnalyzeBatchFunc func(ctx context.Context, b *types.Batch) ([]types.Finding, error)

// Scheduler fans analysis units out over a bounded worker group. A failing
// unit never cancels its siblings; it is logged and contributes zero
// findings. The one exception is a fatal upstream error (bad credentials or
// a rejected request shape), which aborts the whole run.
type Scheduler struct {
	cfg        BatchConfig
	logger     *slog.Logger
	onProgress ProgressFunc
}

func NewScheduler(cfg BatchConfig, logger *slog.Logger, onProgress ProgressFunc) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cfg: cfg, logger: logger, onProgress: onProgress}
}

// Run analyzes all contexts and returns the aggregated findings plus counts
// of succeeded and failed units. Aggregation order follows unit completion
// and carries no meaning. A fatal unit error cancels in-flight siblings and
// is returned as the run error.
func (s *Scheduler) Run(ctx context.Context, contexts []types.FileAnalysisContext, analyzeFile AnalyzeFileFunc, analyzeBatch AnalyzeBatchFunc) ([]types.Finding, int, int, error) {
	if len(contexts) == 0 {
		return nil, 0, 0, nil
	}
	if len(contexts) <= singleFileThreshold {
		return s.runPerFile(ctx, contexts, analyzeFile)
	}
	return s.runBatched(ctx, contexts, analyzeBatch)
}

func (s *Scheduler) runPerFile(ctx context.Context, contexts []types.FileAnalysisContext, analyzeFile AnalyzeFileFunc) ([]types.Finding, int, int, error) {
	limit := maxFileWorkers
	if len(contexts) < limit {
		limit = len(contexts)
	}
	s.logger.Debug("per-file analysis", "files", len(contexts), "workers", limit)

	var (
		mu        sync.Mutex
		findings  []types.Finding
		succeeded int
		failed    int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, fc := range contexts {
		fc := fc
		g.Go(func() error {
			result, err := analyzeFile(gctx, fc)
			if err != nil && resilience.Fatal(err) {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				s.logger.Warn("file analysis failed", "path", fc.Path, "error", err)
				return nil
			}
			succeeded++
			findings = append(findings, result...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, 0, err
	}
	return findings, succeeded, failed, nil
}

func (s *Scheduler) runBatched(ctx context.Context, contexts []types.FileAnalysisContext, analyzeBatch AnalyzeBatchFunc) ([]types.Finding, int, int, error) {
	batches := Plan(contexts, s.cfg)
	limit := s.cfg.MaxConcurrentBatches
	if limit < 1 {
		limit = 1
	}
	s.logger.Debug("batched analysis", "files", len(contexts), "batches", len(batches), "workers", limit)

	var (
		mu        sync.Mutex
		findings  []types.Finding
		succeeded int
		failed    int
		completed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i := range batches {
		b := &batches[i]
		g.Go(func() error {
			result, err := analyzeBatch(gctx, b)
			if err != nil && resilience.Fatal(err) {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				s.logger.Warn("batch analysis failed", "files", len(b.Contexts), "error", err)
			} else {
				succeeded++
				findings = append(findings, result...)
			}
			completed++
			if s.onProgress != nil {
				s.onProgress(completed, len(batches))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, 0, err
	}
	return findings, succeeded, failed, nil
}
