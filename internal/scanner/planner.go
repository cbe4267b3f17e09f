package scanner

import (
	"unicode"

	"github.com/yourorg/vulnscan/internal/config"
	"github.com/yourorg/vulnscan/pkg/types"
)

// BatchConfig is an alias of config.BatchConfig.
type BatchConfig = config.BatchConfig

// promptOverheadTokens is the fixed per-file share of prompt scaffolding
// (file header, fencing, instructions) added to each content estimate.
const promptOverheadTokens = 200

// EstimateTokens provides a rough token estimate.
// CJK is ~2 chars/token, others ~4 chars/token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	var cjk, other int
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			cjk++
			continue
		}
		other++
	}
	return (cjk+1)/2 + (other+3)/4
}

func estimateContextTokens(c types.FileAnalysisContext) int {
	return EstimateTokens(c.Content) + promptOverheadTokens
}

// Plan groups contexts into token-bounded batches. Contexts are optionally
// stratified by language and a coarse complexity bucket, then greedily
// packed under the target token budget. Packing is deterministic: the same
// input order and config always yield the same batches.
func Plan(contexts []types.FileAnalysisContext, cfg BatchConfig) []types.Batch {
	if len(contexts) == 0 {
		return nil
	}

	groups, order := stratify(contexts, cfg)
	var batches []types.Batch
	for _, key := range order {
		batches = append(batches, packGroup(groups[key], cfg)...)
	}
	return batches
}

func stratify(contexts []types.FileAnalysisContext, cfg BatchConfig) (map[string][]types.FileAnalysisContext, []string) {
	groups := make(map[string][]types.FileAnalysisContext)
	order := make([]string, 0)
	for _, c := range contexts {
		key := ""
		if cfg.GroupByLanguage {
			key = string(c.Language)
		}
		if cfg.GroupByComplexity {
			key += "/" + complexityBucket(c.Complexity)
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}
	return groups, order
}

func complexityBucket(score float64) string {
	switch {
	case score < 0.33:
		return "low"
	case score < 0.66:
		return "medium"
	default:
		return "high"
	}
}

func packGroup(contexts []types.FileAnalysisContext, cfg BatchConfig) []types.Batch {
	var batches []types.Batch
	var cur types.Batch
	for _, c := range contexts {
		t := estimateContextTokens(c)

		if len(cur.Contexts) > 0 && (cur.EstimatedTokens+t > cfg.TargetTokensPerBatch || len(cur.Contexts) >= cfg.MaxBatchSize) {
			batches = append(batches, finishBatch(cur))
			cur = types.Batch{}
		}
		// a context that alone exceeds the hard cap still goes out, as a
		// batch of one
		if t > cfg.MaxTokensPerBatch {
			batches = append(batches, finishBatch(types.Batch{
				Contexts:        []types.FileAnalysisContext{c},
				EstimatedTokens: t,
			}))
			continue
		}
		cur.Contexts = append(cur.Contexts, c)
		cur.EstimatedTokens += t
	}
	if len(cur.Contexts) > 0 {
		batches = append(batches, finishBatch(cur))
	}
	return mergeTrailing(batches, cfg)
}

// mergeTrailing folds a final batch smaller than min_batch_size into its
// predecessor when the combined batch still respects the hard bounds.
func mergeTrailing(batches []types.Batch, cfg BatchConfig) []types.Batch {
	n := len(batches)
	if n < 2 {
		return batches
	}
	last, prev := batches[n-1], batches[n-2]
	if len(last.Contexts) >= cfg.MinBatchSize {
		return batches
	}
	if prev.EstimatedTokens+last.EstimatedTokens > cfg.MaxTokensPerBatch {
		return batches
	}
	if len(prev.Contexts)+len(last.Contexts) > cfg.MaxBatchSize {
		return batches
	}
	prev.Contexts = append(prev.Contexts, last.Contexts...)
	prev.EstimatedTokens += last.EstimatedTokens
	return append(batches[:n-2], finishBatch(prev))
}

func finishBatch(b types.Batch) types.Batch {
	seen := make(map[types.Language]struct{})
	b.Languages = b.Languages[:0]
	for _, c := range b.Contexts {
		if _, ok := seen[c.Language]; ok {
			continue
		}
		seen[c.Language] = struct{}{}
		b.Languages = append(b.Languages, c.Language)
	}
	return b
}
