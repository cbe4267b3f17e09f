package reconcile

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/yourorg/vulnscan/pkg/types"
)

// snippetLineTolerance bounds how far a located snippet may sit from the
// line the model claimed before the match is considered weak.
const snippetLineTolerance = 5

// Reconciler validates raw findings and attributes each one to a file in
// the batch. Placeholder paths are generated from a monotonic counter so
// tests are reproducible.
type Reconciler struct {
	logger  *slog.Logger
	counter atomic.Uint64
}

func NewReconciler(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{logger: logger}
}

// Reconcile maps raw findings onto the batch's files, clamping line numbers
// and confidences. Findings are never dropped: unmatched ones receive a
// unique placeholder path.
func (r *Reconciler) Reconcile(raws []RawFinding, batch *types.Batch) []types.Finding {
	out := make([]types.Finding, 0, len(raws))
	for _, raw := range raws {
		typ := strings.TrimSpace(raw.Type)
		if typ == "" {
			typ = strings.TrimSpace(raw.Title)
		}
		if typ == "" {
			typ = "unspecified"
		}

		line := int(raw.LineNumber)
		if line < 1 {
			line = 1
		}
		conf := float64(raw.Confidence)
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}

		path, matched := r.resolvePath(raw, batch)
		if !matched {
			r.logger.Warn("finding could not be attributed, using placeholder",
				"type", typ, "claimed_path", raw.FilePath, "placeholder", path)
		}

		out = append(out, types.Finding{
			Type:           typ,
			Severity:       types.ParseSeverity(raw.Severity),
			Description:    raw.Description,
			FilePath:       path,
			LineNumber:     line,
			CodeSnippet:    raw.CodeSnippet,
			Confidence:     conf,
			Recommendation: raw.Recommendation,
			CWEID:          raw.CWEID,
			OWASPID:        raw.OWASPID,
		})
	}
	return out
}

// resolvePath attributes a finding to a batch file: exact path, then
// filename suffix, then snippet location, then a placeholder.
func (r *Reconciler) resolvePath(raw RawFinding, batch *types.Batch) (string, bool) {
	claimed := strings.TrimSpace(raw.FilePath)

	if claimed != "" {
		for _, c := range batch.Contexts {
			if c.Path == claimed {
				return claimed, true
			}
		}
		if p, ok := suffixMatch(claimed, batch); ok {
			return p, true
		}
	}

	if p, ok := snippetMatch(raw, batch); ok {
		return p, true
	}

	return r.placeholder(), false
}

// suffixMatch accepts a claimed path only when it identifies exactly one
// batch file, by full suffix or by base name.
func suffixMatch(claimed string, batch *types.Batch) (string, bool) {
	base := filepath.Base(claimed)
	var match string
	count := 0
	for _, c := range batch.Contexts {
		if strings.HasSuffix(c.Path, claimed) || filepath.Base(c.Path) == base {
			match = c.Path
			count++
		}
	}
	if count == 1 {
		return match, true
	}
	return "", false
}

// snippetMatch searches batch file contents for the reported code snippet.
// A match near the claimed line is preferred; any containing file is
// accepted otherwise.
func snippetMatch(raw RawFinding, batch *types.Batch) (string, bool) {
	snippet := strings.TrimSpace(raw.CodeSnippet)
	if snippet == "" {
		return "", false
	}
	var weak string
	for _, c := range batch.Contexts {
		idx := strings.Index(c.Content, snippet)
		if idx < 0 {
			continue
		}
		if raw.LineNumber > 0 {
			lineAt := 1 + strings.Count(c.Content[:idx], "\n")
			delta := lineAt - int(raw.LineNumber)
			if delta < 0 {
				delta = -delta
			}
			if delta <= snippetLineTolerance {
				return c.Path, true
			}
		}
		if weak == "" {
			weak = c.Path
		}
	}
	if weak != "" {
		return weak, true
	}
	return "", false
}

func (r *Reconciler) placeholder() string {
	return fmt.Sprintf("<unknown-file-%08x>", r.counter.Add(1))
}
