package filter

import (
	"log/slog"

	"agnusai/internal/domain"
)

// DefaultPrecisionThreshold is the minimum self-reported confidence a
// comment needs to survive.
const DefaultPrecisionThreshold = 0.7

// ApplyPrecision drops comments whose confidence is below threshold. It runs
// before deduplication, so dropped comments never consume per-file caps.
func ApplyPrecision(comments []domain.ReviewComment, threshold float64) (kept, dropped []domain.ReviewComment) {
	if threshold <= 0 {
		threshold = DefaultPrecisionThreshold
	}
	for _, c := range comments {
		if c.Confidence < threshold {
			slog.Debug("precision filter dropped comment",
				"path", c.Path, "line", c.Line, "confidence", c.Confidence, "threshold", threshold)
			dropped = append(dropped, c)
			continue
		}
		kept = append(kept, c)
	}
	if len(dropped) > 0 {
		slog.Info("precision filter applied",
			"kept", len(kept), "dropped", len(dropped), "threshold", threshold)
	}
	return kept, dropped
}
