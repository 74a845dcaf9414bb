// Package checkpoint serializes review state into a sentinel-wrapped JSON
// block embedded in a PR-level comment. The PR's comment stream is the only
// store: the newest parseable checkpoint governs incremental behavior.
package checkpoint

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"agnusai/internal/domain"
)

const (
	// Marker delimits the checkpoint JSON inside a comment body.
	MarkerPrefix = "<!-- AGNUSAI_CHECKPOINT: "
	MarkerSuffix = " -->"

	// DefaultMaxAgeDays is the staleness horizon for checkpoints.
	DefaultMaxAgeDays = 30
)

// Checkpoint is the review-state record for one PR. Unknown JSON fields are
// tolerated on parse so the wire format can grow.
type Checkpoint struct {
	SHA           string         `json:"sha"`
	Timestamp     int64          `json:"timestamp"` // epoch seconds
	FilesReviewed []string       `json:"filesReviewed"`
	CommentCount  int            `json:"commentCount"`
	Verdict       domain.Verdict `json:"verdict"`
}

// Serialize renders the checkpoint as a comment body fragment.
func Serialize(cp *Checkpoint) string {
	data, err := json.Marshal(cp)
	if err != nil {
		// Checkpoint fields are all marshalable; this cannot happen with
		// well-formed input.
		slog.Error("marshal checkpoint failed", "error", err)
		return ""
	}
	return MarkerPrefix + string(data) + MarkerSuffix
}

// Parse extracts the first checkpoint embedded in body. Returns false when no
// marker is present or the JSON is malformed; callers fall back to a full
// review in that case.
func Parse(body string) (*Checkpoint, bool) {
	start := strings.Index(body, MarkerPrefix)
	if start < 0 {
		return nil, false
	}
	rest := body[start+len(MarkerPrefix):]
	end := strings.Index(rest, MarkerSuffix)
	if end < 0 {
		return nil, false
	}

	var cp Checkpoint
	if err := json.Unmarshal([]byte(rest[:end]), &cp); err != nil {
		slog.Warn("malformed checkpoint json, ignoring", "error", err)
		return nil, false
	}
	if cp.SHA == "" || cp.Timestamp == 0 {
		slog.Warn("checkpoint missing required fields, ignoring", "sha", cp.SHA, "timestamp", cp.Timestamp)
		return nil, false
	}
	if cp.FilesReviewed == nil {
		cp.FilesReviewed = []string{}
	}
	if cp.Verdict == "" {
		cp.Verdict = domain.VerdictComment
	}
	return &cp, true
}

// Newest scans PR-level comments and returns the checkpoint with the greatest
// embedded timestamp, together with the ID of the comment carrying it. The
// marker is authoritative; author identity is not consulted.
func Newest(comments []domain.PRComment) (*Checkpoint, int64, bool) {
	var best *Checkpoint
	var bestID int64
	for _, c := range comments {
		cp, ok := Parse(c.Body)
		if !ok {
			continue
		}
		if best == nil || cp.Timestamp > best.Timestamp {
			best = cp
			bestID = c.ID
		}
	}
	return best, bestID, best != nil
}

// IsStale reports whether the checkpoint is older than maxDays at time now.
func (cp *Checkpoint) IsStale(maxDays int, now time.Time) bool {
	if maxDays <= 0 {
		maxDays = DefaultMaxAgeDays
	}
	age := now.UnixMilli() - cp.Timestamp*1000
	return age > int64(maxDays)*86_400_000
}

// ValidateSHA reports whether the checkpoint is usable as an incremental
// base: either it still matches HEAD or HEAD is strictly ahead of it.
func (cp *Checkpoint) ValidateSHA(headSHA string, commitsAhead int) bool {
	return cp.SHA == headSHA || commitsAhead > 0
}
