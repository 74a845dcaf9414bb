// Package filter hosts the precision gate and the deduplication engine: the
// multi-axis decision of which model comments actually reach the PR.
package filter

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"agnusai/internal/config"
	"agnusai/internal/diff"
	"agnusai/internal/domain"
)

// Reason codes for filtered comments and aborted reviews. Every skipped
// comment is logged with exactly one of these.
type Reason string

const (
	ReasonInvalidLineNumber  Reason = "invalid_line_number"
	ReasonEmptyComment       Reason = "empty_comment"
	ReasonVersionClaim       Reason = "version_claim"
	ReasonBinaryFile         Reason = "binary_file"
	ReasonSkipPattern        Reason = "skip_pattern"
	ReasonFileDeleted        Reason = "file_deleted"
	ReasonFileRenamed        Reason = "file_renamed"
	ReasonLineNotInDiff      Reason = "line_not_in_diff"
	ReasonLineDeleted        Reason = "line_deleted"
	ReasonDuplicateLine      Reason = "duplicate_line"
	ReasonCodeChanged        Reason = "code_changed"
	ReasonDismissed          Reason = "dismissed"
	ReasonMaxPerFile         Reason = "max_comments_per_file"
	ReasonTestFileLenient    Reason = "test_file_lenient"
	ReasonMaxCommentsReached Reason = "max_comments_reached"

	// Whole-PR abort reasons
	ReasonDraftPR     Reason = "draft_pr"
	ReasonMergedPR    Reason = "merged_pr"
	ReasonClosedPR    Reason = "closed_pr"
	ReasonLockedPR    Reason = "locked_pr"
	ReasonRateLimited Reason = "rate_limited"
)

// Options configures the engine. Zero values fall back to defaults.
type Options struct {
	MaxComments        int
	MaxCommentsPerFile int
	SkipDrafts         bool
	LenientOnTests     bool
	SkipPatterns       []string
	// UpdateExisting keeps a finding that supersedes an existing comment at
	// the same position, tagged with that comment's ID so the poster updates
	// it in place. When false such findings are dropped as duplicates.
	UpdateExisting bool
}

// DefaultOptions mirrors the documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxComments:        25,
		MaxCommentsPerFile: 5,
		SkipDrafts:         true,
		LenientOnTests:     true,
	}
}

// Input is everything the engine needs for one run.
type Input struct {
	Comments []domain.ReviewComment
	Existing []domain.DetailedReviewComment
	Diff     *diff.Diff
	PR       *domain.PullRequest
	// RateRemaining is the platform's remaining request budget, or -1 when
	// the adapter cannot probe it.
	RateRemaining int
}

// FilteredComment pairs a rejected comment with its reason.
type FilteredComment struct {
	Comment domain.ReviewComment
	Reason  Reason
}

// Result is the engine's verdict over one batch of comments.
type Result struct {
	Kept         []domain.ReviewComment
	Filtered     []FilteredComment
	SkippedFiles []string
	Warnings     []string
	Aborted      bool
	AbortReason  Reason
}

// Engine evaluates new comments against existing comments, the diff, and the
// PR state. It is stateless across runs; the PR itself is the store.
type Engine struct {
	opts Options
}

// NewEngine creates an engine with the given options.
func NewEngine(opts Options) *Engine {
	if opts.MaxComments <= 0 {
		opts.MaxComments = 25
	}
	if opts.MaxCommentsPerFile <= 0 {
		opts.MaxCommentsPerFile = 5
	}
	return &Engine{opts: opts}
}

// existingIndex precomputes lookups over the PR's current authored comments.
type existingIndex struct {
	byPathLine map[string]*domain.DetailedReviewComment
	byPath     map[string][]*domain.DetailedReviewComment
	dismissed  map[int64]bool // comment ID -> has a dismissing user reply
}

func buildIndex(existing []domain.DetailedReviewComment) *existingIndex {
	idx := &existingIndex{
		byPathLine: make(map[string]*domain.DetailedReviewComment),
		byPath:     make(map[string][]*domain.DetailedReviewComment),
		dismissed:  make(map[int64]bool),
	}
	for i := range existing {
		c := &existing[i]
		if c.InReplyToID != 0 {
			// A reply from anyone but us can dismiss the parent finding.
			if !domain.IsAuthored(c.Body) && IsDismissal(c.Body) {
				idx.dismissed[c.InReplyToID] = true
			}
			continue
		}
		if !domain.IsAuthored(c.Body) {
			continue
		}
		idx.byPathLine[fmt.Sprintf("%s:%d", c.Path, c.Line)] = c
		idx.byPath[c.Path] = append(idx.byPath[c.Path], c)
	}
	return idx
}

// Run applies the whole-PR guards, then the per-comment reason chain in fixed
// order (first matching reason wins), then sorting and the global cap.
func (e *Engine) Run(in *Input) *Result {
	res := &Result{}

	if abort, reason := e.guardPR(in); abort {
		res.Aborted = true
		res.AbortReason = reason
		res.Warnings = append(res.Warnings, fmt.Sprintf("review aborted: %s", reason))
		slog.Warn("review aborted before filtering", "reason", reason, "pr", in.PR.Key())
		return res
	}

	idx := buildIndex(in.Existing)
	perFile := make(map[string]int)
	skippedFiles := make(map[string]bool)

	// Evaluate in final posting order so the per-file and global caps bind
	// to the highest-priority comments deterministically.
	ordered := make([]domain.ReviewComment, len(in.Comments))
	copy(ordered, in.Comments)
	sortComments(ordered)

	for _, c := range ordered {
		reason, keep := e.evaluate(&c, in, idx, perFile)
		if !keep {
			res.Filtered = append(res.Filtered, FilteredComment{Comment: c, Reason: reason})
			if reason == ReasonBinaryFile || reason == ReasonSkipPattern {
				skippedFiles[c.Path] = true
			}
			slog.Info("comment filtered", "path", c.Path, "line", c.Line, "reason", reason)
			continue
		}
		perFile[c.Path]++
		res.Kept = append(res.Kept, c)
	}

	for f := range skippedFiles {
		res.SkippedFiles = append(res.SkippedFiles, f)
	}
	sort.Strings(res.SkippedFiles)

	if len(res.Kept) > e.opts.MaxComments {
		for _, c := range res.Kept[e.opts.MaxComments:] {
			res.Filtered = append(res.Filtered, FilteredComment{Comment: c, Reason: ReasonMaxCommentsReached})
		}
		res.Kept = res.Kept[:e.opts.MaxComments]
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("global comment cap reached (%d), extra comments dropped", e.opts.MaxComments))
	}

	return res
}

// guardPR evaluates whole-PR abort conditions before per-comment filtering.
func (e *Engine) guardPR(in *Input) (bool, Reason) {
	pr := in.PR
	if pr.IsDraft && e.opts.SkipDrafts {
		return true, ReasonDraftPR
	}
	if pr.State == domain.PRStateMerged {
		return true, ReasonMergedPR
	}
	if pr.State == domain.PRStateClosed {
		return true, ReasonClosedPR
	}
	if pr.IsLocked {
		return true, ReasonLockedPR
	}
	if in.RateRemaining >= 0 && in.RateRemaining < config.MinRateRemaining {
		return true, ReasonRateLimited
	}
	return false, ""
}

// evaluate returns the first matching rejection reason for c, or keep=true.
func (e *Engine) evaluate(c *domain.ReviewComment, in *Input, idx *existingIndex, perFile map[string]int) (Reason, bool) {
	// 1. invalid line
	if c.Line < 1 {
		return ReasonInvalidLineNumber, false
	}

	// 2. empty body
	if strings.TrimSpace(c.Body) == "" {
		return ReasonEmptyComment, false
	}

	// 3. unreliable package-version assertion
	if IsVersionClaim(c.Body) {
		return ReasonVersionClaim, false
	}

	// 4. binary / skip set (before any diff lookups)
	if IsBinaryPath(c.Path) {
		return ReasonBinaryFile, false
	}
	if MatchesSkipSet(c.Path, e.opts.SkipPatterns) {
		return ReasonSkipPattern, false
	}

	// 5. file missing from the diff
	fd := in.Diff.File(c.Path)
	if fd == nil {
		if in.Diff.FileByOldPath(c.Path) != nil {
			return ReasonFileRenamed, false
		}
		return ReasonFileDeleted, false
	}

	// 6. line outside the changed set
	if _, ok := fd.ChangedLines()[c.Line]; !ok {
		return ReasonLineNotInDiff, false
	}

	// 7. line removed by the diff
	if fd.TrackLineMovement()[c.Line] == -1 {
		return ReasonLineDeleted, false
	}

	// 8. duplicate of an existing comment at the same position. A dismissed
	// existing comment retires the finding permanently rather than counting
	// as a plain duplicate.
	if existing, ok := idx.byPathLine[fmt.Sprintf("%s:%d", c.Path, c.Line)]; ok {
		if idx.dismissed[existing.ID] {
			return ReasonDismissed, false
		}
		if e.opts.UpdateExisting && domain.StripMarkers(existing.Body) != strings.TrimSpace(c.Body) {
			// The finding at this position changed; refresh the existing
			// comment instead of stacking a duplicate.
			c.UpdateID = existing.ID
			return "", true
		}
		return ReasonDuplicateLine, false
	}

	// 9/10. same logical finding at a different line
	for _, existing := range idx.byPath[c.Path] {
		if existing.Line == c.Line {
			continue
		}
		if domain.StripMarkers(existing.Body) != strings.TrimSpace(c.Body) {
			continue
		}
		if idx.dismissed[existing.ID] {
			return ReasonDismissed, false
		}
		meta, ok := domain.ExtractMetadata(existing.Body)
		if !ok || meta.OriginalCode == "" {
			// Pre-metadata comments carry no snippet to compare, so a moved
			// finding cannot be distinguished from a changed one; we skip,
			// which may suppress a still-valid comment.
			slog.Warn("matched finding without original code snippet, skipping",
				"path", c.Path, "line", c.Line, "existing_id", existing.ID)
			return ReasonCodeChanged, false
		}
		if fd.ContainsCode(meta.OriginalCode) {
			// The flagged code still exists; the finding just moved.
			return ReasonCodeChanged, false
		}
		// The flagged code is gone: the old comment is stale and this is a
		// genuinely new finding. Fall through to the remaining rules.
		break
	}

	// 11. per-file cap
	if perFile[c.Path] >= e.opts.MaxCommentsPerFile {
		return ReasonMaxPerFile, false
	}

	// 12. lenient mode on test files
	if e.opts.LenientOnTests && IsTestPath(c.Path) && c.Severity != domain.SeverityError {
		return ReasonTestFileLenient, false
	}

	return "", true
}

// sortComments orders by severity (error < warning < info), then path, then
// line. This is also the posting order.
func sortComments(comments []domain.ReviewComment) {
	sort.SliceStable(comments, func(i, j int) bool {
		a, b := comments[i], comments[j]
		if ra, rb := domain.SeverityRank(a.Severity), domain.SeverityRank(b.Severity); ra != rb {
			return ra < rb
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Line < b.Line
	})
}

// ConsolidatedGroup is a recurring finding across files, surfaced in the
// summary instead of repeated inline.
type ConsolidatedGroup struct {
	Prefix   string
	Comments []domain.ReviewComment
}

// Consolidate groups kept comments by a 30-character lowercased body prefix;
// groups of three or more become summary-level suggestions.
func Consolidate(kept []domain.ReviewComment) []ConsolidatedGroup {
	byPrefix := make(map[string][]domain.ReviewComment)
	var order []string
	for _, c := range kept {
		p := strings.ToLower(c.Body)
		if len(p) > 30 {
			p = p[:30]
		}
		if _, seen := byPrefix[p]; !seen {
			order = append(order, p)
		}
		byPrefix[p] = append(byPrefix[p], c)
	}

	var groups []ConsolidatedGroup
	for _, p := range order {
		if cs := byPrefix[p]; len(cs) >= 3 {
			groups = append(groups, ConsolidatedGroup{Prefix: p, Comments: cs})
		}
	}
	return groups
}
