// Package commenter posts filtered review results back to the platform:
// marker-wrapped inline comments with idempotency keys, the summary review,
// and checkpoint maintenance.
package commenter

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"agnusai/internal/checkpoint"
	"agnusai/internal/config"
	"agnusai/internal/diff"
	"agnusai/internal/domain"
	"agnusai/internal/metrics"
	"agnusai/internal/runtime"
	"agnusai/internal/vcs"
)

// Manager posts one review's output. It is stateless apart from the shared
// process runtime.
type Manager struct {
	adapter vcs.Adapter
	caps    vcs.Capabilities
	rt      *runtime.Runtime

	// delay spaces out inline posts to stay under platform limits.
	delay time.Duration
	// now is a test hook.
	now func() time.Time
}

// NewManager builds a manager for the given adapter.
func NewManager(adapter vcs.Adapter, caps vcs.Capabilities, rt *runtime.Runtime) *Manager {
	return &Manager{
		adapter: adapter,
		caps:    caps,
		rt:      rt,
		delay:   config.InterCommentDelayMs * time.Millisecond,
		now:     time.Now,
	}
}

// Report is the outcome of one posting run.
type Report struct {
	Posted            int
	Updated           int // existing comments refreshed in place
	Failed            int
	Skipped           int // suppressed by the idempotency map
	CheckpointWritten bool
	Warnings          []string
}

// Post publishes the result: inline comments in order, then the summary
// review, then the checkpoint (unless skipCheckpoint). Errors never propagate
// past the report except context cancellation.
func (m *Manager) Post(ctx context.Context, pr *domain.PullRequest, result *domain.ReviewResult, d *diff.Diff, filesReviewed []string, skipCheckpoint bool) (*Report, error) {
	rep := &Report{}

	for i := range result.Comments {
		c := &result.Comments[i]

		if err := ctx.Err(); err != nil {
			return rep, err
		}

		key := idempotencyKey(pr.HeadSHA, c)
		if m.rt.ShouldSkip(key) {
			rep.Skipped++
			slog.Info("inline post suppressed, identical post in flight",
				"pr", pr.Key(), "path", c.Path, "line", c.Line)
			continue
		}
		if !m.rt.Allow() {
			rep.Failed++
			rep.Warnings = append(rep.Warnings, "internal request budget exhausted, remaining comments dropped")
			slog.Warn("internal request budget exhausted", "pr", pr.Key(), "posted", rep.Posted)
			break
		}

		body := m.assembleBody(pr, c, d)
		m.rt.MarkPending(key)
		if err := m.postInline(ctx, pr, c, body); err != nil {
			m.rt.MarkFailed(key, err)
			rep.Failed++
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("post %s:%d: %v", c.Path, c.Line, err))
			metrics.CommentPostFailures.WithLabelValues(pr.Platform).Inc()
			slog.Error("inline comment post failed",
				"pr", pr.Key(), "path", c.Path, "line", c.Line, "error", err)
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			continue
		}
		m.rt.MarkCompleted(key)
		if c.UpdateID != 0 && m.caps.Deduplication {
			rep.Updated++
		} else {
			rep.Posted++
		}
		metrics.CommentsPosted.WithLabelValues(pr.Platform).Inc()

		if m.delay > 0 && i < len(result.Comments)-1 {
			select {
			case <-time.After(m.delay):
			case <-ctx.Done():
				return rep, ctx.Err()
			}
		}
	}

	summary := result.Summary
	if rep.Failed > 0 {
		summary += fmt.Sprintf("\n\n*Note: %d inline comments could not be posted.*", rep.Failed)
	}

	if rep.Posted+rep.Updated == 0 && rep.Failed > 0 && len(result.Comments) > 0 {
		// Inline posting fully failed; fall back to one PR-level comment.
		if err := m.postFallbackSummary(ctx, pr, result, summary); err != nil {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("fallback summary: %v", err))
		}
	} else if err := m.adapter.SubmitReview(ctx, pr, summary, result.Verdict); err != nil {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("submit review: %v", err))
		slog.Error("submit review failed", "pr", pr.Key(), "error", err)
	}

	// The checkpoint is the last write; a cancelled review must not install
	// one.
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	if m.caps.Checkpoints && !skipCheckpoint {
		if err := m.writeCheckpoint(ctx, pr, result, filesReviewed, rep.Posted+rep.Updated); err != nil {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("checkpoint: %v", err))
			slog.Error("checkpoint write failed", "pr", pr.Key(), "error", err)
		} else {
			rep.CheckpointWritten = true
		}
	}

	return rep, nil
}

// postInline creates the inline comment, or refreshes the superseded comment
// in place when the filter tagged one.
func (m *Manager) postInline(ctx context.Context, pr *domain.PullRequest, c *domain.ReviewComment, body string) error {
	if c.UpdateID != 0 && m.caps.Deduplication {
		return m.adapter.(vcs.DeduplicationSupport).UpdateReviewComment(ctx, pr, c.UpdateID, body)
	}
	_, err := m.adapter.AddInlineComment(ctx, pr, c, body)
	return err
}

// assembleBody appends the authoring marker and metadata block, bounding the
// total size.
func (m *Manager) assembleBody(pr *domain.PullRequest, c *domain.ReviewComment, d *diff.Diff) string {
	meta := &domain.CommentMetadata{
		CommitSHA: pr.HeadSHA,
		IssueID:   c.IssueID(),
		Timestamp: m.now().UnixMilli(),
	}
	if d != nil {
		if fd := d.File(c.Path); fd != nil {
			if content, ok := fd.LineContent(c.Line); ok {
				meta.OriginalCode = strings.TrimSpace(content)
			}
		}
	}

	markers := "\n\n" + domain.MarkerAuthoring + "\n" + domain.WrapMetadata(meta)
	body := c.Body
	if over := len(body) + len(markers) - config.MaxCommentBodyChars; over > 0 {
		cut := len(body) - over - len(truncationNote)
		// Back off to a rune boundary so the cut never splits a multi-byte
		// character.
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + truncationNote
	}
	return body + markers
}

const truncationNote = "\n*[truncated]*"

// idempotencyKey is stable across retries of the same review run.
func idempotencyKey(sha string, c *domain.ReviewComment) string {
	sha7 := sha
	if len(sha7) > 7 {
		sha7 = sha7[:7]
	}
	return fmt.Sprintf("review-%s-%s-%d-%s", sha7, sanitizePath(c.Path), c.Line, c.IssueID())
}

var pathSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]+`)

func sanitizePath(p string) string {
	return pathSanitizer.ReplaceAllString(p, "_")
}

// postFallbackSummary posts a single PR-level comment carrying the verdict
// when every inline post failed.
func (m *Manager) postFallbackSummary(ctx context.Context, pr *domain.PullRequest, result *domain.ReviewResult, summary string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "**Review verdict: %s**\n\n%s\n\n", result.Verdict, summary)
	b.WriteString("*Inline comments could not be posted; findings follow.*\n\n")
	for _, c := range result.Comments {
		fmt.Fprintf(&b, "**%s:%d** — %s\n\n", c.Path, c.Line, c.Body)
	}
	_, err := m.adapter.AddComment(ctx, pr, b.String())
	return err
}

// writeCheckpoint updates the existing checkpoint comment in place, or
// creates one.
func (m *Manager) writeCheckpoint(ctx context.Context, pr *domain.PullRequest, result *domain.ReviewResult, filesReviewed []string, posted int) error {
	cs, ok := m.adapter.(vcs.CheckpointSupport)
	if !ok {
		return nil
	}
	cp := &checkpoint.Checkpoint{
		SHA:           pr.HeadSHA,
		Timestamp:     m.now().Unix(),
		FilesReviewed: filesReviewed,
		CommentCount:  posted,
		Verdict:       result.Verdict,
	}
	sha7 := pr.HeadSHA
	if len(sha7) > 7 {
		sha7 = sha7[:7]
	}
	body := fmt.Sprintf("Reviewed through `%s` (%d files, %d comments posted).\n\n%s",
		sha7, len(filesReviewed), posted, checkpoint.Serialize(cp))

	existing, err := cs.FindCheckpointComment(ctx, pr)
	if err != nil {
		return err
	}
	if existing != nil {
		return cs.UpdateCheckpointComment(ctx, pr, existing.ID, body)
	}
	return cs.CreateCheckpointComment(ctx, pr, body)
}
