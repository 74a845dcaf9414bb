package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"agnusai/internal/checkpoint"
	"agnusai/internal/diff"
	"agnusai/internal/domain"
	"agnusai/internal/types"
	"agnusai/internal/vcs"
)

// IncrementalOptions controls the incremental entrypoint.
type IncrementalOptions struct {
	// ForceFull skips checkpoint lookup and runs a full review.
	ForceFull bool
	// SkipCheckpoint suppresses the checkpoint write after posting.
	SkipCheckpoint bool
}

// IncrementalReview reviews only the commits pushed since the last
// checkpoint. It falls back to a full review whenever the checkpoint cannot
// serve as an incremental base: missing, stale, force-pushed over, or the
// platform cannot compare commits.
func (o *Orchestrator) IncrementalReview(ctx context.Context, repo string, number int, opts IncrementalOptions) (*Outcome, error) {
	if !o.caps.Incremental || opts.ForceFull {
		if !o.caps.Incremental {
			slog.Info("adapter lacks incremental support, running full review",
				"platform", o.adapter.Platform(), "repo", repo, "number", number)
		}
		return o.Review(ctx, repo, number)
	}

	start := o.now()
	out, err := o.incrementalReview(ctx, repo, number, opts)
	if out == nil && err == nil {
		// Fallback decision was made before any work happened.
		return o.Review(ctx, repo, number)
	}
	o.record(ctx, "incremental", start, out, err)
	return out, err
}

// incrementalReview returns (nil, nil) when the run should delegate to a
// full review.
func (o *Orchestrator) incrementalReview(ctx context.Context, repo string, number int, opts IncrementalOptions) (*Outcome, error) {
	pr, err := o.adapter.GetPR(ctx, repo, number)
	if err != nil {
		return nil, fmt.Errorf("fetch pr %s/%d: %w", repo, number, err)
	}

	cp, ok := o.findCheckpoint(ctx, pr)
	if !ok {
		slog.Info("no usable checkpoint, running full review", "pr", pr.Key())
		return nil, nil
	}
	if cp.IsStale(o.cfg.Review.StaleCheckpointDays, o.now()) {
		slog.Info("checkpoint stale by age, running full review",
			"pr", pr.Key(), "checkpoint_age_days", (o.now().Unix()-cp.Timestamp)/86_400)
		return nil, nil
	}

	d, incremental, reason, err := o.getIncrementalDiff(ctx, pr, cp.SHA)
	if err != nil {
		return nil, fmt.Errorf("incremental diff for %s: %w", pr.Key(), err)
	}
	if !incremental {
		slog.Info("incremental base unusable, running full review", "pr", pr.Key(), "reason", reason)
		return nil, nil
	}

	if d.IsEmpty() {
		slog.Info("no new changes since checkpoint", "pr", pr.Key(), "sha", cp.SHA)
		return &Outcome{
			PR:          pr,
			Incremental: true,
			Result: &domain.ReviewResult{
				Summary: "No new changes since last review checkpoint.",
				Verdict: domain.VerdictComment,
			},
		}, nil
	}

	files := d.Paths()
	prefix := fmt.Sprintf("[Incremental Review: %d new files]\n\n", len(files))
	return o.runPipeline(ctx, pr, d, files, prefix, opts.SkipCheckpoint)
}

// findCheckpoint locates the newest parseable checkpoint on the PR.
func (o *Orchestrator) findCheckpoint(ctx context.Context, pr *domain.PullRequest) (*checkpoint.Checkpoint, bool) {
	if !o.caps.Checkpoints {
		return nil, false
	}
	cs := o.adapter.(vcs.CheckpointSupport)
	c, err := cs.FindCheckpointComment(ctx, pr)
	if err != nil {
		slog.Warn("checkpoint lookup failed", "pr", pr.Key(), "error", err)
		return nil, false
	}
	if c == nil {
		return nil, false
	}
	cp, ok := checkpoint.Parse(c.Body)
	return cp, ok
}

// getIncrementalDiff classifies the checkpoint SHA against HEAD and, when
// HEAD is strictly ahead, fetches the range diff. A false incremental flag
// means the caller must fall back to a full review; reason says why.
func (o *Orchestrator) getIncrementalDiff(ctx context.Context, pr *domain.PullRequest, baseSHA string) (d *diff.Diff, incremental bool, reason string, err error) {
	inc := o.adapter.(vcs.IncrementalSupport)

	headSHA, err := inc.GetHeadSHA(ctx, pr)
	if err != nil {
		return nil, false, "", fmt.Errorf("resolve head sha: %w", err)
	}
	if headSHA == baseSHA {
		return &diff.Diff{}, true, "", nil
	}

	cmp, err := inc.CompareCommits(ctx, pr, baseSHA, headSHA)
	if err != nil {
		if types.IsKind(err, types.KindIncrementalMissingBase) {
			return nil, false, "checkpoint not in repository", nil
		}
		return nil, false, "", fmt.Errorf("compare %s..%s: %w", short(baseSHA), short(headSHA), err)
	}

	switch cmp.Status {
	case domain.ComparisonDiverged:
		return nil, false, "diverged (possible force push)", nil
	case domain.ComparisonBehind:
		return nil, false, "checkpoint ahead of HEAD", nil
	case domain.ComparisonIdentical:
		return &diff.Diff{}, true, "", nil
	}

	if t := o.cfg.Review.StaleCheckpointThreshold; t > 0 && cmp.AheadBy > t {
		return nil, false, fmt.Sprintf("checkpoint %d commits behind HEAD", cmp.AheadBy), nil
	}

	rd, err := inc.GetRangeDiff(ctx, pr, baseSHA, headSHA)
	if err != nil {
		return nil, false, "", fmt.Errorf("range diff %s..%s: %w", short(baseSHA), short(headSHA), err)
	}
	slog.Debug("incremental diff resolved",
		"pr", pr.Key(), "base", short(baseSHA), "head", short(headSHA),
		"ahead_by", cmp.AheadBy, "files", len(rd.Files))
	return rd, true, "", nil
}

func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
