// Package vcs defines the platform adapter contract. The orchestrator and
// commenter depend only on these interfaces; GitHub and GitLab implementations
// live in subpackages.
package vcs

import (
	"context"
	"strings"

	"agnusai/internal/diff"
	"agnusai/internal/domain"
)

// Adapter is the required capability set every platform must provide.
type Adapter interface {
	// Platform returns the platform identifier ("github", "gitlab").
	Platform() string

	// GetPR fetches the current PR snapshot.
	GetPR(ctx context.Context, repo string, number int) (*domain.PullRequest, error)

	// GetDiff returns the PR's full unified diff, parsed.
	GetDiff(ctx context.Context, pr *domain.PullRequest) (*diff.Diff, error)

	// GetFiles lists the changed file paths.
	GetFiles(ctx context.Context, pr *domain.PullRequest) ([]string, error)

	// GetAuthor returns the PR author's login.
	GetAuthor(ctx context.Context, pr *domain.PullRequest) (string, error)

	// GetLinkedTickets returns ticket references found on the PR itself
	// (title, description, branch name). Best-effort; an empty slice is fine.
	GetLinkedTickets(ctx context.Context, pr *domain.PullRequest) ([]string, error)

	// GetFileContent fetches one file's content at the given ref.
	GetFileContent(ctx context.Context, pr *domain.PullRequest, path, ref string) (string, error)

	// AddComment posts a PR-level (non-inline) comment and returns it.
	AddComment(ctx context.Context, pr *domain.PullRequest, body string) (*domain.PRComment, error)

	// AddInlineComment posts an inline comment at the comment's path and
	// new-side line, returning the created comment's platform ID.
	AddInlineComment(ctx context.Context, pr *domain.PullRequest, c *domain.ReviewComment, body string) (int64, error)

	// SubmitReview submits the summary with the given verdict. Adapters
	// handle the own-PR verdict rejection internally by downgrading to a
	// plain comment verdict and appending a note to the summary.
	SubmitReview(ctx context.Context, pr *domain.PullRequest, summary string, verdict domain.Verdict) error
}

// DeduplicationSupport is the optional comment-inventory capability. Without
// it, every candidate comment is posted and a warning is emitted.
type DeduplicationSupport interface {
	GetReviewComments(ctx context.Context, pr *domain.PullRequest) ([]domain.DetailedReviewComment, error)
	GetPRComments(ctx context.Context, pr *domain.PullRequest) ([]domain.PRComment, error)
	UpdateReviewComment(ctx context.Context, pr *domain.PullRequest, id int64, body string) error
	DeleteReviewComment(ctx context.Context, pr *domain.PullRequest, id int64) error
}

// CheckpointSupport is the optional checkpoint-comment capability.
type CheckpointSupport interface {
	// FindCheckpointComment returns the newest checkpoint-bearing PR comment,
	// or nil when none exists.
	FindCheckpointComment(ctx context.Context, pr *domain.PullRequest) (*domain.PRComment, error)
	CreateCheckpointComment(ctx context.Context, pr *domain.PullRequest, body string) error
	UpdateCheckpointComment(ctx context.Context, pr *domain.PullRequest, id int64, body string) error
}

// IncrementalSupport is the optional commit-range capability backing
// incremental reviews.
type IncrementalSupport interface {
	CompareCommits(ctx context.Context, pr *domain.PullRequest, base, head string) (*domain.CommitComparison, error)
	GetHeadSHA(ctx context.Context, pr *domain.PullRequest) (string, error)
	// GetRangeDiff returns the parsed unified diff for base..head.
	GetRangeDiff(ctx context.Context, pr *domain.PullRequest, base, head string) (*diff.Diff, error)
}

// RateLimitProbe is the optional remaining-request-budget capability.
type RateLimitProbe interface {
	// RateRemaining returns the platform's remaining request budget.
	RateRemaining(ctx context.Context) (int, error)
}

// ReplySupport is the optional threaded-reply capability.
type ReplySupport interface {
	AddReply(ctx context.Context, pr *domain.PullRequest, parentID int64, body string) error
}

// Capabilities records which optional interfaces an adapter satisfies. Probed
// once at construction and never re-probed.
type Capabilities struct {
	Deduplication bool
	Checkpoints   bool
	Incremental   bool
	RateProbe     bool
	Replies       bool
}

// Probe inspects a concrete adapter for its optional capabilities.
func Probe(a Adapter) Capabilities {
	var c Capabilities
	_, c.Deduplication = a.(DeduplicationSupport)
	_, c.Checkpoints = a.(CheckpointSupport)
	_, c.Incremental = a.(IncrementalSupport)
	_, c.RateProbe = a.(RateLimitProbe)
	_, c.Replies = a.(ReplySupport)
	return c
}

// OwnPRFallbackNote is appended to the summary when a verdict had to be
// downgraded because the platform forbids self-review verdicts.
const OwnPRFallbackNote = "\n\n*Note: verdict downgraded to `comment`; the platform does not accept review verdicts on one's own pull request.*"

// IsOwnPRRejection reports whether err is the platform refusing a verdict on
// the author's own pull request.
func IsOwnPRRejection(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "your own pull request") ||
		strings.Contains(msg, "can not approve your own") ||
		strings.Contains(msg, "own merge request")
}
