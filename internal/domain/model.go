package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// PRState is the lifecycle state of a pull request.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
)

// Verdict is the overall outcome of a review.
type Verdict string

const (
	VerdictApprove        Verdict = "approve"
	VerdictRequestChanges Verdict = "request_changes"
	VerdictComment        Verdict = "comment"
)

// Severity classifies a single review comment.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// SeverityRank orders severities for posting: error < warning < info.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// PullRequest is the canonical PR snapshot. It is immutable per fetch and
// re-fetched for every review run.
type PullRequest struct {
	Platform     string
	Repo         string // "owner/name" (GitHub) or "group/project" (GitLab)
	Number       int
	Title        string
	Description  string
	Author       string
	SourceBranch string
	TargetBranch string
	HeadSHA      string
	State        PRState
	IsDraft      bool
	IsLocked     bool
}

// Key identifies a PR across platforms, used for per-PR locking and debouncing.
func (pr *PullRequest) Key() string {
	return fmt.Sprintf("%s/%s/%d", pr.Platform, pr.Repo, pr.Number)
}

// ReviewComment is a comment candidate produced by the model, before posting.
type ReviewComment struct {
	Path       string
	Line       int // new-side line number, 1-indexed
	Body       string
	Severity   Severity
	Suggestion string
	Confidence float64

	// UpdateID, when non-zero, is the ID of an existing comment at the same
	// position that this finding supersedes. The poster updates that comment
	// in place instead of creating a new one.
	UpdateID int64
}

// IssueID is a stable hash identifying the logical finding. It is embedded in
// the posted comment's metadata so the same issue can be recognized on later
// runs even if its line moved.
func (c *ReviewComment) IssueID() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", c.Path, c.Line, c.Body)))
	return hex.EncodeToString(sum[:])[:16]
}

// DetailedReviewComment is an inline comment that already exists on the PR,
// as returned by the platform.
type DetailedReviewComment struct {
	ID           int64
	Path         string
	Line         int
	OriginalLine int
	Body         string
	UserLogin    string
	UserType     string // "user" or "bot"
	InReplyToID  int64
	CommitID     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PRComment is a PR-level (non-inline) comment. Checkpoints live in these.
type PRComment struct {
	ID        int64
	Body      string
	UserLogin string
	CreatedAt time.Time
}

// ReviewResult is the parsed and filtered outcome of one model call.
type ReviewResult struct {
	Summary  string
	Comments []ReviewComment
	Verdict  Verdict
}

// CommentMetadata is appended to each posted inline comment so the next run
// can match findings across line movement.
type CommentMetadata struct {
	CommitSHA    string `json:"commitSha"`
	IssueID      string `json:"issueId"`
	OriginalCode string `json:"originalCode,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// ComparisonStatus describes how two commits relate.
type ComparisonStatus string

const (
	ComparisonIdentical ComparisonStatus = "identical"
	ComparisonAhead     ComparisonStatus = "ahead"
	ComparisonBehind    ComparisonStatus = "behind"
	ComparisonDiverged  ComparisonStatus = "diverged"
)

// CommitComparison is the result of comparing a checkpoint SHA against HEAD.
// Invariant: Status == ComparisonDiverged iff AheadBy > 0 and BehindBy > 0.
type CommitComparison struct {
	BaseSHA  string
	HeadSHA  string
	Status   ComparisonStatus
	AheadBy  int
	BehindBy int
	Files    []string
}
