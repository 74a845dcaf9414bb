// Package github implements the platform adapter for GitHub pull requests
// using the typed REST client.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v66/github"

	"agnusai/internal/checkpoint"
	"agnusai/internal/diff"
	"agnusai/internal/domain"
	"agnusai/internal/tickets"
	"agnusai/internal/types"
	"agnusai/internal/vcs"
)

const perPage = 100

// Adapter talks to one GitHub instance with a bearer token.
type Adapter struct {
	client *gh.Client
}

// New builds an adapter for api.github.com, or an enterprise instance when
// baseURL is non-empty.
func New(token, baseURL string) (*Adapter, error) {
	client := gh.NewClient(nil).WithAuthToken(token)
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("configure enterprise base url: %w", err)
		}
	}
	return &Adapter{client: client}, nil
}

func (a *Adapter) Platform() string { return "github" }

// splitRepo decomposes "owner/name".
func splitRepo(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("invalid repo %q, want owner/name", repo)
	}
	return owner, name, nil
}

func (a *Adapter) GetPR(ctx context.Context, repo string, number int) (*domain.PullRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	pr, _, err := a.client.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, wrapErr("get pull request", err)
	}

	state := domain.PRStateOpen
	switch {
	case pr.GetMerged():
		state = domain.PRStateMerged
	case pr.GetState() == "closed":
		state = domain.PRStateClosed
	}

	return &domain.PullRequest{
		Platform:     "github",
		Repo:         repo,
		Number:       number,
		Title:        pr.GetTitle(),
		Description:  pr.GetBody(),
		Author:       pr.GetUser().GetLogin(),
		SourceBranch: pr.GetHead().GetRef(),
		TargetBranch: pr.GetBase().GetRef(),
		HeadSHA:      pr.GetHead().GetSHA(),
		State:        state,
		IsDraft:      pr.GetDraft(),
		IsLocked:     pr.GetLocked(),
	}, nil
}

func (a *Adapter) GetDiff(ctx context.Context, pr *domain.PullRequest) (*diff.Diff, error) {
	owner, name, err := splitRepo(pr.Repo)
	if err != nil {
		return nil, err
	}
	raw, _, err := a.client.PullRequests.GetRaw(ctx, owner, name, pr.Number, gh.RawOptions{Type: gh.Diff})
	if err != nil {
		return nil, wrapErr("get pull request diff", err)
	}
	return diff.Parse(raw), nil
}

func (a *Adapter) GetFiles(ctx context.Context, pr *domain.PullRequest) ([]string, error) {
	owner, name, err := splitRepo(pr.Repo)
	if err != nil {
		return nil, err
	}
	var paths []string
	opts := &gh.ListOptions{PerPage: perPage}
	for {
		files, resp, err := a.client.PullRequests.ListFiles(ctx, owner, name, pr.Number, opts)
		if err != nil {
			return nil, wrapErr("list pull request files", err)
		}
		for _, f := range files {
			paths = append(paths, f.GetFilename())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return paths, nil
}

func (a *Adapter) GetAuthor(ctx context.Context, pr *domain.PullRequest) (string, error) {
	if pr.Author != "" {
		return pr.Author, nil
	}
	fresh, err := a.GetPR(ctx, pr.Repo, pr.Number)
	if err != nil {
		return "", err
	}
	return fresh.Author, nil
}

func (a *Adapter) GetLinkedTickets(ctx context.Context, pr *domain.PullRequest) ([]string, error) {
	return tickets.ExtractRefs(pr.Title, pr.Description, pr.SourceBranch), nil
}

func (a *Adapter) GetFileContent(ctx context.Context, pr *domain.PullRequest, path, ref string) (string, error) {
	owner, name, err := splitRepo(pr.Repo)
	if err != nil {
		return "", err
	}
	fc, _, _, err := a.client.Repositories.GetContents(ctx, owner, name, path,
		&gh.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return "", wrapErr("get file content", err)
	}
	if fc == nil {
		return "", fmt.Errorf("path %q is a directory", path)
	}
	content, err := fc.GetContent()
	if err != nil {
		return "", fmt.Errorf("decode file content: %w", err)
	}
	return content, nil
}

func (a *Adapter) AddComment(ctx context.Context, pr *domain.PullRequest, body string) (*domain.PRComment, error) {
	owner, name, err := splitRepo(pr.Repo)
	if err != nil {
		return nil, err
	}
	created, _, err := a.client.Issues.CreateComment(ctx, owner, name, pr.Number,
		&gh.IssueComment{Body: gh.String(body)})
	if err != nil {
		return nil, wrapErr("create comment", err)
	}
	return &domain.PRComment{
		ID:        created.GetID(),
		Body:      created.GetBody(),
		UserLogin: created.GetUser().GetLogin(),
		CreatedAt: created.GetCreatedAt().Time,
	}, nil
}

func (a *Adapter) AddInlineComment(ctx context.Context, pr *domain.PullRequest, c *domain.ReviewComment, body string) (int64, error) {
	owner, name, err := splitRepo(pr.Repo)
	if err != nil {
		return 0, err
	}
	created, _, err := a.client.PullRequests.CreateComment(ctx, owner, name, pr.Number, &gh.PullRequestComment{
		Body:     gh.String(body),
		Path:     gh.String(c.Path),
		Line:     gh.Int(c.Line),
		Side:     gh.String("RIGHT"),
		CommitID: gh.String(pr.HeadSHA),
	})
	if err != nil {
		return 0, wrapErr("create inline comment", err)
	}
	return created.GetID(), nil
}

// SubmitReview posts the summary with a review event. A rejected verdict on
// the author's own PR is retried as a plain comment with a note appended.
func (a *Adapter) SubmitReview(ctx context.Context, pr *domain.PullRequest, summary string, verdict domain.Verdict) error {
	owner, name, err := splitRepo(pr.Repo)
	if err != nil {
		return err
	}
	event := reviewEvent(verdict)
	req := &gh.PullRequestReviewRequest{
		CommitID: gh.String(pr.HeadSHA),
		Body:     gh.String(summary),
		Event:    gh.String(event),
	}
	_, _, err = a.client.PullRequests.CreateReview(ctx, owner, name, pr.Number, req)
	if err != nil && vcs.IsOwnPRRejection(err) && verdict != domain.VerdictComment {
		slog.Warn("verdict rejected on own pull request, retrying as comment",
			"pr", pr.Key(), "verdict", verdict)
		req.Event = gh.String("COMMENT")
		req.Body = gh.String(summary + vcs.OwnPRFallbackNote)
		_, _, err = a.client.PullRequests.CreateReview(ctx, owner, name, pr.Number, req)
	}
	if err != nil {
		return wrapErr("submit review", err)
	}
	return nil
}

func reviewEvent(v domain.Verdict) string {
	switch v {
	case domain.VerdictApprove:
		return "APPROVE"
	case domain.VerdictRequestChanges:
		return "REQUEST_CHANGES"
	default:
		return "COMMENT"
	}
}

// GetReviewComments implements vcs.DeduplicationSupport.
func (a *Adapter) GetReviewComments(ctx context.Context, pr *domain.PullRequest) ([]domain.DetailedReviewComment, error) {
	owner, name, err := splitRepo(pr.Repo)
	if err != nil {
		return nil, err
	}
	var out []domain.DetailedReviewComment
	opts := &gh.PullRequestListCommentsOptions{ListOptions: gh.ListOptions{PerPage: perPage}}
	for {
		comments, resp, err := a.client.PullRequests.ListComments(ctx, owner, name, pr.Number, opts)
		if err != nil {
			return nil, wrapErr("list review comments", err)
		}
		for _, c := range comments {
			out = append(out, domain.DetailedReviewComment{
				ID:           c.GetID(),
				Path:         domain.NormalizePath(c.GetPath()),
				Line:         c.GetLine(),
				OriginalLine: c.GetOriginalLine(),
				Body:         c.GetBody(),
				UserLogin:    c.GetUser().GetLogin(),
				UserType:     strings.ToLower(c.GetUser().GetType()),
				InReplyToID:  c.GetInReplyTo(),
				CommitID:     c.GetCommitID(),
				CreatedAt:    c.GetCreatedAt().Time,
				UpdatedAt:    c.GetUpdatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// GetPRComments implements vcs.DeduplicationSupport.
func (a *Adapter) GetPRComments(ctx context.Context, pr *domain.PullRequest) ([]domain.PRComment, error) {
	owner, name, err := splitRepo(pr.Repo)
	if err != nil {
		return nil, err
	}
	var out []domain.PRComment
	opts := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: perPage}}
	for {
		comments, resp, err := a.client.Issues.ListComments(ctx, owner, name, pr.Number, opts)
		if err != nil {
			return nil, wrapErr("list comments", err)
		}
		for _, c := range comments {
			out = append(out, domain.PRComment{
				ID:        c.GetID(),
				Body:      c.GetBody(),
				UserLogin: c.GetUser().GetLogin(),
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// UpdateReviewComment implements vcs.DeduplicationSupport.
func (a *Adapter) UpdateReviewComment(ctx context.Context, pr *domain.PullRequest, id int64, body string) error {
	owner, name, err := splitRepo(pr.Repo)
	if err != nil {
		return err
	}
	_, _, err = a.client.PullRequests.EditComment(ctx, owner, name, id,
		&gh.PullRequestComment{Body: gh.String(body)})
	if err != nil {
		return wrapErr("edit review comment", err)
	}
	return nil
}

// DeleteReviewComment implements vcs.DeduplicationSupport.
func (a *Adapter) DeleteReviewComment(ctx context.Context, pr *domain.PullRequest, id int64) error {
	owner, name, err := splitRepo(pr.Repo)
	if err != nil {
		return err
	}
	if _, err := a.client.PullRequests.DeleteComment(ctx, owner, name, id); err != nil {
		return wrapErr("delete review comment", err)
	}
	return nil
}

// FindCheckpointComment implements vcs.CheckpointSupport. It returns the
// newest marker-bearing PR comment; decoding and timestamp arbitration happen
// in the checkpoint package.
func (a *Adapter) FindCheckpointComment(ctx context.Context, pr *domain.PullRequest) (*domain.PRComment, error) {
	comments, err := a.GetPRComments(ctx, pr)
	if err != nil {
		return nil, err
	}
	_, id, ok := checkpoint.Newest(comments)
	if !ok {
		return nil, nil
	}
	for i := range comments {
		if comments[i].ID == id {
			return &comments[i], nil
		}
	}
	return nil, nil
}

// CreateCheckpointComment implements vcs.CheckpointSupport.
func (a *Adapter) CreateCheckpointComment(ctx context.Context, pr *domain.PullRequest, body string) error {
	_, err := a.AddComment(ctx, pr, body)
	return err
}

// UpdateCheckpointComment implements vcs.CheckpointSupport.
func (a *Adapter) UpdateCheckpointComment(ctx context.Context, pr *domain.PullRequest, id int64, body string) error {
	owner, name, err := splitRepo(pr.Repo)
	if err != nil {
		return err
	}
	_, _, err = a.client.Issues.EditComment(ctx, owner, name, id,
		&gh.IssueComment{Body: gh.String(body)})
	if err != nil {
		return wrapErr("update checkpoint comment", err)
	}
	return nil
}

// CompareCommits implements vcs.IncrementalSupport.
func (a *Adapter) CompareCommits(ctx context.Context, pr *domain.PullRequest, base, head string) (*domain.CommitComparison, error) {
	owner, name, err := splitRepo(pr.Repo)
	if err != nil {
		return nil, err
	}
	cmp, resp, err := a.client.Repositories.CompareCommits(ctx, owner, name, base, head,
		&gh.ListOptions{PerPage: perPage})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, types.Errorf(types.KindIncrementalMissingBase,
				"compare %s...%s: base commit unknown to the repository", base, head)
		}
		return nil, wrapErr("compare commits", err)
	}

	out := &domain.CommitComparison{
		BaseSHA:  base,
		HeadSHA:  head,
		Status:   domain.ComparisonStatus(cmp.GetStatus()),
		AheadBy:  cmp.GetAheadBy(),
		BehindBy: cmp.GetBehindBy(),
	}
	for _, f := range cmp.Files {
		out.Files = append(out.Files, f.GetFilename())
	}
	return out, nil
}

// GetHeadSHA implements vcs.IncrementalSupport.
func (a *Adapter) GetHeadSHA(ctx context.Context, pr *domain.PullRequest) (string, error) {
	fresh, err := a.GetPR(ctx, pr.Repo, pr.Number)
	if err != nil {
		return "", err
	}
	return fresh.HeadSHA, nil
}

// GetRangeDiff implements vcs.IncrementalSupport.
func (a *Adapter) GetRangeDiff(ctx context.Context, pr *domain.PullRequest, base, head string) (*diff.Diff, error) {
	owner, name, err := splitRepo(pr.Repo)
	if err != nil {
		return nil, err
	}
	raw, resp, err := a.client.Repositories.CompareCommitsRaw(ctx, owner, name, base, head,
		gh.RawOptions{Type: gh.Diff})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, types.Errorf(types.KindIncrementalMissingBase,
				"range diff %s...%s: base commit unknown to the repository", base, head)
		}
		return nil, wrapErr("get range diff", err)
	}
	return diff.Parse(raw), nil
}

// RateRemaining implements vcs.RateLimitProbe.
func (a *Adapter) RateRemaining(ctx context.Context) (int, error) {
	limits, _, err := a.client.RateLimit.Get(ctx)
	if err != nil {
		return -1, wrapErr("probe rate limit", err)
	}
	return limits.GetCore().Remaining, nil
}

// AddReply implements vcs.ReplySupport.
func (a *Adapter) AddReply(ctx context.Context, pr *domain.PullRequest, parentID int64, body string) error {
	owner, name, err := splitRepo(pr.Repo)
	if err != nil {
		return err
	}
	_, _, err = a.client.PullRequests.CreateCommentInReplyTo(ctx, owner, name, pr.Number, body, parentID)
	if err != nil {
		return wrapErr("create reply", err)
	}
	return nil
}

// wrapErr maps GitHub API failures onto the error taxonomy.
func wrapErr(op string, err error) error {
	switch e := err.(type) {
	case *gh.RateLimitError, *gh.AbuseRateLimitError:
		return types.Errorf(types.KindRateLimited, "%s: %v", op, err)
	case *gh.ErrorResponse:
		if code := e.Response.StatusCode; code == http.StatusUnauthorized || code == http.StatusForbidden {
			return types.Errorf(types.KindAuth, "%s: %v", op, err)
		}
		return types.Errorf(types.KindPlatformRejected, "%s: %v", op, err)
	}
	return types.Errorf(types.KindNetwork, "%s: %v", op, err)
}
