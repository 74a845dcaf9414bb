package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"agnusai/internal/checkpoint"
	"agnusai/internal/commenter"
	"agnusai/internal/config"
	"agnusai/internal/diff"
	"agnusai/internal/domain"
	"agnusai/internal/runtime"
	"agnusai/internal/types"
	"agnusai/internal/vcs"
)

const testDiffRaw = `diff --git a/internal/retry/retry.go b/internal/retry/retry.go
index 1111111..2222222 100644
--- a/internal/retry/retry.go
+++ b/internal/retry/retry.go
@@ -10,4 +10,5 @@ func Do(fn func() error) error {
 	var err error
 	for i := 0; i < 3; i++ {
+		err = fn()
 		if err == nil {
 			return nil
`

const testModelOutput = `SUMMARY:
Adds a retry helper. The loop ignores cancellation.

[File: internal/retry/retry.go, Line: 12]
Critical: the retry loop never honors caller cancellation.
[Confidence: 0.9]

VERDICT: request_changes
`

// fakeModel returns a canned completion.
type fakeModel struct {
	output string
	err    error
	calls  int
}

func (m *fakeModel) Complete(ctx context.Context, system, user string) (string, error) {
	m.calls++
	return m.output, m.err
}
func (m *fakeModel) Ping(ctx context.Context) error { return nil }
func (m *fakeModel) Name() string                   { return "fake" }

// fakeAdapter implements the full capability set with call recording.
type fakeAdapter struct {
	pr       *domain.PullRequest
	diffRaw  string
	rangeRaw string
	headSHA  string
	cmp      *domain.CommitComparison
	cmpErr   error

	checkpointBody string
	checkpointID   int64

	fullDiffCalls  int
	rangeDiffCalls int
	inlinePosts    []string
	summaries      []string
	checkpointUpd  []string
	checkpointNew  []string
}

func (a *fakeAdapter) Platform() string { return "fake" }

func (a *fakeAdapter) GetPR(ctx context.Context, repo string, number int) (*domain.PullRequest, error) {
	return a.pr, nil
}

func (a *fakeAdapter) GetDiff(ctx context.Context, pr *domain.PullRequest) (*diff.Diff, error) {
	a.fullDiffCalls++
	return diff.Parse(a.diffRaw), nil
}

func (a *fakeAdapter) GetFiles(ctx context.Context, pr *domain.PullRequest) ([]string, error) {
	return diff.Parse(a.diffRaw).Paths(), nil
}

func (a *fakeAdapter) GetAuthor(ctx context.Context, pr *domain.PullRequest) (string, error) {
	return pr.Author, nil
}

func (a *fakeAdapter) GetLinkedTickets(ctx context.Context, pr *domain.PullRequest) ([]string, error) {
	return nil, nil
}

func (a *fakeAdapter) GetFileContent(ctx context.Context, pr *domain.PullRequest, path, ref string) (string, error) {
	return "", nil
}

func (a *fakeAdapter) AddComment(ctx context.Context, pr *domain.PullRequest, body string) (*domain.PRComment, error) {
	a.summaries = append(a.summaries, body)
	return &domain.PRComment{ID: 1, Body: body}, nil
}

func (a *fakeAdapter) AddInlineComment(ctx context.Context, pr *domain.PullRequest, c *domain.ReviewComment, body string) (int64, error) {
	a.inlinePosts = append(a.inlinePosts, body)
	return int64(len(a.inlinePosts)), nil
}

func (a *fakeAdapter) SubmitReview(ctx context.Context, pr *domain.PullRequest, summary string, verdict domain.Verdict) error {
	a.summaries = append(a.summaries, summary)
	return nil
}

func (a *fakeAdapter) GetReviewComments(ctx context.Context, pr *domain.PullRequest) ([]domain.DetailedReviewComment, error) {
	return nil, nil
}

func (a *fakeAdapter) GetPRComments(ctx context.Context, pr *domain.PullRequest) ([]domain.PRComment, error) {
	return nil, nil
}

func (a *fakeAdapter) UpdateReviewComment(ctx context.Context, pr *domain.PullRequest, id int64, body string) error {
	return nil
}

func (a *fakeAdapter) DeleteReviewComment(ctx context.Context, pr *domain.PullRequest, id int64) error {
	return nil
}

func (a *fakeAdapter) FindCheckpointComment(ctx context.Context, pr *domain.PullRequest) (*domain.PRComment, error) {
	if a.checkpointBody == "" {
		return nil, nil
	}
	return &domain.PRComment{ID: a.checkpointID, Body: a.checkpointBody}, nil
}

func (a *fakeAdapter) CreateCheckpointComment(ctx context.Context, pr *domain.PullRequest, body string) error {
	a.checkpointNew = append(a.checkpointNew, body)
	return nil
}

func (a *fakeAdapter) UpdateCheckpointComment(ctx context.Context, pr *domain.PullRequest, id int64, body string) error {
	a.checkpointUpd = append(a.checkpointUpd, body)
	return nil
}

func (a *fakeAdapter) CompareCommits(ctx context.Context, pr *domain.PullRequest, base, head string) (*domain.CommitComparison, error) {
	return a.cmp, a.cmpErr
}

func (a *fakeAdapter) GetHeadSHA(ctx context.Context, pr *domain.PullRequest) (string, error) {
	return a.headSHA, nil
}

func (a *fakeAdapter) GetRangeDiff(ctx context.Context, pr *domain.PullRequest, base, head string) (*diff.Diff, error) {
	a.rangeDiffCalls++
	return diff.Parse(a.rangeRaw), nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Review.MaxDiffChars = 30_000
	cfg.Review.MaxComments = 25
	cfg.Review.MaxCommentsPerFile = 5
	cfg.Review.SkipDrafts = true
	cfg.Review.LenientOnTests = true
	cfg.Review.PrecisionThreshold = 0.7
	cfg.Review.StaleCheckpointThreshold = 20
	cfg.Review.StaleCheckpointDays = 30
	cfg.Review.RequestsPerHour = 5000
	cfg.Storage.Timeout = 5 * time.Second
	return cfg
}

func testPR() *domain.PullRequest {
	return &domain.PullRequest{
		Platform: "fake", Repo: "acme/widgets", Number: 7,
		Title: "Add retry helper", Author: "dev",
		SourceBranch: "feature/retry", TargetBranch: "main",
		HeadSHA: "feedfacecafebeef0011223344556677",
		State:   domain.PRStateOpen,
	}
}

func newOrchestrator(a *fakeAdapter, m *fakeModel) *Orchestrator {
	cfg := testConfig()
	caps := vcs.Probe(a)
	poster := commenter.NewManager(a, caps, runtime.New(cfg.Review.RequestsPerHour))
	return New(cfg, a, m, poster, nil, nil, nil)
}

func TestReviewHappyPath(t *testing.T) {
	a := &fakeAdapter{pr: testPR(), diffRaw: testDiffRaw}
	m := &fakeModel{output: testModelOutput}
	o := newOrchestrator(a, m)

	out, err := o.Review(context.Background(), "acme/widgets", 7)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if out.Aborted {
		t.Fatalf("review aborted: %s", out.AbortReason)
	}
	if got := len(out.Result.Comments); got != 1 {
		t.Fatalf("kept comments = %d, want 1", got)
	}
	if out.Result.Verdict != domain.VerdictRequestChanges {
		t.Errorf("verdict = %q, want request_changes", out.Result.Verdict)
	}
	if len(a.inlinePosts) != 1 {
		t.Fatalf("inline posts = %d, want 1", len(a.inlinePosts))
	}
	if !domain.IsAuthored(a.inlinePosts[0]) {
		t.Error("posted body missing authoring marker")
	}
	if len(a.checkpointNew) != 1 {
		t.Fatalf("checkpoint creates = %d, want 1", len(a.checkpointNew))
	}
	cp, ok := checkpoint.Parse(a.checkpointNew[0])
	if !ok {
		t.Fatal("checkpoint body did not parse")
	}
	if cp.SHA != testPR().HeadSHA {
		t.Errorf("checkpoint sha = %q, want head sha", cp.SHA)
	}
	if cp.CommentCount != 1 {
		t.Errorf("checkpoint commentCount = %d, want 1", cp.CommentCount)
	}
}

func TestReviewDropsPathOutsideDiff(t *testing.T) {
	a := &fakeAdapter{pr: testPR(), diffRaw: testDiffRaw}
	m := &fakeModel{output: `SUMMARY:
Fine.

[File: internal/other/missing.go, Line: 3]
Critical: phantom file finding.
[Confidence: 0.95]

VERDICT: comment
`}
	o := newOrchestrator(a, m)

	out, err := o.Review(context.Background(), "acme/widgets", 7)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if got := len(out.Result.Comments); got != 0 {
		t.Fatalf("kept comments = %d, want 0", got)
	}
	found := false
	for _, w := range out.Warnings {
		if strings.Contains(w, "not in diff") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing path-not-in-diff warning, got %v", out.Warnings)
	}
}

func TestReviewDraftAborts(t *testing.T) {
	pr := testPR()
	pr.IsDraft = true
	a := &fakeAdapter{pr: pr, diffRaw: testDiffRaw}
	m := &fakeModel{output: testModelOutput}
	o := newOrchestrator(a, m)

	out, err := o.Review(context.Background(), "acme/widgets", 7)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if !out.Aborted {
		t.Fatal("expected abort on draft PR")
	}
	if out.AbortReason != "draft_pr" {
		t.Errorf("abort reason = %q, want draft_pr", out.AbortReason)
	}
	if len(a.inlinePosts) != 0 {
		t.Errorf("posted %d comments on an aborted review", len(a.inlinePosts))
	}
}

func TestReviewLowConfidenceDropped(t *testing.T) {
	a := &fakeAdapter{pr: testPR(), diffRaw: testDiffRaw}
	m := &fakeModel{output: `SUMMARY:
Fine.

[File: internal/retry/retry.go, Line: 12]
Maybe rename this.
[Confidence: 0.4]

VERDICT: approve
`}
	o := newOrchestrator(a, m)

	out, err := o.Review(context.Background(), "acme/widgets", 7)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if got := len(out.Result.Comments); got != 0 {
		t.Fatalf("kept comments = %d, want 0", got)
	}
}

func checkpointBodyFor(sha string, ts int64) string {
	return "Reviewed.\n\n" + checkpoint.Serialize(&checkpoint.Checkpoint{
		SHA:           sha,
		Timestamp:     ts,
		FilesReviewed: []string{"internal/retry/retry.go"},
		CommentCount:  1,
		Verdict:       domain.VerdictComment,
	})
}

func TestIncrementalNoCheckpointFallsBack(t *testing.T) {
	a := &fakeAdapter{pr: testPR(), diffRaw: testDiffRaw}
	m := &fakeModel{output: testModelOutput}
	o := newOrchestrator(a, m)

	out, err := o.IncrementalReview(context.Background(), "acme/widgets", 7, IncrementalOptions{})
	if err != nil {
		t.Fatalf("IncrementalReview: %v", err)
	}
	if out.Incremental {
		t.Error("expected full-review fallback without a checkpoint")
	}
	if a.fullDiffCalls != 1 {
		t.Errorf("full diff calls = %d, want 1", a.fullDiffCalls)
	}
}

func TestIncrementalNoNewChanges(t *testing.T) {
	pr := testPR()
	a := &fakeAdapter{
		pr:             pr,
		diffRaw:        testDiffRaw,
		headSHA:        pr.HeadSHA,
		checkpointBody: checkpointBodyFor(pr.HeadSHA, time.Now().Unix()-3600),
		checkpointID:   42,
	}
	m := &fakeModel{output: testModelOutput}
	o := newOrchestrator(a, m)

	out, err := o.IncrementalReview(context.Background(), "acme/widgets", 7, IncrementalOptions{})
	if err != nil {
		t.Fatalf("IncrementalReview: %v", err)
	}
	if !out.Incremental {
		t.Fatal("expected incremental outcome")
	}
	if out.Result.Summary != "No new changes since last review checkpoint." {
		t.Errorf("summary = %q", out.Result.Summary)
	}
	if m.calls != 0 {
		t.Errorf("model called %d times on a no-change run", m.calls)
	}
	if len(a.inlinePosts)+len(a.summaries) != 0 {
		t.Error("posted on a no-change run")
	}
}

func TestIncrementalDivergedFallsBack(t *testing.T) {
	pr := testPR()
	a := &fakeAdapter{
		pr:             pr,
		diffRaw:        testDiffRaw,
		headSHA:        "newhead0000000000000000000000000",
		checkpointBody: checkpointBodyFor("oldbase0000000000000000000000000", time.Now().Unix()-3600),
		cmp: &domain.CommitComparison{
			Status: domain.ComparisonDiverged, AheadBy: 2, BehindBy: 1,
		},
	}
	m := &fakeModel{output: testModelOutput}
	o := newOrchestrator(a, m)

	_, err := o.IncrementalReview(context.Background(), "acme/widgets", 7, IncrementalOptions{})
	if err != nil {
		t.Fatalf("IncrementalReview: %v", err)
	}
	if a.fullDiffCalls != 1 {
		t.Errorf("full diff calls = %d, want 1 (diverged fallback)", a.fullDiffCalls)
	}
	if a.rangeDiffCalls != 0 {
		t.Errorf("range diff calls = %d, want 0", a.rangeDiffCalls)
	}
}

func TestIncrementalAheadReviewsRange(t *testing.T) {
	pr := testPR()
	a := &fakeAdapter{
		pr:             pr,
		diffRaw:        testDiffRaw,
		rangeRaw:       testDiffRaw,
		headSHA:        "newhead0000000000000000000000000",
		checkpointBody: checkpointBodyFor("oldbase0000000000000000000000000", time.Now().Unix()-3600),
		checkpointID:   42,
		cmp: &domain.CommitComparison{
			Status: domain.ComparisonAhead, AheadBy: 2,
		},
	}
	m := &fakeModel{output: testModelOutput}
	o := newOrchestrator(a, m)

	out, err := o.IncrementalReview(context.Background(), "acme/widgets", 7, IncrementalOptions{})
	if err != nil {
		t.Fatalf("IncrementalReview: %v", err)
	}
	if !out.Incremental {
		t.Fatal("expected incremental outcome")
	}
	if a.fullDiffCalls != 0 {
		t.Errorf("full diff calls = %d, want 0", a.fullDiffCalls)
	}
	if a.rangeDiffCalls != 1 {
		t.Errorf("range diff calls = %d, want 1", a.rangeDiffCalls)
	}
	if !strings.HasPrefix(out.Result.Summary, "[Incremental Review: 1 new files]") {
		t.Errorf("summary missing incremental prefix: %q", out.Result.Summary)
	}
	if len(a.checkpointUpd) != 1 {
		t.Errorf("checkpoint updates = %d, want 1 (existing checkpoint found)", len(a.checkpointUpd))
	}
}

func TestIncrementalStaleByCommitsFallsBack(t *testing.T) {
	pr := testPR()
	a := &fakeAdapter{
		pr:             pr,
		diffRaw:        testDiffRaw,
		headSHA:        "newhead0000000000000000000000000",
		checkpointBody: checkpointBodyFor("oldbase0000000000000000000000000", time.Now().Unix()-3600),
		cmp: &domain.CommitComparison{
			Status: domain.ComparisonAhead, AheadBy: 21,
		},
	}
	m := &fakeModel{output: testModelOutput}
	o := newOrchestrator(a, m)

	_, err := o.IncrementalReview(context.Background(), "acme/widgets", 7, IncrementalOptions{})
	if err != nil {
		t.Fatalf("IncrementalReview: %v", err)
	}
	if a.fullDiffCalls != 1 {
		t.Errorf("full diff calls = %d, want 1 (stale checkpoint fallback)", a.fullDiffCalls)
	}
}

func TestIncrementalMissingBaseFallsBack(t *testing.T) {
	pr := testPR()
	a := &fakeAdapter{
		pr:             pr,
		diffRaw:        testDiffRaw,
		headSHA:        "newhead0000000000000000000000000",
		checkpointBody: checkpointBodyFor("gcedbase000000000000000000000000", time.Now().Unix()-3600),
		cmpErr:         types.Errorf(types.KindIncrementalMissingBase, "base sha unknown"),
	}
	m := &fakeModel{output: testModelOutput}
	o := newOrchestrator(a, m)

	_, err := o.IncrementalReview(context.Background(), "acme/widgets", 7, IncrementalOptions{})
	if err != nil {
		t.Fatalf("IncrementalReview: %v", err)
	}
	if a.fullDiffCalls != 1 {
		t.Errorf("full diff calls = %d, want 1 (missing base fallback)", a.fullDiffCalls)
	}
}

func TestIncrementalForceFull(t *testing.T) {
	pr := testPR()
	a := &fakeAdapter{
		pr:             pr,
		diffRaw:        testDiffRaw,
		headSHA:        pr.HeadSHA,
		checkpointBody: checkpointBodyFor(pr.HeadSHA, time.Now().Unix()-3600),
	}
	m := &fakeModel{output: testModelOutput}
	o := newOrchestrator(a, m)

	out, err := o.IncrementalReview(context.Background(), "acme/widgets", 7, IncrementalOptions{ForceFull: true})
	if err != nil {
		t.Fatalf("IncrementalReview: %v", err)
	}
	if out.Incremental {
		t.Error("forceFull must run a full review")
	}
	if a.fullDiffCalls != 1 {
		t.Errorf("full diff calls = %d, want 1", a.fullDiffCalls)
	}
}
