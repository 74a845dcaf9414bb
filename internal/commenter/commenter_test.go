package commenter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"agnusai/internal/checkpoint"
	"agnusai/internal/config"
	"agnusai/internal/diff"
	"agnusai/internal/domain"
	"agnusai/internal/runtime"
	"agnusai/internal/vcs"
)

type fakeAdapter struct {
	inlineBodies []string
	inlineErr    error
	onInline     func()

	prComments     []string
	reviewSummary  string
	reviewVerdict  domain.Verdict
	checkpointBody string
	existingCP     *domain.PRComment
	updatedCPID    int64

	updatedIDs    []int64
	updatedBodies []string
}

func (f *fakeAdapter) Platform() string { return "fake" }
func (f *fakeAdapter) GetPR(context.Context, string, int) (*domain.PullRequest, error) {
	return nil, nil
}
func (f *fakeAdapter) GetDiff(context.Context, *domain.PullRequest) (*diff.Diff, error) {
	return nil, nil
}
func (f *fakeAdapter) GetFiles(context.Context, *domain.PullRequest) ([]string, error) {
	return nil, nil
}
func (f *fakeAdapter) GetAuthor(context.Context, *domain.PullRequest) (string, error) {
	return "", nil
}
func (f *fakeAdapter) GetLinkedTickets(context.Context, *domain.PullRequest) ([]string, error) {
	return nil, nil
}
func (f *fakeAdapter) GetFileContent(context.Context, *domain.PullRequest, string, string) (string, error) {
	return "", nil
}

func (f *fakeAdapter) AddComment(_ context.Context, _ *domain.PullRequest, body string) (*domain.PRComment, error) {
	f.prComments = append(f.prComments, body)
	return &domain.PRComment{ID: int64(len(f.prComments))}, nil
}

func (f *fakeAdapter) AddInlineComment(_ context.Context, _ *domain.PullRequest, _ *domain.ReviewComment, body string) (int64, error) {
	if f.onInline != nil {
		f.onInline()
	}
	if f.inlineErr != nil {
		return 0, f.inlineErr
	}
	f.inlineBodies = append(f.inlineBodies, body)
	return int64(len(f.inlineBodies)), nil
}

func (f *fakeAdapter) SubmitReview(_ context.Context, _ *domain.PullRequest, summary string, verdict domain.Verdict) error {
	f.reviewSummary = summary
	f.reviewVerdict = verdict
	return nil
}

func (f *fakeAdapter) GetReviewComments(context.Context, *domain.PullRequest) ([]domain.DetailedReviewComment, error) {
	return nil, nil
}

func (f *fakeAdapter) GetPRComments(context.Context, *domain.PullRequest) ([]domain.PRComment, error) {
	return nil, nil
}

func (f *fakeAdapter) UpdateReviewComment(_ context.Context, _ *domain.PullRequest, id int64, body string) error {
	f.updatedIDs = append(f.updatedIDs, id)
	f.updatedBodies = append(f.updatedBodies, body)
	return nil
}

func (f *fakeAdapter) DeleteReviewComment(context.Context, *domain.PullRequest, int64) error {
	return nil
}

func (f *fakeAdapter) FindCheckpointComment(context.Context, *domain.PullRequest) (*domain.PRComment, error) {
	return f.existingCP, nil
}

func (f *fakeAdapter) CreateCheckpointComment(_ context.Context, _ *domain.PullRequest, body string) error {
	f.checkpointBody = body
	return nil
}

func (f *fakeAdapter) UpdateCheckpointComment(_ context.Context, _ *domain.PullRequest, id int64, body string) error {
	f.updatedCPID = id
	f.checkpointBody = body
	return nil
}

func newTestManager(f *fakeAdapter) *Manager {
	m := NewManager(f, vcs.Probe(f), runtime.New(5000))
	m.delay = 0
	return m
}

func testPR() *domain.PullRequest {
	return &domain.PullRequest{
		Platform: "fake",
		Repo:     "acme/widgets",
		Number:   7,
		HeadSHA:  "abcdef0123456789",
		State:    domain.PRStateOpen,
	}
}

func testResult() *domain.ReviewResult {
	return &domain.ReviewResult{
		Summary: "Looks mostly fine.",
		Verdict: domain.VerdictComment,
		Comments: []domain.ReviewComment{
			{Path: "a.go", Line: 1, Body: "first finding", Severity: domain.SeverityWarning},
			{Path: "b.go", Line: 2, Body: "second finding", Severity: domain.SeverityInfo},
		},
	}
}

func TestPostHappyPath(t *testing.T) {
	f := &fakeAdapter{}
	m := newTestManager(f)

	rep, err := m.Post(context.Background(), testPR(), testResult(), nil, []string{"a.go", "b.go"}, false)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if rep.Posted != 2 || rep.Failed != 0 || rep.Skipped != 0 {
		t.Errorf("report = %+v, want 2 posted", rep)
	}

	for _, body := range f.inlineBodies {
		if !domain.IsAuthored(body) {
			t.Errorf("posted body missing authoring marker: %q", body)
		}
		meta, ok := domain.ExtractMetadata(body)
		if !ok {
			t.Fatalf("posted body missing metadata: %q", body)
		}
		if meta.CommitSHA != "abcdef0123456789" || meta.IssueID == "" || meta.Timestamp == 0 {
			t.Errorf("metadata incomplete: %+v", meta)
		}
	}

	if f.reviewSummary != "Looks mostly fine." || f.reviewVerdict != domain.VerdictComment {
		t.Errorf("review = %q/%s", f.reviewSummary, f.reviewVerdict)
	}

	if !rep.CheckpointWritten || f.checkpointBody == "" {
		t.Fatal("checkpoint not written")
	}
	cp, ok := checkpoint.Parse(f.checkpointBody)
	if !ok {
		t.Fatalf("checkpoint body unparseable: %q", f.checkpointBody)
	}
	if cp.SHA != "abcdef0123456789" || cp.CommentCount != 2 || len(cp.FilesReviewed) != 2 {
		t.Errorf("checkpoint = %+v", cp)
	}
}

func TestPostUpdatesExistingCheckpoint(t *testing.T) {
	f := &fakeAdapter{existingCP: &domain.PRComment{ID: 42}}
	m := newTestManager(f)

	if _, err := m.Post(context.Background(), testPR(), testResult(), nil, nil, false); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if f.updatedCPID != 42 {
		t.Errorf("updated checkpoint id = %d, want 42 (update in place)", f.updatedCPID)
	}
}

func TestPostIdempotencySkip(t *testing.T) {
	f := &fakeAdapter{}
	m := newTestManager(f)

	res := testResult()
	m.rt.MarkPending(idempotencyKey("abcdef0123456789", &res.Comments[0]))

	rep, err := m.Post(context.Background(), testPR(), res, nil, nil, false)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if rep.Posted != 1 || rep.Skipped != 1 {
		t.Errorf("report = %+v, want 1 posted / 1 skipped", rep)
	}
}

func TestPostFullFailureFallsBack(t *testing.T) {
	f := &fakeAdapter{inlineErr: errors.New("503 unavailable")}
	m := newTestManager(f)

	rep, err := m.Post(context.Background(), testPR(), testResult(), nil, nil, false)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if rep.Posted != 0 || rep.Failed != 2 {
		t.Errorf("report = %+v, want 0 posted / 2 failed", rep)
	}
	if len(f.prComments) != 1 {
		t.Fatalf("fallback comments = %d, want 1", len(f.prComments))
	}
	fallback := f.prComments[0]
	if !strings.Contains(fallback, "Review verdict: comment") {
		t.Error("fallback missing verdict prefix")
	}
	if !strings.Contains(fallback, "a.go:1") || !strings.Contains(fallback, "first finding") {
		t.Error("fallback missing findings")
	}
	if f.reviewSummary != "" {
		t.Error("SubmitReview should not run when falling back")
	}
}

func TestPostCancellationSkipsCheckpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeAdapter{}
	f.onInline = cancel // cancel as soon as the first post lands
	m := newTestManager(f)

	rep, err := m.Post(ctx, testPR(), testResult(), nil, nil, false)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if rep.CheckpointWritten || f.checkpointBody != "" {
		t.Error("checkpoint must not be written after cancellation")
	}
	if rep.Posted == 0 {
		t.Error("already-posted comments should be reported")
	}
}

func TestAssembleBodyTruncation(t *testing.T) {
	f := &fakeAdapter{}
	m := newTestManager(f)
	m.now = func() time.Time { return time.UnixMilli(1700000000000) }

	c := &domain.ReviewComment{
		Path: "a.go", Line: 1,
		Body: strings.Repeat("x", config.MaxCommentBodyChars+500),
	}
	body := m.assembleBody(testPR(), c, nil)

	if len(body) > config.MaxCommentBodyChars {
		t.Errorf("assembled body %d chars exceeds bound %d", len(body), config.MaxCommentBodyChars)
	}
	if !strings.Contains(body, "*[truncated]*") {
		t.Error("truncation note missing")
	}
	if !domain.IsAuthored(body) {
		t.Error("markers must survive truncation")
	}
	if _, ok := domain.ExtractMetadata(body); !ok {
		t.Error("metadata must survive truncation")
	}
}

func TestPostRefreshesSupersededComment(t *testing.T) {
	f := &fakeAdapter{}
	m := newTestManager(f)

	res := testResult()
	res.Comments[0].UpdateID = 99 // supersedes an existing comment at a.go:1

	rep, err := m.Post(context.Background(), testPR(), res, nil, nil, false)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if rep.Updated != 1 || rep.Posted != 1 {
		t.Errorf("report = %+v, want 1 updated / 1 posted", rep)
	}
	if len(f.updatedIDs) != 1 || f.updatedIDs[0] != 99 {
		t.Fatalf("updated ids = %v, want [99]", f.updatedIDs)
	}
	if !strings.Contains(f.updatedBodies[0], "first finding") || !domain.IsAuthored(f.updatedBodies[0]) {
		t.Errorf("updated body = %q, want marked new finding", f.updatedBodies[0])
	}
	if len(f.inlineBodies) != 1 {
		t.Errorf("inline posts = %d, want only the non-superseding comment", len(f.inlineBodies))
	}
}

func TestAssembleBodyTruncationRuneBoundary(t *testing.T) {
	f := &fakeAdapter{}
	m := newTestManager(f)

	// Both parities so the cut point is forced onto a continuation byte in
	// at least one case.
	for _, prefix := range []string{"", "x"} {
		c := &domain.ReviewComment{
			Path: "a.go", Line: 1,
			Body: prefix + strings.Repeat("é", config.MaxCommentBodyChars/2+500),
		}
		body := m.assembleBody(testPR(), c, nil)

		if len(body) > config.MaxCommentBodyChars {
			t.Errorf("assembled body %d chars exceeds bound %d", len(body), config.MaxCommentBodyChars)
		}
		if !utf8.ValidString(body) {
			t.Errorf("truncation split a multi-byte character (prefix %q)", prefix)
		}
		if !strings.Contains(body, "*[truncated]*") {
			t.Error("truncation note missing")
		}
	}
}

func TestAssembleBodyOriginalCode(t *testing.T) {
	raw := `diff --git a/a.go b/a.go
--- a/a.go
+++ b/a.go
@@ -1,0 +1,2 @@
+alpha := 1
+beta := alpha
`
	d := diff.Parse(raw)
	f := &fakeAdapter{}
	m := newTestManager(f)

	c := &domain.ReviewComment{Path: "a.go", Line: 2, Body: "shadowing"}
	body := m.assembleBody(testPR(), c, d)

	meta, ok := domain.ExtractMetadata(body)
	if !ok {
		t.Fatal("metadata missing")
	}
	if meta.OriginalCode != "beta := alpha" {
		t.Errorf("originalCode = %q, want the flagged line", meta.OriginalCode)
	}
}
