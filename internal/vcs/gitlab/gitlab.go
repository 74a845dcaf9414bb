// Package gitlab implements the platform adapter for GitLab merge requests.
//
// The typed client validates the instance URL at construction; API calls go
// through a small v4 REST client with PRIVATE-TOKEN auth, since the typed
// client's merge-request endpoints have version-dependent shapes.
package gitlab

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	gl "gitlab.com/gitlab-org/api/client-go"

	"agnusai/internal/checkpoint"
	"agnusai/internal/diff"
	"agnusai/internal/domain"
	"agnusai/internal/tickets"
	"agnusai/internal/types"
	"agnusai/internal/vcs"
)

// diffRefs are the SHAs required to anchor an inline discussion position.
type diffRefs struct {
	baseSHA  string
	startSHA string
	headSHA  string
}

// Adapter talks to one GitLab instance with a personal access token.
type Adapter struct {
	baseURL string // https://gitlab.example.com/api/v4
	token   string
	http    *http.Client

	mu   sync.Mutex
	refs map[string]diffRefs // PR key -> last fetched diff refs
}

// New builds an adapter. instanceURL defaults to https://gitlab.com.
func New(token, instanceURL string) (*Adapter, error) {
	if instanceURL == "" {
		instanceURL = "https://gitlab.com"
	}
	instanceURL = strings.TrimRight(instanceURL, "/")

	// Construct the typed client purely to validate the instance URL.
	client := gl.NewClient(nil, token)
	if err := client.SetBaseURL(instanceURL + "/api/v4"); err != nil {
		return nil, fmt.Errorf("invalid gitlab instance url: %w", err)
	}

	return &Adapter{
		baseURL: instanceURL + "/api/v4",
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		refs:    make(map[string]diffRefs),
	}, nil
}

func (a *Adapter) Platform() string { return "gitlab" }

// do executes one API request and returns the raw body. Parameters travel as
// a form-encoded request body on POST and PUT, since note bodies can run to
// tens of kilobytes, and as query parameters otherwise. Non-2xx responses
// become typed errors.
func (a *Adapter) do(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	u := a.baseURL + path
	var payload io.Reader
	form := len(params) > 0 && (method == http.MethodPost || method == http.MethodPut)
	if form {
		payload = strings.NewReader(params.Encode())
	} else if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", a.token)
	if form {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, types.Errorf(types.KindNetwork, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.Errorf(types.KindNetwork, "read response for %s %s: %v", method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	msg := gjson.GetBytes(body, "message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, types.Errorf(types.KindAuth, "%s %s: %d %s", method, path, resp.StatusCode, msg)
	case http.StatusTooManyRequests:
		return nil, types.Errorf(types.KindRateLimited, "%s %s: %d %s", method, path, resp.StatusCode, msg)
	case http.StatusNotFound:
		return nil, types.Errorf(types.KindPlatformRejected, "%s %s: 404 %s", method, path, msg)
	}
	return nil, types.Errorf(types.KindPlatformRejected, "%s %s: %d %s", method, path, resp.StatusCode, msg)
}

func projectPath(repo string) string {
	return "/projects/" + url.PathEscape(repo)
}

func mrPath(pr *domain.PullRequest) string {
	return fmt.Sprintf("%s/merge_requests/%d", projectPath(pr.Repo), pr.Number)
}

func (a *Adapter) GetPR(ctx context.Context, repo string, number int) (*domain.PullRequest, error) {
	body, err := a.do(ctx, http.MethodGet, fmt.Sprintf("%s/merge_requests/%d", projectPath(repo), number), nil)
	if err != nil {
		return nil, err
	}
	mr := gjson.ParseBytes(body)

	state := domain.PRStateOpen
	switch mr.Get("state").String() {
	case "merged":
		state = domain.PRStateMerged
	case "closed":
		state = domain.PRStateClosed
	}

	pr := &domain.PullRequest{
		Platform:     "gitlab",
		Repo:         repo,
		Number:       number,
		Title:        mr.Get("title").String(),
		Description:  mr.Get("description").String(),
		Author:       mr.Get("author.username").String(),
		SourceBranch: mr.Get("source_branch").String(),
		TargetBranch: mr.Get("target_branch").String(),
		HeadSHA:      mr.Get("sha").String(),
		State:        state,
		IsDraft:      mr.Get("draft").Bool() || mr.Get("work_in_progress").Bool(),
		IsLocked:     mr.Get("discussion_locked").Bool(),
	}

	a.mu.Lock()
	a.refs[pr.Key()] = diffRefs{
		baseSHA:  mr.Get("diff_refs.base_sha").String(),
		startSHA: mr.Get("diff_refs.start_sha").String(),
		headSHA:  mr.Get("diff_refs.head_sha").String(),
	}
	a.mu.Unlock()

	return pr, nil
}

// diffRefsFor returns cached position refs, refetching the MR if needed.
func (a *Adapter) diffRefsFor(ctx context.Context, pr *domain.PullRequest) (diffRefs, error) {
	a.mu.Lock()
	refs, ok := a.refs[pr.Key()]
	a.mu.Unlock()
	if ok && refs.headSHA != "" {
		return refs, nil
	}
	if _, err := a.GetPR(ctx, pr.Repo, pr.Number); err != nil {
		return diffRefs{}, err
	}
	a.mu.Lock()
	refs = a.refs[pr.Key()]
	a.mu.Unlock()
	return refs, nil
}

func (a *Adapter) GetDiff(ctx context.Context, pr *domain.PullRequest) (*diff.Diff, error) {
	body, err := a.do(ctx, http.MethodGet, mrPath(pr)+"/changes", nil)
	if err != nil {
		return nil, err
	}
	return diff.Parse(assembleUnifiedDiff(body)), nil
}

// assembleUnifiedDiff reconstructs one unified diff from the per-file change
// entries the changes endpoint returns.
func assembleUnifiedDiff(body []byte) string {
	var b strings.Builder
	gjson.GetBytes(body, "changes").ForEach(func(_, change gjson.Result) bool {
		oldPath := change.Get("old_path").String()
		newPath := change.Get("new_path").String()
		fmt.Fprintf(&b, "diff --git a/%s b/%s\n", oldPath, newPath)
		switch {
		case change.Get("new_file").Bool():
			b.WriteString("new file mode 100644\n")
			fmt.Fprintf(&b, "--- /dev/null\n+++ b/%s\n", newPath)
		case change.Get("deleted_file").Bool():
			b.WriteString("deleted file mode 100644\n")
			fmt.Fprintf(&b, "--- a/%s\n+++ /dev/null\n", oldPath)
		case change.Get("renamed_file").Bool():
			fmt.Fprintf(&b, "rename from %s\nrename to %s\n", oldPath, newPath)
			fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", oldPath, newPath)
		default:
			fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", oldPath, newPath)
		}
		d := change.Get("diff").String()
		b.WriteString(d)
		if d != "" && !strings.HasSuffix(d, "\n") {
			b.WriteString("\n")
		}
		return true
	})
	return b.String()
}

func (a *Adapter) GetFiles(ctx context.Context, pr *domain.PullRequest) ([]string, error) {
	body, err := a.do(ctx, http.MethodGet, mrPath(pr)+"/changes", nil)
	if err != nil {
		return nil, err
	}
	var paths []string
	gjson.GetBytes(body, "changes").ForEach(func(_, change gjson.Result) bool {
		paths = append(paths, change.Get("new_path").String())
		return true
	})
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
	q := url.Values{}
	q.Set("ref", ref)
	body, err := a.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/repository/files/%s/raw", projectPath(pr.Repo), url.PathEscape(path)), q)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (a *Adapter) AddComment(ctx context.Context, pr *domain.PullRequest, body string) (*domain.PRComment, error) {
	q := url.Values{}
	q.Set("body", body)
	resp, err := a.do(ctx, http.MethodPost, mrPath(pr)+"/notes", q)
	if err != nil {
		return nil, err
	}
	note := gjson.ParseBytes(resp)
	created, _ := time.Parse(time.RFC3339, note.Get("created_at").String())
	return &domain.PRComment{
		ID:        note.Get("id").Int(),
		Body:      note.Get("body").String(),
		UserLogin: note.Get("author.username").String(),
		CreatedAt: created,
	}, nil
}

func (a *Adapter) AddInlineComment(ctx context.Context, pr *domain.PullRequest, c *domain.ReviewComment, body string) (int64, error) {
	refs, err := a.diffRefsFor(ctx, pr)
	if err != nil {
		return 0, err
	}
	q := url.Values{}
	q.Set("body", body)
	q.Set("position[position_type]", "text")
	q.Set("position[base_sha]", refs.baseSHA)
	q.Set("position[start_sha]", refs.startSHA)
	q.Set("position[head_sha]", refs.headSHA)
	q.Set("position[new_path]", c.Path)
	q.Set("position[new_line]", fmt.Sprintf("%d", c.Line))

	resp, err := a.do(ctx, http.MethodPost, mrPath(pr)+"/discussions", q)
	if err != nil {
		return 0, err
	}
	return gjson.GetBytes(resp, "notes.0.id").Int(), nil
}

// SubmitReview posts the summary as a note; an approve verdict additionally
// calls the approval endpoint. Approval of one's own MR downgrades to a note
// with an explanatory suffix.
func (a *Adapter) SubmitReview(ctx context.Context, pr *domain.PullRequest, summary string, verdict domain.Verdict) error {
	if verdict == domain.VerdictApprove {
		if _, err := a.do(ctx, http.MethodPost, mrPath(pr)+"/approve", nil); err != nil {
			if !vcs.IsOwnPRRejection(err) && !types.IsKind(err, types.KindAuth) {
				return err
			}
			slog.Warn("approval rejected, posting summary only", "pr", pr.Key())
			summary += vcs.OwnPRFallbackNote
		}
	}
	_, err := a.AddComment(ctx, pr, summary)
	return err
}

// GetReviewComments implements vcs.DeduplicationSupport. Discussions group a
// parent note with its replies; replies carry the parent's note ID.
func (a *Adapter) GetReviewComments(ctx context.Context, pr *domain.PullRequest) ([]domain.DetailedReviewComment, error) {
	var out []domain.DetailedReviewComment
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("per_page", "100")
		q.Set("page", fmt.Sprintf("%d", page))
		body, err := a.do(ctx, http.MethodGet, mrPath(pr)+"/discussions", q)
		if err != nil {
			return nil, err
		}
		discussions := gjson.ParseBytes(body).Array()
		if len(discussions) == 0 {
			break
		}
		for _, d := range discussions {
			notes := d.Get("notes").Array()
			var parentID int64
			var parentPath string
			var parentLine int
			for i, n := range notes {
				if i == 0 {
					if n.Get("type").String() != "DiffNote" {
						break // plain discussion, not an inline thread
					}
					parentID = n.Get("id").Int()
					parentPath = domain.NormalizePath(n.Get("position.new_path").String())
					parentLine = int(n.Get("position.new_line").Int())
				}
				created, _ := time.Parse(time.RFC3339, n.Get("created_at").String())
				updated, _ := time.Parse(time.RFC3339, n.Get("updated_at").String())
				c := domain.DetailedReviewComment{
					ID:        n.Get("id").Int(),
					Path:      parentPath,
					Line:      parentLine,
					Body:      n.Get("body").String(),
					UserLogin: n.Get("author.username").String(),
					UserType:  "user",
					CommitID:  n.Get("commit_id").String(),
					CreatedAt: created,
					UpdatedAt: updated,
				}
				if i > 0 {
					c.InReplyToID = parentID
				}
				out = append(out, c)
			}
		}
		if len(discussions) < 100 {
			break
		}
	}
	return out, nil
}

// GetPRComments implements vcs.DeduplicationSupport.
func (a *Adapter) GetPRComments(ctx context.Context, pr *domain.PullRequest) ([]domain.PRComment, error) {
	var out []domain.PRComment
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("per_page", "100")
		q.Set("page", fmt.Sprintf("%d", page))
		body, err := a.do(ctx, http.MethodGet, mrPath(pr)+"/notes", q)
		if err != nil {
			return nil, err
		}
		notes := gjson.ParseBytes(body).Array()
		if len(notes) == 0 {
			break
		}
		for _, n := range notes {
			if n.Get("type").String() == "DiffNote" {
				continue
			}
			created, _ := time.Parse(time.RFC3339, n.Get("created_at").String())
			out = append(out, domain.PRComment{
				ID:        n.Get("id").Int(),
				Body:      n.Get("body").String(),
				UserLogin: n.Get("author.username").String(),
				CreatedAt: created,
			})
		}
		if len(notes) < 100 {
			break
		}
	}
	return out, nil
}

// UpdateReviewComment implements vcs.DeduplicationSupport.
func (a *Adapter) UpdateReviewComment(ctx context.Context, pr *domain.PullRequest, id int64, body string) error {
	q := url.Values{}
	q.Set("body", body)
	_, err := a.do(ctx, http.MethodPut, fmt.Sprintf("%s/notes/%d", mrPath(pr), id), q)
	return err
}

// DeleteReviewComment implements vcs.DeduplicationSupport.
func (a *Adapter) DeleteReviewComment(ctx context.Context, pr *domain.PullRequest, id int64) error {
	_, err := a.do(ctx, http.MethodDelete, fmt.Sprintf("%s/notes/%d", mrPath(pr), id), nil)
	return err
}

// FindCheckpointComment implements vcs.CheckpointSupport.
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
	return a.UpdateReviewComment(ctx, pr, id, body)
}

// CompareCommits implements vcs.IncrementalSupport. GitLab's compare endpoint
// reports commits in one direction only, so ahead and behind counts come from
// two calls.
func (a *Adapter) CompareCommits(ctx context.Context, pr *domain.PullRequest, base, head string) (*domain.CommitComparison, error) {
	ahead, aheadFiles, err := a.compareOneWay(ctx, pr.Repo, base, head)
	if err != nil {
		return nil, err
	}
	behind, _, err := a.compareOneWay(ctx, pr.Repo, head, base)
	if err != nil {
		return nil, err
	}

	cmp := &domain.CommitComparison{
		BaseSHA:  base,
		HeadSHA:  head,
		AheadBy:  ahead,
		BehindBy: behind,
		Files:    aheadFiles,
	}
	switch {
	case ahead > 0 && behind > 0:
		cmp.Status = domain.ComparisonDiverged
	case ahead > 0:
		cmp.Status = domain.ComparisonAhead
	case behind > 0:
		cmp.Status = domain.ComparisonBehind
	default:
		cmp.Status = domain.ComparisonIdentical
	}
	return cmp, nil
}

func (a *Adapter) compareOneWay(ctx context.Context, repo, from, to string) (int, []string, error) {
	q := url.Values{}
	q.Set("from", from)
	q.Set("to", to)
	body, err := a.do(ctx, http.MethodGet, projectPath(repo)+"/repository/compare", q)
	if err != nil {
		if types.IsKind(err, types.KindPlatformRejected) && strings.Contains(err.Error(), "404") {
			return 0, nil, types.Errorf(types.KindIncrementalMissingBase,
				"compare %s..%s: commit unknown to the repository", from, to)
		}
		return 0, nil, err
	}
	res := gjson.ParseBytes(body)
	var files []string
	res.Get("diffs").ForEach(func(_, d gjson.Result) bool {
		files = append(files, d.Get("new_path").String())
		return true
	})
	return len(res.Get("commits").Array()), files, nil
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
	q := url.Values{}
	q.Set("from", base)
	q.Set("to", head)
	body, err := a.do(ctx, http.MethodGet, projectPath(pr.Repo)+"/repository/compare", q)
	if err != nil {
		if types.IsKind(err, types.KindPlatformRejected) && strings.Contains(err.Error(), "404") {
			return nil, types.Errorf(types.KindIncrementalMissingBase,
				"range diff %s..%s: commit unknown to the repository", base, head)
		}
		return nil, err
	}
	// The compare payload carries per-file diffs in the same shape as the MR
	// changes endpoint, keyed "diffs" instead of "changes".
	raw := gjson.GetBytes(body, "diffs").Raw
	if raw == "" {
		raw = "[]"
	}
	reshaped, err := sjson.SetRawBytes([]byte(`{}`), "changes", []byte(raw))
	if err != nil {
		return nil, types.Errorf(types.KindNetwork, "reshape compare payload: %v", err)
	}
	return diff.Parse(assembleUnifiedDiff(reshaped)), nil
}
