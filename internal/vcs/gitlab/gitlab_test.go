package gitlab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"agnusai/internal/diff"
	"agnusai/internal/domain"
	"agnusai/internal/vcs"
)

func TestAssembleUnifiedDiff(t *testing.T) {
	body := `{"changes":[
		{"old_path":"a.go","new_path":"a.go","diff":"@@ -1,2 +1,3 @@\n one\n+two\n three\n"},
		{"old_path":"old.go","new_path":"new.go","renamed_file":true,"diff":"@@ -1,1 +1,2 @@\n x\n+y\n"},
		{"old_path":"gone.go","new_path":"gone.go","deleted_file":true,"diff":"@@ -1,1 +0,0 @@\n-x\n"},
		{"old_path":"fresh.go","new_path":"fresh.go","new_file":true,"diff":"@@ -0,0 +1,1 @@\n+x\n"}
	]}`

	d := diff.Parse(assembleUnifiedDiff([]byte(body)))

	if len(d.Files) != 4 {
		t.Fatalf("parsed %d files, want 4", len(d.Files))
	}

	modified := d.File("a.go")
	if modified == nil {
		t.Fatal("a.go missing from parsed diff")
	}
	if _, ok := modified.ChangedLines()[2]; !ok {
		t.Errorf("a.go changed lines = %v, want line 2", modified.ChangedLines())
	}

	if d.File("new.go") == nil || d.FileByOldPath("old.go") == nil {
		t.Error("rename not preserved through assembly")
	}
	if got := d.File("new.go").Status; got != diff.StatusRenamed {
		t.Errorf("new.go status = %s, want renamed", got)
	}
	if got := d.File("gone.go").Status; got != diff.StatusDeleted {
		t.Errorf("gone.go status = %s, want deleted", got)
	}
	if got := d.File("fresh.go").Status; got != diff.StatusAdded {
		t.Errorf("fresh.go status = %s, want added", got)
	}
}

func glPR() *domain.PullRequest {
	return &domain.PullRequest{
		Platform: "gitlab",
		Repo:     "acme/widgets",
		Number:   7,
		HeadSHA:  "abc123",
		State:    domain.PRStateOpen,
	}
}

const noteJSON = `{"id": 11, "body": "ok", "author": {"username": "bot"}, "created_at": "2024-01-01T00:00:00Z"}`

func TestAddCommentSendsBodyAsForm(t *testing.T) {
	long := strings.Repeat("a", 60_000)
	var gotURLLen int
	var gotBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/notes") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		gotURLLen = len(r.URL.String())
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		gotBody = r.PostFormValue("body")
		w.Write([]byte(noteJSON))
	}))
	defer srv.Close()

	a, err := New("token", srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	note, err := a.AddComment(context.Background(), glPR(), long)
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if note.ID != 11 {
		t.Errorf("note id = %d, want 11", note.ID)
	}
	if gotBody != long {
		t.Errorf("server received %d body chars, want %d via the request body", len(gotBody), len(long))
	}
	// A large body must never travel in the URL; proxies cap URLs at a few KB.
	if gotURLLen > 500 {
		t.Errorf("request url length = %d, body leaked into the query string", gotURLLen)
	}
}

func TestSubmitReviewOwnMRDowngrade(t *testing.T) {
	var approveCalls int
	var noteBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/approve"):
			approveCalls++
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message": "401 Unauthorized"}`))
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/notes"):
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
				return
			}
			noteBody = r.PostFormValue("body")
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(noteJSON))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a, err := New("token", srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.SubmitReview(context.Background(), glPR(), "All good.", domain.VerdictApprove); err != nil {
		t.Fatalf("SubmitReview: %v", err)
	}
	if approveCalls != 1 {
		t.Errorf("approve calls = %d, want 1", approveCalls)
	}
	if noteBody != "All good."+vcs.OwnPRFallbackNote {
		t.Errorf("summary note = %q, want the downgrade note appended", noteBody)
	}
}
