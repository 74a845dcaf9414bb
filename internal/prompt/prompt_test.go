package prompt

import (
	"fmt"
	"strings"
	"testing"

	"agnusai/internal/diff"
	"agnusai/internal/domain"
	"agnusai/internal/graph"
)

func testPR() *domain.PullRequest {
	return &domain.PullRequest{
		Platform:     "github",
		Repo:         "acme/widgets",
		Number:       7,
		Title:        "Add retry logic",
		Author:       "alice",
		SourceBranch: "feat/retry",
		TargetBranch: "main",
		Description:  "Retries transient failures.",
	}
}

func fileDiff(path string, bodyLines int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "diff --git a/%s b/%s\n--- a/%s\n+++ b/%s\n@@ -1,0 +1,%d @@\n",
		path, path, path, path, bodyLines)
	for i := 0; i < bodyLines; i++ {
		b.WriteString("+some added line of code\n")
	}
	return b.String()
}

func TestBuildIncludesContract(t *testing.T) {
	d := diff.Parse(fileDiff("a.go", 3))
	res := Build(&Input{PR: testPR(), Diff: d})

	for _, want := range []string{
		"SUMMARY:",
		"[File: <path>, Line: <line>]",
		"[Confidence: <0.0-1.0>]",
		"VERDICT: approve|request_changes|comment",
		"Never reference files not shown",
		"- a.go",
		"Add retry logic",
	} {
		if !strings.Contains(res.User, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if res.Truncated {
		t.Error("small diff reported as truncated")
	}
}

func TestBuildTruncation(t *testing.T) {
	// Three files of ~2600 chars each against a 6000-char bound: two fit,
	// the third is dropped.
	raw := fileDiff("a.go", 100) + fileDiff("b.go", 100) + fileDiff("c.go", 100)
	d := diff.Parse(raw)

	res := Build(&Input{PR: testPR(), Diff: d, MaxDiffChars: 6000})

	if !res.Truncated || res.OmittedFiles != 1 {
		t.Fatalf("truncated=%v omitted=%d, want true/1", res.Truncated, res.OmittedFiles)
	}
	if !strings.Contains(res.User, "[Diff truncated — 1 more files]") {
		t.Error("truncation notice missing")
	}
	if !strings.Contains(res.User, "- b.go") || strings.Contains(res.User, "- c.go") {
		t.Error("file list does not reflect truncation")
	}
}

func TestBuildGraphSection(t *testing.T) {
	d := diff.Parse(fileDiff("a.go", 1))
	rc := &graph.ReviewContext{
		ChangedSymbols: []graph.Symbol{{Name: "Retry", Kind: "function", Path: "a.go", Line: 10}},
		DirectCallers:  []graph.Symbol{{Name: "Do", Kind: "method", Path: "b.go", Line: 3}},
	}
	res := Build(&Input{PR: testPR(), Diff: d, Graph: rc})

	if !strings.Contains(res.User, "## Code Graph Context") {
		t.Error("graph section missing")
	}
	if !strings.Contains(res.User, "function Retry (a.go:10)") {
		t.Error("changed symbol not rendered")
	}

	// Nil graph context renders nothing.
	res = Build(&Input{PR: testPR(), Diff: d})
	if strings.Contains(res.User, "Code Graph Context") {
		t.Error("graph section rendered without context")
	}
}

func TestBuildPriorBodies(t *testing.T) {
	d := diff.Parse(fileDiff("a.go", 1))
	res := Build(&Input{
		PR:          testPR(),
		Diff:        d,
		PriorBodies: []string{"Unchecked error return\n\n" + domain.MarkerAuthoring},
	})
	if !strings.Contains(res.User, "Already Reported") {
		t.Error("prior comments section missing")
	}
	if !strings.Contains(res.User, "- Unchecked error return") {
		t.Error("prior body not listed")
	}
	if strings.Contains(res.User, domain.MarkerAuthoring) {
		t.Error("markers leaked into the prompt")
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		files []string
		want  string
	}{
		{[]string{"a.go", "b.go", "c.py"}, "golang"},
		{[]string{"x.ts", "y.tsx"}, "typescript"},
		{[]string{"README.md"}, "default"},
		{nil, "default"},
	}
	for _, tt := range tests {
		if got := DetectLanguage(tt.files); got != tt.want {
			t.Errorf("DetectLanguage(%v) = %q, want %q", tt.files, got, tt.want)
		}
	}
}
