// Package prompt assembles the review prompt: PR metadata, the diff bounded
// by maxDiffChars, optional skills, tickets, graph context, and the output
// format contract.
package prompt

import (
	"fmt"
	"strings"

	"agnusai/internal/diff"
	"agnusai/internal/domain"
	"agnusai/internal/graph"
	"agnusai/internal/tickets"
)

// SystemPrompt is sent as the system message on every review call.
const SystemPrompt = `You are a senior code reviewer. You review pull request diffs and report genuine defects: bugs, race conditions, security issues, resource leaks, broken error handling, and misleading names. You do not comment on style preferences, formatting, or code outside the diff. You follow the requested output format exactly.`

// outputContract spells out the wire format with a worked example. The parser
// depends on these literal markers.
const outputContract = `## Output Format (follow exactly)

SUMMARY:
<2-3 sentences describing the overall change and its risk>

Then zero or more comments, each in this form:

[File: <path>, Line: <line>]
<the issue, in markdown; fenced code blocks allowed>
[Confidence: <0.0-1.0>]

Finally, exactly one verdict line:

VERDICT: approve|request_changes|comment

Rules:
- The path in each comment marker must appear verbatim in the file list above. Never reference files not shown.
- The line number must be a changed (added) line of that file in the diff.
- Every comment must end with a confidence tag.
- The VERDICT line is mandatory.
- Severity cues: start the body with "Critical:" for must-fix defects or "Major:" for significant problems; anything else is treated as informational.

Worked example:

SUMMARY:
Adds retry logic to the payment client. The retry loop looks correct but the response body is not closed on the retry path, which leaks connections.

[File: internal/payment/client.go, Line: 42]
Critical: resp.Body is not closed before the retry continues, leaking the connection on every failed attempt.
` + "```go\ndefer resp.Body.Close()\n```" + `
[Confidence: 0.9]

VERDICT: request_changes`

// Input carries everything the builder may include.
type Input struct {
	PR           *domain.PullRequest
	Diff         *diff.Diff
	Skills       []string // matched review-skill texts
	Tickets      []tickets.Ticket
	Graph        *graph.ReviewContext
	PriorBodies  []string // existing review comments, to avoid repeats
	MaxDiffChars int
}

// Result is the built prompt plus truncation info.
type Result struct {
	System    string
	User      string
	Truncated bool
	// OmittedFiles counts diff files dropped by the character bound.
	OmittedFiles int
}

// Build assembles the user prompt.
func Build(in *Input) *Result {
	maxChars := in.MaxDiffChars
	if maxChars <= 0 {
		maxChars = 30_000
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Review this pull request.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", in.PR.Title)
	fmt.Fprintf(&b, "Author: %s\n", in.PR.Author)
	fmt.Fprintf(&b, "Branch: %s -> %s\n", in.PR.SourceBranch, in.PR.TargetBranch)
	if desc := strings.TrimSpace(in.PR.Description); desc != "" {
		fmt.Fprintf(&b, "\nDescription:\n%s\n", desc)
	}

	if len(in.Tickets) > 0 {
		b.WriteString("\n## Linked Tickets\n")
		for _, t := range in.Tickets {
			fmt.Fprintf(&b, "- %s [%s]: %s\n", t.ID, t.Status, t.Title)
			if body := strings.TrimSpace(t.Body); body != "" {
				fmt.Fprintf(&b, "  %s\n", firstLine(body))
			}
		}
	}

	diffText, paths, omitted := renderDiff(in.Diff, maxChars)
	b.WriteString("\n## Changed Files\n")
	for _, p := range paths {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	b.WriteString("\n## Diff\n```diff\n")
	b.WriteString(diffText)
	b.WriteString("\n```\n")
	if omitted > 0 {
		fmt.Fprintf(&b, "\n[Diff truncated — %d more files]\n", omitted)
		b.WriteString("Do not comment on files outside the diff shown above.\n")
	}

	if g := in.Graph.Render(); g != "" {
		b.WriteString("\n")
		b.WriteString(g)
	}

	for _, skill := range in.Skills {
		if s := strings.TrimSpace(skill); s != "" {
			b.WriteString("\n## Review Guidance\n")
			b.WriteString(s)
			b.WriteString("\n")
		}
	}

	if len(in.PriorBodies) > 0 {
		b.WriteString("\n## Already Reported (do not repeat)\n")
		for _, body := range in.PriorBodies {
			fmt.Fprintf(&b, "- %s\n", firstLine(domain.StripMarkers(body)))
		}
	}

	b.WriteString("\n")
	b.WriteString(outputContract)

	return &Result{
		System:       SystemPrompt,
		User:         b.String(),
		Truncated:    omitted > 0,
		OmittedFiles: omitted,
	}
}

// renderDiff concatenates file diffs until adding the next file would exceed
// maxChars. Returns the text, the paths actually included, and the count of
// omitted files.
func renderDiff(d *diff.Diff, maxChars int) (string, []string, int) {
	var b strings.Builder
	var paths []string
	omitted := 0
	for i := range d.Files {
		f := &d.Files[i]
		rendered := f.Render()
		if b.Len() > 0 && b.Len()+len(rendered) > maxChars {
			omitted = len(d.Files) - i
			break
		}
		b.WriteString(rendered)
		paths = append(paths, f.Path)
	}
	return b.String(), paths, omitted
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
