// Package diff parses unified diffs into files and hunks and derives the
// line-level facts the review pipeline needs: which new-side lines changed,
// and where old lines ended up.
package diff

import (
	"regexp"
	"strconv"
	"strings"

	"agnusai/internal/domain"
)

// FileStatus describes what happened to a file in a diff.
type FileStatus string

const (
	StatusAdded    FileStatus = "added"
	StatusModified FileStatus = "modified"
	StatusDeleted  FileStatus = "deleted"
	StatusRenamed  FileStatus = "renamed"
)

// Hunk is one contiguous change range. Lines keeps the raw payload lines
// including their leading +/-/space markers, without the @@ header.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []string
}

// FileDiff is the parsed diff of a single file.
type FileDiff struct {
	Path      string
	OldPath   string // set when Status == StatusRenamed
	Status    FileStatus
	Additions int
	Deletions int
	Hunks     []Hunk
}

// Diff is an ordered sequence of file diffs.
type Diff struct {
	Files []FileDiff
}

// Hunk headers may omit a length field: "@@ -A +B @@" means one line each.
var hunkHeaderRegex = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Parse parses a raw unified diff. Unrecognized lines outside hunks are
// ignored, so git extended headers and binary notices pass through harmlessly.
func Parse(raw string) *Diff {
	d := &Diff{}
	var cur *FileDiff
	var curHunk *Hunk

	flushHunk := func() {
		if cur != nil && curHunk != nil {
			cur.Hunks = append(cur.Hunks, *curHunk)
		}
		curHunk = nil
	}
	flushFile := func() {
		flushHunk()
		if cur != nil {
			d.Files = append(d.Files, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(raw, "\n") {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			flushFile()
			cur = &FileDiff{Status: StatusModified}
			if oldP, newP, ok := parseGitHeader(line); ok {
				cur.Path = newP
				if oldP != newP {
					cur.OldPath = oldP
					cur.Status = StatusRenamed
				}
			}

		case strings.HasPrefix(line, "new file mode"):
			if cur != nil {
				cur.Status = StatusAdded
			}

		case strings.HasPrefix(line, "deleted file mode"):
			if cur != nil {
				cur.Status = StatusDeleted
			}

		case strings.HasPrefix(line, "rename from "):
			if cur != nil {
				cur.OldPath = domain.NormalizePath(strings.TrimPrefix(line, "rename from "))
				cur.Status = StatusRenamed
			}

		case strings.HasPrefix(line, "rename to "):
			if cur != nil {
				cur.Path = domain.NormalizePath(strings.TrimPrefix(line, "rename to "))
			}

		case strings.HasPrefix(line, "--- "):
			flushHunk()
			if cur == nil {
				cur = &FileDiff{Status: StatusModified}
			}
			p := strings.TrimPrefix(line, "--- ")
			if p == "/dev/null" {
				cur.Status = StatusAdded
			} else if cur.OldPath == "" {
				old := domain.NormalizePath(p)
				if cur.Path != "" && old != cur.Path {
					cur.OldPath = old
				}
			}

		case strings.HasPrefix(line, "+++ "):
			p := strings.TrimPrefix(line, "+++ ")
			if p == "/dev/null" {
				if cur != nil {
					cur.Status = StatusDeleted
					if cur.Path == "" {
						cur.Path = cur.OldPath
					}
				}
			} else if cur != nil && cur.Path == "" {
				cur.Path = domain.NormalizePath(p)
			}

		case strings.HasPrefix(line, "@@"):
			m := hunkHeaderRegex.FindStringSubmatch(line)
			if m == nil || cur == nil {
				continue
			}
			flushHunk()
			curHunk = &Hunk{
				OldStart: atoiDefault(m[1], 1),
				OldLines: atoiDefault(m[2], 1),
				NewStart: atoiDefault(m[3], 1),
				NewLines: atoiDefault(m[4], 1),
			}

		default:
			if curHunk == nil {
				continue
			}
			curHunk.Lines = append(curHunk.Lines, line)
			if strings.HasPrefix(line, "+") {
				cur.Additions++
			} else if strings.HasPrefix(line, "-") {
				cur.Deletions++
			}
		}
	}
	flushFile()
	return d
}

// parseGitHeader extracts old and new paths from "diff --git a/x b/y".
func parseGitHeader(line string) (oldPath, newPath string, ok bool) {
	rest := strings.TrimPrefix(line, "diff --git ")
	// Paths with spaces are rare in practice; split on " b/" to be safe for
	// the common case.
	if idx := strings.Index(rest, " b/"); idx >= 0 {
		return domain.NormalizePath(rest[:idx]), domain.NormalizePath(rest[idx+3:]), true
	}
	parts := strings.Fields(rest)
	if len(parts) == 2 {
		return domain.NormalizePath(parts[0]), domain.NormalizePath(parts[1]), true
	}
	return "", "", false
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// IsEmpty reports whether the diff contains no hunks at all.
func (d *Diff) IsEmpty() bool {
	for _, f := range d.Files {
		if len(f.Hunks) > 0 {
			return false
		}
	}
	return true
}

// File returns the file diff for path, or nil.
func (d *Diff) File(path string) *FileDiff {
	for i := range d.Files {
		if d.Files[i].Path == path {
			return &d.Files[i]
		}
	}
	return nil
}

// FileByOldPath returns the file diff whose pre-rename path is path, or nil.
func (d *Diff) FileByOldPath(path string) *FileDiff {
	for i := range d.Files {
		if d.Files[i].OldPath == path {
			return &d.Files[i]
		}
	}
	return nil
}

// Paths returns the new-side paths of all files in order.
func (d *Diff) Paths() []string {
	out := make([]string, 0, len(d.Files))
	for _, f := range d.Files {
		out = append(out, f.Path)
	}
	return out
}

// ChangedLines returns the set of new-side line numbers that were added or
// modified. Only these lines can receive inline comments.
func (f *FileDiff) ChangedLines() map[int]struct{} {
	changed := make(map[int]struct{})
	for _, h := range f.Hunks {
		cursor := h.NewStart
		for _, line := range h.Lines {
			switch {
			case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
				// embedded header noise, skip
			case strings.HasPrefix(line, "\\"):
				// "\ No newline at end of file"
			case strings.HasPrefix(line, "+"):
				changed[cursor] = struct{}{}
				cursor++
			case strings.HasPrefix(line, "-"):
				// old-side only, new cursor stays
			default:
				cursor++
			}
		}
	}
	return changed
}

// TrackLineMovement maps old-side line numbers to their new-side positions.
// Deleted lines map to -1. Added lines have no old-side entry.
func (f *FileDiff) TrackLineMovement() map[int]int {
	moved := make(map[int]int)
	for _, h := range f.Hunks {
		oldCursor := h.OldStart
		newCursor := h.NewStart
		for _, line := range h.Lines {
			switch {
			case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			case strings.HasPrefix(line, "\\"):
			case strings.HasPrefix(line, "+"):
				newCursor++
			case strings.HasPrefix(line, "-"):
				moved[oldCursor] = -1
				oldCursor++
			default:
				moved[oldCursor] = newCursor
				oldCursor++
				newCursor++
			}
		}
	}
	return moved
}

// ContainsCode reports whether snippet appears on any new-side line of the
// file (added or context). Used to decide if a previously flagged piece of
// code still exists after the diff.
func (f *FileDiff) ContainsCode(snippet string) bool {
	snippet = strings.TrimSpace(snippet)
	if snippet == "" {
		return false
	}
	for _, h := range f.Hunks {
		for _, line := range h.Lines {
			if strings.HasPrefix(line, "-") {
				continue
			}
			content := strings.TrimPrefix(strings.TrimPrefix(line, "+"), " ")
			if strings.Contains(strings.TrimSpace(content), snippet) {
				return true
			}
		}
	}
	return false
}

// LineContent returns the text of a new-side line, without its +/space
// prefix. Deleted lines and lines outside the hunks report ok=false.
func (f *FileDiff) LineContent(line int) (string, bool) {
	for _, h := range f.Hunks {
		cursor := h.NewStart
		for _, l := range h.Lines {
			switch {
			case strings.HasPrefix(l, "+++"), strings.HasPrefix(l, "---"), strings.HasPrefix(l, "\\"):
			case strings.HasPrefix(l, "-"):
			default:
				if cursor == line {
					if strings.HasPrefix(l, "+") {
						return l[1:], true
					}
					return strings.TrimPrefix(l, " "), true
				}
				cursor++
			}
		}
	}
	return "", false
}

// Render reconstructs a unified diff string for a single file, used when
// assembling the prompt.
func (f *FileDiff) Render() string {
	var b strings.Builder
	oldP := f.OldPath
	if oldP == "" {
		oldP = f.Path
	}
	b.WriteString("--- a/" + oldP + "\n")
	b.WriteString("+++ b/" + f.Path + "\n")
	for _, h := range f.Hunks {
		b.WriteString("@@ -" + strconv.Itoa(h.OldStart) + "," + strconv.Itoa(h.OldLines) +
			" +" + strconv.Itoa(h.NewStart) + "," + strconv.Itoa(h.NewLines) + " @@\n")
		for _, line := range h.Lines {
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}
