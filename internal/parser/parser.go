// Package parser turns the model's textual review output into a structured
// result. The grammar is deliberately loose: literal markers are required but
// interleaved whitespace and partial (truncated) output are tolerated.
package parser

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"agnusai/internal/domain"
)

// Literal markers of the model output wire format.
const (
	MarkerSummary    = "SUMMARY:"
	MarkerVerdict    = "VERDICT:"
	MarkerFilePrefix = "[File:"
)

const (
	// DefaultConfidence is assumed when a comment carries no confidence tag.
	DefaultConfidence = 0.5
	// summaryFallbackChars bounds the summary when no markers are found.
	summaryFallbackChars = 500
)

var (
	fileMarkerRegex = regexp.MustCompile(`\[File:\s*([^,\]]+),\s*Line:\s*(-?\d+)\s*\]`)
	confidenceRegex = regexp.MustCompile(`\[Confidence:\s*([0-9]*\.?[0-9]+)\s*\]`)
	verdictRegex    = regexp.MustCompile(`(?i)VERDICT:\s*(approve|request_changes|comment)`)
)

// Result carries the parsed review plus any non-fatal warnings.
type Result struct {
	Review   domain.ReviewResult
	Warnings []string
}

// Parse parses arbitrary model output. It never fails: missing sections
// produce defaults and a warning instead of an error.
func Parse(text string) *Result {
	res := &Result{}

	markers := fileMarkerRegex.FindAllStringSubmatchIndex(text, -1)

	res.Review.Summary = extractSummary(text, markers)
	res.Review.Comments = extractComments(text, markers)

	if m := verdictRegex.FindStringSubmatch(text); m != nil {
		res.Review.Verdict = domain.Verdict(strings.ToLower(m[1]))
	} else {
		res.Review.Verdict = domain.VerdictComment
		if len(markers) > 0 {
			res.Warnings = append(res.Warnings, "model output truncated: comments present but no VERDICT line")
			slog.Warn("model output appears truncated", "comments", len(markers))
		} else {
			res.Warnings = append(res.Warnings, "no VERDICT line in model output, defaulting to comment")
			slog.Warn("no verdict in model output")
		}
	}

	return res
}

// extractSummary returns the text between SUMMARY: and the first file marker
// or VERDICT line. Without any marker, the first 500 chars serve as summary.
func extractSummary(text string, markers [][]int) string {
	start := 0
	if idx := strings.Index(text, MarkerSummary); idx >= 0 {
		start = idx + len(MarkerSummary)
	}

	end := len(text)
	if len(markers) > 0 && markers[0][0] > start {
		end = markers[0][0]
	} else if v := verdictRegex.FindStringIndex(text[start:]); v != nil {
		end = start + v[0]
	} else if len(markers) == 0 && strings.Index(text, MarkerSummary) < 0 {
		// No structure at all: clamp.
		if len(text) > summaryFallbackChars {
			end = summaryFallbackChars
		}
	}

	return strings.TrimSpace(text[start:end])
}

// extractComments walks the file markers; each body spans up to the next
// marker, the VERDICT line, or end of text.
func extractComments(text string, markers [][]int) []domain.ReviewComment {
	var comments []domain.ReviewComment

	for i, m := range markers {
		path := strings.TrimSpace(text[m[2]:m[3]])
		lineStr := text[m[4]:m[5]]

		bodyStart := m[1]
		bodyEnd := len(text)
		if i+1 < len(markers) {
			bodyEnd = markers[i+1][0]
		}
		body := text[bodyStart:bodyEnd]
		if v := verdictRegex.FindStringIndex(body); v != nil {
			body = body[:v[0]]
		}

		line, err := strconv.Atoi(lineStr)
		if err != nil || line < 1 {
			slog.Warn("dropping comment with invalid line", "path", path, "line", lineStr)
			continue
		}

		confidence := DefaultConfidence
		if cm := confidenceRegex.FindStringSubmatch(body); cm != nil {
			if v, err := strconv.ParseFloat(cm[1], 64); err == nil && v >= 0 && v <= 1 {
				confidence = v
			}
			body = confidenceRegex.ReplaceAllString(body, "")
		}

		body = strings.TrimSpace(body)
		if body == "" {
			continue
		}

		comments = append(comments, domain.ReviewComment{
			Path:       domain.NormalizePath(path),
			Line:       line,
			Body:       body,
			Severity:   detectSeverity(body),
			Confidence: confidence,
		})
	}
	return comments
}

// detectSeverity keys off the model's own severity words in the body.
func detectSeverity(body string) domain.Severity {
	if strings.Contains(body, "Critical") {
		return domain.SeverityError
	}
	if strings.Contains(body, "Major") {
		return domain.SeverityWarning
	}
	return domain.SeverityInfo
}
