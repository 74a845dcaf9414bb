package filter

import (
	"path"
	"regexp"
	"strings"
)

// Always-skip path fragments: binary assets, lock files, minified and
// generated code. Comments on these files are never useful.
var skipSuffixes = []string{
	".png", ".jpg", ".jpeg", ".gif", ".ico", ".svg", ".webp",
	".woff", ".woff2", ".ttf", ".eot", ".otf",
	".zip", ".tar", ".gz", ".tgz", ".rar", ".7z", ".jar",
	".pdf", ".exe", ".dll", ".so", ".dylib", ".bin",
	".min.js", ".min.css",
	".d.ts",
	".lock",
}

var skipNames = []string{
	"package-lock.json", "yarn.lock", "pnpm-lock.yaml",
	"go.sum", "Cargo.lock", "composer.lock", "Gemfile.lock", "poetry.lock",
}

var skipSubstrings = []string{
	".pb.", "_pb2.", ".generated.", "__generated__/",
}

// binarySuffixes is the subset of skipSuffixes that indicates binary content
// rather than a skip-by-convention file; it decides the reason code.
var binarySuffixes = []string{
	".png", ".jpg", ".jpeg", ".gif", ".ico", ".webp",
	".woff", ".woff2", ".ttf", ".eot", ".otf",
	".zip", ".tar", ".gz", ".tgz", ".rar", ".7z", ".jar",
	".pdf", ".exe", ".dll", ".so", ".dylib", ".bin",
}

// IsBinaryPath reports whether p looks like a binary asset.
func IsBinaryPath(p string) bool {
	lower := strings.ToLower(p)
	for _, s := range binarySuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// MatchesSkipSet reports whether p is in the always-skip set or matches one
// of the configured extra globs.
func MatchesSkipSet(p string, extraGlobs []string) bool {
	lower := strings.ToLower(p)
	for _, s := range skipSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	base := path.Base(p)
	for _, n := range skipNames {
		if base == n {
			return true
		}
	}
	for _, s := range skipSubstrings {
		if strings.Contains(p, s) {
			return true
		}
	}
	for _, g := range extraGlobs {
		if ok, _ := path.Match(g, p); ok {
			return true
		}
		if ok, _ := path.Match(g, base); ok {
			return true
		}
	}
	return false
}

// Test-file name patterns; with lenient mode on, only error-severity
// comments survive on these paths.
var testNamePatterns = []string{".test.", ".spec.", "_test."}

// Test directory segments, matched as whole path components so that paths
// like "latest/" do not qualify.
var testDirSegments = map[string]bool{
	"__tests__": true,
	"test":      true,
	"tests":     true,
}

// IsTestPath reports whether p is a test file by naming convention.
func IsTestPath(p string) bool {
	for _, pat := range testNamePatterns {
		if strings.Contains(path.Base(p), pat) {
			return true
		}
	}
	for _, seg := range strings.Split(path.Dir(p), "/") {
		if testDirSegments[seg] {
			return true
		}
	}
	return false
}

// Version-claim assertions are unreliable: the model's package knowledge is
// frozen at its training cutoff. Only claims about a specific version being
// latest, outdated, or nonexistent are matched.
var versionClaimRegexes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bversion\s+v?\d+[\w.\-]*\s+(?:is|was)\s+(?:the\s+)?(?:latest|newest|current|outdated|deprecated)\b`),
	regexp.MustCompile(`(?i)\b(?:latest|newest|current)\s+version\s+(?:is|of\s+\S+\s+is)\s+v?\d`),
	regexp.MustCompile(`(?i)\bupgrade\s+to\s+(?:the\s+latest\s+)?version\s+v?\d+[\w.\-]*\s+(?:which|as it)\b`),
	regexp.MustCompile(`(?i)\bversion\s+v?\d+[\w.\-]*\s+does\s+not\s+exist\b`),
	regexp.MustCompile(`(?i)\bthis\s+(?:package|library|dependency)\s+(?:is|has been)\s+(?:deprecated|unmaintained|abandoned)\b`),
}

// IsVersionClaim reports whether body asserts something about package
// versions the model cannot reliably know.
func IsVersionClaim(body string) bool {
	for _, re := range versionClaimRegexes {
		if re.MatchString(body) {
			return true
		}
	}
	return false
}

// Dismissal phrases in user replies that retire a finding permanently.
var dismissalPhrases = []string{
	"wontfix", "won't fix", "will not fix",
	"as designed", "by design", "intended",
	"false positive",
	"resolved", "fixed", "done",
	"nit", "nitpick", "ignore",
}

// IsDismissal reports whether a reply body dismisses the finding it answers.
func IsDismissal(body string) bool {
	lower := strings.ToLower(body)
	for _, p := range dismissalPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
