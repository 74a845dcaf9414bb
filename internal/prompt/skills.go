package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SkillLoader loads review-skill markdown matched to the languages a PR
// touches. Layout: {baseDir}/{language}.md plus an always-applied
// {baseDir}/default.md. A missing directory disables skills silently.
type SkillLoader struct {
	baseDir string
}

// NewSkillLoader creates a loader rooted at baseDir. Empty baseDir loads
// nothing.
func NewSkillLoader(baseDir string) *SkillLoader {
	return &SkillLoader{baseDir: baseDir}
}

// Load returns the skill texts applicable to the given changed files.
func (l *SkillLoader) Load(files []string) ([]string, error) {
	if l.baseDir == "" {
		return nil, nil
	}
	var skills []string
	names := []string{"default"}
	if lang := DetectLanguage(files); lang != "default" {
		names = append(names, lang)
	}
	for _, name := range names {
		path := filepath.Join(l.baseDir, name+".md")
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read skill %s: %w", path, err)
		}
		skills = append(skills, string(data))
	}
	return skills, nil
}

var languageExtensions = map[string]string{
	".go":    "golang",
	".py":    "python",
	".java":  "java",
	".ts":    "typescript",
	".tsx":   "typescript",
	".js":    "javascript",
	".jsx":   "javascript",
	".rs":    "rust",
	".rb":    "ruby",
	".cs":    "csharp",
	".kt":    "kotlin",
	".swift": "swift",
	".c":     "cpp",
	".h":     "cpp",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
}

// DetectLanguage picks the dominant language of the changed files by
// extension count. Returns "default" when nothing matches.
func DetectLanguage(files []string) string {
	counts := make(map[string]int)
	for _, f := range files {
		if lang, ok := languageExtensions[strings.ToLower(filepath.Ext(f))]; ok {
			counts[lang]++
		}
	}
	maxLang, maxCount := "default", 0
	for lang, n := range counts {
		if n > maxCount || (n == maxCount && lang < maxLang) {
			maxLang, maxCount = lang, n
		}
	}
	return maxLang
}
