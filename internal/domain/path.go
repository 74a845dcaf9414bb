package domain

import "strings"

// NormalizePath normalizes a file path reported by the model or a platform so
// it can be matched against diff paths: standard separators, no leading slash,
// no git a/ b/ prefixes.
func NormalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimPrefix(path, "/")

	for _, p := range []string{"a/", "b/"} {
		if strings.HasPrefix(path, p) {
			path = strings.TrimPrefix(path, p)
			break
		}
	}
	return path
}
