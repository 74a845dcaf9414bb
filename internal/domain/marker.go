package domain

import (
	"encoding/json"
	"strings"
)

// Wire markers appended to every posted comment body. The authoring marker
// identifies our comments without relying on account identity; the metadata
// block lets later runs match findings across line movement.
const (
	MarkerAuthoring  = "<!-- AGNUSAI: v1 -->"
	MarkerMetaPrefix = "<!-- AGNUSAI_META: "
	MarkerMetaSuffix = " -->"
)

// IsAuthored reports whether body carries the authoring marker.
func IsAuthored(body string) bool {
	return strings.Contains(body, MarkerAuthoring)
}

// WrapMetadata renders the metadata block for appending to a comment body.
func WrapMetadata(meta *CommentMetadata) string {
	data, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return MarkerMetaPrefix + string(data) + MarkerMetaSuffix
}

// ExtractMetadata parses the first metadata block embedded in body. Unknown
// fields are tolerated.
func ExtractMetadata(body string) (*CommentMetadata, bool) {
	start := strings.Index(body, MarkerMetaPrefix)
	if start < 0 {
		return nil, false
	}
	rest := body[start+len(MarkerMetaPrefix):]
	end := strings.Index(rest, MarkerMetaSuffix)
	if end < 0 {
		return nil, false
	}
	var meta CommentMetadata
	if err := json.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return nil, false
	}
	return &meta, true
}

// StripMarkers removes the authoring marker and metadata block, returning the
// human-visible body.
func StripMarkers(body string) string {
	if idx := strings.Index(body, MarkerMetaPrefix); idx >= 0 {
		rest := body[idx+len(MarkerMetaPrefix):]
		if end := strings.Index(rest, MarkerMetaSuffix); end >= 0 {
			body = body[:idx] + rest[end+len(MarkerMetaSuffix):]
		}
	}
	body = strings.ReplaceAll(body, MarkerAuthoring, "")
	return strings.TrimSpace(body)
}
