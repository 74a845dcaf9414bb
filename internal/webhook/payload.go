// Package webhook receives platform push notifications and turns them into
// review jobs. Payload parsing is rule-based gjson probing; unknown event
// shapes are rejected, never guessed at.
package webhook

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"agnusai/internal/metrics"
)

// Event is a normalized PR notification extracted from a webhook payload.
type Event struct {
	Platform string // "github" or "gitlab"
	Repo     string // owner/name or group/project
	Number   int
	Action   string // normalized: "opened", "updated", "reopened"
	HeadSHA  string
	IsDraft  bool
}

// Key identifies the PR for debouncing and locking.
func (e *Event) Key() string {
	return fmt.Sprintf("%s/%s/%d", e.Platform, e.Repo, e.Number)
}

// githubActions maps GitHub pull_request actions to normalized ones. Actions
// absent from the map are ignored.
var githubActions = map[string]string{
	"opened":           "opened",
	"synchronize":      "updated",
	"reopened":         "reopened",
	"ready_for_review": "opened",
}

// gitlabActions maps GitLab merge_request actions likewise.
var gitlabActions = map[string]string{
	"open":   "opened",
	"update": "updated",
	"reopen": "reopened",
}

// ParsePayload extracts an Event from the request body. The platform is
// taken from the event headers, not guessed from the body shape. A nil event
// with nil error means the event type is recognized but not review-relevant.
func ParsePayload(header http.Header, body []byte) (*Event, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("payload is not valid json")
	}

	switch {
	case header.Get("X-GitHub-Event") != "":
		return parseGitHub(header.Get("X-GitHub-Event"), body)
	case header.Get("X-Gitlab-Event") != "":
		return parseGitLab(body)
	}
	return nil, fmt.Errorf("no recognized event header")
}

func parseGitHub(event string, body []byte) (*Event, error) {
	if event != "pull_request" {
		return nil, nil
	}
	action, ok := githubActions[gjson.GetBytes(body, "action").String()]
	if !ok {
		return nil, nil
	}

	ev := &Event{
		Platform: "github",
		Repo:     gjson.GetBytes(body, "repository.full_name").String(),
		Number:   int(gjson.GetBytes(body, "pull_request.number").Int()),
		Action:   action,
		HeadSHA:  gjson.GetBytes(body, "pull_request.head.sha").String(),
		IsDraft:  gjson.GetBytes(body, "pull_request.draft").Bool(),
	}
	if ev.Repo == "" || ev.Number == 0 {
		metrics.PayloadParseFailures.WithLabelValues("github").Inc()
		return nil, fmt.Errorf("github payload missing repository or pr number")
	}
	return ev, nil
}

func parseGitLab(body []byte) (*Event, error) {
	if gjson.GetBytes(body, "object_kind").String() != "merge_request" {
		return nil, nil
	}
	action, ok := gitlabActions[gjson.GetBytes(body, "object_attributes.action").String()]
	if !ok {
		return nil, nil
	}

	ev := &Event{
		Platform: "gitlab",
		Repo:     gjson.GetBytes(body, "project.path_with_namespace").String(),
		Number:   int(gjson.GetBytes(body, "object_attributes.iid").Int()),
		Action:   action,
		HeadSHA:  gjson.GetBytes(body, "object_attributes.last_commit.id").String(),
		IsDraft: gjson.GetBytes(body, "object_attributes.draft").Bool() ||
			gjson.GetBytes(body, "object_attributes.work_in_progress").Bool(),
	}
	if ev.Repo == "" || ev.Number == 0 {
		metrics.PayloadParseFailures.WithLabelValues("gitlab").Inc()
		return nil, fmt.Errorf("gitlab payload missing project or mr iid")
	}
	return ev, nil
}
