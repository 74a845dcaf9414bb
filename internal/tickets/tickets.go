// Package tickets extracts issue-tracker references from PR text. Fetching
// ticket bodies is delegated to optional adapters; extraction alone needs no
// network access.
package tickets

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Ticket is a fetched issue-tracker item included in the review prompt.
type Ticket struct {
	ID     string
	Title  string
	Body   string
	Status string
	URL    string
}

// Adapter fetches ticket details for one tracker. Implementations are
// optional; extraction works without any.
type Adapter interface {
	// Fetch returns the ticket for id, or nil when the tracker does not
	// recognize it.
	Fetch(ctx context.Context, id string) (*Ticket, error)
}

// JIRA-style keys (PROJ-123) and GitHub issue references (#123, GH-123).
var (
	jiraKeyRegex  = regexp.MustCompile(`\b[A-Z][A-Z0-9]+-\d+\b`)
	issueRefRegex = regexp.MustCompile(`(?:\B#|\bGH-)(\d+)\b`)
)

// ExtractRefs returns the unique ticket references found across the given
// texts (title, description, branch name), in first-seen order.
func ExtractRefs(texts ...string) []string {
	seen := make(map[string]bool)
	var refs []string
	add := func(r string) {
		if !seen[r] {
			seen[r] = true
			refs = append(refs, r)
		}
	}
	for _, t := range texts {
		for _, m := range jiraKeyRegex.FindAllString(t, -1) {
			// GH-123 is an issue reference, not a tracker key.
			if strings.HasPrefix(m, "GH-") {
				continue
			}
			add(m)
		}
		for _, m := range issueRefRegex.FindAllStringSubmatch(t, -1) {
			add("#" + m[1])
		}
	}
	return refs
}

// FetchAll resolves refs across the given adapters, best-effort. Refs are
// fetched concurrently; errors and unknown refs are dropped, and the result
// is sorted by ID for stable prompts.
func FetchAll(ctx context.Context, adapters []Adapter, refs []string) []Ticket {
	var (
		mu  sync.Mutex
		out []Ticket
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, ref := range refs {
		g.Go(func() error {
			for _, a := range adapters {
				t, err := a.Fetch(gctx, ref)
				if err != nil || t == nil {
					continue
				}
				mu.Lock()
				out = append(out, *t)
				mu.Unlock()
				return nil
			}
			return nil
		})
	}
	g.Wait()
	sort.Slice(out, func(i, j int) bool { return strings.Compare(out[i].ID, out[j].ID) < 0 })
	return out
}
