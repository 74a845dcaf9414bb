// Package graph defines the optional symbol-graph context boundary. An
// external indexer supplies the data; this package only carries and renders
// it. Absence is silent.
package graph

import (
	"context"
	"fmt"
	"strings"

	"agnusai/internal/domain"
)

// Symbol is one symbol the PR touches or relates to.
type Symbol struct {
	Name string
	Kind string // function, method, type, ...
	Path string
	Line int
}

// ReviewContext is the graph slice relevant to one review: the changed
// symbols, their direct and transitive callers, and optional semantic
// neighbors.
type ReviewContext struct {
	ChangedSymbols    []Symbol
	DirectCallers     []Symbol // one hop
	TransitiveCallers []Symbol // two hops
	SemanticNeighbors []Symbol
}

// Provider supplies graph context for a PR. Implementations are external;
// a nil Provider disables the section entirely.
type Provider interface {
	Context(ctx context.Context, pr *domain.PullRequest, files []string) (*ReviewContext, error)
}

// IsEmpty reports whether the context carries nothing worth rendering.
func (rc *ReviewContext) IsEmpty() bool {
	return rc == nil ||
		len(rc.ChangedSymbols)+len(rc.DirectCallers)+len(rc.TransitiveCallers)+len(rc.SemanticNeighbors) == 0
}

// Render formats the context as a prompt section.
func (rc *ReviewContext) Render() string {
	if rc.IsEmpty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Code Graph Context\n\n")
	writeSymbols(&b, "Changed symbols", rc.ChangedSymbols)
	writeSymbols(&b, "Direct callers (may be affected)", rc.DirectCallers)
	writeSymbols(&b, "Transitive callers", rc.TransitiveCallers)
	writeSymbols(&b, "Semantically related", rc.SemanticNeighbors)
	return b.String()
}

func writeSymbols(b *strings.Builder, title string, syms []Symbol) {
	if len(syms) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, s := range syms {
		fmt.Fprintf(b, "- %s %s (%s:%d)\n", s.Kind, s.Name, s.Path, s.Line)
	}
	b.WriteString("\n")
}
