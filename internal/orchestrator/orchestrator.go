// Package orchestrator drives one review end to end: fetch the PR and its
// diff, build the prompt, call the model, parse and filter the output, and
// hand the survivors to the comment manager. It also owns the incremental
// path, which reviews only the commits pushed since the last checkpoint.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"agnusai/internal/commenter"
	"agnusai/internal/config"
	"agnusai/internal/diff"
	"agnusai/internal/domain"
	"agnusai/internal/filter"
	"agnusai/internal/graph"
	"agnusai/internal/llm"
	"agnusai/internal/metrics"
	"agnusai/internal/parser"
	"agnusai/internal/prompt"
	"agnusai/internal/storage"
	"agnusai/internal/tickets"
	"agnusai/internal/vcs"
)

// Orchestrator runs reviews against one platform adapter. It is safe for
// concurrent use; reviews of different PRs may run in parallel.
type Orchestrator struct {
	cfg     *config.Config
	adapter vcs.Adapter
	caps    vcs.Capabilities
	model   llm.Client
	poster  *commenter.Manager
	engine  *filter.Engine
	skills  *prompt.SkillLoader

	// Optional collaborators. Nil disables the feature.
	graph   graph.Provider
	tickets []tickets.Adapter
	store   storage.Repository

	now func() time.Time
}

// New wires an orchestrator. graphProvider, ticketAdapters, and store may be
// nil or empty; the corresponding prompt sections and persistence are then
// skipped.
func New(cfg *config.Config, adapter vcs.Adapter, model llm.Client, poster *commenter.Manager,
	graphProvider graph.Provider, ticketAdapters []tickets.Adapter, store storage.Repository) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		adapter: adapter,
		caps:    vcs.Probe(adapter),
		model:   model,
		poster:  poster,
		engine: filter.NewEngine(filter.Options{
			MaxComments:        cfg.Review.MaxComments,
			MaxCommentsPerFile: cfg.Review.MaxCommentsPerFile,
			SkipDrafts:         cfg.Review.SkipDrafts,
			LenientOnTests:     cfg.Review.LenientOnTests,
			SkipPatterns:       cfg.Review.SkipPatterns,
			UpdateExisting:     cfg.Review.UpdateExistingComments,
		}),
		skills:  prompt.NewSkillLoader(cfg.Prompts.SkillsDir),
		graph:   graphProvider,
		tickets: ticketAdapters,
		store:   store,
		now:     time.Now,
	}
}

// Outcome is the result of one review run.
type Outcome struct {
	PR          *domain.PullRequest
	Result      *domain.ReviewResult
	Report      *commenter.Report
	Incremental bool
	Aborted     bool
	AbortReason string
	Warnings    []string
}

// Review runs a full review of the PR: the whole diff, every changed file.
func (o *Orchestrator) Review(ctx context.Context, repo string, number int) (*Outcome, error) {
	start := o.now()
	out, err := o.review(ctx, repo, number)
	o.record(ctx, "full", start, out, err)
	return out, err
}

func (o *Orchestrator) review(ctx context.Context, repo string, number int) (*Outcome, error) {
	pr, err := o.adapter.GetPR(ctx, repo, number)
	if err != nil {
		return nil, fmt.Errorf("fetch pr %s/%d: %w", repo, number, err)
	}

	d, err := o.adapter.GetDiff(ctx, pr)
	if err != nil {
		return nil, fmt.Errorf("fetch diff for %s: %w", pr.Key(), err)
	}
	files, err := o.adapter.GetFiles(ctx, pr)
	if err != nil {
		slog.Warn("listing changed files failed, using diff paths", "pr", pr.Key(), "error", err)
		files = d.Paths()
	}

	return o.runPipeline(ctx, pr, d, files, "", false)
}

// runPipeline is the shared tail of both review modes: prompt, model, parse,
// filter, post. summaryPrefix is prepended to the model's summary;
// skipCheckpoint suppresses the checkpoint write after posting.
func (o *Orchestrator) runPipeline(ctx context.Context, pr *domain.PullRequest, d *diff.Diff,
	files []string, summaryPrefix string, skipCheckpoint bool) (*Outcome, error) {

	out := &Outcome{PR: pr, Incremental: summaryPrefix != ""}

	existing, priorBodies := o.loadExisting(ctx, pr, out)

	in := &prompt.Input{
		PR:           pr,
		Diff:         d,
		Skills:       o.loadSkills(files, out),
		Tickets:      o.fetchTickets(ctx, pr, out),
		Graph:        o.graphContext(ctx, pr, files),
		PriorBodies:  priorBodies,
		MaxDiffChars: o.cfg.Review.MaxDiffChars,
	}
	built := prompt.Build(in)
	if built.Truncated {
		out.Warnings = append(out.Warnings,
			fmt.Sprintf("diff truncated in prompt, %d files omitted", built.OmittedFiles))
	}

	raw, err := o.model.Complete(ctx, built.System, built.User)
	if err != nil {
		metrics.ModelCalls.WithLabelValues(o.model.Name(), "error").Inc()
		return out, fmt.Errorf("model call for %s: %w", pr.Key(), err)
	}
	metrics.ModelCalls.WithLabelValues(o.model.Name(), "ok").Inc()

	parsed := parser.Parse(raw)
	out.Warnings = append(out.Warnings, parsed.Warnings...)

	kept, dropped := filter.ApplyPrecision(parsed.Review.Comments, o.cfg.Review.PrecisionThreshold)
	for range dropped {
		metrics.CommentsFiltered.WithLabelValues("low_confidence").Inc()
	}

	kept = o.resolvePaths(kept, d, out)

	fres := o.engine.Run(&filter.Input{
		Comments:      kept,
		Existing:      existing,
		Diff:          d,
		PR:            pr,
		RateRemaining: o.rateRemaining(ctx),
	})
	out.Warnings = append(out.Warnings, fres.Warnings...)
	for _, fc := range fres.Filtered {
		metrics.CommentsFiltered.WithLabelValues(string(fc.Reason)).Inc()
	}
	if fres.Aborted {
		out.Aborted = true
		out.AbortReason = string(fres.AbortReason)
		slog.Info("review aborted", "pr", pr.Key(), "reason", fres.AbortReason)
		return out, nil
	}

	result := &domain.ReviewResult{
		Summary:  summaryPrefix + parsed.Review.Summary,
		Comments: fres.Kept,
		Verdict:  parsed.Review.Verdict,
	}
	if themes := renderThemes(filter.Consolidate(fres.Kept)); themes != "" {
		result.Summary += themes
	}
	if len(fres.SkippedFiles) > 0 {
		result.Summary += "\n\n*Skipped files:* " + strings.Join(fres.SkippedFiles, ", ")
	}
	out.Result = result

	report, err := o.poster.Post(ctx, pr, result, d, files, skipCheckpoint)
	if report != nil {
		out.Report = report
		out.Warnings = append(out.Warnings, report.Warnings...)
	}
	if err != nil {
		return out, fmt.Errorf("post review for %s: %w", pr.Key(), err)
	}
	return out, nil
}

// loadExisting fetches the PR's current inline comments for deduplication and
// the bodies already authored by us for the prompt's repeat-avoidance section.
func (o *Orchestrator) loadExisting(ctx context.Context, pr *domain.PullRequest, out *Outcome) ([]domain.DetailedReviewComment, []string) {
	if !o.caps.Deduplication {
		out.Warnings = append(out.Warnings, "platform adapter cannot list comments, deduplication disabled")
		return nil, nil
	}
	ded := o.adapter.(vcs.DeduplicationSupport)
	existing, err := ded.GetReviewComments(ctx, pr)
	if err != nil {
		slog.Warn("listing review comments failed, deduplication degraded", "pr", pr.Key(), "error", err)
		out.Warnings = append(out.Warnings, "could not list existing comments, duplicates possible")
		return nil, nil
	}
	var prior []string
	for _, c := range existing {
		if c.InReplyToID == 0 && domain.IsAuthored(c.Body) {
			prior = append(prior, c.Body)
		}
	}
	return existing, prior
}

func (o *Orchestrator) loadSkills(files []string, out *Outcome) []string {
	if o.cfg.Prompts.SkillsDir == "" {
		return nil
	}
	texts, err := o.skills.Load(files)
	if err != nil {
		slog.Warn("loading review skills failed", "dir", o.cfg.Prompts.SkillsDir, "error", err)
		out.Warnings = append(out.Warnings, "review skills unavailable")
		return nil
	}
	return texts
}

func (o *Orchestrator) fetchTickets(ctx context.Context, pr *domain.PullRequest, out *Outcome) []tickets.Ticket {
	if len(o.tickets) == 0 {
		return nil
	}
	refs, err := o.adapter.GetLinkedTickets(ctx, pr)
	if err != nil {
		slog.Warn("linked ticket lookup failed", "pr", pr.Key(), "error", err)
	}
	refs = append(refs, tickets.ExtractRefs(pr.Title, pr.Description, pr.SourceBranch)...)
	fetched := tickets.FetchAll(ctx, o.tickets, refs)
	if len(refs) > 0 && len(fetched) == 0 {
		out.Warnings = append(out.Warnings, "ticket references found but none could be fetched")
	}
	return fetched
}

func (o *Orchestrator) graphContext(ctx context.Context, pr *domain.PullRequest, files []string) *graph.ReviewContext {
	if o.graph == nil {
		return nil
	}
	rc, err := o.graph.Context(ctx, pr, files)
	if err != nil {
		slog.Warn("code graph lookup failed", "pr", pr.Key(), "error", err)
		return nil
	}
	return rc
}

// resolvePaths normalizes each comment's path and drops comments pointing at
// files outside the diff. The drop is silent toward the PR; only a warning
// is recorded.
func (o *Orchestrator) resolvePaths(comments []domain.ReviewComment, d *diff.Diff, out *Outcome) []domain.ReviewComment {
	resolved := comments[:0]
	for _, c := range comments {
		c.Path = domain.NormalizePath(c.Path)
		if d.File(c.Path) == nil {
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("comment on %s:%d dropped, file not in diff", c.Path, c.Line))
			metrics.CommentsFiltered.WithLabelValues("path_not_in_diff").Inc()
			continue
		}
		resolved = append(resolved, c)
	}
	return resolved
}

func (o *Orchestrator) rateRemaining(ctx context.Context) int {
	if !o.caps.RateProbe {
		return -1
	}
	remaining, err := o.adapter.(vcs.RateLimitProbe).RateRemaining(ctx)
	if err != nil {
		slog.Warn("rate limit probe failed", "error", err)
		return -1
	}
	return remaining
}

// renderThemes turns consolidated comment groups into a summary section.
func renderThemes(groups []filter.ConsolidatedGroup) string {
	if len(groups) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n### Recurring themes\n")
	for _, g := range groups {
		var locs []string
		for _, c := range g.Comments {
			locs = append(locs, fmt.Sprintf("%s:%d", c.Path, c.Line))
		}
		fmt.Fprintf(&b, "- %s (%s)\n", strings.TrimSpace(g.Comments[0].Body), strings.Join(locs, ", "))
	}
	return b.String()
}

// record writes metrics and the best-effort history row for one run.
func (o *Orchestrator) record(ctx context.Context, mode string, start time.Time, out *Outcome, err error) {
	status := "success"
	switch {
	case err != nil:
		status = "error"
	case out != nil && out.Aborted:
		status = "aborted"
	}
	metrics.ReviewsTotal.WithLabelValues(mode, status).Inc()
	metrics.ReviewDuration.WithLabelValues(mode).Observe(o.now().Sub(start).Seconds())

	if o.store == nil || out == nil || out.PR == nil {
		return
	}
	rec := &storage.ReviewRecord{
		ID:          uuid.NewString(),
		PullRequest: out.PR,
		Result:      out.Result,
		CreatedAt:   o.now(),
		DurationMs:  o.now().Sub(start).Milliseconds(),
		Status:      status,
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.Storage.Timeout)
	defer cancel()
	if serr := o.store.SaveReview(sctx, rec); serr != nil {
		slog.Warn("saving review record failed", "pr", out.PR.Key(), "error", serr)
	}
}
