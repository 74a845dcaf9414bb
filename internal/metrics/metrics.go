package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReviewsTotal counts completed reviews, labeled by mode and status.
	ReviewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_runs_total",
		Help: "The total number of review runs",
	}, []string{"mode", "status"}) // mode: full, incremental; status: success, error, aborted

	// ReviewDuration measures end-to-end review time.
	ReviewDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "review_duration_seconds",
		Help:    "Time taken to run one review",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	// CommentsPosted counts inline comments successfully posted.
	CommentsPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_comments_posted_total",
		Help: "Total number of inline comments posted",
	}, []string{"platform"})

	// CommentsFiltered counts comments dropped before posting, by reason.
	CommentsFiltered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_comments_filtered_total",
		Help: "Total number of comments dropped by the filter chain",
	}, []string{"reason"})

	// CommentPostFailures counts failed inline comment posts.
	CommentPostFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_comment_failures_total",
		Help: "Total number of failed comment posts",
	}, []string{"platform"})

	// ModelCalls counts model completions, labeled by backend and status.
	ModelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_model_calls_total",
		Help: "The total number of model completion calls",
	}, []string{"backend", "status"})

	// WebhookRequests counts incoming webhooks, labeled by status.
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_webhook_requests_total",
		Help: "The total number of received webhook requests",
	}, []string{"status"}) // status: accepted, dropped, invalid, ignored

	// PayloadParseFailures counts webhook payloads that failed to parse.
	PayloadParseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "review_webhook_parse_failures_total",
		Help: "Total number of webhook payloads that failed to parse",
	}, []string{"platform"})
)
