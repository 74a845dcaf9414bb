// Package storage persists review history. Persistence is best-effort: the
// PR's comment stream is the source of truth, the database only serves
// operator queries.
package storage

import (
	"context"
	"time"

	"agnusai/internal/domain"
)

// ReviewRecord is one completed (or aborted) review run.
type ReviewRecord struct {
	ID          string               `json:"id"`
	PullRequest *domain.PullRequest  `json:"pull_request"`
	Result      *domain.ReviewResult `json:"result"`
	CreatedAt   time.Time            `json:"created_at"`
	DurationMs  int64                `json:"duration_ms"`
	Status      string               `json:"status"` // success, aborted, error
}

// Repository stores and retrieves review records.
type Repository interface {
	SaveReview(ctx context.Context, record *ReviewRecord) error
	GetReview(ctx context.Context, id string) (*ReviewRecord, error)
	ListReviewsByPR(ctx context.Context, platform, repo string, number int) ([]*ReviewRecord, error)
	ListRecentReviews(ctx context.Context, limit int) ([]*ReviewRecord, error)
	Close() error
}
