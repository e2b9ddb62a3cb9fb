package repository

import (
	"context"
	"errors"

	"episoded/internal/domain"
)

var (
	// ErrNotFound is returned when an episode does not exist.
	ErrNotFound = errors.New("episode not found")
	// ErrDuplicateHash is returned when an episode with the same content hash already exists.
	ErrDuplicateHash = errors.New("episode with content hash already exists")
	// ErrInvalidTransition is returned when a status update finds the episode
	// outside the expected source status. Terminal statuses are never left.
	ErrInvalidTransition = errors.New("episode not in expected status")
)

// EpisodeRepository exposes persistence operations for Episode records.
// Status mutations are guarded: each takes effect only from its expected
// source status so concurrent writers cannot reorder the lifecycle.
type EpisodeRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, episode *domain.Episode) (int64, error)
	Get(ctx context.Context, id int64) (*domain.Episode, error)
	GetByHash(ctx context.Context, contentHash string) (*domain.Episode, error)
	List(ctx context.Context) ([]domain.Episode, error)
	ListByStatuses(ctx context.Context, statuses ...domain.EpisodeStatus) ([]domain.Episode, error)
	MarkIgnored(ctx context.Context, id int64) error
	MarkDownloading(ctx context.Context, id int64, gid string) error
	MarkFailed(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64) error
	UpdateGID(ctx context.Context, id int64, gid string) error
}
