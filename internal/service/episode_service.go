package service

import (
	"context"
	"errors"

	"episoded/internal/domain"
	"episoded/internal/repository"
)

// EpisodeService coordinates episode level operations backed by the repository.
type EpisodeService interface {
	CreateEpisode(ctx context.Context, candidate domain.Candidate) (*domain.Episode, error)
	GetEpisode(ctx context.Context, id int64) (*domain.Episode, error)
	FindByHash(ctx context.Context, contentHash string) (*domain.Episode, error)
	ListEpisodes(ctx context.Context) ([]domain.Episode, error)
	ListByStatuses(ctx context.Context, statuses ...domain.EpisodeStatus) ([]domain.Episode, error)
	MarkIgnored(ctx context.Context, id int64) error
	MarkDownloading(ctx context.Context, id int64, gid string) error
	MarkFailed(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64) error
	UpdateGID(ctx context.Context, id int64, gid string) error
}

type episodeService struct {
	episodes repository.EpisodeRepository
}

func NewEpisodeService(episodes repository.EpisodeRepository) EpisodeService {
	return &episodeService{episodes: episodes}
}

func (s *episodeService) CreateEpisode(ctx context.Context, candidate domain.Candidate) (*domain.Episode, error) {
	if candidate.ContentHash == "" {
		return nil, errors.New("content hash is required")
	}
	if candidate.SourceURL == "" {
		return nil, errors.New("source url is required")
	}

	episode := &domain.Episode{
		Title:       candidate.Title,
		ContentHash: candidate.ContentHash,
		SizeBytes:   candidate.SizeBytes,
		PublishedAt: candidate.PublishedAt,
		SourceURL:   candidate.SourceURL,
		Status:      domain.EpisodeStatusNotStarted,
	}

	if _, err := s.episodes.Create(ctx, episode); err != nil {
		return nil, err
	}
	return episode, nil
}

func (s *episodeService) GetEpisode(ctx context.Context, id int64) (*domain.Episode, error) {
	return s.episodes.Get(ctx, id)
}

func (s *episodeService) FindByHash(ctx context.Context, contentHash string) (*domain.Episode, error) {
	return s.episodes.GetByHash(ctx, contentHash)
}

func (s *episodeService) ListEpisodes(ctx context.Context) ([]domain.Episode, error) {
	return s.episodes.List(ctx)
}

func (s *episodeService) ListByStatuses(ctx context.Context, statuses ...domain.EpisodeStatus) ([]domain.Episode, error) {
	return s.episodes.ListByStatuses(ctx, statuses...)
}

func (s *episodeService) MarkIgnored(ctx context.Context, id int64) error {
	return s.episodes.MarkIgnored(ctx, id)
}

func (s *episodeService) MarkDownloading(ctx context.Context, id int64, gid string) error {
	return s.episodes.MarkDownloading(ctx, id, gid)
}

func (s *episodeService) MarkFailed(ctx context.Context, id int64) error {
	return s.episodes.MarkFailed(ctx, id)
}

func (s *episodeService) MarkCompleted(ctx context.Context, id int64) error {
	return s.episodes.MarkCompleted(ctx, id)
}

func (s *episodeService) UpdateGID(ctx context.Context, id int64, gid string) error {
	return s.episodes.UpdateGID(ctx, id, gid)
}
