package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"episoded/internal/domain"
	"episoded/internal/repository"
	"episoded/internal/service"
)

// Submitter hands an admitted episode to the download orchestrator.
type Submitter interface {
	Submit(ctx context.Context, episode *domain.Episode) error
}

// Gate admits feed candidates into the episode store. Admission happens
// exactly once per distinct content hash: re-ingested duplicates are no-ops,
// and the disk space check never re-runs on later ticks.
type Gate struct {
	episodes    service.EpisodeService
	submitter   Submitter
	downloadDir string
	freeSpace   func(string) (int64, error)
	logger      *logrus.Logger
}

func NewGate(episodes service.EpisodeService, submitter Submitter, downloadDir string, logger *logrus.Logger) *Gate {
	if logger == nil {
		logger = logrus.New()
	}
	return &Gate{
		episodes:    episodes,
		submitter:   submitter,
		downloadDir: downloadDir,
		freeSpace:   FreeSpace,
		logger:      logger,
	}
}

// SetFreeSpaceFunc overrides the disk probe. Intended for tests.
func (g *Gate) SetFreeSpaceFunc(fn func(string) (int64, error)) {
	g.freeSpace = fn
}

// AdmitAll runs Admit for each candidate, isolating failures so one bad
// candidate cannot block the rest of the batch.
func (g *Gate) AdmitAll(ctx context.Context, candidates []domain.Candidate) {
	for i := range candidates {
		if err := g.Admit(ctx, candidates[i]); err != nil {
			g.logger.WithField("content_hash", candidates[i].ContentHash).
				WithError(err).Error("admit candidate")
		}
	}
}

// Admit dedupes the candidate by content hash, creates the episode record,
// applies the disk space admission policy, and hands the episode off for
// submission. Known candidates are skipped without side effects.
func (g *Gate) Admit(ctx context.Context, candidate domain.Candidate) error {
	existing, err := g.episodes.FindByHash(ctx, candidate.ContentHash)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("look up candidate: %w", err)
	}
	if existing != nil {
		g.logger.WithField("content_hash", candidate.ContentHash).Debug("episode already known, skipping")
		return nil
	}

	episode, err := g.episodes.CreateEpisode(ctx, candidate)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateHash) {
			// raced with a concurrent admission of the same item
			return nil
		}
		return fmt.Errorf("create episode: %w", err)
	}

	free, err := g.freeSpace(g.downloadDir)
	if err != nil {
		return fmt.Errorf("check free space: %w", err)
	}
	if candidate.SizeBytes > free {
		g.logger.WithFields(logrus.Fields{
			"episode_id": episode.ID,
			"size_bytes": candidate.SizeBytes,
			"free_bytes": free,
		}).Warn("insufficient disk space, ignoring episode")
		if err := g.episodes.MarkIgnored(ctx, episode.ID); err != nil {
			return fmt.Errorf("mark ignored: %w", err)
		}
		return nil
	}

	return g.submitter.Submit(ctx, episode)
}
