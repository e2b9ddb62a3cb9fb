package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"episoded/internal/domain"
	"episoded/internal/repository"
	"episoded/internal/repository/sqlite"
)

func newRepo(t *testing.T) repository.EpisodeRepository {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "episodes.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewEpisodeRepository(db)
	if err := repo.Init(context.Background()); err != nil {
		t.Fatalf("init repo: %v", err)
	}
	return repo
}

func sampleEpisode(hash string) *domain.Episode {
	return &domain.Episode{
		Title:       "Show S01E01",
		ContentHash: hash,
		SizeBytes:   100,
		PublishedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		SourceURL:   "https://example.com/torrents/" + hash + ".torrent",
		Status:      domain.EpisodeStatusNotStarted,
	}
}

func TestCreateAssignsIDAndDefaults(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	episode := sampleEpisode("abc")
	episode.Status = ""
	id, err := repo.Create(ctx, episode)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.EpisodeStatusNotStarted {
		t.Fatalf("expected not_started, got %s", got.Status)
	}
	if got.ContentHash != "abc" {
		t.Fatalf("unexpected hash %q", got.ContentHash)
	}
}

func TestCreateRejectsDuplicateHash(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	if _, err := repo.Create(ctx, sampleEpisode("abc")); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := repo.Create(ctx, sampleEpisode("abc"))
	if !errors.Is(err, repository.ErrDuplicateHash) {
		t.Fatalf("expected ErrDuplicateHash, got %v", err)
	}

	episodes, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(episodes) != 1 {
		t.Fatalf("expected 1 episode, got %d", len(episodes))
	}
}

func TestGetByHash(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	id, err := repo.Create(ctx, sampleEpisode("abc"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetByHash(ctx, "abc")
	if err != nil {
		t.Fatalf("get by hash: %v", err)
	}
	if got.ID != id {
		t.Fatalf("expected id %d, got %d", id, got.ID)
	}

	if _, err := repo.GetByHash(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	id, err := repo.Create(ctx, sampleEpisode("abc"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.MarkDownloading(ctx, id, "g1"); err != nil {
		t.Fatalf("mark downloading: %v", err)
	}
	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.EpisodeStatusDownloading || got.GID != "g1" {
		t.Fatalf("unexpected state %s gid %q", got.Status, got.GID)
	}

	if err := repo.UpdateGID(ctx, id, "g2"); err != nil {
		t.Fatalf("update gid: %v", err)
	}
	got, _ = repo.Get(ctx, id)
	if got.GID != "g2" || got.Status != domain.EpisodeStatusDownloading {
		t.Fatalf("gid rewrite broke state: %s gid %q", got.Status, got.GID)
	}

	if err := repo.MarkCompleted(ctx, id); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	got, _ = repo.Get(ctx, id)
	if got.Status != domain.EpisodeStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.GID != "" {
		t.Fatalf("expected gid cleared on terminal status, got %q", got.GID)
	}
}

func TestTerminalStatusIsNeverLeft(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	id, err := repo.Create(ctx, sampleEpisode("abc"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.MarkIgnored(ctx, id); err != nil {
		t.Fatalf("mark ignored: %v", err)
	}

	if err := repo.MarkDownloading(ctx, id, "g1"); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := repo.MarkFailed(ctx, id); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := repo.UpdateGID(ctx, id, "g2"); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.EpisodeStatusIgnored {
		t.Fatalf("terminal status changed to %s", got.Status)
	}
}

func TestListByStatuses(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	first, _ := repo.Create(ctx, sampleEpisode("aaa"))
	second, _ := repo.Create(ctx, sampleEpisode("bbb"))
	if _, err := repo.Create(ctx, sampleEpisode("ccc")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.MarkDownloading(ctx, first, "g1"); err != nil {
		t.Fatalf("mark downloading: %v", err)
	}
	if err := repo.MarkDownloading(ctx, second, "g2"); err != nil {
		t.Fatalf("mark downloading: %v", err)
	}
	if err := repo.MarkFailed(ctx, second); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	downloading, err := repo.ListByStatuses(ctx, domain.EpisodeStatusDownloading)
	if err != nil {
		t.Fatalf("list by statuses: %v", err)
	}
	if len(downloading) != 1 || downloading[0].ID != first {
		t.Fatalf("unexpected downloading set: %+v", downloading)
	}

	none, err := repo.ListByStatuses(ctx)
	if err != nil {
		t.Fatalf("list by statuses: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected empty result, got %d", len(none))
	}
}
