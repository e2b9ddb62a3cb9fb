package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"episoded/internal/domain"
	"episoded/internal/repository"
)

const (
	createEpisodesTable = `
CREATE TABLE IF NOT EXISTS episodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	published_at DATETIME NOT NULL,
	source_url TEXT NOT NULL,
	gid TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`
	createEpisodeIndexes = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_episodes_content_hash ON episodes(content_hash);
CREATE INDEX IF NOT EXISTS idx_episodes_status ON episodes(status);
CREATE INDEX IF NOT EXISTS idx_episodes_gid ON episodes(gid);
`

	episodeColumns = `id, title, content_hash, size_bytes, published_at, source_url, gid, status, created_at, updated_at`
)

type EpisodeRepository struct {
	db *sql.DB
}

func NewEpisodeRepository(db *sql.DB) repository.EpisodeRepository {
	return &EpisodeRepository{db: db}
}

func (r *EpisodeRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createEpisodesTable); err != nil {
		return fmt.Errorf("create episodes table: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, createEpisodeIndexes); err != nil {
		return fmt.Errorf("create episode indexes: %w", err)
	}
	return nil
}

func (r *EpisodeRepository) Create(ctx context.Context, episode *domain.Episode) (int64, error) {
	now := time.Now().UTC()
	episode.CreatedAt = now
	episode.UpdatedAt = now
	if episode.Status == "" {
		episode.Status = domain.EpisodeStatusNotStarted
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO episodes (title, content_hash, size_bytes, published_at, source_url, gid, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		episode.Title,
		episode.ContentHash,
		episode.SizeBytes,
		episode.PublishedAt.UTC(),
		episode.SourceURL,
		episode.GID,
		string(episode.Status),
		episode.CreatedAt,
		episode.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return 0, repository.ErrDuplicateHash
		}
		return 0, fmt.Errorf("insert episode: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	episode.ID = id
	return id, nil
}

func (r *EpisodeRepository) Get(ctx context.Context, id int64) (*domain.Episode, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+episodeColumns+`
FROM episodes
WHERE id=?`,
		id,
	)
	return scanEpisode(row)
}

func (r *EpisodeRepository) GetByHash(ctx context.Context, contentHash string) (*domain.Episode, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+episodeColumns+`
FROM episodes
WHERE content_hash=?`,
		contentHash,
	)
	return scanEpisode(row)
}

func (r *EpisodeRepository) List(ctx context.Context) ([]domain.Episode, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+episodeColumns+`
FROM episodes
ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer rows.Close()

	return collectEpisodes(rows)
}

func (r *EpisodeRepository) ListByStatuses(ctx context.Context, statuses ...domain.EpisodeStatus) ([]domain.Episode, error) {
	if len(statuses) == 0 {
		return []domain.Episode{}, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = string(status)
	}

	query := fmt.Sprintf(`
SELECT `+episodeColumns+`
FROM episodes
WHERE status IN (%s)
ORDER BY id ASC`, strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query episodes by status: %w", err)
	}
	defer rows.Close()

	return collectEpisodes(rows)
}

func (r *EpisodeRepository) MarkIgnored(ctx context.Context, id int64) error {
	return r.transition(ctx, id, domain.EpisodeStatusNotStarted, domain.EpisodeStatusIgnored, "")
}

func (r *EpisodeRepository) MarkDownloading(ctx context.Context, id int64, gid string) error {
	return r.transition(ctx, id, domain.EpisodeStatusNotStarted, domain.EpisodeStatusDownloading, gid)
}

func (r *EpisodeRepository) MarkFailed(ctx context.Context, id int64) error {
	return r.transition(ctx, id, domain.EpisodeStatusDownloading, domain.EpisodeStatusFailed, "")
}

func (r *EpisodeRepository) MarkCompleted(ctx context.Context, id int64) error {
	return r.transition(ctx, id, domain.EpisodeStatusDownloading, domain.EpisodeStatusCompleted, "")
}

// transition performs a guarded status update: it only takes effect while the
// row is still in the expected source status. The gid column is overwritten on
// every transition since a job id is only meaningful while downloading.
func (r *EpisodeRepository) transition(ctx context.Context, id int64, from, to domain.EpisodeStatus, gid string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE episodes
SET status=?, gid=?, updated_at=?
WHERE id=? AND status=?`,
		string(to),
		gid,
		time.Now().UTC(),
		id,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("update episode status: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("episode status rows affected: %w", err)
	}
	if aff == 0 {
		return repository.ErrInvalidTransition
	}
	return nil
}

func (r *EpisodeRepository) UpdateGID(ctx context.Context, id int64, gid string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE episodes
SET gid=?, updated_at=?
WHERE id=? AND status=?`,
		gid,
		time.Now().UTC(),
		id,
		string(domain.EpisodeStatusDownloading),
	)
	if err != nil {
		return fmt.Errorf("update episode gid: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("episode gid rows affected: %w", err)
	}
	if aff == 0 {
		return repository.ErrInvalidTransition
	}
	return nil
}

func collectEpisodes(rows *sql.Rows) ([]domain.Episode, error) {
	var episodes []domain.Episode
	for rows.Next() {
		episode, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, *episode)
	}
	return episodes, rows.Err()
}

func scanEpisode(scanner interface {
	Scan(dest ...any) error
}) (*domain.Episode, error) {
	var (
		episode     domain.Episode
		status      string
		publishedAt time.Time
		createdAt   time.Time
		updatedAt   time.Time
	)

	if err := scanner.Scan(
		&episode.ID,
		&episode.Title,
		&episode.ContentHash,
		&episode.SizeBytes,
		&publishedAt,
		&episode.SourceURL,
		&episode.GID,
		&status,
		&createdAt,
		&updatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan episode: %w", err)
	}

	episode.Status = domain.EpisodeStatus(status)
	episode.PublishedAt = publishedAt.UTC()
	episode.CreatedAt = createdAt.UTC()
	episode.UpdatedAt = updatedAt.UTC()

	return &episode, nil
}
