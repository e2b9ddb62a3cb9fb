package domain

import "time"

type EpisodeStatus string

const (
	EpisodeStatusNotStarted  EpisodeStatus = "not_started"
	EpisodeStatusIgnored     EpisodeStatus = "ignored"
	EpisodeStatusDownloading EpisodeStatus = "downloading"
	EpisodeStatusFailed      EpisodeStatus = "failed"
	EpisodeStatusCompleted   EpisodeStatus = "completed"
)

// Terminal reports whether no further transition is allowed from s.
func (s EpisodeStatus) Terminal() bool {
	switch s {
	case EpisodeStatusIgnored, EpisodeStatusFailed, EpisodeStatusCompleted:
		return true
	}
	return false
}

// Episode is one trackable unit of download work discovered from the feed.
// ContentHash dedupes re-ingested feed items; GID is the aria2 job id and is
// only meaningful while the episode is downloading. aria2 replaces the gid
// when a magnet or torrent admission resolves into its data transfer job.
type Episode struct {
	ID          int64
	Title       string
	ContentHash string
	SizeBytes   int64
	PublishedAt time.Time
	SourceURL   string
	GID         string
	Status      EpisodeStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
