package domain

import "time"

// Candidate is a feed-derived episode candidate handed to the ingestion gate.
// Duplicates (by ContentHash) are expected across ticks and must be ignored.
type Candidate struct {
	Title       string
	ContentHash string
	SizeBytes   int64
	PublishedAt time.Time
	SourceURL   string
}
