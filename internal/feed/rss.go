package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/mmcdole/gofeed"

	"episoded/internal/domain"
)

// RSSSource fetches a torrent RSS feed over HTTP and maps its items to
// candidates. Items without a usable download link are skipped.
type RSSSource struct {
	feedURL string
	http    *http.Client
	parser  *gofeed.Parser
}

func NewRSSSource(feedURL string) *RSSSource {
	return &RSSSource{
		feedURL: feedURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		parser:  gofeed.NewParser(),
	}
}

func (s *RSSSource) Fetch(ctx context.Context) ([]domain.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: unexpected status %d from %s", resp.StatusCode, s.feedURL)
	}

	parsed, err := s.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		candidate, err := candidateFromItem(item)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

func candidateFromItem(item *gofeed.Item) (domain.Candidate, error) {
	sourceURL, sizeBytes := downloadLink(item)
	if sourceURL == "" {
		return domain.Candidate{}, fmt.Errorf("feed item %q has no download link", item.Title)
	}

	hash, err := ContentHash(sourceURL)
	if err != nil {
		return domain.Candidate{}, fmt.Errorf("derive content hash: %w", err)
	}

	publishedAt := time.Now().UTC()
	if item.PublishedParsed != nil {
		publishedAt = item.PublishedParsed.UTC()
	}

	return domain.Candidate{
		Title:       strings.TrimSpace(item.Title),
		ContentHash: hash,
		SizeBytes:   sizeBytes,
		PublishedAt: publishedAt,
		SourceURL:   sourceURL,
	}, nil
}

// downloadLink prefers a torrent/magnet enclosure and falls back to the item
// link. The enclosure length, when present, is the expected payload size.
func downloadLink(item *gofeed.Item) (string, int64) {
	for _, enclosure := range item.Enclosures {
		if enclosure == nil || enclosure.URL == "" {
			continue
		}
		if enclosure.Type != "" && !strings.Contains(enclosure.Type, "bittorrent") {
			continue
		}
		var size int64
		if enclosure.Length != "" {
			size, _ = strconv.ParseInt(enclosure.Length, 10, 64)
		}
		return enclosure.URL, size
	}
	return item.Link, 0
}

// ContentHash derives the dedup key from a download link: the infohash for
// magnet links, otherwise the basename of the URL path.
func ContentHash(sourceURL string) (string, error) {
	if strings.HasPrefix(sourceURL, "magnet:") {
		magnet, err := metainfo.ParseMagnetUri(sourceURL)
		if err != nil {
			return "", fmt.Errorf("parse magnet uri: %w", err)
		}
		return magnet.InfoHash.HexString(), nil
	}

	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return "", fmt.Errorf("parse source url: %w", err)
	}
	base := path.Base(parsed.Path)
	base = strings.TrimSuffix(base, ".torrent")
	if base == "" || base == "." || base == "/" {
		return "", fmt.Errorf("source url %q has no usable basename", sourceURL)
	}
	return base, nil
}
