package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = "episoded/0.1"

// Notifier is the outbound message sink. Rendering is intentionally minimal:
// an episode identity plus the public link where it can be fetched.
type Notifier interface {
	EpisodeCompleted(ctx context.Context, title, link string) error
}

// NewWebhook returns a notifier that POSTs ntfy-style messages to the given
// endpoint, or a noop notifier when no endpoint is configured.
func NewWebhook(endpoint string) Notifier {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return noopNotifier{}
	}
	return &webhookNotifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookNotifier struct {
	endpoint string
	client   *http.Client
}

func (n *webhookNotifier) EpisodeCompleted(ctx context.Context, title, link string) error {
	message := fmt.Sprintf("Episode ready: %s\n%s", strings.TrimSpace(title), link)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("build notify request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", "Episode Ready")
	req.Header.Set("Tags", "episode,completed")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("notify endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopNotifier struct{}

func (noopNotifier) EpisodeCompleted(context.Context, string, string) error { return nil }
