// -----------------------------------------------------------------------
// Last Modified: Saturday, 18th April 2026 8:12:09 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

// Package metadata fills display titles for videos first seen through an
// alternate YouTube id. Enrichment is asynchronous and best-effort: any
// failure is logged and dropped, and status fields are never touched.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
)

const (
	defaultBaseURL        = "https://www.youtube.com"
	defaultRequestTimeout = 10 * time.Second
)

// Enricher resolves video titles through the oEmbed endpoint, falling
// back to scraping the watch page when oEmbed is unavailable.
type Enricher struct {
	config *common.MetadataConfig
	store  interfaces.StatusStore
	client *http.Client
	logger arbor.ILogger
}

// NewEnricher creates a metadata enricher backed by the given store.
func NewEnricher(config *common.MetadataConfig, store interfaces.StatusStore, logger arbor.ILogger) *Enricher {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Enricher{
		config: config,
		store:  store,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// EnrichAsync resolves and stores the title in the background. No-op when
// enrichment is disabled.
func (e *Enricher) EnrichAsync(videoID, youtubeID string) {
	if !e.config.Enabled || videoID == "" || youtubeID == "" {
		return
	}
	common.SafeGo(e.logger, "metadata-enrich", func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.client.Timeout)
		defer cancel()
		if err := e.Enrich(ctx, videoID, youtubeID); err != nil {
			e.logger.Debug().
				Err(err).
				Str("video_id", videoID).
				Str("youtube_id", youtubeID).
				Msg("Title enrichment failed")
		}
	})
}

// Enrich resolves the title synchronously and stores it. Exposed for
// callers that want the result, including tests.
func (e *Enricher) Enrich(ctx context.Context, videoID, youtubeID string) error {
	title, err := e.fetchOEmbedTitle(ctx, youtubeID)
	if err != nil || title == "" {
		if err != nil {
			e.logger.Debug().
				Err(err).
				Str("youtube_id", youtubeID).
				Msg("oEmbed lookup failed, scraping watch page")
		}
		title, err = e.scrapeWatchTitle(ctx, youtubeID)
		if err != nil {
			return err
		}
	}
	if title == "" {
		return fmt.Errorf("no title found for %s", youtubeID)
	}

	if _, err := e.store.SetTitle(ctx, videoID, title); err != nil {
		return fmt.Errorf("failed to store title: %w", err)
	}
	e.logger.Debug().
		Str("video_id", videoID).
		Str("title", title).
		Msg("Video title enriched")
	return nil
}

func (e *Enricher) baseURL() string {
	if e.config.BaseURL != "" {
		return strings.TrimRight(e.config.BaseURL, "/")
	}
	return defaultBaseURL
}

// fetchOEmbedTitle asks the oEmbed endpoint, which returns clean JSON and
// no consent interstitials.
func (e *Enricher) fetchOEmbedTitle(ctx context.Context, youtubeID string) (string, error) {
	watchURL := fmt.Sprintf("%s/watch?v=%s", e.baseURL(), url.QueryEscape(youtubeID))
	endpoint := fmt.Sprintf("%s/oembed?url=%s&format=json", e.baseURL(), url.QueryEscape(watchURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("oembed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oembed returned %d", resp.StatusCode)
	}

	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode oembed response: %w", err)
	}
	return strings.TrimSpace(body.Title), nil
}

// scrapeWatchTitle pulls the watch page and reads its <title>, dropping
// the site suffix.
func (e *Enricher) scrapeWatchTitle(ctx context.Context, youtubeID string) (string, error) {
	watchURL := fmt.Sprintf("%s/watch?v=%s", e.baseURL(), url.QueryEscape(youtubeID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, watchURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("watch page request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("watch page returned %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse watch page: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	title = strings.TrimSpace(strings.TrimSuffix(title, "- YouTube"))
	return title, nil
}
