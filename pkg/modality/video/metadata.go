package video

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// videoMetadata is the normalized metadata shape, whichever source produced
// it.
type videoMetadata struct {
	VideoID      string    `json:"video_id"`
	Title        string    `json:"title"`
	ChannelID    string    `json:"channel_id"`
	ChannelTitle string    `json:"channel_title"`
	PlaylistID   string    `json:"playlist_id,omitempty"`
	Duration     int       `json:"duration_sec"`
	PublishedAt  time.Time `json:"published_at"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// fetchMetadata resolves metadata through the cache, then the data API, then
// the oembed endpoint. Whatever succeeds is cached.
func (h *Handler) fetchMetadata(ctx context.Context, videoID string) (videoMetadata, error) {
	if meta, ok := h.cachedMetadata(videoID); ok {
		h.deps.Monitor.CacheHit("video_metadata")
		return meta, nil
	}
	h.deps.Monitor.CacheMiss("video_metadata")

	meta, err := h.fetchFromAPI(ctx, videoID)
	if err != nil {
		h.logger.Debug("Metadata API fetch failed, trying oembed", "video_id", videoID, "error", err)
		meta, err = h.fetchFromOembed(ctx, videoID)
	}
	if err != nil {
		return videoMetadata{}, err
	}
	meta.FetchedAt = time.Now().UTC()
	h.cacheMetadata(meta)
	return meta, nil
}

func (h *Handler) metadataCachePath(videoID string) string {
	return filepath.Join(h.cacheDir, videoID+".json")
}

func (h *Handler) cachedMetadata(videoID string) (videoMetadata, bool) {
	raw, err := os.ReadFile(h.metadataCachePath(videoID))
	if err != nil {
		return videoMetadata{}, false
	}
	var meta videoMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return videoMetadata{}, false
	}
	return meta, true
}

func (h *Handler) cacheMetadata(meta videoMetadata) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if err := os.MkdirAll(h.cacheDir, 0o755); err != nil {
		return
	}
	if err := os.WriteFile(h.metadataCachePath(meta.VideoID), raw, 0o644); err != nil {
		h.logger.Warn("Metadata cache write failed", "video_id", meta.VideoID, "error", err)
	}
}

type dataAPIResponse struct {
	Items []struct {
		Snippet struct {
			Title        string    `json:"title"`
			ChannelID    string    `json:"channelId"`
			ChannelTitle string    `json:"channelTitle"`
			PublishedAt  time.Time `json:"publishedAt"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"` // ISO8601, e.g. PT4M13S
		} `json:"contentDetails"`
	} `json:"items"`
}

// fetchFromAPI queries the data API when an api_key is configured.
func (h *Handler) fetchFromAPI(ctx context.Context, videoID string) (videoMetadata, error) {
	if h.apiKey == "" {
		return videoMetadata{}, fmt.Errorf("no video API key configured")
	}
	endpoint := fmt.Sprintf("%s/videos?part=snippet,contentDetails&id=%s&key=%s",
		h.apiBaseURL, url.QueryEscape(videoID), url.QueryEscape(h.apiKey))
	var parsed dataAPIResponse
	if err := h.getJSON(ctx, endpoint, &parsed); err != nil {
		return videoMetadata{}, err
	}
	if len(parsed.Items) == 0 {
		return videoMetadata{}, fmt.Errorf("video %s not found", videoID)
	}
	item := parsed.Items[0]
	return videoMetadata{
		VideoID:      videoID,
		Title:        item.Snippet.Title,
		ChannelID:    item.Snippet.ChannelID,
		ChannelTitle: item.Snippet.ChannelTitle,
		PublishedAt:  item.Snippet.PublishedAt,
		Duration:     parseISODuration(item.ContentDetails.Duration),
	}, nil
}

type oembedResponse struct {
	Title      string `json:"title"`
	AuthorName string `json:"author_name"`
	AuthorURL  string `json:"author_url"`
}

// fetchFromOembed needs no credentials but returns a reduced shape.
func (h *Handler) fetchFromOembed(ctx context.Context, videoID string) (videoMetadata, error) {
	watchURL := url.QueryEscape("https://www.youtube.com/watch?v=" + videoID)
	endpoint := fmt.Sprintf("%s?url=%s&format=json", h.oembedURL, watchURL)
	var parsed oembedResponse
	if err := h.getJSON(ctx, endpoint, &parsed); err != nil {
		return videoMetadata{}, err
	}
	return videoMetadata{
		VideoID:      videoID,
		Title:        parsed.Title,
		ChannelID:    parsed.AuthorURL,
		ChannelTitle: parsed.AuthorName,
	}, nil
}

func (h *Handler) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, endpoint)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// parseISODuration handles the PT#H#M#S subset.
func parseISODuration(iso string) int {
	var total, cur int
	for _, r := range iso {
		switch {
		case r >= '0' && r <= '9':
			cur = cur*10 + int(r-'0')
		case r == 'H':
			total += cur * 3600
			cur = 0
		case r == 'M':
			total += cur * 60
			cur = 0
		case r == 'S':
			total += cur
			cur = 0
		default:
			cur = 0
		}
	}
	return total
}
