package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Transcript failure classes. Classified failures are not retried beyond the
// handler's own retry budget.
var (
	ErrTranscriptDisabled    = errors.New("transcript disabled for video")
	ErrTranscriptUnavailable = errors.New("transcript unavailable")
	ErrTranscriptBlocked     = errors.New("transcript blocked by anti-bot")
	ErrTranscriptUnknown     = errors.New("transcript fetch failed")
)

// transcriptSegment is one timed caption line.
type transcriptSegment struct {
	Text     string  `json:"text"`
	StartSec float64 `json:"start"`
	Duration float64 `json:"duration"`
}

type transcriptResponse struct {
	Segments []transcriptSegment `json:"segments"`
	Error    string              `json:"error,omitempty"`
}

const (
	transcriptRetries   = 3
	transcriptRetryBase = 2 * time.Second
)

// fetchTranscript pulls the caption track with retries. Disabled and
// unavailable classes fail fast; blocked and unknown classes exhaust the
// retry budget first.
func (h *Handler) fetchTranscript(ctx context.Context, videoID string) ([]transcriptSegment, error) {
	var lastErr error
	for attempt := 0; attempt < transcriptRetries; attempt++ {
		if attempt > 0 {
			backoff := transcriptRetryBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		segments, err := h.fetchTranscriptOnce(ctx, videoID)
		if err == nil {
			return segments, nil
		}
		lastErr = err
		if errors.Is(err, ErrTranscriptDisabled) || errors.Is(err, ErrTranscriptUnavailable) {
			return nil, err
		}
		h.logger.Warn("Transcript fetch failed, retrying", "video_id", videoID,
			"attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func (h *Handler) fetchTranscriptOnce(ctx context.Context, videoID string) ([]transcriptSegment, error) {
	endpoint := fmt.Sprintf("%s/transcript?video_id=%s", h.transcriptURL, videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscriptUnknown, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscriptUnknown, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyTranscriptFailure(resp.StatusCode, string(body))
	}

	var parsed transcriptResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrTranscriptUnknown, err)
	}
	if parsed.Error != "" {
		return nil, classifyTranscriptFailure(resp.StatusCode, parsed.Error)
	}
	if len(parsed.Segments) == 0 {
		return nil, ErrTranscriptUnavailable
	}
	return parsed.Segments, nil
}

// classifyTranscriptFailure maps a failure response onto one of the four
// transcript error classes.
func classifyTranscriptFailure(status int, body string) error {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "disabled"):
		return fmt.Errorf("%w: %s", ErrTranscriptDisabled, strings.TrimSpace(body))
	case status == http.StatusNotFound || strings.Contains(lower, "unavailable") || strings.Contains(lower, "no transcript"):
		return fmt.Errorf("%w: %s", ErrTranscriptUnavailable, strings.TrimSpace(body))
	case status == http.StatusTooManyRequests || status == http.StatusForbidden ||
		strings.Contains(lower, "captcha") || strings.Contains(lower, "bot") ||
		strings.Contains(lower, "sign in to confirm"):
		return fmt.Errorf("%w: HTTP %d", ErrTranscriptBlocked, status)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrTranscriptUnknown, status)
	}
}
