package video

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/modality"
	"github.com/latticehq/lattice/pkg/perf"
)

func newHandler(t *testing.T, filters map[string]string) *Handler {
	t.Helper()
	cfg := &config.Config{DataDir: t.TempDir()}
	cfg.Search.Modalities = map[string]config.ModalityConfig{
		ModalityID: {Enabled: true, Scope: config.ModalityScope{Filters: filters}},
	}
	store, err := modality.NewStateStore(cfg.DataDir)
	require.NoError(t, err)
	return New(modality.Deps{Config: cfg, State: store, Monitor: perf.NewMonitor()})
}

func TestClassifyTranscriptFailure(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "disabled", status: 400, body: "captions disabled by uploader", want: ErrTranscriptDisabled},
		{name: "not found", status: 404, body: "", want: ErrTranscriptUnavailable},
		{name: "no transcript", status: 400, body: "no transcript for language", want: ErrTranscriptUnavailable},
		{name: "rate limited", status: 429, body: "", want: ErrTranscriptBlocked},
		{name: "captcha wall", status: 200, body: "please solve this captcha", want: ErrTranscriptBlocked},
		{name: "sign in wall", status: 400, body: "Sign in to confirm you're not a bot", want: ErrTranscriptBlocked},
		{name: "server error", status: 500, body: "oops", want: ErrTranscriptUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyTranscriptFailure(tt.status, tt.body)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFetchTranscriptFailsFastWhenDisabled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("captions disabled"))
	}))
	defer srv.Close()

	h := newHandler(t, map[string]string{"transcript_url": srv.URL})
	_, err := h.fetchTranscript(context.Background(), "vid1")
	assert.ErrorIs(t, err, ErrTranscriptDisabled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchTranscriptParsesSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "vid1", r.URL.Query().Get("video_id"))
		w.Write([]byte(`{"segments":[{"text":"hello","start":0,"duration":2.5},{"text":"world","start":2.5,"duration":2}]}`))
	}))
	defer srv.Close()

	h := newHandler(t, map[string]string{"transcript_url": srv.URL})
	segs, err := h.fetchTranscript(context.Background(), "vid1")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "hello", segs[0].Text)
	assert.Equal(t, 2.5, segs[1].StartSec)
}

func TestFetchTranscriptEmptyIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"segments":[]}`))
	}))
	defer srv.Close()

	h := newHandler(t, map[string]string{"transcript_url": srv.URL})
	_, err := h.fetchTranscript(context.Background(), "vid1")
	assert.ErrorIs(t, err, ErrTranscriptUnavailable)
}

func TestFetchTranscriptRetryCancelable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := newHandler(t, map[string]string{"transcript_url": srv.URL})
	_, err := h.fetchTranscript(ctx, "vid1")
	assert.Error(t, err)
}

func TestMetadataCacheAndOembedFallback(t *testing.T) {
	var oembedCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		oembedCalls.Add(1)
		w.Write([]byte(`{"title":"Release demo","author_name":"Acme Eng","author_url":"https://youtube.com/@acme"}`))
	}))
	defer srv.Close()

	// No api_key configured: the data API path is skipped and oembed serves.
	h := newHandler(t, map[string]string{"oembed_url": srv.URL, "transcript_url": "http://unused"})

	meta, err := h.fetchMetadata(context.Background(), "vid9")
	require.NoError(t, err)
	assert.Equal(t, "Release demo", meta.Title)
	assert.Equal(t, "Acme Eng", meta.ChannelTitle)

	// Second fetch is served from the cache.
	again, err := h.fetchMetadata(context.Background(), "vid9")
	require.NoError(t, err)
	assert.Equal(t, meta.Title, again.Title)
	assert.Equal(t, int32(1), oembedCalls.Load())
}

func TestIsTranscriptSkip(t *testing.T) {
	assert.True(t, isTranscriptSkip(ErrTranscriptDisabled))
	assert.True(t, isTranscriptSkip(ErrTranscriptUnavailable))
	assert.False(t, isTranscriptSkip(ErrTranscriptBlocked))
	assert.False(t, isTranscriptSkip(errors.New("other")))
	assert.False(t, isTranscriptSkip(nil))
}
