package scm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/graph"
	"github.com/latticehq/lattice/pkg/modality"
	"github.com/latticehq/lattice/pkg/perf"
)

func testDeps(t *testing.T) modality.Deps {
	t.Helper()
	cfg := &config.Config{}
	cfg.Search.WorkspaceID = "acme"
	cfg.Search.Modalities = map[string]config.ModalityConfig{
		"scm": {Enabled: true, Scope: config.ModalityScope{
			Repos: []string{"acme/platform"},
			ComponentRules: []config.ComponentRule{
				{PathPrefix: "services/auth/", Components: []string{"auth"}},
			},
		}},
	}
	g, err := graph.NewService(cfg, perf.NewMonitor())
	require.NoError(t, err)
	store, err := modality.NewStateStore(t.TempDir())
	require.NoError(t, err)
	return modality.Deps{Config: cfg, Graph: g, State: store, Monitor: perf.NewMonitor()}
}

func gitHubStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mergedAt := time.Now().UTC().Add(-1 * time.Hour).Format(time.RFC3339)
	mux.HandleFunc("/repos/acme/platform/pulls", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"number":7,"title":"Fix token refresh","body":"refresh tokens expired early","html_url":"https://github.com/acme/platform/pull/7","merged_at":"` + mergedAt + `","updated_at":"` + mergedAt + `","user":{"login":"pat"},"labels":[{"name":"bug"}]}]`))
	})
	mux.HandleFunc("/repos/acme/platform/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"number":7,"title":"Fix token refresh","body":"refresh tokens expired early","html_url":"https://github.com/acme/platform/pull/7","merged_at":"` + mergedAt + `","updated_at":"` + mergedAt + `","user":{"login":"pat"},"labels":[{"name":"bug"}],"changed_files":2,"additions":40,"deletions":10}`))
	})
	mux.HandleFunc("/repos/acme/platform/pulls/7/files", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"filename":"services/auth/token.go","additions":40,"deletions":10}]`))
	})
	mux.HandleFunc("/repos/acme/platform/commits", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/repos/acme/platform/issues", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"number":12,"title":"Login loops forever","body":"customers stuck","state":"open","html_url":"https://github.com/acme/platform/issues/12","updated_at":"` + mergedAt + `","comments":4,"labels":[{"name":"regression"}],"reactions":{"total_count":6}},{"number":13,"title":"not an issue","pull_request":{},"updated_at":"` + mergedAt + `"}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestIngestCountsSourcesAndCheckpoints(t *testing.T) {
	srv := gitHubStub(t)
	deps := testDeps(t)
	h := NewWithHTTPClient(deps, "", srv.URL, srv.Client())

	stats, err := h.Ingest(context.Background(), nil)
	require.NoError(t, err)
	// One PR and one issue (the PR-shaped issue is skipped); the vector
	// backend is unconfigured so indexing fails per-repo but counting and
	// checkpointing still happened for the fetched sources.
	assert.Equal(t, 2, stats.Sources)
	assert.Equal(t, 1, stats.Errors)

	// No checkpoint is written when indexing fails.
	ckpt, err := deps.State.Checkpoint(ModalityID, "acme/platform")
	require.NoError(t, err)
	assert.Empty(t, ckpt)
}

func TestRecordPRBuildsChunkAndResolvesComponents(t *testing.T) {
	srv := gitHubStub(t)
	deps := testDeps(t)
	h := NewWithHTTPClient(deps, "", srv.URL, srv.Client())
	scope := deps.ModalityConfig(ModalityID).Scope

	prs, err := h.github.listMergedPulls(context.Background(), "acme/platform", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, prs, 1)

	c := h.recordPR(context.Background(), "acme/platform", prs[0], scope)
	assert.Equal(t, "scm:pr:acme/platform:7", c.EntityID)
	assert.Equal(t, "auth", c.Component)
	assert.Contains(t, c.Text, "Fix token refresh")
	assert.Contains(t, c.Tags, "pr")
	assert.Equal(t, "https://github.com/acme/platform/pull/7", c.Metadata["url"])
}

func TestRecordIssueMarksSupportCase(t *testing.T) {
	srv := gitHubStub(t)
	deps := testDeps(t)
	h := NewWithHTTPClient(deps, "", srv.URL, srv.Client())
	scope := deps.ModalityConfig(ModalityID).Scope

	issues, err := h.github.listIssues(context.Background(), "acme/platform", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, issues, 1)

	c := h.recordIssue(context.Background(), "acme/platform", issues[0], scope, nil)
	assert.Equal(t, "issue:issue:acme/platform:12", c.EntityID)
	assert.Contains(t, c.Text, "Login loops forever")
	assert.Equal(t, []string{"regression"}, c.Metadata["labels"])
}

func TestCheckpointTimeFallback(t *testing.T) {
	got := checkpointTime(map[string]any{}, "last_pr_iso")
	assert.WithinDuration(t, time.Now().Add(-7*24*time.Hour), got, time.Minute)

	want := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	got = checkpointTime(map[string]any{"last_pr_iso": "2026-08-01T00:00:00Z"}, "last_pr_iso")
	assert.Equal(t, want, got)
}

func TestSplitFilter(t *testing.T) {
	assert.Equal(t, []string{"sev1", "sev2"}, splitFilter("sev1, sev2,"))
	assert.Nil(t, splitFilter(""))
}
