package docissues

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/modality"
	"github.com/latticehq/lattice/pkg/perf"
)

var frozenNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func writeIssues(t *testing.T, issues []DocIssue) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc_issues.json")
	raw, err := json.Marshal(issuesFile{Issues: issues})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func newHandler(t *testing.T, issuesPath string) *Handler {
	t.Helper()
	cfg := &config.Config{}
	cfg.Search.Modalities = map[string]config.ModalityConfig{
		ModalityID: {Enabled: true, MaxResults: 10, Scope: config.ModalityScope{IssuesPath: issuesPath}},
	}
	store, err := modality.NewStateStore(t.TempDir())
	require.NoError(t, err)
	h := New(modality.Deps{Config: cfg, State: store, Monitor: perf.NewMonitor()})
	h.now = func() time.Time { return frozenNow }
	return h
}

func TestScoreIssueSeverityAndRecency(t *testing.T) {
	tests := []struct {
		name     string
		severity string
		age      time.Duration
		want     float64
	}{
		{name: "critical fresh", severity: "critical", age: time.Hour, want: 3.0},
		{name: "critical this week", severity: "critical", age: 3 * 24 * time.Hour, want: 2.1},
		{name: "high stale", severity: "high", age: 30 * 24 * time.Hour, want: 0.8},
		{name: "unknown severity treated as low", severity: "unclassified", age: time.Hour, want: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue := DocIssue{Severity: tt.severity, UpdatedAt: frozenNow.Add(-tt.age)}
			assert.InDelta(t, tt.want, scoreIssue(issue, nil, frozenNow), 1e-9)
		})
	}
}

func TestScoreIssueMatchBonuses(t *testing.T) {
	issue := DocIssue{
		Severity:   "low",
		UpdatedAt:  frozenNow.Add(-time.Hour),
		Title:      "Stale auth setup guide",
		Components: []string{"auth"},
	}
	base := 0.5

	// Text match on the title.
	got := scoreIssue(issue, queryTokens("setup instructions"), frozenNow)
	assert.InDelta(t, base+0.5, got, 1e-9)

	// Component hint match needs the exact token, and stacks with text match.
	got = scoreIssue(issue, queryTokens("auth setup"), frozenNow)
	assert.InDelta(t, base+1.0, got, 1e-9)
}

func TestQueryRanksAndTruncates(t *testing.T) {
	path := writeIssues(t, []DocIssue{
		{ID: "1", Title: "minor typo", Severity: "low", UpdatedAt: frozenNow.Add(-60 * 24 * time.Hour)},
		{ID: "2", Title: "auth doc wrong", Severity: "critical", UpdatedAt: frozenNow.Add(-time.Hour), Components: []string{"auth"}},
		{ID: "3", Title: "auth example broken", Severity: "medium", UpdatedAt: frozenNow.Add(-2 * 24 * time.Hour)},
	})
	h := newHandler(t, path)

	results, err := h.Query(context.Background(), "auth docs broken", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "doc_issue:2", results[0].Chunk.EntityID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Equal(t, ModalityID, results[0].Modality)
}

func TestQueryMissingFileYieldsNoResults(t *testing.T) {
	h := newHandler(t, filepath.Join(t.TempDir(), "absent.json"))
	results, err := h.Query(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHandlerIsQueryOnly(t *testing.T) {
	h := newHandler(t, "")
	assert.False(t, h.CanIngest())
	assert.True(t, h.CanQuery())
	_, err := h.Ingest(context.Background(), nil)
	assert.Error(t, err)
}
