package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/pkg/incident"
)

func mockSlackAPI(t *testing.T, posted *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, _ *http.Request) {
		posted.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "1.0"})
	})
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "messages": []any{}})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testCandidate(severity string) *incident.Candidate {
	return &incident.Candidate{
		CandidateID: "cand-1",
		Query:       "checkout errors spiking",
		Severity:    severity,
		BlastRadius: incident.BlastRadius{Score: 64, Trust: 24, Scope: 20, Recency: 20},
		Counts:      incident.Counts{Components: 2, Evidence: 5},
		Entities: []incident.Entity{
			{Kind: "component", Key: "checkout", SuggestedAction: "Review recent merges."},
		},
	}
}

func TestNewServiceRequiresTokenAndChannel(t *testing.T) {
	assert.Nil(t, NewService(ServiceConfig{Token: "", Channel: "C123"}))
	assert.Nil(t, NewService(ServiceConfig{Token: "xoxb-test", Channel: ""}))
	assert.NotNil(t, NewService(ServiceConfig{Token: "xoxb-test", Channel: "C123"}))
}

func TestNilServiceIsNoOp(t *testing.T) {
	var s *Service
	s.NotifyCandidate(context.Background(), testCandidate("critical"))
}

func TestNotifyCandidatePosts(t *testing.T) {
	var posted atomic.Int32
	server := mockSlackAPI(t, &posted)

	client := NewClientWithAPIURL("xoxb-test", "C123", server.URL+"/")
	svc := NewServiceWithClient(client, ServiceConfig{DashboardURL: "https://lattice.example.com"})

	svc.NotifyCandidate(context.Background(), testCandidate("high"))
	assert.EqualValues(t, 1, posted.Load())
}

func TestNotifyCandidateSeverityGate(t *testing.T) {
	var posted atomic.Int32
	server := mockSlackAPI(t, &posted)

	client := NewClientWithAPIURL("xoxb-test", "C123", server.URL+"/")
	svc := NewServiceWithClient(client, ServiceConfig{MinSeverity: "critical"})

	svc.NotifyCandidate(context.Background(), testCandidate("high"))
	assert.EqualValues(t, 0, posted.Load())

	svc.NotifyCandidate(context.Background(), testCandidate("critical"))
	assert.EqualValues(t, 1, posted.Load())
}

func TestBuildCandidateMessage(t *testing.T) {
	c := testCandidate("critical")
	c.Summary = "Checkout error rate doubled after the payments rollout."

	blocks := BuildCandidateMessage(c, "https://lattice.example.com")
	require.NotEmpty(t, blocks)

	raw, err := json.Marshal(blocks)
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, "checkout errors spiking")
	assert.Contains(t, text, "critical")
	assert.Contains(t, text, "Review recent merges.")
	assert.Contains(t, text, "https://lattice.example.com/investigations/cand-1")
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "checkout errors", normalizeText("  Checkout\n\tERRORS  "))
}

func TestTruncateForSlack(t *testing.T) {
	long := make([]byte, maxBlockTextLength+100)
	for i := range long {
		long[i] = 'a'
	}
	out := truncateForSlack(string(long))
	assert.Less(t, len(out), len(long)+80)
	assert.Contains(t, out, "truncated")
}
