// Package docissues serves query-only retrieval over a persisted JSON file
// of known documentation issues, scored by severity, recency, and match
// bonuses.
package docissues

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/latticehq/lattice/pkg/chunk"
	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/modality"
)

const ModalityID = "doc_issues"

// DocIssue is one persisted documentation issue.
type DocIssue struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary"`
	Path       string    `json:"path"`
	Severity   string    `json:"severity"`
	Components []string  `json:"components,omitempty"`
	Labels     []string  `json:"labels,omitempty"`
	URL        string    `json:"url,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type issuesFile struct {
	Issues []DocIssue `json:"issues"`
}

// Handler is query-only: the issues file is maintained out of band.
type Handler struct {
	deps   modality.Deps
	logger *slog.Logger
	now    func() time.Time
}

func New(deps modality.Deps) *Handler {
	return &Handler{
		deps:   deps,
		logger: slog.Default().With("component", "docissues-handler"),
		now:    time.Now,
	}
}

func (h *Handler) ModalityID() string { return ModalityID }
func (h *Handler) CanIngest() bool    { return false }
func (h *Handler) CanQuery() bool     { return true }

// Ingest is never called for query-only handlers.
func (h *Handler) Ingest(context.Context, *config.ModalityScope) (modality.IngestStats, error) {
	return modality.IngestStats{}, fmt.Errorf("doc_issues modality is query-only")
}

// Query scores every persisted issue against the query and returns the top
// results.
func (h *Handler) Query(ctx context.Context, text string, limit int) ([]modality.Result, error) {
	mc := h.deps.ModalityConfig(ModalityID)
	if limit <= 0 {
		limit = mc.MaxResults
	}
	issues, err := h.load(mc.Scope.IssuesPath)
	if err != nil {
		return nil, err
	}

	tokens := queryTokens(text)
	now := h.now().UTC()
	var results []modality.Result
	for _, issue := range issues {
		raw := scoreIssue(issue, tokens, now)
		if raw <= 0 {
			continue
		}
		results = append(results, modality.FromChunk(ModalityID, issueChunk(issue), raw, mc.Weight))
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	h.deps.Monitor.Add("modality_query_results_"+ModalityID, int64(len(results)))
	return results, nil
}

func (h *Handler) load(path string) ([]DocIssue, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read doc issues: %w", err)
	}
	var f issuesFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse doc issues: %w", err)
	}
	return f.Issues, nil
}

// severityWeights map the issue severity enum onto base scores.
var severityWeights = map[string]float64{
	"critical": 3.0,
	"high":     2.0,
	"medium":   1.2,
	"low":      0.5,
}

// scoreIssue combines the severity base scaled by recency with flat bonuses
// for query-text and component matches.
func scoreIssue(issue DocIssue, tokens []string, now time.Time) float64 {
	base, ok := severityWeights[strings.ToLower(issue.Severity)]
	if !ok {
		base = severityWeights["low"]
	}
	score := base * recencyMultiplier(now.Sub(issue.UpdatedAt))

	haystack := strings.ToLower(issue.Summary + " " + issue.Title + " " + issue.Path)
	if anyTokenIn(haystack, tokens) {
		score += 0.5
	}
	for _, comp := range issue.Components {
		lower := strings.ToLower(comp)
		found := false
		for _, tok := range tokens {
			if tok == lower {
				found = true
				break
			}
		}
		if found {
			score += 0.5
			break
		}
	}
	return score
}

func recencyMultiplier(age time.Duration) float64 {
	switch {
	case age <= 24*time.Hour:
		return 1.0
	case age <= 7*24*time.Hour:
		return 0.7
	default:
		return 0.4
	}
}

func issueChunk(issue DocIssue) chunk.Chunk {
	c := chunk.New(chunk.EntityID("doc_issue", issue.ID), chunk.SourceDocIssue,
		issue.Title+"\n"+issue.Summary)
	c.Timestamp = issue.UpdatedAt
	c.Tags = append([]string{"doc_issue"}, issue.Labels...)
	if len(issue.Components) > 0 {
		c.Component = issue.Components[0]
	}
	c.SetMeta(chunk.MetaSourceID, "doc_issue:"+issue.ID)
	c.SetMeta(chunk.MetaDisplayName, issue.Title)
	c.SetMeta(chunk.MetaPath, issue.Path)
	c.SetMeta("severity", issue.Severity)
	if issue.URL != "" {
		c.SetMeta(chunk.MetaURL, issue.URL)
	}
	if len(issue.Components) > 0 {
		c.SetMeta("components", issue.Components)
	}
	return *c
}

// queryTokens lowercases and keeps tokens of three or more characters, so
// stop-words like "is" don't inflate match bonuses.
func queryTokens(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?:;\"'()[]")
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

func anyTokenIn(haystack string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(haystack, tok) {
			return true
		}
	}
	return false
}
