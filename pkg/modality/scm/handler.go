// Package scm ingests GitHub pull requests, commits, and issues, resolving
// changed paths to components and writing weighted activity signals into the
// graph.
package scm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/latticehq/lattice/pkg/chunk"
	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/graph"
	"github.com/latticehq/lattice/pkg/modality"
	"github.com/latticehq/lattice/pkg/vector"
)

const ModalityID = "scm"

// Handler ingests one repo at a time, checkpointing last_pr_iso,
// last_commit_iso, and last_issue_iso per repo.
type Handler struct {
	deps   modality.Deps
	github *gitHubClient
	logger *slog.Logger
}

// New builds the scm handler. An empty token still works for public repos.
func New(deps modality.Deps, token string) *Handler {
	return &Handler{
		deps:   deps,
		github: newGitHubClient(token, nil),
		logger: slog.Default().With("component", "scm-handler"),
	}
}

// NewWithHTTPClient injects an HTTP client and base URL. Used by tests.
func NewWithHTTPClient(deps modality.Deps, token, baseURL string, httpClient *http.Client) *Handler {
	h := New(deps, token)
	h.github = newGitHubClient(token, httpClient)
	if baseURL != "" {
		h.github.baseURL = baseURL
	}
	return h
}

func (h *Handler) ModalityID() string { return ModalityID }
func (h *Handler) CanIngest() bool    { return true }
func (h *Handler) CanQuery() bool     { return true }

// Ingest pulls PRs, commits, and issues per configured repo since the repo's
// checkpoints.
func (h *Handler) Ingest(ctx context.Context, scopeOverride *config.ModalityScope) (modality.IngestStats, error) {
	var stats modality.IngestStats
	scope := h.deps.ModalityConfig(ModalityID).Scope
	if scopeOverride != nil {
		scope = *scopeOverride
	}
	for _, repo := range scope.Repos {
		repoStats, err := h.ingestRepo(ctx, repo, scope)
		stats.Add(repoStats)
		if err != nil {
			stats.Errors++
			h.logger.Warn("Repo ingestion failed", "repo", repo, "error", err)
		}
	}
	return stats, nil
}

func (h *Handler) ingestRepo(ctx context.Context, repo string, scope config.ModalityScope) (modality.IngestStats, error) {
	var stats modality.IngestStats

	ckpt, err := h.deps.State.Checkpoint(ModalityID, repo)
	if err != nil {
		return stats, err
	}
	now := time.Now().UTC()
	var chunks []*chunk.Chunk

	prSince := checkpointTime(ckpt, "last_pr_iso")
	prs, err := h.github.listMergedPulls(ctx, repo, prSince)
	if err != nil {
		return stats, err
	}
	for _, pr := range prs {
		chunks = append(chunks, h.recordPR(ctx, repo, pr, scope))
		stats.Sources++
	}

	commitSince := checkpointTime(ckpt, "last_commit_iso")
	commits, err := h.github.listCommits(ctx, repo, commitSince)
	if err != nil {
		return stats, err
	}
	for _, cm := range commits {
		chunks = append(chunks, h.recordCommit(ctx, repo, cm, scope))
		stats.Sources++
	}

	issueSince := checkpointTime(ckpt, "last_issue_iso")
	issues, err := h.github.listIssues(ctx, repo, issueSince)
	if err != nil {
		return stats, err
	}
	dissatisfactionSet := splitFilter(scope.Filters["dissatisfaction_labels"])
	for _, issue := range issues {
		chunks = append(chunks, h.recordIssue(ctx, repo, issue, scope, dissatisfactionSet))
		stats.Sources++
	}

	indexed, err := h.deps.IndexAndMirror(ctx, chunks)
	stats.Chunks = indexed
	if err != nil {
		return stats, err
	}

	iso := now.Format(time.RFC3339)
	return stats, h.deps.State.SaveCheckpoint(ModalityID, repo, map[string]any{
		"last_pr_iso":     iso,
		"last_commit_iso": iso,
		"last_issue_iso":  iso,
	})
}

func (h *Handler) recordPR(ctx context.Context, repo string, pr pullRequest, scope config.ModalityScope) *chunk.Chunk {
	var paths []string
	if files, err := h.github.listPullFiles(ctx, repo, pr.Number); err == nil {
		for _, f := range files {
			paths = append(paths, f.Filename)
		}
	} else {
		h.logger.Warn("PR file listing failed", "repo", repo, "number", pr.Number, "error", err)
	}
	components, endpoints := resolveComponents(paths, scope.ComponentRules)
	labels := labelNames(pr.Labels)
	churn := pr.Additions + pr.Deletions
	mergedAt := pr.UpdatedAt
	if pr.MergedAt != nil {
		mergedAt = *pr.MergedAt
	}

	h.deps.Graph.UpsertPR(ctx, graph.PRNode{
		Repo: repo, Number: pr.Number, Title: pr.Title, Author: pr.User.Login,
		URL: pr.HTMLURL, MergedAt: mergedAt, Files: pr.ChangedFiles,
		Additions: pr.Additions, Deletions: pr.Deletions, Labels: labels,
	}, components)
	h.deps.Graph.UpsertActivitySignal(ctx, graph.ActivitySignalNode{
		SignalID:   fmt.Sprintf("pr:%s:%d", repo, pr.Number),
		Kind:       "pr",
		Weight:     prWeight(pr.ChangedFiles, churn),
		Components: components,
		Labels:     labels,
		Timestamp:  mergedAt,
	})

	c := h.sourceChunk(ctx, chunk.SourceSCM, fmt.Sprintf("pr:%s:%d", repo, pr.Number),
		fmt.Sprintf("PR #%d: %s", pr.Number, pr.Title),
		fmt.Sprintf("PR #%d %s by @%s\n%s", pr.Number, pr.Title, pr.User.Login, pr.Body),
		pr.HTMLURL, mergedAt, components)
	c.SetMeta("endpoint_ids", endpoints)
	c.Tags = append(c.Tags, "pr")
	return c
}

func (h *Handler) recordCommit(ctx context.Context, repo string, cm repoCommit, scope config.ModalityScope) *chunk.Chunk {
	var paths []string
	for _, f := range cm.Files {
		paths = append(paths, f.Filename)
	}
	components, _ := resolveComponents(paths, scope.ComponentRules)
	churn := cm.Stats.Additions + cm.Stats.Deletions
	when := cm.Commit.Author.Date

	h.deps.Graph.UpsertCommit(ctx, graph.CommitNode{
		Repo: repo, SHA: cm.SHA, Message: cm.Commit.Message,
		Author: cm.Commit.Author.Name, URL: cm.HTMLURL,
		Timestamp: when, Files: len(cm.Files), Churn: churn,
	}, components)
	h.deps.Graph.UpsertActivitySignal(ctx, graph.ActivitySignalNode{
		SignalID:   fmt.Sprintf("commit:%s:%s", repo, cm.SHA),
		Kind:       "commit",
		Weight:     commitWeight(len(cm.Files), churn),
		Components: components,
		Timestamp:  when,
	})

	title := cm.Commit.Message
	if i := strings.IndexByte(title, '\n'); i > 0 {
		title = title[:i]
	}
	c := h.sourceChunk(ctx, chunk.SourceSCM, fmt.Sprintf("commit:%s:%s", repo, cm.SHA),
		title, cm.Commit.Message, cm.HTMLURL, when, components)
	c.Tags = append(c.Tags, "commit")
	return c
}

func (h *Handler) recordIssue(ctx context.Context, repo string, issue repoIssue, scope config.ModalityScope, dissatisfactionSet []string) *chunk.Chunk {
	labels := labelNames(issue.Labels)
	dissatisfied := hasDissatisfactionLabel(labels, dissatisfactionSet)
	// Issues carry no changed paths; component linkage comes from label-named
	// rules matching the issue labels as pseudo-paths.
	components, _ := resolveComponents(labels, scope.ComponentRules)

	h.deps.Graph.UpsertIssue(ctx, graph.IssueNode{
		Repo: repo, Number: issue.Number, Title: issue.Title, State: issue.State,
		URL: issue.HTMLURL, Labels: labels, Comments: issue.Comments,
		Reactions: issue.Reactions.TotalCount, UpdatedAt: issue.UpdatedAt,
	}, components)
	h.deps.Graph.UpsertActivitySignal(ctx, graph.ActivitySignalNode{
		SignalID:   fmt.Sprintf("issue:%s:%d", repo, issue.Number),
		Kind:       "issue",
		Weight:     issueWeight(issue.Comments, issue.Reactions.TotalCount, dissatisfied),
		Components: components,
		Labels:     labels,
		Timestamp:  issue.UpdatedAt,
	})
	if dissatisfied {
		h.deps.Graph.UpsertSupportCase(ctx, graph.SupportCaseNode{
			CaseID: fmt.Sprintf("case:%s:%d", repo, issue.Number),
			Repo:   repo, Number: issue.Number, Title: issue.Title,
			URL: issue.HTMLURL, Labels: labels, UpdatedAt: issue.UpdatedAt,
		})
	}

	c := h.sourceChunk(ctx, chunk.SourceIssue, fmt.Sprintf("issue:%s:%d", repo, issue.Number),
		fmt.Sprintf("Issue #%d: %s", issue.Number, issue.Title),
		fmt.Sprintf("Issue #%d %s [%s]\n%s", issue.Number, issue.Title, issue.State, issue.Body),
		issue.HTMLURL, issue.UpdatedAt, components)
	c.Tags = append(c.Tags, "issue")
	c.SetMeta("labels", labels)
	return c
}

// sourceChunk builds the indexed chunk and mirrors the source node.
func (h *Handler) sourceChunk(ctx context.Context, st chunk.SourceType, sourceID, title, text, url string, ts time.Time, components []string) *chunk.Chunk {
	c := chunk.New(chunk.EntityID(string(st), sourceID), st, text)
	c.Timestamp = ts
	c.Tags = []string{"scm"}
	if len(components) > 0 {
		c.Component = components[0]
	}
	c.SetMeta(chunk.MetaWorkspaceID, h.deps.Config.Search.WorkspaceID)
	c.SetMeta(chunk.MetaSourceID, sourceID)
	c.SetMeta(chunk.MetaDisplayName, title)
	c.SetMeta(chunk.MetaURL, url)
	if len(components) > 0 {
		c.SetMeta("components", components)
	}

	h.deps.Graph.UpsertSource(ctx, graph.SourceNode{
		SourceID:   sourceID,
		SourceType: string(st),
		Title:      title,
		URL:        url,
		Component:  c.Component,
		Timestamp:  ts,
	})
	return c
}

// Query searches scm and issue chunks semantically.
func (h *Handler) Query(ctx context.Context, text string, limit int) ([]modality.Result, error) {
	return h.deps.SemanticQuery(ctx, ModalityID,
		[]chunk.SourceType{chunk.SourceSCM, chunk.SourceIssue}, text, limit, vector.SearchOptions{})
}

// checkpointTime parses an ISO checkpoint, defaulting to a 7-day lookback.
func checkpointTime(ckpt map[string]any, key string) time.Time {
	if raw, ok := ckpt[key].(string); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	return time.Now().UTC().Add(-7 * 24 * time.Hour)
}

func labelNames(labels []struct {
	Name string `json:"name"`
}) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, l.Name)
	}
	return out
}

func splitFilter(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
