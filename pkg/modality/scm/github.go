package scm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// gitHubClient provides HTTP access to the GitHub REST API for PR, commit,
// and issue listings. token may be empty (public repos, lower rate limits).
type gitHubClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger
}

func newGitHubClient(token string, httpClient *http.Client) *gitHubClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &gitHubClient{
		httpClient: httpClient,
		baseURL:    "https://api.github.com",
		token:      token,
		logger:     slog.Default().With("component", "scm-github"),
	}
}

type pullRequest struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	HTMLURL   string     `json:"html_url"`
	MergedAt  *time.Time `json:"merged_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	ChangedFiles int `json:"changed_files"`
	Additions    int `json:"additions"`
	Deletions    int `json:"deletions"`
}

type pullFile struct {
	Filename  string `json:"filename"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

type repoCommit struct {
	SHA     string `json:"sha"`
	HTMLURL string `json:"html_url"`
	Commit  struct {
		Message string `json:"message"`
		Author  struct {
			Name string    `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Stats struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
	} `json:"stats"`
	Files []pullFile `json:"files"`
}

type repoIssue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	HTMLURL   string    `json:"html_url"`
	UpdatedAt time.Time `json:"updated_at"`
	Comments  int       `json:"comments"`
	Labels    []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Reactions struct {
		TotalCount int `json:"total_count"`
	} `json:"reactions"`
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

// listMergedPulls returns PRs merged after since, newest first.
func (c *gitHubClient) listMergedPulls(ctx context.Context, repo string, since time.Time) ([]pullRequest, error) {
	var listed []pullRequest
	path := fmt.Sprintf("/repos/%s/pulls?state=closed&sort=updated&direction=desc&per_page=50", repo)
	if err := c.getJSON(ctx, path, &listed); err != nil {
		return nil, err
	}
	var merged []pullRequest
	for _, pr := range listed {
		if pr.MergedAt == nil || !pr.MergedAt.After(since) {
			continue
		}
		// The list endpoint omits file/churn counts; fetch the detail view.
		detail := pr
		detailPath := fmt.Sprintf("/repos/%s/pulls/%d", repo, pr.Number)
		if err := c.getJSON(ctx, detailPath, &detail); err != nil {
			c.logger.Warn("PR detail fetch failed", "repo", repo, "number", pr.Number, "error", err)
		}
		merged = append(merged, detail)
	}
	return merged, nil
}

// listPullFiles returns the changed files of a PR.
func (c *gitHubClient) listPullFiles(ctx context.Context, repo string, number int) ([]pullFile, error) {
	var files []pullFile
	path := fmt.Sprintf("/repos/%s/pulls/%d/files?per_page=100", repo, number)
	if err := c.getJSON(ctx, path, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// listCommits returns commits after since, with per-commit stats and files.
func (c *gitHubClient) listCommits(ctx context.Context, repo string, since time.Time) ([]repoCommit, error) {
	var listed []repoCommit
	path := fmt.Sprintf("/repos/%s/commits?per_page=50&since=%s", repo, url.QueryEscape(since.UTC().Format(time.RFC3339)))
	if err := c.getJSON(ctx, path, &listed); err != nil {
		return nil, err
	}
	commits := make([]repoCommit, 0, len(listed))
	for _, cm := range listed {
		detail := cm
		detailPath := fmt.Sprintf("/repos/%s/commits/%s", repo, cm.SHA)
		if err := c.getJSON(ctx, detailPath, &detail); err != nil {
			c.logger.Warn("Commit detail fetch failed", "repo", repo, "sha", cm.SHA, "error", err)
		}
		commits = append(commits, detail)
	}
	return commits, nil
}

// listIssues returns issues updated after since, excluding pull requests.
func (c *gitHubClient) listIssues(ctx context.Context, repo string, since time.Time) ([]repoIssue, error) {
	var listed []repoIssue
	path := fmt.Sprintf("/repos/%s/issues?state=all&per_page=50&since=%s", repo, url.QueryEscape(since.UTC().Format(time.RFC3339)))
	if err := c.getJSON(ctx, path, &listed); err != nil {
		return nil, err
	}
	var issues []repoIssue
	for _, issue := range listed {
		if issue.PullRequest != nil {
			continue
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

func (c *gitHubClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("GitHub API returned HTTP %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode github response: %w", err)
	}
	return nil
}
