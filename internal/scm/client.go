package scm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Repository is the subset of the source-control host's repository
// object the dashboard needs for binding a project.
type Repository struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	CloneURL      string `json:"clone_url"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
}

// Client proxies read-only queries to the source-control host's API
// using the caller's own access token.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a Client for the host API at base.
func New(base string) *Client {
	trimmed := strings.TrimRight(strings.TrimSpace(base), "/")
	if trimmed == "" {
		trimmed = "https://api.github.com"
	}
	return &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// ListRepositories returns the repositories visible to the token's
// owner, most recently pushed first.
func (c *Client) ListRepositories(ctx context.Context, accessToken string) ([]Repository, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil, fmt.Errorf("access token is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user/repos?sort=pushed&per_page=100", nil)
	if err != nil {
		return nil, fmt.Errorf("create repos request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contact source-control host: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("source-control host returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var repos []Repository
	if err := json.NewDecoder(resp.Body).Decode(&repos); err != nil {
		return nil, fmt.Errorf("decode repos response: %w", err)
	}
	return repos, nil
}
