package engine

import (
	"context"
	"errors"
	"strings"
)

// PushEvent is the source-control host's push notification, reduced
// to the fields reconciliation needs.
type PushEvent struct {
	Ref     string
	RepoURL string
}

// PushResult reports what a push event triggered.
type PushResult struct {
	Ignored    bool     `json:"ignored"`
	Dispatched []string `json:"dispatched"`
	Skipped    int      `json:"skipped"`
	Failed     []string `json:"failed,omitempty"`
}

// HandlePushEvent redeploys every autodeploy-enabled project tracking
// the pushed repository. Only the default branch triggers builds;
// other refs are acknowledged without touching any record. Each
// rebuild dispatches as the project's stored owner.
func (e *Engine) HandlePushEvent(ctx context.Context, event PushEvent) (*PushResult, error) {
	branch := strings.TrimPrefix(strings.TrimSpace(event.Ref), "refs/heads/")
	if branch == "" || !e.isDefaultBranch(branch) {
		e.logger.Info("push ignored for non-default branch", "ref", event.Ref)
		return &PushResult{Ignored: true, Dispatched: []string{}}, nil
	}
	repoURL, err := normalizeRepoURL(event.RepoURL)
	if err != nil {
		return nil, err
	}
	projects, err := e.projects.ListProjectsByRepoURL(ctx, repoURL)
	if err != nil {
		return nil, storeErr(err)
	}

	result := &PushResult{Dispatched: []string{}}
	for i := range projects {
		project := &projects[i]
		if !project.Autodeploy {
			result.Skipped++
			continue
		}
		if _, err := e.redeploy(ctx, project); err != nil {
			// One failed dispatch must not starve the remaining
			// projects tracking the same repository.
			e.logger.Error("autodeploy dispatch failed", "project_id", project.ID, "error", err)
			result.Failed = append(result.Failed, project.ID)
			if errors.Is(err, ErrStoreUnavailable) {
				return result, err
			}
			continue
		}
		result.Dispatched = append(result.Dispatched, project.ID)
	}
	e.logger.Info("push event processed", "repo_url", repoURL,
		"dispatched", len(result.Dispatched), "skipped", result.Skipped, "failed", len(result.Failed))
	return result, nil
}

func (e *Engine) isDefaultBranch(branch string) bool {
	for _, candidate := range e.opts.DefaultBranches {
		if strings.EqualFold(branch, candidate) {
			return true
		}
	}
	return false
}
