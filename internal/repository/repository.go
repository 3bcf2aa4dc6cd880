package repository

import (
	"context"
	"time"

	"github.com/slipway-sh/slipway/internal/domain"
)

// ProjectPatch is a partial update. Nil fields are left untouched, so
// two concurrent patches over disjoint fields never clobber each
// other. The store refreshes updated_at on every applied patch.
type ProjectPatch struct {
	Name           *string
	Status         *domain.Status
	RepoURL        *string
	Domain         *string
	IsPublic       *bool
	Autodeploy     *bool
	EnvVars        *[]domain.EnvVar
	BuildErrors    *[]string
	MissingEnvVars *[]string
	DeploymentLogs *string
	BuildAttempt   *int64
	LastDeployed   *time.Time
}

// Empty reports whether the patch carries no changes.
func (p ProjectPatch) Empty() bool {
	return p.Name == nil && p.Status == nil && p.RepoURL == nil &&
		p.Domain == nil && p.IsPublic == nil && p.Autodeploy == nil &&
		p.EnvVars == nil && p.BuildErrors == nil && p.MissingEnvVars == nil &&
		p.DeploymentLogs == nil && p.BuildAttempt == nil && p.LastDeployed == nil
}

// ProjectStore persists project records.
type ProjectStore interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	PatchProject(ctx context.Context, projectID string, patch ProjectPatch) (*domain.Project, error)
	DeleteProject(ctx context.Context, projectID string) error
	ListProjectsByRepoURL(ctx context.Context, repoURL string) ([]domain.Project, error)
	ListProjectsByOwner(ctx context.Context, owner string) ([]domain.Project, error)
}
