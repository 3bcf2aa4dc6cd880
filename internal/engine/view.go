package engine

import (
	"context"
	"time"

	"github.com/slipway-sh/slipway/internal/domain"
	"github.com/slipway-sh/slipway/internal/envvault"
	"github.com/slipway-sh/slipway/internal/repository"
)

// ProjectView is the caller-facing read model. Env var values are
// masked for display; Fresh reports whether Status reflects a live
// probe read rather than the stored record.
type ProjectView struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Status         domain.Status    `json:"status"`
	RepoURL        string           `json:"repoUrl"`
	OwnerLogin     string           `json:"ownerLogin"`
	Domain         string           `json:"domain,omitempty"`
	IsPublic       bool             `json:"isPublic"`
	Autodeploy     bool             `json:"autodeploy"`
	EnvVars        []domain.EnvVar  `json:"envVars"`
	BuildErrors    []string         `json:"buildErrors"`
	MissingEnvVars []string         `json:"missingEnvVars"`
	DeploymentLogs string           `json:"deploymentLogs,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
	LastDeployed   *time.Time       `json:"lastDeployed,omitempty"`
	Fresh          bool             `json:"fresh"`
}

// GetProjectView returns the project with its status reconciled
// against the hosting platform. The probe only refreshes a stale
// Active/Error record; it never overrides a record currently
// Building, and a probe failure degrades to the stored status. Any
// persistence of the probe's view happens in a detached write that the
// response does not wait on.
func (e *Engine) GetProjectView(ctx context.Context, caller domain.Identity, projectID string) (*ProjectView, error) {
	project, err := e.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !project.IsPublic && !caller.Authenticated() {
		return nil, ErrUnauthorized
	}

	view := newProjectView(project)
	if e.probe == nil || !project.Status.Terminal() {
		return view, nil
	}

	pctx, cancel := context.WithTimeout(ctx, e.opts.ProbeTimeout)
	defer cancel()
	state, err := e.probe.Lookup(pctx, project.ID)
	if err != nil {
		e.logger.Warn("platform probe unavailable, serving stored status",
			"project_id", project.ID, "error", err)
		return view, nil
	}
	view.Fresh = true
	observed := state.ProjectStatus()
	if observed != project.Status {
		view.Status = observed
		e.persistProbeStatus(project.ID, project.Status, observed)
	}
	return view, nil
}

// persistProbeStatus records drift detected by the probe without
// blocking the read path. Failures are logged, never surfaced.
func (e *Engine) persistProbeStatus(projectID string, stored, observed domain.Status) {
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.PersistTimeout)
		defer cancel()
		updated, err := e.projects.PatchProject(ctx, projectID, repository.ProjectPatch{
			Status: statusPtr(observed),
		})
		if err != nil {
			e.logger.Warn("failed to persist probe status",
				"project_id", projectID, "status", observed, "error", err)
			return
		}
		recordProbeRefresh()
		e.publishStatus(updated, "status refreshed from platform")
		e.logger.Info("probe refreshed stale status",
			"project_id", projectID, "stored", stored, "observed", observed)
	}()
}

func newProjectView(project *domain.Project) *ProjectView {
	return &ProjectView{
		ID:             project.ID,
		Name:           project.Name,
		Status:         project.Status,
		RepoURL:        project.RepoURL,
		OwnerLogin:     project.OwnerLogin,
		Domain:         project.Domain,
		IsPublic:       project.IsPublic,
		Autodeploy:     project.Autodeploy,
		EnvVars:        envvault.Mask(project.EnvVars),
		BuildErrors:    emptyIfNil(project.BuildErrors),
		MissingEnvVars: emptyIfNil(project.MissingEnvVars),
		DeploymentLogs: project.DeploymentLogs,
		CreatedAt:      project.CreatedAt,
		UpdatedAt:      project.UpdatedAt,
		LastDeployed:   project.LastDeployed,
	}
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
