package engine

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/slipway-sh/slipway/internal/access"
	"github.com/slipway-sh/slipway/internal/dispatch"
	"github.com/slipway-sh/slipway/internal/domain"
	"github.com/slipway-sh/slipway/internal/envvault"
	"github.com/slipway-sh/slipway/internal/repository"
)

// Dispatcher triggers builds on the external CI runner.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) error
}

// Probe reads the hosting platform's live view of a deployable unit.
type Probe interface {
	Lookup(ctx context.Context, unitName string) (domain.UnitState, error)
}

// Publisher fans project status events out to stream subscribers.
type Publisher interface {
	Broadcast(projectID string, payload []byte)
}

// Options bounds the engine's external calls.
type Options struct {
	CallbackSecret  string
	DefaultBranches []string
	DispatchTimeout time.Duration
	ProbeTimeout    time.Duration
	PersistTimeout  time.Duration
}

// Engine owns project lifecycle state. It merges status signals from
// the CI runner callback, the platform probe and user actions; the
// record store is the only shared mutable resource, so every mutation
// is an idempotent merge-patch rather than an in-process lock.
type Engine struct {
	projects   repository.ProjectStore
	dispatcher Dispatcher
	probe      Probe
	guard      access.Guard
	events     Publisher
	logger     *slog.Logger
	opts       Options

	background sync.WaitGroup
}

// New assembles an Engine. probe and events may be nil; the engine
// then serves stored status and skips event publication.
func New(projects repository.ProjectStore, dispatcher Dispatcher, probe Probe, guard access.Guard, events Publisher, logger *slog.Logger, opts Options) *Engine {
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 30 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 3 * time.Second
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	if len(opts.DefaultBranches) == 0 {
		opts.DefaultBranches = []string{"main", "master"}
	}
	initMetrics()
	return &Engine{
		projects:   projects,
		dispatcher: dispatcher,
		probe:      probe,
		guard:      guard,
		events:     events,
		logger:     logger,
		opts:       opts,
	}
}

// Close waits for detached background writes to finish.
func (e *Engine) Close() {
	e.background.Wait()
}

// unitNameRe captures the hosting platform's naming constraints: the
// project id doubles as the unit name.
var unitNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	ID          string
	Name        string
	RepoURL     string
	IsPublic    bool
	Autodeploy  *bool
	EnvVars     []domain.EnvVar
	AccessToken string
}

// CreateAndDeploy persists a new project and fires its first build.
// The record passes through Queued only between creation and the
// dispatch call: a failed dispatch rolls it to Error so it never
// claims Building with no build running.
func (e *Engine) CreateAndDeploy(ctx context.Context, caller domain.Identity, input CreateInput) (*domain.Project, error) {
	if !caller.Authenticated() && caller.Login != domain.AnonymousLogin {
		return nil, ErrUnauthorized
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrInvalidInput)
	}
	if !unitNameRe.MatchString(id) {
		return nil, fmt.Errorf("%w: project id must be lowercase alphanumeric and hyphen", ErrInvalidInput)
	}
	repoURL, err := normalizeRepoURL(input.RepoURL)
	if err != nil {
		return nil, err
	}
	envVars, err := envvault.Validate(input.EnvVars)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = id
	}
	autodeploy := true
	if input.Autodeploy != nil {
		autodeploy = *input.Autodeploy
	}

	now := time.Now().UTC()
	project := &domain.Project{
		ID:             id,
		Name:           name,
		Status:         domain.StatusQueued,
		RepoURL:        repoURL,
		Owner:          ownerKey(caller),
		OwnerLogin:     caller.DispatchOwner(),
		IsPublic:       input.IsPublic,
		Autodeploy:     autodeploy,
		EnvVars:        envVars,
		BuildErrors:    []string{},
		MissingEnvVars: []string{},
		BuildAttempt:   1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.projects.CreateProject(ctx, project); err != nil {
		if err == repository.ErrConflict {
			return nil, fmt.Errorf("%w: project id %q already exists", ErrInvalidInput, id)
		}
		return nil, storeErr(err)
	}

	if err := e.dispatchBuild(ctx, project, caller.DispatchOwner(), input.AccessToken); err != nil {
		e.markDispatchFailed(ctx, project.ID, err)
		return nil, err
	}
	updated, err := e.projects.PatchProject(ctx, project.ID, repository.ProjectPatch{
		Status: statusPtr(domain.StatusBuilding),
	})
	if err != nil {
		return nil, storeErr(err)
	}
	e.publishStatus(updated, "build dispatched")
	e.logger.Info("project created", "project_id", updated.ID, "owner", updated.OwnerLogin, "repo_url", updated.RepoURL)
	return updated, nil
}

// Redeploy clears the previous attempt's diagnostics and dispatches a
// fresh build with the project's current environment variables.
func (e *Engine) Redeploy(ctx context.Context, caller domain.Identity, projectID string) (*domain.Project, error) {
	project, err := e.authorizeMutation(ctx, caller, projectID)
	if err != nil {
		return nil, err
	}
	return e.redeploy(ctx, project)
}

// redeploy is the shared rebuild path for Redeploy and autodeploy. A
// redeploy while already Building is permitted; overlapping builds
// race and attempt fencing in the callback keeps the latest one
// authoritative.
func (e *Engine) redeploy(ctx context.Context, project *domain.Project) (*domain.Project, error) {
	attempt := project.BuildAttempt + 1
	updated, err := e.projects.PatchProject(ctx, project.ID, repository.ProjectPatch{
		Status:         statusPtr(domain.StatusBuilding),
		BuildErrors:    &[]string{},
		MissingEnvVars: &[]string{},
		DeploymentLogs: strPtr(""),
		BuildAttempt:   &attempt,
	})
	if err != nil {
		return nil, storeErr(err)
	}
	if err := e.dispatchBuild(ctx, updated, dispatchOwner(updated), ""); err != nil {
		e.markDispatchFailed(ctx, updated.ID, err)
		return nil, err
	}
	e.publishStatus(updated, "build dispatched")
	e.logger.Info("redeploy dispatched", "project_id", updated.ID, "attempt", attempt)
	return updated, nil
}

// UpdateInput carries settable project fields; nil means unchanged.
type UpdateInput struct {
	Name       *string
	RepoURL    *string
	IsPublic   *bool
	Autodeploy *bool
	EnvVars    *[]domain.EnvVar
}

// UpdateSettings applies a partial settings change.
func (e *Engine) UpdateSettings(ctx context.Context, caller domain.Identity, projectID string, input UpdateInput) (*domain.Project, error) {
	project, err := e.authorizeMutation(ctx, caller, projectID)
	if err != nil {
		return nil, err
	}
	patch := repository.ProjectPatch{
		IsPublic:   input.IsPublic,
		Autodeploy: input.Autodeploy,
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: project name cannot be empty", ErrInvalidInput)
		}
		patch.Name = &name
	}
	if input.RepoURL != nil {
		repoURL, err := normalizeRepoURL(*input.RepoURL)
		if err != nil {
			return nil, err
		}
		patch.RepoURL = &repoURL
	}
	if input.EnvVars != nil {
		envVars, err := envvault.Validate(*input.EnvVars)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		patch.EnvVars = &envVars
	}
	if patch.Empty() {
		return project, nil
	}
	updated, err := e.projects.PatchProject(ctx, projectID, patch)
	if err != nil {
		return nil, storeErr(err)
	}
	e.logger.Info("project settings updated", "project_id", projectID)
	return updated, nil
}

// Delete removes the project record. Tearing down the unit on the
// hosting platform is the platform's own concern.
func (e *Engine) Delete(ctx context.Context, caller domain.Identity, projectID string) error {
	if _, err := e.authorizeMutation(ctx, caller, projectID); err != nil {
		return err
	}
	if err := e.projects.DeleteProject(ctx, projectID); err != nil {
		return storeErr(err)
	}
	e.logger.Info("project deleted", "project_id", projectID)
	return nil
}

// ListProjects returns the caller's own projects via the owner index.
func (e *Engine) ListProjects(ctx context.Context, caller domain.Identity) ([]domain.Project, error) {
	if !caller.Authenticated() {
		return nil, ErrUnauthorized
	}
	projects, err := e.projects.ListProjectsByOwner(ctx, ownerKey(caller))
	if err != nil {
		return nil, storeErr(err)
	}
	return projects, nil
}

// authorizeMutation loads the record and checks mutation rights,
// fresh on every call.
func (e *Engine) authorizeMutation(ctx context.Context, caller domain.Identity, projectID string) (*domain.Project, error) {
	if !caller.Authenticated() {
		return nil, ErrUnauthorized
	}
	project, err := e.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !e.guard.CanMutate(caller, project) {
		return nil, ErrForbidden
	}
	return project, nil
}

func (e *Engine) dispatchBuild(ctx context.Context, project *domain.Project, owner, accessToken string) error {
	dctx, cancel := context.WithTimeout(ctx, e.opts.DispatchTimeout)
	defer cancel()
	err := e.dispatcher.Dispatch(dctx, dispatch.Request{
		ProjectID:   project.ID,
		RepoURL:     project.RepoURL,
		Owner:       owner,
		Attempt:     project.BuildAttempt,
		EnvVars:     project.EnvVars,
		AccessToken: accessToken,
	})
	if err != nil {
		recordDispatch("failed")
		return fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	recordDispatch("ok")
	return nil
}

// markDispatchFailed rolls a record to Error after a synchronous
// dispatch failure; left as Building it would wait forever on a
// callback that is never coming.
func (e *Engine) markDispatchFailed(ctx context.Context, projectID string, cause error) {
	diagnostic := fmt.Sprintf("build dispatch failed: %v", cause)
	updated, err := e.projects.PatchProject(ctx, projectID, repository.ProjectPatch{
		Status:      statusPtr(domain.StatusError),
		BuildErrors: &[]string{diagnostic},
	})
	if err != nil {
		e.logger.Error("failed to record dispatch failure", "project_id", projectID, "error", err)
		return
	}
	e.publishStatus(updated, diagnostic)
}

func (e *Engine) publishStatus(project *domain.Project, message string) {
	if e.events == nil || project == nil {
		return
	}
	event := domain.StatusEvent{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Status:    project.Status,
		Domain:    project.Domain,
		Message:   message,
		At:        time.Now().UTC(),
	}
	payload, err := marshalEvent(event)
	if err != nil {
		e.logger.Warn("failed to marshal status event", "project_id", project.ID, "error", err)
		return
	}
	e.events.Broadcast(project.ID, payload)
}

// dispatchOwner resolves the identity recorded on a dispatch: the
// project's owner login, or the explicit anonymous marker, never a
// silent default.
func dispatchOwner(project *domain.Project) string {
	if login := strings.TrimSpace(project.OwnerLogin); login != "" {
		return login
	}
	if owner := strings.TrimSpace(project.Owner); owner != "" {
		return owner
	}
	return domain.AnonymousLogin
}

func ownerKey(caller domain.Identity) string {
	if email := strings.TrimSpace(caller.Email); email != "" {
		return email
	}
	if login := strings.TrimSpace(caller.Login); login != "" {
		return login
	}
	return domain.AnonymousLogin
}

func normalizeRepoURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: repository URL is required", ErrInvalidInput)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("%w: malformed repository URL %q", ErrInvalidInput, raw)
	}
	trimmed = strings.TrimRight(trimmed, "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")
	return trimmed, nil
}

func statusPtr(s domain.Status) *domain.Status { return &s }

func strPtr(s string) *string { return &s }
