package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/slipway-sh/slipway/internal/access"
	"github.com/slipway-sh/slipway/internal/dispatch"
	"github.com/slipway-sh/slipway/internal/domain"
	"github.com/slipway-sh/slipway/internal/repository"
)

type storeStub struct {
	mu        sync.Mutex
	projects  map[string]domain.Project
	createErr error
	patchErr  error
	listErr   error
	patched   []repository.ProjectPatch
}

func newStoreStub() *storeStub {
	return &storeStub{projects: make(map[string]domain.Project)}
}

func (s *storeStub) CreateProject(_ context.Context, project *domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.projects[project.ID]; ok {
		return repository.ErrConflict
	}
	s.projects[project.ID] = *project
	return nil
}

func (s *storeStub) GetProjectByID(_ context.Context, projectID string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.projects[projectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := project
	return &copied, nil
}

func (s *storeStub) PatchProject(_ context.Context, projectID string, patch repository.ProjectPatch) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.patchErr != nil {
		return nil, s.patchErr
	}
	project, ok := s.projects[projectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if patch.Name != nil {
		project.Name = *patch.Name
	}
	if patch.Status != nil {
		project.Status = *patch.Status
	}
	if patch.RepoURL != nil {
		project.RepoURL = *patch.RepoURL
	}
	if patch.Domain != nil {
		project.Domain = *patch.Domain
	}
	if patch.IsPublic != nil {
		project.IsPublic = *patch.IsPublic
	}
	if patch.Autodeploy != nil {
		project.Autodeploy = *patch.Autodeploy
	}
	if patch.EnvVars != nil {
		project.EnvVars = *patch.EnvVars
	}
	if patch.BuildErrors != nil {
		project.BuildErrors = *patch.BuildErrors
	}
	if patch.MissingEnvVars != nil {
		project.MissingEnvVars = *patch.MissingEnvVars
	}
	if patch.DeploymentLogs != nil {
		project.DeploymentLogs = *patch.DeploymentLogs
	}
	if patch.BuildAttempt != nil {
		project.BuildAttempt = *patch.BuildAttempt
	}
	if patch.LastDeployed != nil {
		deployed := *patch.LastDeployed
		project.LastDeployed = &deployed
	}
	project.UpdatedAt = time.Now().UTC()
	s.projects[projectID] = project
	s.patched = append(s.patched, patch)
	copied := project
	return &copied, nil
}

func (s *storeStub) DeleteProject(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; !ok {
		return repository.ErrNotFound
	}
	delete(s.projects, projectID)
	return nil
}

func (s *storeStub) ListProjectsByRepoURL(_ context.Context, repoURL string) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Project
	for _, project := range s.projects {
		if project.RepoURL == repoURL {
			out = append(out, project)
		}
	}
	return out, nil
}

func (s *storeStub) ListProjectsByOwner(_ context.Context, owner string) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Project
	for _, project := range s.projects {
		if project.Owner == owner {
			out = append(out, project)
		}
	}
	return out, nil
}

func (s *storeStub) mustGet(t *testing.T, projectID string) domain.Project {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.projects[projectID]
	if !ok {
		t.Fatalf("project %q not in store", projectID)
	}
	return project
}

type dispatcherStub struct {
	mu       sync.Mutex
	err      error
	errFor   map[string]error
	requests []dispatch.Request
}

func (d *dispatcherStub) Dispatch(_ context.Context, req dispatch.Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	if d.errFor != nil {
		if err, ok := d.errFor[req.ProjectID]; ok {
			return err
		}
	}
	return d.err
}

func (d *dispatcherStub) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

type probeStub struct {
	state domain.UnitState
	err   error
}

func (p *probeStub) Lookup(context.Context, string) (domain.UnitState, error) {
	return p.state, p.err
}

type publisherStub struct {
	mu     sync.Mutex
	events []string
}

func (p *publisherStub) Broadcast(projectID string, _ []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, projectID)
}

func (p *publisherStub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(store *storeStub, dispatcher *dispatcherStub, probe Probe, events Publisher) *Engine {
	return New(store, dispatcher, probe, access.New(), events, testLogger(), Options{
		CallbackSecret: "callback-secret",
	})
}

func ownerIdentity() domain.Identity {
	return domain.Identity{Email: "dev@example.com", Login: "dev", Role: domain.RoleUser}
}

func seedProject(store *storeStub, project domain.Project) {
	if project.Status == "" {
		project.Status = domain.StatusActive
	}
	if project.BuildAttempt == 0 {
		project.BuildAttempt = 1
	}
	store.projects[project.ID] = project
}

func TestCreateAndDeployDispatchesFirstBuild(t *testing.T) {
	store := newStoreStub()
	dispatcher := &dispatcherStub{}
	events := &publisherStub{}
	eng := newTestEngine(store, dispatcher, nil, events)

	project, err := eng.CreateAndDeploy(context.Background(), ownerIdentity(), CreateInput{
		ID:      "my-app",
		RepoURL: "https://github.com/dev/my-app.git/",
		EnvVars: []domain.EnvVar{{Key: "PORT", Value: "3000"}},
	})
	if err != nil {
		t.Fatalf("CreateAndDeploy returned error: %v", err)
	}
	if project.Status != domain.StatusBuilding {
		t.Fatalf("expected building status, got %q", project.Status)
	}
	if project.RepoURL != "https://github.com/dev/my-app" {
		t.Fatalf("repo url not normalized: %q", project.RepoURL)
	}
	if project.BuildAttempt != 1 {
		t.Fatalf("expected first attempt, got %d", project.BuildAttempt)
	}
	if len(project.BuildErrors) != 0 || len(project.MissingEnvVars) != 0 {
		t.Fatalf("expected empty diagnostics, got %v / %v", project.BuildErrors, project.MissingEnvVars)
	}
	if !project.Autodeploy {
		t.Fatal("autodeploy should default to enabled")
	}
	if dispatcher.count() != 1 {
		t.Fatalf("expected one dispatch, got %d", dispatcher.count())
	}
	req := dispatcher.requests[0]
	if req.ProjectID != "my-app" || req.Owner != "dev" || req.Attempt != 1 {
		t.Fatalf("unexpected dispatch request: %+v", req)
	}
	if events.count() != 1 {
		t.Fatalf("expected one status event, got %d", events.count())
	}
}

func TestCreateAndDeployDispatchFailureRollsToError(t *testing.T) {
	store := newStoreStub()
	dispatcher := &dispatcherStub{err: errors.New("runner unreachable")}
	eng := newTestEngine(store, dispatcher, nil, nil)

	_, err := eng.CreateAndDeploy(context.Background(), ownerIdentity(), CreateInput{
		ID:      "my-app",
		RepoURL: "https://github.com/dev/my-app",
	})
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected dispatch failure, got %v", err)
	}
	stored := store.mustGet(t, "my-app")
	if stored.Status != domain.StatusError {
		t.Fatalf("expected error status after failed dispatch, got %q", stored.Status)
	}
	if len(stored.BuildErrors) != 1 {
		t.Fatalf("expected one diagnostic, got %v", stored.BuildErrors)
	}
}

func TestCreateAndDeployRejectsInvalidInput(t *testing.T) {
	store := newStoreStub()
	eng := newTestEngine(store, &dispatcherStub{}, nil, nil)
	caller := ownerIdentity()

	cases := []struct {
		name  string
		input CreateInput
	}{
		{"empty id", CreateInput{RepoURL: "https://github.com/dev/app"}},
		{"uppercase id", CreateInput{ID: "MyApp", RepoURL: "https://github.com/dev/app"}},
		{"missing repo", CreateInput{ID: "my-app"}},
		{"bad scheme", CreateInput{ID: "my-app", RepoURL: "git@github.com:dev/app.git"}},
		{"empty env key", CreateInput{ID: "my-app", RepoURL: "https://github.com/dev/app",
			EnvVars: []domain.EnvVar{{Key: " ", Value: "x"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := eng.CreateAndDeploy(context.Background(), caller, tc.input); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
	if len(store.projects) != 0 {
		t.Fatalf("store should stay empty, has %d records", len(store.projects))
	}
}

func TestCreateAndDeployDuplicateID(t *testing.T) {
	store := newStoreStub()
	eng := newTestEngine(store, &dispatcherStub{}, nil, nil)
	caller := ownerIdentity()
	input := CreateInput{ID: "my-app", RepoURL: "https://github.com/dev/app"}

	if _, err := eng.CreateAndDeploy(context.Background(), caller, input); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := eng.CreateAndDeploy(context.Background(), caller, input); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected conflict surfaced as invalid input, got %v", err)
	}
}

func TestCreateAndDeployAnonymousGated(t *testing.T) {
	store := newStoreStub()
	eng := newTestEngine(store, &dispatcherStub{}, nil, nil)

	if _, err := eng.CreateAndDeploy(context.Background(), domain.Identity{}, CreateInput{
		ID: "my-app", RepoURL: "https://github.com/dev/app",
	}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for empty identity, got %v", err)
	}

	project, err := eng.CreateAndDeploy(context.Background(), domain.Anonymous(), CreateInput{
		ID: "my-app", RepoURL: "https://github.com/dev/app",
	})
	if err != nil {
		t.Fatalf("anonymous create failed: %v", err)
	}
	if project.OwnerLogin != domain.AnonymousLogin {
		t.Fatalf("expected anonymous owner marker, got %q", project.OwnerLogin)
	}
}

func TestRedeployIncrementsAttemptAndClearsDiagnostics(t *testing.T) {
	store := newStoreStub()
	dispatcher := &dispatcherStub{}
	eng := newTestEngine(store, dispatcher, nil, nil)
	seedProject(store, domain.Project{
		ID:             "my-app",
		RepoURL:        "https://github.com/dev/app",
		Owner:          "dev@example.com",
		OwnerLogin:     "dev",
		Status:         domain.StatusError,
		BuildErrors:    []string{"previous failure"},
		MissingEnvVars: []string{"API_KEY"},
		DeploymentLogs: "old logs",
		BuildAttempt:   3,
	})

	project, err := eng.Redeploy(context.Background(), ownerIdentity(), "my-app")
	if err != nil {
		t.Fatalf("Redeploy returned error: %v", err)
	}
	if project.Status != domain.StatusBuilding {
		t.Fatalf("expected building status, got %q", project.Status)
	}
	if project.BuildAttempt != 4 {
		t.Fatalf("expected attempt 4, got %d", project.BuildAttempt)
	}
	if len(project.BuildErrors) != 0 || len(project.MissingEnvVars) != 0 || project.DeploymentLogs != "" {
		t.Fatalf("diagnostics not cleared: %+v", project)
	}
	if dispatcher.requests[0].Attempt != 4 {
		t.Fatalf("dispatch carried attempt %d, want 4", dispatcher.requests[0].Attempt)
	}
}

func TestMutationsRequireOwnership(t *testing.T) {
	store := newStoreStub()
	eng := newTestEngine(store, &dispatcherStub{}, nil, nil)
	seedProject(store, domain.Project{
		ID:         "my-app",
		RepoURL:    "https://github.com/dev/app",
		Owner:      "dev@example.com",
		OwnerLogin: "dev",
	})
	stranger := domain.Identity{Email: "other@example.com", Login: "other", Role: domain.RoleUser}

	if _, err := eng.Redeploy(context.Background(), stranger, "my-app"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden redeploy, got %v", err)
	}
	if err := eng.Delete(context.Background(), stranger, "my-app"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden delete, got %v", err)
	}

	admin := domain.Identity{Email: "root@example.com", Login: "root", Role: domain.RoleAdmin}
	if err := eng.Delete(context.Background(), admin, "my-app"); err != nil {
		t.Fatalf("admin delete failed: %v", err)
	}
	if _, err := eng.Redeploy(context.Background(), admin, "my-app"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestUpdateSettingsPartialPatch(t *testing.T) {
	store := newStoreStub()
	eng := newTestEngine(store, &dispatcherStub{}, nil, nil)
	seedProject(store, domain.Project{
		ID:         "my-app",
		Name:       "my-app",
		RepoURL:    "https://github.com/dev/app",
		Owner:      "dev@example.com",
		OwnerLogin: "dev",
		Autodeploy: true,
	})

	off := false
	name := "renamed"
	project, err := eng.UpdateSettings(context.Background(), ownerIdentity(), "my-app", UpdateInput{
		Name:       &name,
		Autodeploy: &off,
	})
	if err != nil {
		t.Fatalf("UpdateSettings returned error: %v", err)
	}
	if project.Name != "renamed" || project.Autodeploy {
		t.Fatalf("patch not applied: %+v", project)
	}
	if project.RepoURL != "https://github.com/dev/app" {
		t.Fatalf("untouched field changed: %q", project.RepoURL)
	}

	// An all-nil input is a no-op, not an error.
	before := len(store.patched)
	if _, err := eng.UpdateSettings(context.Background(), ownerIdentity(), "my-app", UpdateInput{}); err != nil {
		t.Fatalf("empty update returned error: %v", err)
	}
	if len(store.patched) != before {
		t.Fatal("empty update should not touch the store")
	}
}

func TestListProjectsScopedToCaller(t *testing.T) {
	store := newStoreStub()
	eng := newTestEngine(store, &dispatcherStub{}, nil, nil)
	seedProject(store, domain.Project{ID: "mine", RepoURL: "https://github.com/dev/a", Owner: "dev@example.com"})
	seedProject(store, domain.Project{ID: "theirs", RepoURL: "https://github.com/dev/b", Owner: "other@example.com"})

	projects, err := eng.ListProjects(context.Background(), ownerIdentity())
	if err != nil {
		t.Fatalf("ListProjects returned error: %v", err)
	}
	if len(projects) != 1 || projects[0].ID != "mine" {
		t.Fatalf("unexpected listing: %+v", projects)
	}

	if _, err := eng.ListProjects(context.Background(), domain.Anonymous()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized listing, got %v", err)
	}
}

func TestStoreOutageSurfacesAsUnavailable(t *testing.T) {
	store := newStoreStub()
	eng := newTestEngine(store, &dispatcherStub{}, nil, nil)
	seedProject(store, domain.Project{
		ID: "my-app", RepoURL: "https://github.com/dev/app",
		Owner: "dev@example.com", OwnerLogin: "dev",
	})
	store.patchErr = errors.New("connection refused")

	_, err := eng.Redeploy(context.Background(), ownerIdentity(), "my-app")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}
