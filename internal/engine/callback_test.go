package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/slipway-sh/slipway/internal/access"
	"github.com/slipway-sh/slipway/internal/domain"
)

func TestCallbackRejectsBadSecret(t *testing.T) {
	store := newStoreStub()
	eng := newTestEngine(store, &dispatcherStub{}, nil, nil)
	seedProject(store, domain.Project{
		ID: "my-app", RepoURL: "https://github.com/dev/app", Status: domain.StatusBuilding,
	})

	_, err := eng.HandleBuildCallback(context.Background(), "wrong-secret", Callback{
		ProjectID: "my-app", Status: "success",
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	stored := store.mustGet(t, "my-app")
	if stored.Status != domain.StatusBuilding {
		t.Fatalf("record mutated despite bad secret: %q", stored.Status)
	}
	if len(store.patched) != 0 {
		t.Fatal("store written despite bad secret")
	}
}

func TestCallbackRequiresConfiguredSecret(t *testing.T) {
	store := newStoreStub()
	eng := New(store, &dispatcherStub{}, nil, access.New(), nil, testLogger(), Options{})

	_, err := eng.HandleBuildCallback(context.Background(), "anything", Callback{ProjectID: "my-app"})
	if err == nil || errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCallbackSuccessActivatesProject(t *testing.T) {
	store := newStoreStub()
	events := &publisherStub{}
	eng := newTestEngine(store, &dispatcherStub{}, nil, events)
	seedProject(store, domain.Project{
		ID: "my-app", RepoURL: "https://github.com/dev/app", Status: domain.StatusBuilding,
	})

	project, err := eng.HandleBuildCallback(context.Background(), "callback-secret", Callback{
		ProjectID:      "my-app",
		Status:         "success",
		Domain:         "my-app.localhost",
		DeploymentLogs: "built in 12s",
	})
	if err != nil {
		t.Fatalf("callback returned error: %v", err)
	}
	if project.Status != domain.StatusActive {
		t.Fatalf("expected active status, got %q", project.Status)
	}
	if project.Domain != "my-app.localhost" {
		t.Fatalf("domain not recorded: %q", project.Domain)
	}
	if project.DeploymentLogs != "built in 12s" {
		t.Fatalf("logs not replaced: %q", project.DeploymentLogs)
	}
	if project.LastDeployed == nil {
		t.Fatal("lastDeployed not stamped on activation")
	}
	if events.count() != 1 {
		t.Fatalf("expected one status event, got %d", events.count())
	}

	// A duplicate delivery of the same result must not move the
	// deployment timestamp.
	first := *project.LastDeployed
	again, err := eng.HandleBuildCallback(context.Background(), "callback-secret", Callback{
		ProjectID: "my-app", Status: "success",
	})
	if err != nil {
		t.Fatalf("repeated callback returned error: %v", err)
	}
	if again.LastDeployed == nil || !again.LastDeployed.Equal(first) {
		t.Fatalf("lastDeployed moved on duplicate callback: %v != %v", again.LastDeployed, first)
	}
}

func TestCallbackFailureRecordsDiagnostics(t *testing.T) {
	store := newStoreStub()
	eng := newTestEngine(store, &dispatcherStub{}, nil, nil)
	seedProject(store, domain.Project{
		ID: "my-app", RepoURL: "https://github.com/dev/app", Status: domain.StatusBuilding,
	})

	project, err := eng.HandleBuildCallback(context.Background(), "callback-secret", Callback{
		ProjectID:      "my-app",
		Status:         "failed",
		BuildErrors:    []string{"npm install exited 1"},
		MissingEnvVars: []string{"DATABASE_URL"},
	})
	if err != nil {
		t.Fatalf("callback returned error: %v", err)
	}
	if project.Status != domain.StatusError {
		t.Fatalf("expected error status, got %q", project.Status)
	}
	if len(project.BuildErrors) != 1 || project.BuildErrors[0] != "npm install exited 1" {
		t.Fatalf("build errors not recorded: %v", project.BuildErrors)
	}
	if len(project.MissingEnvVars) != 1 || project.MissingEnvVars[0] != "DATABASE_URL" {
		t.Fatalf("missing env vars not recorded: %v", project.MissingEnvVars)
	}
}

func TestCallbackUnknownStatusLeavesRecordCanonical(t *testing.T) {
	store := newStoreStub()
	events := &publisherStub{}
	eng := newTestEngine(store, &dispatcherStub{}, nil, events)
	seedProject(store, domain.Project{
		ID: "my-app", RepoURL: "https://github.com/dev/app", Status: domain.StatusBuilding,
	})

	project, err := eng.HandleBuildCallback(context.Background(), "callback-secret", Callback{
		ProjectID: "my-app", Status: "deploying-ish",
	})
	if err != nil {
		t.Fatalf("callback returned error: %v", err)
	}
	if project.Status != domain.StatusBuilding {
		t.Fatalf("unknown status leaked into record: %q", project.Status)
	}
	if !strings.Contains(project.DeploymentLogs, `"deploying-ish"`) {
		t.Fatalf("raw status not kept in logs: %q", project.DeploymentLogs)
	}
	if events.count() != 0 {
		t.Fatalf("unknown status must not publish events, got %d", events.count())
	}
}

func TestCallbackFencesSupersededAttempt(t *testing.T) {
	store := newStoreStub()
	eng := newTestEngine(store, &dispatcherStub{}, nil, nil)
	seedProject(store, domain.Project{
		ID: "my-app", RepoURL: "https://github.com/dev/app",
		Status: domain.StatusBuilding, BuildAttempt: 5,
	})

	project, err := eng.HandleBuildCallback(context.Background(), "callback-secret", Callback{
		ProjectID: "my-app", Status: "success", Attempt: 4,
	})
	if err != nil {
		t.Fatalf("callback returned error: %v", err)
	}
	if project.Status != domain.StatusBuilding {
		t.Fatalf("superseded callback applied: %q", project.Status)
	}
	if len(store.patched) != 0 {
		t.Fatal("superseded callback wrote to the store")
	}

	// Runners that do not echo the attempt still apply last-write-wins.
	applied, err := eng.HandleBuildCallback(context.Background(), "callback-secret", Callback{
		ProjectID: "my-app", Status: "success",
	})
	if err != nil {
		t.Fatalf("unfenced callback returned error: %v", err)
	}
	if applied.Status != domain.StatusActive {
		t.Fatalf("unfenced callback not applied: %q", applied.Status)
	}
}

func TestCallbackUnknownProject(t *testing.T) {
	store := newStoreStub()
	eng := newTestEngine(store, &dispatcherStub{}, nil, nil)

	_, err := eng.HandleBuildCallback(context.Background(), "callback-secret", Callback{
		ProjectID: "ghost", Status: "success",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
