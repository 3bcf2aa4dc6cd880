package scm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestListRepositories(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/repos" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer gho_token" {
			t.Errorf("unexpected authorization: %q", got)
		}
		_ = json.NewEncoder(w).Encode([]Repository{
			{Name: "app", FullName: "dev/app", CloneURL: "https://github.com/dev/app.git", DefaultBranch: "main"},
		})
	}))
	defer server.Close()

	client := New(server.URL + "/")
	repos, err := client.ListRepositories(context.Background(), "gho_token")
	if err != nil {
		t.Fatalf("ListRepositories returned error: %v", err)
	}
	if len(repos) != 1 || repos[0].FullName != "dev/app" {
		t.Fatalf("unexpected repos: %+v", repos)
	}
}

func TestListRepositoriesRequiresToken(t *testing.T) {
	client := New("")
	if _, err := client.ListRepositories(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestListRepositoriesSurfacesHostError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
	}))
	defer server.Close()

	client := New(server.URL)
	_, err := client.ListRepositories(context.Background(), "bad")
	if err == nil || !strings.Contains(err.Error(), "Bad credentials") {
		t.Fatalf("expected host error detail, got %v", err)
	}
}
