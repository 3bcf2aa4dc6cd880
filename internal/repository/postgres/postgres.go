package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/slipway-sh/slipway/internal/domain"
	"github.com/slipway-sh/slipway/internal/repository"
	"github.com/slipway-sh/slipway/pkg/crypto"
)

const uniqueViolation = "23505"

// Store implements repository.ProjectStore on PostgreSQL. Environment
// variables are encrypted with AES-GCM before they reach the database
// and decrypted on the way out; no other component sees ciphertext.
type Store struct {
	pool      *pgxpool.Pool
	envSecret string
}

// New constructs a Store.
func New(pool *pgxpool.Pool, envSecret string) *Store {
	return &Store{pool: pool, envSecret: envSecret}
}

var _ repository.ProjectStore = (*Store)(nil)

const projectColumns = `id, name, status, repo_url, owner, owner_login, domain,
	is_public, autodeploy, env_vars, build_errors, missing_env_vars,
	deployment_logs, build_attempt, created_at, updated_at, last_deployed`

// CreateProject inserts a project record. A duplicate id yields
// repository.ErrConflict.
func (s *Store) CreateProject(ctx context.Context, project *domain.Project) error {
	envVars, err := s.sealEnvVars(project.EnvVars)
	if err != nil {
		return err
	}
	const query = `INSERT INTO projects (` + projectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err = s.pool.Exec(ctx, query,
		project.ID, project.Name, string(project.Status), project.RepoURL,
		project.Owner, project.OwnerLogin, project.Domain,
		project.IsPublic, project.Autodeploy, envVars,
		textArray(project.BuildErrors), textArray(project.MissingEnvVars),
		project.DeploymentLogs, project.BuildAttempt,
		project.CreatedAt, project.UpdatedAt, project.LastDeployed)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrConflict
		}
		return err
	}
	return nil
}

// GetProjectByID fetches a single project record.
func (s *Store) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, projectID)
	project, err := s.scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return project, nil
}

// PatchProject applies a partial update and returns the updated
// record. Only non-nil patch fields are written; updated_at always is.
func (s *Store) PatchProject(ctx context.Context, projectID string, patch repository.ProjectPatch) (*domain.Project, error) {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.RepoURL != nil {
		add("repo_url", *patch.RepoURL)
	}
	if patch.Domain != nil {
		add("domain", *patch.Domain)
	}
	if patch.IsPublic != nil {
		add("is_public", *patch.IsPublic)
	}
	if patch.Autodeploy != nil {
		add("autodeploy", *patch.Autodeploy)
	}
	if patch.EnvVars != nil {
		sealed, err := s.sealEnvVars(*patch.EnvVars)
		if err != nil {
			return nil, err
		}
		add("env_vars", sealed)
	}
	if patch.BuildErrors != nil {
		add("build_errors", textArray(*patch.BuildErrors))
	}
	if patch.MissingEnvVars != nil {
		add("missing_env_vars", textArray(*patch.MissingEnvVars))
	}
	if patch.DeploymentLogs != nil {
		add("deployment_logs", *patch.DeploymentLogs)
	}
	if patch.BuildAttempt != nil {
		add("build_attempt", *patch.BuildAttempt)
	}
	if patch.LastDeployed != nil {
		add("last_deployed", *patch.LastDeployed)
	}

	args = append(args, projectID)
	query := fmt.Sprintf(`UPDATE projects SET %s WHERE id = $%d RETURNING `+projectColumns,
		strings.Join(sets, ", "), len(args))
	row := s.pool.QueryRow(ctx, query, args...)
	project, err := s.scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return project, nil
}

// DeleteProject removes a project record.
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	const query = `DELETE FROM projects WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, projectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListProjectsByRepoURL returns every project tracking the given
// repository, oldest first. Multiple units may track the same repo.
func (s *Store) ListProjectsByRepoURL(ctx context.Context, repoURL string) ([]domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE repo_url = $1 ORDER BY created_at ASC`
	return s.listProjects(ctx, query, repoURL)
}

// ListProjectsByOwner returns projects created by the given principal,
// newest first.
func (s *Store) ListProjectsByOwner(ctx context.Context, owner string) ([]domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE owner = $1 ORDER BY created_at DESC`
	return s.listProjects(ctx, query, owner)
}

func (s *Store) listProjects(ctx context.Context, query string, arg any) ([]domain.Project, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var projects []domain.Project
	for rows.Next() {
		project, err := s.scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *project)
	}
	return projects, rows.Err()
}

func (s *Store) scanProject(row pgx.Row) (*domain.Project, error) {
	var (
		p       domain.Project
		status  string
		envVars []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &status, &p.RepoURL, &p.Owner, &p.OwnerLogin,
		&p.Domain, &p.IsPublic, &p.Autodeploy, &envVars,
		&p.BuildErrors, &p.MissingEnvVars, &p.DeploymentLogs, &p.BuildAttempt,
		&p.CreatedAt, &p.UpdatedAt, &p.LastDeployed); err != nil {
		return nil, err
	}
	p.Status = domain.Status(status)
	opened, err := s.openEnvVars(envVars)
	if err != nil {
		return nil, err
	}
	p.EnvVars = opened
	return &p, nil
}

func (s *Store) sealEnvVars(vars []domain.EnvVar) ([]byte, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	plain, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("encode env vars: %w", err)
	}
	sealed, err := crypto.EncryptString(s.envSecret, string(plain))
	if err != nil {
		return nil, fmt.Errorf("encrypt env vars: %w", err)
	}
	return sealed, nil
}

func (s *Store) openEnvVars(payload []byte) ([]domain.EnvVar, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	plain, err := crypto.DecryptToString(s.envSecret, payload)
	if err != nil {
		return nil, fmt.Errorf("decrypt env vars: %w", err)
	}
	var vars []domain.EnvVar
	if err := json.Unmarshal([]byte(plain), &vars); err != nil {
		return nil, fmt.Errorf("decode env vars: %w", err)
	}
	return vars, nil
}

// textArray normalizes nil slices so the TEXT[] columns never store
// NULL.
func textArray(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// Ping verifies database connectivity, used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
