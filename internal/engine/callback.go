package engine

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slipway-sh/slipway/internal/domain"
	"github.com/slipway-sh/slipway/internal/repository"
)

// Callback is the CI runner's completion payload. BuildErrors,
// MissingEnvVars and Attempt are optional extensions; runners that
// omit Attempt fall back to last-write-wins.
type Callback struct {
	ProjectID      string   `json:"projectId"`
	Status         string   `json:"status"`
	DeploymentLogs string   `json:"deploymentLogs,omitempty"`
	Domain         string   `json:"domain,omitempty"`
	BuildErrors    []string `json:"buildErrors,omitempty"`
	MissingEnvVars []string `json:"missingEnvVars,omitempty"`
	Attempt        int64    `json:"attempt,omitempty"`
}

// HandleBuildCallback ingests a build result from the CI runner. It
// is the one write path that bypasses the access guard; a pre-shared
// secret compared in constant time gates it instead, and a mismatch
// returns before the record store is touched. The callback's status is
// authoritative over any probe-derived status until the next callback
// or redeploy.
func (e *Engine) HandleBuildCallback(ctx context.Context, secret string, cb Callback) (*domain.Project, error) {
	if err := e.verifyCallbackSecret(secret); err != nil {
		return nil, err
	}
	projectID := strings.TrimSpace(cb.ProjectID)
	if projectID == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrInvalidInput)
	}
	project, err := e.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, storeErr(err)
	}

	// A callback fenced to a superseded attempt lost the race to a
	// newer dispatch; applying it would clobber the build in flight.
	if cb.Attempt > 0 && cb.Attempt < project.BuildAttempt {
		e.logger.Warn("ignoring callback for superseded build attempt",
			"project_id", projectID, "attempt", cb.Attempt, "current_attempt", project.BuildAttempt)
		recordCallback("superseded")
		return project, nil
	}

	status, known := normalizeCallbackStatus(cb.Status)
	patch := repository.ProjectPatch{}
	if cb.DeploymentLogs != "" {
		// Logs replace wholesale, never append.
		patch.DeploymentLogs = &cb.DeploymentLogs
	}
	message := ""
	switch {
	case !known:
		e.logger.Warn("runner reported unrecognized status", "project_id", projectID, "status", cb.Status)
		line := fmt.Sprintf("runner reported unrecognized status %q", cb.Status)
		logs := line
		if cb.DeploymentLogs != "" {
			logs = cb.DeploymentLogs + "\n" + line
		}
		patch.DeploymentLogs = &logs
		message = line
	case status == domain.StatusActive:
		patch.Status = statusPtr(domain.StatusActive)
		if project.Status != domain.StatusActive {
			now := time.Now().UTC()
			patch.LastDeployed = &now
		}
		if cb.Domain != "" {
			patch.Domain = &cb.Domain
		}
		message = "build succeeded"
	case status == domain.StatusError:
		patch.Status = statusPtr(domain.StatusError)
		if cb.BuildErrors != nil {
			patch.BuildErrors = &cb.BuildErrors
		}
		if cb.MissingEnvVars != nil {
			patch.MissingEnvVars = &cb.MissingEnvVars
		}
		message = "build failed"
	default:
		// Still building: a no-op transition that carries logs and
		// refreshes updated_at.
		patch.Status = statusPtr(domain.StatusBuilding)
		message = "build in progress"
	}

	updated, err := e.projects.PatchProject(ctx, projectID, patch)
	if err != nil {
		return nil, storeErr(err)
	}
	recordCallback(callbackMetricLabel(cb.Status, known))
	if known {
		e.publishStatus(updated, message)
	}
	e.logger.Info("build callback applied", "project_id", projectID, "status", cb.Status, "attempt", cb.Attempt)
	return updated, nil
}

func (e *Engine) verifyCallbackSecret(secret string) error {
	expected := e.opts.CallbackSecret
	if expected == "" {
		return errors.New("engine: callback secret not configured")
	}
	provided := strings.TrimSpace(secret)
	if len(provided) != len(expected) || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// normalizeCallbackStatus folds the runner's status vocabulary onto
// the canonical enum. The second return reports whether the value was
// recognized; unknown values never reach the status column.
func normalizeCallbackStatus(raw string) (domain.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success":
		return domain.StatusActive, true
	case "error", "failed":
		return domain.StatusError, true
	case "building":
		return domain.StatusBuilding, true
	default:
		return "", false
	}
}

func callbackMetricLabel(raw string, known bool) string {
	if !known {
		return "unknown"
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

func marshalEvent(event domain.StatusEvent) ([]byte, error) {
	return json.Marshal(event)
}
