package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/slipway-sh/slipway/internal/domain"
)

// Request carries everything the external CI runner needs to start a
// build for a project.
type Request struct {
	ProjectID   string
	RepoURL     string
	Owner       string
	Attempt     int64
	EnvVars     []domain.EnvVar
	AccessToken string
}

// RunnerClient dispatches builds to the external CI runner over HTTP.
type RunnerClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	logger    *slog.Logger
}

// NewRunnerClient returns a dispatcher for the runner at baseURL.
func NewRunnerClient(baseURL, authToken string, logger *slog.Logger) *RunnerClient {
	return &RunnerClient{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		authToken: strings.TrimSpace(authToken),
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}
}

// Dispatch instructs the runner to start one build. Any failure,
// network, auth or runner-side validation, is surfaced synchronously;
// the caller bounds the call with its context.
func (c *RunnerClient) Dispatch(ctx context.Context, req Request) error {
	envVars, err := EncodeEnvVars(req.EnvVars)
	if err != nil {
		return err
	}
	body := map[string]any{
		"project_id": req.ProjectID,
		"repo_url":   req.RepoURL,
		"owner":      req.Owner,
		"attempt":    req.Attempt,
		"env_vars":   envVars,
	}
	if req.AccessToken != "" {
		body["access_token"] = req.AccessToken
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode dispatch payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/build", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create dispatch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		httpReq.Header.Set("X-Runner-Token", c.authToken)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("contact runner: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		detail := readErrorDetail(resp.Body)
		c.logger.Warn("runner rejected dispatch", "project_id", req.ProjectID, "status", resp.Status, "detail", detail)
		if detail != "" {
			return fmt.Errorf("runner rejected dispatch: %s: %s", resp.Status, detail)
		}
		return fmt.Errorf("runner rejected dispatch: %s", resp.Status)
	}
	c.logger.Info("build dispatched", "project_id", req.ProjectID, "attempt", req.Attempt, "owner", req.Owner)
	return nil
}

// EncodeEnvVars serializes pairs into the single string-valued input
// the runner expects: a compact JSON array of {key,value}. An empty
// set serializes to the explicit empty-string sentinel rather than an
// absent input.
func EncodeEnvVars(vars []domain.EnvVar) (string, error) {
	if len(vars) == 0 {
		return "", nil
	}
	data, err := json.Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("encode env vars: %w", err)
	}
	return string(data), nil
}

func readErrorDetail(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 2048))
	if err != nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}
