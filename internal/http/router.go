package httpx

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slipway-sh/slipway/internal/domain"
	"github.com/slipway-sh/slipway/internal/engine"
	"github.com/slipway-sh/slipway/internal/envvault"
	"github.com/slipway-sh/slipway/internal/scm"
	"github.com/slipway-sh/slipway/internal/ws"
)

// Router wires HTTP endpoints to the reconciliation engine.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	engine   *engine.Engine
	scm      *scm.Client
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter

	jwtSecret            string
	pushSecret           string
	allowAnonymousCreate bool
	dbHealth             func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault      = time.Minute
	rateWindowRealtime     = 30 * time.Second
	rateLimitUserWrite     = 60
	rateLimitUserRead      = 120
	rateLimitWebsocket     = 30
	rateLimitPushHook      = 120
	rateLimitBuildCallback = 60
	healthCheckTimeout     = 2 * time.Second
)

// Config carries router construction parameters.
type Config struct {
	JWTSecret            string
	PushWebhookSecret    string
	AllowAnonymousCreate bool
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, eng *engine.Engine, scmClient *scm.Client, hub *ws.Hub, limiter RateLimiter, cfg Config, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		engine: eng,
		scm:    scmClient,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:              limiter,
		jwtSecret:            cfg.JWTSecret,
		pushSecret:           strings.TrimSpace(cfg.PushWebhookSecret),
		allowAnonymousCreate: cfg.AllowAnonymousCreate,
		dbHealth:             dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.HandleFunc("/projects", r.audit("/projects", r.handleProjects))
	r.mux.HandleFunc("/projects/", r.audit("/projects/:id", r.handleProjectSubroutes))
	r.mux.HandleFunc("/repos", r.audit("/repos", r.handlerAuthRate("/repos", rateLimitUserRead, rateWindowDefault, r.handleRepos)))
	r.mux.HandleFunc("/hooks/push", r.audit("/hooks/push", r.withRateLimit("/hooks/push", rateLimitPushHook, rateWindowDefault, rateLimitKeyIP, r.handlePushHook)))
	r.mux.HandleFunc("/hooks/build", r.audit("/hooks/build", r.withRateLimit("/hooks/build", rateLimitBuildCallback, rateWindowDefault, rateLimitKeyIP, r.handleBuildCallback)))
	r.mux.HandleFunc("/ws/projects", r.audit("/ws/projects", r.handlerAuthRate("/ws/projects", rateLimitWebsocket, rateWindowRealtime, r.handleStatusWS)))
	r.mux.HandleFunc("/events/projects", r.audit("/events/projects", r.handlerAuthRate("/events/projects", rateLimitWebsocket, rateWindowRealtime, r.handleStatusSSE)))
}

// statusLabels maps the canonical enum to presentation labels at the
// boundary; the stored value is always canonical.
var statusLabels = map[domain.Status]string{
	domain.StatusQueued:   "Queued",
	domain.StatusBuilding: "Building",
	domain.StatusActive:   "Live",
	domain.StatusError:    "Error",
}

func statusLabel(s domain.Status) string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

type createPayload struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	RepoURL     string          `json:"repoUrl"`
	IsPublic    bool            `json:"isPublic"`
	Autodeploy  *bool           `json:"autodeploy"`
	EnvVars     []domain.EnvVar `json:"envVars"`
	AccessToken string          `json:"accessToken"`
}

type updatePayload struct {
	Name       *string          `json:"name"`
	RepoURL    *string          `json:"repoUrl"`
	IsPublic   *bool            `json:"isPublic"`
	Autodeploy *bool            `json:"autodeploy"`
	EnvVars    *[]domain.EnvVar `json:"envVars"`
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.handleCreateProject(w, req)
	case http.MethodGet:
		r.handlerAuthRate("/projects", rateLimitUserRead, rateWindowDefault, r.handleListProjects)(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleCreateProject(w http.ResponseWriter, req *http.Request) {
	var caller domain.Identity
	if req.Header.Get("Authorization") != "" {
		ctx, identity, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		caller = identity
		req = req.WithContext(ctx)
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
	} else if r.allowAnonymousCreate {
		caller = domain.Anonymous()
	} else {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	key := r.rateLimitKeyUser(req)
	if key == "" {
		key = rateLimitKeyIP(req)
	}
	decision := r.limiter.Allow(key, rateLimitUserWrite, rateWindowDefault)
	r.applyRateHeaders(w, rateLimitUserWrite, decision)
	if !decision.allowed {
		r.recordRateLimitHit("/projects", rateMetricKey(key))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var payload createPayload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	project, err := r.engine.CreateAndDeploy(req.Context(), caller, engine.CreateInput{
		ID:          payload.ID,
		Name:        payload.Name,
		RepoURL:     payload.RepoURL,
		IsPublic:    payload.IsPublic,
		Autodeploy:  payload.Autodeploy,
		EnvVars:     payload.EnvVars,
		AccessToken: payload.AccessToken,
	})
	if err != nil {
		r.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, projectSummary(project))
}

func (r *Router) handleListProjects(w http.ResponseWriter, req *http.Request) {
	identity, ok := identityFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for project listing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	projects, err := r.engine.ListProjects(req.Context(), identity)
	if err != nil {
		r.writeEngineError(w, err)
		return
	}
	summaries := make([]map[string]any, 0, len(projects))
	for i := range projects {
		summaries = append(summaries, projectSummary(&projects[i]))
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/projects/")
	parts := strings.Split(trimmed, "/")
	projectID := parts[0]
	if projectID == "" {
		r.notFound(w)
		return
	}
	if len(parts) == 1 {
		switch req.Method {
		case http.MethodGet:
			r.handleProjectView(w, req, projectID)
		case http.MethodPatch:
			r.handlerAuthRate("/projects/:id", rateLimitUserWrite, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
				r.handleUpdateSettings(w, req, projectID)
			})(w, req)
		case http.MethodDelete:
			r.handlerAuthRate("/projects/:id", rateLimitUserWrite, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
				r.handleDeleteProject(w, req, projectID)
			})(w, req)
		default:
			r.methodNotAllowed(w)
		}
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "redeploy":
			r.handlerAuthRate("/projects/:id/redeploy", rateLimitUserWrite, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
				r.handleRedeploy(w, req, projectID)
			})(w, req)
			return
		case "env":
			r.handlerAuthRate("/projects/:id/env", rateLimitUserWrite, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
				r.handleEnvImport(w, req, projectID)
			})(w, req)
			return
		}
	}
	r.notFound(w)
}

// handleProjectView serves the probe-reconciled read model. Public
// projects need no session; everything else needs a verified caller.
func (r *Router) handleProjectView(w http.ResponseWriter, req *http.Request, projectID string) {
	var caller domain.Identity
	if req.Header.Get("Authorization") != "" {
		ctx, identity, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		caller = identity
		req = req.WithContext(ctx)
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
	}
	key := r.rateLimitKeyUser(req)
	if key == "" {
		key = rateLimitKeyIP(req)
	}
	decision := r.limiter.Allow(key, rateLimitUserRead, rateWindowDefault)
	r.applyRateHeaders(w, rateLimitUserRead, decision)
	if !decision.allowed {
		r.recordRateLimitHit("/projects/:id", rateMetricKey(key))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	view, err := r.engine.GetProjectView(req.Context(), caller, projectID)
	if err != nil {
		r.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project":     view,
		"statusLabel": statusLabel(view.Status),
	})
}

func (r *Router) handleUpdateSettings(w http.ResponseWriter, req *http.Request, projectID string) {
	identity, ok := identityFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for settings update", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	var payload updatePayload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	project, err := r.engine.UpdateSettings(req.Context(), identity, projectID, engine.UpdateInput{
		Name:       payload.Name,
		RepoURL:    payload.RepoURL,
		IsPublic:   payload.IsPublic,
		Autodeploy: payload.Autodeploy,
		EnvVars:    payload.EnvVars,
	})
	if err != nil {
		r.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projectSummary(project))
}

func (r *Router) handleDeleteProject(w http.ResponseWriter, req *http.Request, projectID string) {
	identity, ok := identityFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for project deletion", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if err := r.engine.Delete(req.Context(), identity, projectID); err != nil {
		r.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (r *Router) handleRedeploy(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	identity, ok := identityFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for redeploy", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	project, err := r.engine.Redeploy(req.Context(), identity, projectID)
	if err != nil {
		r.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, projectSummary(project))
}

type envImportPayload struct {
	Format  string `json:"format"`
	Content string `json:"content"`
}

// handleEnvImport accepts a dotenv block or a flat JSON object and
// replaces the project's environment variables with the normalized
// sequence.
func (r *Router) handleEnvImport(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	identity, ok := identityFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for env import", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	var payload envImportPayload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var (
		pairs []domain.EnvVar
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(payload.Format)) {
	case "dotenv", "env", "text", "":
		pairs, err = envvault.ParseText(payload.Content)
	case "json":
		pairs, err = envvault.ParseJSON([]byte(payload.Content))
	default:
		writeError(w, http.StatusBadRequest, "format must be dotenv or json")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	project, err := r.engine.UpdateSettings(req.Context(), identity, projectID, engine.UpdateInput{EnvVars: &pairs})
	if err != nil {
		r.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "stored",
		"count":  len(project.EnvVars),
	})
}

func (r *Router) handleRepos(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if _, ok := identityFromContext(req.Context()); !ok {
		r.logger.Error("auth context missing for repo listing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	accessToken := strings.TrimSpace(req.Header.Get("X-SCM-Token"))
	if accessToken == "" {
		writeError(w, http.StatusBadRequest, "X-SCM-Token header required")
		return
	}
	repos, err := r.scm.ListRepositories(req.Context(), accessToken)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

type pushPayload struct {
	Ref        string `json:"ref"`
	Repository struct {
		CloneURL string `json:"clone_url"`
		HTMLURL  string `json:"html_url"`
	} `json:"repository"`
}

// handlePushHook ingests push notifications from the source-control
// host, authenticated by an HMAC signature over the raw body.
func (r *Router) handlePushHook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if err := r.verifyPushSignature(body, req.Header.Get("X-Hub-Signature-256")); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	repoURL := payload.Repository.CloneURL
	if repoURL == "" {
		repoURL = payload.Repository.HTMLURL
	}
	result, err := r.engine.HandlePushEvent(req.Context(), engine.PushEvent{
		Ref:     payload.Ref,
		RepoURL: repoURL,
	})
	if err != nil {
		r.writeEngineError(w, err)
		return
	}
	status := http.StatusAccepted
	if result.Ignored {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (r *Router) verifyPushSignature(body []byte, provided string) error {
	if r.pushSecret == "" {
		return errors.New("push webhook secret not configured")
	}
	provided = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(provided), "sha256="))
	if provided == "" {
		return errors.New("missing webhook signature")
	}
	hasher := hmac.New(sha256.New, []byte(r.pushSecret))
	hasher.Write(body)
	expected := hex.EncodeToString(hasher.Sum(nil))
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return errors.New("invalid webhook signature")
	}
	return nil
}

// handleBuildCallback forwards the CI runner's completion payload to
// the engine; the engine owns the shared-secret check.
func (r *Router) handleBuildCallback(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload engine.Callback
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	project, err := r.engine.HandleBuildCallback(req.Context(), req.Header.Get("x-webhook-secret"), payload)
	if err != nil {
		r.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "received",
		"project": projectSummary(project),
	})
}

func (r *Router) handleStatusWS(w http.ResponseWriter, req *http.Request) {
	projectID := req.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(projectID, client)
	go func() {
		defer func() {
			r.hub.Unregister(projectID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleStatusSSE(w http.ResponseWriter, req *http.Request) {
	projectID := req.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(projectID, client)
	defer func() {
		r.hub.Unregister(projectID, client)
		client.Close()
	}()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-heartbeat.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func projectSummary(project *domain.Project) map[string]any {
	return map[string]any{
		"id":          project.ID,
		"name":        project.Name,
		"status":      project.Status,
		"statusLabel": statusLabel(project.Status),
		"repoUrl":     project.RepoURL,
		"ownerLogin":  project.OwnerLogin,
		"domain":      project.Domain,
		"isPublic":    project.IsPublic,
		"autodeploy":  project.Autodeploy,
		"createdAt":   project.CreatedAt,
		"updatedAt":   project.UpdatedAt,
	}
}

func (r *Router) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, engine.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, "project not found")
	case errors.Is(err, engine.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrDispatchFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, engine.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "record store unavailable")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		fields = append(fields, "request_id", reqID)
		if identity, ok := identityFromContext(ctx); ok {
			actor = "user"
			if identity.Login != "" {
				fields = append(fields, "login", identity.Login)
			}
			if identity.Email != "" {
				fields = append(fields, "email", identity.Email)
			}
		} else if strings.HasPrefix(req.URL.Path, "/hooks/build") {
			actor = "runner"
		} else if strings.HasPrefix(req.URL.Path, "/hooks/push") {
			actor = "scm-host"
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
