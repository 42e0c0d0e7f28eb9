package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	agenthub "github.com/agenthub-io/agenthub"
	"github.com/agenthub-io/agenthub/pkg/agent"
	"github.com/agenthub-io/agenthub/pkg/memory"
	"github.com/agenthub-io/agenthub/pkg/observability"
)

// ServeCmd starts the gateway server.
type ServeCmd struct {
	Host string `help:"Host to bind (overrides config)."`
	Port int    `help:"Port to listen on (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs := observability.NewManager(observability.Config{
		Metrics: observability.MetricsConfig{Enabled: cfg.Observability.Enabled},
	})
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer obs.Shutdown(context.Background())

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	rt.factory.Start(ctx)
	defer rt.factory.Stop(context.Background())

	api := &apiServer{runtime: rt}
	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(observability.HTTPMiddleware(nil, observability.GetGlobalMetrics()))
	api.mount(router)

	if cfg.Observability.Enabled {
		router.Handle("/metrics", promhttp.Handler())
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Gateway listening", "addr", addr, "version", agenthub.Version)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// apiServer is the JSON control surface over the memory engine and the
// agent runner.
type apiServer struct {
	runtime *runtime
}

func (a *apiServer) mount(r chi.Router) {
	r.Get("/healthz", a.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/memories", a.handleCreateMemory)
		r.Post("/memories/{uuid}/rate", a.handleRate)
		r.Delete("/memories/{uuid}", a.handleDelete)
		r.Post("/inject", a.handleInject)
		r.Get("/index", a.handleIndex)
		r.Post("/learnings", a.handleLearnings)
		r.Post("/learnings/{uuid}/promote", a.handlePromoteLearning)
		r.Post("/tasks/{id}/complete", a.handleTaskComplete)
		r.Post("/optimize", a.handleOptimize)
		r.Post("/agent/run", a.handleAgentRun)
	})
}

func (a *apiServer) service(w http.ResponseWriter, scope, scopeID string) (*memory.Service, bool) {
	if scope == "" {
		scope = string(memory.ScopeGlobal)
	}
	svc, err := a.runtime.factory.Service(memory.Scope(scope), scopeID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	return svc, true
}

func (a *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": agenthub.Version,
	})
}

type createMemoryRequest struct {
	Scope   string `json:"scope"`
	ScopeID string `json:"scope_id"`
	Content string `json:"content"`
	Name    string `json:"name"`
}

func (a *apiServer) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var req createMemoryRequest
	if !readJSON(w, r, &req) {
		return
	}
	svc, ok := a.service(w, req.Scope, req.ScopeID)
	if !ok {
		return
	}

	created, cluster, err := svc.CreateGoldenStandard(r.Context(), req.Content, req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusCreated
	if !created.Success || created.Deduplicated {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"result":  created,
		"cluster": cluster,
	})
}

type rateRequest struct {
	Scope   string `json:"scope"`
	ScopeID string `json:"scope_id"`
	Rating  string `json:"rating"`
}

func (a *apiServer) handleRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !readJSON(w, r, &req) {
		return
	}
	svc, ok := a.service(w, req.Scope, req.ScopeID)
	if !ok {
		return
	}
	if err := svc.Rate(r.Context(), chi.URLParam(r, "uuid"), req.Rating); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (a *apiServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.service(w, r.URL.Query().Get("scope"), r.URL.Query().Get("scope_id"))
	if !ok {
		return
	}
	if err := svc.Delete(r.Context(), chi.URLParam(r, "uuid")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type injectRequest struct {
	Scope      string `json:"scope"`
	ScopeID    string `json:"scope_id"`
	Query      string `json:"query"`
	TaskType   string `json:"task_type"`
	ExternalID string `json:"external_id"`
}

func (a *apiServer) handleInject(w http.ResponseWriter, r *http.Request) {
	var req injectRequest
	if !readJSON(w, r, &req) {
		return
	}
	svc, ok := a.service(w, req.Scope, req.ScopeID)
	if !ok {
		return
	}
	pc, err := svc.Inject(r.Context(), req.Query, memory.InjectOptions{
		TaskType:   req.TaskType,
		ExternalID: req.ExternalID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, pc)
}

func (a *apiServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.service(w, r.URL.Query().Get("scope"), r.URL.Query().Get("scope_id"))
	if !ok {
		return
	}
	text, err := svc.RenderIndex(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"index": text})
}

type learningsRequest struct {
	Scope      string `json:"scope"`
	ScopeID    string `json:"scope_id"`
	Transcript string `json:"transcript"`
}

func (a *apiServer) handleLearnings(w http.ResponseWriter, r *http.Request) {
	var req learningsRequest
	if !readJSON(w, r, &req) {
		return
	}
	svc, ok := a.service(w, req.Scope, req.ScopeID)
	if !ok {
		return
	}
	outcomes, err := svc.ExtractLearnings(r.Context(), req.Transcript)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"learnings": outcomes})
}

func (a *apiServer) handlePromoteLearning(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.service(w, r.URL.Query().Get("scope"), r.URL.Query().Get("scope_id"))
	if !ok {
		return
	}
	if err := svc.PromoteLearning(r.Context(), chi.URLParam(r, "uuid")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "promoted"})
}

type taskCompleteRequest struct {
	ProjectID string `json:"project_id"`
	Success   bool   `json:"success"`
}

func (a *apiServer) handleTaskComplete(w http.ResponseWriter, r *http.Request) {
	var req taskCompleteRequest
	if !readJSON(w, r, &req) {
		return
	}
	report, err := a.runtime.factory.Consolidator().OnTaskComplete(
		r.Context(), chi.URLParam(r, "id"), req.ProjectID, req.Success)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type optimizeRequest struct {
	Scope   string `json:"scope"`
	ScopeID string `json:"scope_id"`
	DryRun  bool   `json:"dry_run"`
}

func (a *apiServer) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if !readJSON(w, r, &req) {
		return
	}
	svc, ok := a.service(w, req.Scope, req.ScopeID)
	if !ok {
		return
	}
	report, err := a.runtime.factory.Optimizer().Run(r.Context(), []string{svc.GroupID()}, req.DryRun)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type agentRunRequest struct {
	Task         string `json:"task"`
	Provider     string `json:"provider"`
	SystemPrompt string `json:"system_prompt"`
	Scope        string `json:"scope"`
	ScopeID      string `json:"scope_id"`
	TaskType     string `json:"task_type"`
	ExternalID   string `json:"external_id"`
	MaxTurns     int    `json:"max_turns"`
}

func (a *apiServer) handleAgentRun(w http.ResponseWriter, r *http.Request) {
	var req agentRunRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Provider == "" {
		req.Provider = "claude"
	}
	provider, err := a.runtime.registry.Get(req.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	svc, ok := a.service(w, req.Scope, req.ScopeID)
	if !ok {
		return
	}

	runner, err := agent.NewRunner(provider, svc, nil, agent.Config{
		SystemPrompt: req.SystemPrompt,
		TaskType:     req.TaskType,
		ExternalID:   req.ExternalID,
		MaxTurns:     req.MaxTurns,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := runner.Run(r.Context(), req.Task)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("Response encoding failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
