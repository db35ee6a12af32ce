// Package daemon serves test deliveries over HTTP.
package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/proctor/internal/domain"
	"github.com/felixgeelhaar/proctor/internal/offline"
	"github.com/felixgeelhaar/proctor/internal/session"
)

// Catalog lists and resolves the tests available for delivery
type Catalog interface {
	session.TestMapProvider
	List() ([]string, error)
}

// Server represents the proctor HTTP server
type Server struct {
	server  *http.Server
	router  *http.ServeMux
	service session.ExecutionService
	catalog Catalog
	offline session.TableOptions
	version string
	logger  *slog.Logger
}

// ServerConfig holds configuration for creating a new server
type ServerConfig struct {
	Addr    string
	Service session.ExecutionService
	Catalog Catalog
	// Offline applies to offline table requests that leave a field unset.
	Offline session.TableOptions
	Version string
	Logger  *slog.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		router:  http.NewServeMux(),
		service: cfg.Service,
		catalog: cfg.Catalog,
		offline: cfg.Offline,
		version: cfg.Version,
		logger:  cfg.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.setupRoutes()

	handler := correlationIDMiddleware(recoveryMiddleware(s.logger, loggingMiddleware(s.logger, s.router)))
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /v1/health", s.handleHealth)

	// Tests
	s.router.HandleFunc("GET /v1/tests", s.handleListTests)
	s.router.HandleFunc("GET /v1/tests/{id}", s.handleGetTest)

	// Executions
	s.router.HandleFunc("POST /v1/executions", s.handleStart)
	s.router.HandleFunc("GET /v1/executions/{id}", s.handleGet)
	s.router.HandleFunc("POST /v1/executions/{id}/moves", s.handleMove)
	s.router.HandleFunc("POST /v1/executions/{id}/confirm", s.handleConfirm)
	s.router.HandleFunc("POST /v1/executions/{id}/end-warning", s.handleEndWarning)
	s.router.HandleFunc("PATCH /v1/executions/{id}/extended", s.handleExtended)

	// Recovery and offline delivery
	s.router.HandleFunc("POST /v1/executions/{id}/restore", s.handleRestore)
	s.router.HandleFunc("POST /v1/executions/{id}/offline-table", s.handleOfflineTable)
	s.router.HandleFunc("POST /v1/executions/{id}/reconcile", s.handleReconcile)
}

// Handler returns the HTTP handler with its middleware chain
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting proctor server", "addr", s.server.Addr, "version", s.version)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server...")
	return s.server.Shutdown(ctx)
}

// executionView is the JSON form of an execution
type executionView struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	TestID    string             `json:"test_id"`
	Status    session.Status     `json:"status"`
	Context   domain.TestContext `json:"context"`
	Extended  map[string]string  `json:"extended,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func view(exec *session.Execution) executionView {
	return executionView{
		ID:        exec.ID,
		UserID:    exec.UserID,
		TestID:    exec.TestID,
		Status:    exec.Status,
		Context:   exec.State.Context,
		Extended:  exec.Extended,
		UpdatedAt: exec.UpdatedAt,
	}
}

// Handler implementations

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   s.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	ids, err := s.catalog.List()
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, "failed to list tests", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"tests": ids})
}

func (s *Server) handleGetTest(w http.ResponseWriter, r *http.Request) {
	m, err := s.catalog.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, "failed to load test", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"id":    m.ID,
		"stats": m.Stats(),
		"parts": m.Parts,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		TestID string `json:"test_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	exec, err := s.service.Start(r.Context(), session.StartRequest{UserID: req.UserID, TestID: req.TestID})
	if err != nil {
		s.fail(w, "failed to start execution", err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, view(exec))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	exec, err := s.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, "failed to get execution", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, view(exec))
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Direction string              `json:"direction"`
		Scope     string              `json:"scope,omitempty"`
		Position  int                 `json:"position,omitempty"`
		Responses map[string][]string `json:"responses,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	dir, err := domain.ParseDirection(req.Direction)
	if err != nil {
		s.fail(w, "invalid move", err)
		return
	}
	scope := domain.ScopeItem
	if req.Scope != "" {
		if scope, err = domain.ParseScope(req.Scope); err != nil {
			s.fail(w, "invalid move", err)
			return
		}
	}

	res, err := s.service.Move(r.Context(), r.PathValue("id"), session.MoveRequest{
		Direction: dir,
		Scope:     scope,
		Position:  req.Position,
		Responses: req.Responses,
	})
	if err != nil {
		s.fail(w, "move failed", err)
		return
	}
	s.moveResponse(w, res)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Accept bool `json:"accept"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.service.Confirm(r.Context(), r.PathValue("id"), req.Accept)
	if err != nil {
		s.fail(w, "confirmation failed", err)
		return
	}
	s.moveResponse(w, res)
}

func (s *Server) handleEndWarning(w http.ResponseWriter, r *http.Request) {
	exec, err := s.service.MarkEndWarningShown(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, "failed to record end warning", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, view(exec))
}

func (s *Server) handleExtended(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if !s.decode(w, r, &values) {
		return
	}

	exec, err := s.service.SetExtended(r.Context(), r.PathValue("id"), values)
	if err != nil {
		s.fail(w, "failed to store extended state", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, view(exec))
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.Restore(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, "restore failed", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, report)
}

func (s *Server) handleOfflineTable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Depth         int   `json:"depth,omitempty"`
		IncludeReview *bool `json:"include_review,omitempty"`
	}
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}

	opts := s.offline
	if req.Depth > 0 {
		opts.Depth = req.Depth
	}
	if req.IncludeReview != nil {
		opts.IncludeReview = *req.IncludeReview
	}

	table, err := s.service.OfflineTable(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		s.fail(w, "failed to compute offline table", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, table)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Jumps []offline.Jump `json:"jumps"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.service.Reconcile(r.Context(), r.PathValue("id"), req.Jumps)
	if err != nil {
		s.fail(w, "reconcile failed", err)
		return
	}

	resp := map[string]any{
		"applied":  res.Applied,
		"finished": res.Finished,
		"diverged": res.Diverged,
		"context":  res.State.Context,
	}
	if res.DivergedAt != nil {
		resp["diverged_at"] = res.DivergedAt.Seq
		resp["reason"] = res.Reason
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// Helper methods

// moveResponse answers 202 when the move waits for confirmation
func (s *Server) moveResponse(w http.ResponseWriter, res *session.MoveResult) {
	resp := map[string]any{
		"execution": view(res.Execution),
		"finished":  res.Finished,
	}
	status := http.StatusOK
	if res.Confirmation != nil {
		resp["confirmation"] = res.Confirmation
		status = http.StatusAccepted
	}
	s.jsonResponse(w, status, resp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(message, "error", err)
	}
	s.jsonError(w, status, message, err)
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]any{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	s.jsonResponse(w, status, response)
}
